package booking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/cita-sniper/internal/config"
)

// CatalogConfig bounds candidate generation. Hours are half-open
// [StartHour, EndHour); PriorityHours orders which hours get probed first,
// remaining operating hours follow in ascending order.
type CatalogConfig struct {
	StartHour     int
	EndHour       int
	Granularity   time.Duration
	PriorityHours []int
}

func CatalogConfigFrom(cfg config.Config) CatalogConfig {
	return CatalogConfig{
		StartHour:     cfg.OperatingStartHour,
		EndHour:       cfg.OperatingEndHour,
		Granularity:   cfg.SlotGranularity,
		PriorityHours: cfg.PriorityHours,
	}
}

// Catalog generates every candidate {date, time} pair for one date.
// Deterministic: identical inputs produce the identical ordered list.
func Catalog(date string, cc CatalogConfig) []Candidate {
	step := int(cc.Granularity / time.Minute)
	if step <= 0 {
		step = 5
	}
	perHour := 60 / step

	hours := make([]int, 0, cc.EndHour-cc.StartHour)
	seen := make(map[int]bool)
	for _, h := range cc.PriorityHours {
		if h >= cc.StartHour && h < cc.EndHour && !seen[h] {
			hours = append(hours, h)
			seen[h] = true
		}
	}
	for h := cc.StartHour; h < cc.EndHour; h++ {
		if !seen[h] {
			hours = append(hours, h)
			seen[h] = true
		}
	}

	out := make([]Candidate, 0, len(hours)*perHour)
	for _, h := range hours {
		for m := 0; m < 60; m += step {
			out = append(out, Candidate{
				Date: date,
				Time: fmt.Sprintf("%02d:%02d", h, m),
			})
		}
	}
	return out
}

// appointmentPayload mirrors the upstream's POST /appointments body.
type appointmentPayload struct {
	Services         []servicePublicID `json:"services"`
	Branch           branchPublicID    `json:"branch"`
	Customer         customerInfo      `json:"customer"`
	Start            string            `json:"start"`
	CustomSlotLength int               `json:"customSlotLength"`
}

type servicePublicID struct {
	PublicID string `json:"publicId"`
}

type branchPublicID struct {
	PublicID string `json:"publicId"`
}

type customerInfo struct {
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	Email                string `json:"email"`
	Phone                string `json:"phone"`
	IdentificationNumber string `json:"identificationNumber"`
}

// Template holds the per-applicant request body with everything but the
// start timestamp filled in. Built once per applicant so the burst only
// copies a struct and swaps the start field instead of reassembling the
// payload under time pressure. The base is never mutated after construction.
type Template struct {
	base appointmentPayload
}

func NewTemplate(cfg config.Config, a Applicant) *Template {
	return &Template{
		base: appointmentPayload{
			Services: []servicePublicID{{PublicID: cfg.ServiceID}},
			Branch:   branchPublicID{PublicID: cfg.BranchID},
			Customer: customerInfo{
				FirstName:            a.FirstName,
				LastName:             a.LastName,
				Email:                a.Email,
				Phone:                a.Phone,
				IdentificationNumber: a.Document,
			},
			CustomSlotLength: cfg.CustomSlotLength,
		},
	}
}

// Payload renders the body for one candidate. Each call works on its own
// copy of the template; concurrent renders are safe.
func (t *Template) Payload(date, timeOfDay string) ([]byte, error) {
	p := t.base
	p.Start = date + "T" + timeOfDay
	return json.Marshal(p)
}
