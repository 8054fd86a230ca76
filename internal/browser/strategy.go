package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog"

	"github.com/example/cita-sniper/internal/booking"
)

var confirmationRe = regexp.MustCompile(`(?i)(?:confirmaci[oó]n|reserva|referencia)[\s:]+([A-Z0-9-]{4,})`)

// Strategy drives the public booking form in a real browser. Much slower
// than the HTTP path but survives frontend-only validation the API rejects;
// selected via BOOKING_STRATEGY=browser.
type Strategy struct {
	FormURL string // the Vue booking frontend, not the REST base
	Log     zerolog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

func (s *Strategy) Name() string { return "browser" }

// Attempt fills and submits the booking form for one candidate. The
// applicant's contact fields come out of the candidate's payload, which is
// the canonical request body either strategy works from. The whole flow is
// wrapped in rod.Try so a missing selector surfaces as a normal failed
// result.
func (s *Strategy) Attempt(ctx context.Context, c booking.Candidate) booking.Result {
	var body struct {
		Customer struct {
			FirstName            string `json:"firstName"`
			LastName             string `json:"lastName"`
			Email                string `json:"email"`
			Phone                string `json:"phone"`
			IdentificationNumber string `json:"identificationNumber"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(c.Payload, &body); err != nil {
		return booking.Result{Candidate: c, Err: fmt.Errorf("browser: decode payload: %w", err)}
	}

	b, err := s.ensureBrowser()
	if err != nil {
		return booking.Result{Candidate: c, Err: fmt.Errorf("browser: %w", err)}
	}

	var confirmation string
	err = rod.Try(func() {
		page := b.MustPage(s.FormURL).Context(ctx)
		defer page.MustClose()
		page.MustWaitStable()

		// Date buttons carry name="YYYY-MM-DD"; disabled ones are not bookable.
		sel := fmt.Sprintf(`button[name=%q]:not(.v-btn--disabled)`, c.Date)
		page.MustElement(sel).MustClick()
		page.MustWaitStable()

		timeSel := fmt.Sprintf(`button[data-time=%q]`, c.Time)
		if el, err := page.Timeout(3 * time.Second).Element(timeSel); err == nil {
			el.MustClick()
			page.MustWaitStable()
		}

		cu := body.Customer
		page.MustElement(`input[name*="nombre" i]`).MustSelectAllText().MustInput(cu.FirstName)
		page.MustElement(`input[name*="apellido" i]`).MustSelectAllText().MustInput(cu.LastName)
		page.MustElement(`input[name*="documento" i]`).MustSelectAllText().MustInput(cu.IdentificationNumber)
		page.MustElement(`input[name*="email" i]`).MustSelectAllText().MustInput(cu.Email)
		page.MustElement(`input[name*="telefono" i]`).MustSelectAllText().MustInput(cu.Phone)

		page.MustElementR("button", "(?i)confirmar|reservar").MustClick()
		page.MustWaitStable()

		text := page.MustElement("body").MustText()
		if m := confirmationRe.FindStringSubmatch(text); m != nil {
			confirmation = m[1]
		}
	})
	if err != nil {
		return booking.Result{Candidate: c, Err: fmt.Errorf("browser attempt: %w", err)}
	}
	if confirmation == "" {
		return booking.Result{Candidate: c, Err: fmt.Errorf("browser attempt: no confirmation number on page")}
	}
	s.Log.Info().Str("confirmation", confirmation).Str("time", c.Time).Msg("form booking confirmed")
	return booking.Result{Candidate: c, ConfirmationID: confirmation, Status: 200}
}

// OpenTimes reads the enabled time buttons off the form so the engine's
// fallback works on this strategy too.
func (s *Strategy) OpenTimes(ctx context.Context, date string) ([]string, error) {
	b, err := s.ensureBrowser()
	if err != nil {
		return nil, err
	}

	var times []string
	err = rod.Try(func() {
		page := b.MustPage(s.FormURL).Context(ctx)
		defer page.MustClose()
		page.MustWaitStable()

		sel := fmt.Sprintf(`button[name=%q]:not(.v-btn--disabled)`, date)
		page.MustElement(sel).MustClick()
		page.MustWaitStable()

		for _, el := range page.MustElements(`button[data-time]:not(.v-btn--disabled)`) {
			if t := el.MustAttribute("data-time"); t != nil && *t != "" {
				times = append(times, *t)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("browser times: %w", err)
	}
	return times, nil
}

func (s *Strategy) ensureBrowser() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		return s.browser, nil
	}

	path, err := launcher.New().Headless(true).NoSandbox(true).Launch()
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(path)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	s.browser = b
	return b, nil
}

func (s *Strategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	return err
}
