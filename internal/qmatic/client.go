package qmatic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/example/cita-sniper/internal/config"
)

// Client talks to the Qmatic web booking REST API. The upstream runs an
// outdated TLS stack (TLS 1.2 only, legacy cipher list, renegotiation), so
// the transport is pinned accordingly instead of relying on defaults.
type Client struct {
	hc  *http.Client
	cfg config.Config
	log zerolog.Logger

	// limiter caps polling traffic; booking bursts bypass it because a
	// delayed attempt is worth nothing.
	limiter *rate.Limiter

	warmed bool
}

type TimeSlot struct {
	Time string `json:"time"`
}

type Appointment struct {
	PublicID string `json:"publicId"`
}

func New(cfg config.Config, logger zerolog.Logger) *Client {
	tlsCfg := &tls.Config{
		MinVersion:    tls.VersionTLS12,
		MaxVersion:    tls.VersionTLS12,
		Renegotiation: tls.RenegotiateOnceAsClient,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_RSA_WITH_AES_256_CBC_SHA,
		},
	}
	if cfg.InsecureTLS {
		tlsCfg.InsecureSkipVerify = true
	}

	transport := &http.Transport{
		TLSClientConfig: tlsCfg,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		hc: &http.Client{
			Transport: transport,
			Timeout:   cfg.AttemptTimeout,
		},
		cfg:     cfg,
		log:     logger.With().Str("component", "qmatic").Logger(),
		limiter: rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), int(cfg.UpstreamRPS)+1),
	}
}

// Warmup establishes TCP+TLS ahead of the first real request so the burst
// does not pay the handshake.
func (c *Client) Warmup(ctx context.Context) error {
	if c.warmed {
		return nil
	}
	url := fmt.Sprintf("%s/branches/%s/services", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.BranchID)
	status, _, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	c.warmed = true
	c.log.Debug().Int("status", status).Msg("connection warmed")
	return nil
}

// Dates returns the open dates for the configured branch/service pair.
// Matrix parameters are part of the upstream's URL scheme.
func (c *Client) Dates(ctx context.Context) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/branches/%s/dates;servicePublicId=%s;customSlotLength=%d",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.BranchID, c.cfg.ServiceID, c.cfg.CustomSlotLength)

	status, body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("dates: http %d", status)
	}
	return parseDates(body)
}

// Times returns the open time slots for a given date.
func (c *Client) Times(ctx context.Context, date string) ([]TimeSlot, error) {
	url := fmt.Sprintf("%s/branches/%s/dates/%s/times;servicePublicId=%s;customSlotLength=%d",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.BranchID, date, c.cfg.ServiceID, c.cfg.CustomSlotLength)

	status, body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("times: http %d", status)
	}
	var out []TimeSlot
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("times: parse: %w", err)
	}
	return out, nil
}

// CreateAppointment posts a prebuilt appointment payload. The status code is
// returned alongside the error so callers can fold rejections and transport
// failures into distinct attempt results.
func (c *Client) CreateAppointment(ctx context.Context, payload []byte) (Appointment, int, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/appointments"

	status, body, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return Appointment{}, 0, err
	}
	if status < 200 || status >= 300 {
		return Appointment{}, status, fmt.Errorf("appointments: http %d", status)
	}
	var appt Appointment
	if err := json.Unmarshal(body, &appt); err != nil {
		return Appointment{}, status, fmt.Errorf("appointments: parse: %w", err)
	}
	return appt, status, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9")
	req.Header.Set("Referer", "https://citaprevia.ciencia.gob.es/qmaticwebbooking/")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

// parseDates accepts both shapes the upstream has been observed to return:
// a bare array of date strings and an array of {"date": "..."} objects.
func parseDates(body []byte) ([]string, error) {
	var plain []string
	if err := json.Unmarshal(body, &plain); err == nil {
		return plain, nil
	}
	var wrapped []struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("dates: parse: %w", err)
	}
	out := make([]string, 0, len(wrapped))
	for _, w := range wrapped {
		if w.Date != "" {
			out = append(out, w.Date)
		}
	}
	return out, nil
}
