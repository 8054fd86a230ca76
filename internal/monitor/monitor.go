package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/obs"
)

// Checker asks the upstream for currently open dates.
type Checker interface {
	Dates(ctx context.Context) ([]string, error)
}

// Monitor polls for open dates and hands every detection to OnAvailable
// synchronously: iteration N+1 does not start until the callback for
// iteration N has returned, so two detections cannot race each other into
// the acquisition engine.
type Monitor struct {
	Checker     Checker
	OnAvailable func(ctx context.Context, dates []string)
	Cfg         config.Config
	Metrics     *obs.Metrics // optional
	Log         zerolog.Logger

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time

	checks    atomic.Int64
	failures  atomic.Int64
	lastCheck atomic.Int64 // unix nanos, 0 = never
	running   atomic.Bool
}

type Stats struct {
	Running         bool          `json:"running"`
	Checks          int64         `json:"checks"`
	Failures        int64         `json:"failures"`
	LastCheck       time.Time     `json:"last_check"`
	CurrentInterval time.Duration `json:"current_interval"`
}

// IntervalAt maps a wall-clock instant to a polling interval. Pure: the
// same instant always yields the same interval.
//
// Bands: the turbo window around the upstream's release hour polls fastest,
// the five minutes leading into it poll at the pre-activation rate, the
// rest of the day at the normal rate.
func IntervalAt(cfg config.Config, t time.Time) time.Duration {
	h := t.Hour()
	if h >= cfg.TurboStartHour && h < cfg.TurboEndHour {
		return cfg.TurboInterval
	}
	if h == cfg.TurboStartHour-1 && t.Minute() >= 55 {
		return cfg.PreactivateInterval
	}
	return cfg.NormalInterval
}

// Run drives the polling loop until ctx is cancelled. Individual check
// failures never terminate the loop.
func (m *Monitor) Run(ctx context.Context) error {
	m.running.Store(true)
	defer m.running.Store(false)
	m.Log.Info().Msg("availability monitor started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Log.Info().Int64("checks", m.checks.Load()).Msg("availability monitor stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if dates := m.check(ctx); len(dates) > 0 {
			if m.Metrics != nil {
				m.Metrics.DetectionsTotal.Inc()
			}
			m.Log.Info().Strs("dates", dates).Msg("availability detected")
			m.OnAvailable(ctx, dates)
		}

		timer.Reset(IntervalAt(m.Cfg, m.now()))
	}
}

// check performs one availability read. Transport and parse failures are
// counted and swallowed; the loop must outlive them.
func (m *Monitor) check(ctx context.Context) []string {
	dates, err := m.Checker.Dates(ctx)

	n := m.checks.Add(1)
	m.lastCheck.Store(m.now().UnixNano())
	if m.Metrics != nil {
		m.Metrics.ChecksTotal.Inc()
	}

	if err != nil {
		m.failures.Add(1)
		if m.Metrics != nil {
			m.Metrics.CheckErrors.Inc()
		}
		m.Log.Warn().Err(err).Int64("check", n).Msg("availability check failed")
		return nil
	}
	if len(dates) == 0 && n%100 == 0 {
		m.Log.Debug().Int64("check", n).Msg("no availability")
	}
	return dates
}

func (m *Monitor) Stats() Stats {
	var last time.Time
	if ns := m.lastCheck.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Running:         m.running.Load(),
		Checks:          m.checks.Load(),
		Failures:        m.failures.Load(),
		LastCheck:       last,
		CurrentInterval: IntervalAt(m.Cfg, m.now()),
	}
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
