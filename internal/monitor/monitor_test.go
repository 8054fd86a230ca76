package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/cita-sniper/internal/config"
)

func testMonitorConfig() config.Config {
	return config.Config{
		NormalInterval:      60 * time.Second,
		TurboInterval:       500 * time.Millisecond,
		PreactivateInterval: 5 * time.Second,
		TurboStartHour:      12,
		TurboEndHour:        14,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 12, 18, hour, minute, 0, 0, time.UTC)
}

func TestIntervalAtBands(t *testing.T) {
	cfg := testMonitorConfig()
	cases := []struct {
		name string
		t    time.Time
		want time.Duration
	}{
		{"early morning", at(3, 0), cfg.NormalInterval},
		{"just before preactivation", at(11, 54), cfg.NormalInterval},
		{"preactivation start", at(11, 55), cfg.PreactivateInterval},
		{"preactivation end", at(11, 59), cfg.PreactivateInterval},
		{"turbo start", at(12, 0), cfg.TurboInterval},
		{"mid turbo", at(13, 30), cfg.TurboInterval},
		{"turbo end is exclusive", at(14, 0), cfg.NormalInterval},
		{"evening", at(20, 0), cfg.NormalInterval},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IntervalAt(cfg, tc.t); got != tc.want {
				t.Fatalf("IntervalAt(%s) = %v, want %v", tc.t.Format("15:04"), got, tc.want)
			}
		})
	}
}

func TestIntervalAtIsPure(t *testing.T) {
	cfg := testMonitorConfig()
	instant := at(12, 30)
	first := IntervalAt(cfg, instant)
	for i := 0; i < 10; i++ {
		if got := IntervalAt(cfg, instant); got != first {
			t.Fatalf("call %d returned %v, first call returned %v", i, got, first)
		}
	}
}

type scriptedChecker struct {
	mu      sync.Mutex
	replies []func() ([]string, error)
	calls   int
}

func (c *scriptedChecker) Dates(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.replies) {
		return c.replies[i]()
	}
	return nil, nil
}

func (c *scriptedChecker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func dates(ds ...string) func() ([]string, error) {
	return func() ([]string, error) { return ds, nil }
}

func fail(msg string) func() ([]string, error) {
	return func() ([]string, error) { return nil, errors.New(msg) }
}

func TestRunSurvivesCheckFailures(t *testing.T) {
	checker := &scriptedChecker{replies: []func() ([]string, error){
		fail("timeout"),
		fail("502"),
		dates("2025-12-18"),
	}}

	var mu sync.Mutex
	var detected [][]string
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		Checker: checker,
		OnAvailable: func(_ context.Context, ds []string) {
			mu.Lock()
			detected = append(detected, ds)
			mu.Unlock()
			cancel()
		},
		Cfg: config.Config{
			NormalInterval:      time.Millisecond,
			TurboInterval:       time.Millisecond,
			PreactivateInterval: time.Millisecond,
			TurboStartHour:      12,
			TurboEndHour:        14,
		},
		Log: zerolog.Nop(),
	}

	err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(detected) != 1 || len(detected[0]) != 1 || detected[0][0] != "2025-12-18" {
		t.Fatalf("detections %v, want one detection of 2025-12-18", detected)
	}
	if checker.count() < 3 {
		t.Fatalf("%d checks issued, want the loop to poll past failures", checker.count())
	}

	stats := m.Stats()
	if stats.Running {
		t.Fatal("monitor still reported running after Run returned")
	}
	if stats.Failures != 2 {
		t.Fatalf("stats.Failures = %d, want 2", stats.Failures)
	}
	if stats.Checks < 3 {
		t.Fatalf("stats.Checks = %d, want at least 3", stats.Checks)
	}
	if stats.LastCheck.IsZero() {
		t.Fatal("stats.LastCheck never recorded")
	}
}

func TestRunCallbackIsSynchronous(t *testing.T) {
	// Every check reports availability. If detections were dispatched
	// concurrently the callback would observe overlapping entries.
	checker := &scriptedChecker{}
	for i := 0; i < 5; i++ {
		checker.replies = append(checker.replies, dates("2025-12-18"))
	}

	var inFlight, maxInFlight int
	var mu sync.Mutex
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		Checker: checker,
		OnAvailable: func(context.Context, []string) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			if checker.count() >= 5 {
				cancel()
			}
		},
		Cfg: config.Config{
			NormalInterval:      time.Millisecond,
			TurboInterval:       time.Millisecond,
			PreactivateInterval: time.Millisecond,
			TurboStartHour:      12,
			TurboEndHour:        14,
		},
		Log: zerolog.Nop(),
	}

	_ = m.Run(ctx)
	if maxInFlight != 1 {
		t.Fatalf("%d callbacks in flight at once, want strictly sequential dispatch", maxInFlight)
	}
}

func TestStatsBeforeFirstCheck(t *testing.T) {
	m := &Monitor{Cfg: testMonitorConfig(), Log: zerolog.Nop(),
		Now: func() time.Time { return at(9, 0) }}
	stats := m.Stats()
	if stats.Running || stats.Checks != 0 || stats.Failures != 0 {
		t.Fatalf("fresh monitor stats %+v, want zeroes", stats)
	}
	if !stats.LastCheck.IsZero() {
		t.Fatalf("stats.LastCheck = %v, want zero time", stats.LastCheck)
	}
	if stats.CurrentInterval != testMonitorConfig().NormalInterval {
		t.Fatalf("stats.CurrentInterval = %v, want normal interval", stats.CurrentInterval)
	}
}
