package booking

import (
	"context"

	"github.com/example/cita-sniper/internal/qmatic"
)

// HTTPStrategy books through direct API calls. This is the fast path: one
// POST per candidate over the warmed connection pool.
type HTTPStrategy struct {
	Client *qmatic.Client
}

func (s *HTTPStrategy) Name() string { return "http" }

func (s *HTTPStrategy) Attempt(ctx context.Context, c Candidate) Result {
	appt, status, err := s.Client.CreateAppointment(ctx, c.Payload)
	if err != nil {
		return Result{Candidate: c, Status: status, Err: err}
	}
	return Result{Candidate: c, ConfirmationID: appt.PublicID, Status: status}
}

// OpenTimes satisfies SlotSource for the engine's fallback.
func (s *HTTPStrategy) OpenTimes(ctx context.Context, date string) ([]string, error) {
	slots, err := s.Client.Times(ctx, date)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(slots))
	for _, sl := range slots {
		if sl.Time != "" {
			out = append(out, sl.Time)
		}
	}
	return out, nil
}
