package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/cita-sniper/internal/claim"
	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/db"
	"github.com/example/cita-sniper/internal/notify"
	"github.com/example/cita-sniper/internal/obs"
)

// Engine converts one availability event into at most one confirmed
// reservation for the head of the queue.
//
// Cycles are strictly sequential: Acquire holds a mutex for the whole
// cycle, so two detections can never dequeue overlapping applicants.
type Engine struct {
	Queue    QueueStore
	Profiles ProfileStore
	Strategy Strategy
	Slots    SlotSource
	Notifier notify.Notifier
	Claims   claim.Claimer // optional; nil means single-instance
	Metrics  *obs.Metrics  // optional
	Cfg      config.Config
	Log      zerolog.Logger

	mu        sync.Mutex
	templates map[int64]*Template
}

// Acquire runs one acquisition cycle for the given open dates. It never
// panics out; any escaped failure is folded into an error outcome so the
// polling loop that triggered it keeps running.
func (e *Engine) Acquire(ctx context.Context, dates []string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.Error().Interface("panic", r).Msg("acquisition cycle panicked")
			out = Outcome{Kind: OutcomeError, Err: fmt.Errorf("acquisition panic: %v", r)}
		}
		e.countCycle(out.Kind)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(dates) == 0 {
		return Outcome{Kind: OutcomeNoSlot}
	}
	date := dates[0]

	if e.Claims != nil {
		ok, err := e.Claims.Claim(ctx, "event:"+date)
		if err != nil {
			// A broken claim store must not cost us the race; proceed and
			// rely on the booked CAS to catch a cross-instance duplicate.
			e.Log.Warn().Err(err).Msg("event claim failed, proceeding unclaimed")
		} else if !ok {
			e.Log.Info().Str("date", date).Msg("event already claimed elsewhere")
			return Outcome{Kind: OutcomeSkipped, Date: date}
		}
	}

	applicantID, err := e.Queue.DequeueHead(ctx)
	if db.IsNotFound(err) {
		e.Log.Warn().Str("date", date).Msg("availability detected but queue is empty")
		e.notifyAdmin(ctx, fmt.Sprintf("Cita disponible el %s pero la cola está vacía.", date))
		return Outcome{Kind: OutcomeNoApplicant, Date: date}
	}
	if err != nil {
		return Outcome{Kind: OutcomeError, Err: fmt.Errorf("dequeue: %w", err)}
	}

	applicant, err := e.Profiles.Profile(ctx, applicantID)
	if err != nil {
		// Return the entry so the next event can retry once the profile is fixed.
		if rerr := e.Queue.ReturnToWaiting(ctx, applicantID); rerr != nil {
			e.Log.Error().Err(rerr).Int64("applicant", applicantID).Msg("return to waiting failed")
		}
		e.notifyAdmin(ctx, fmt.Sprintf("Aplicante %d sin perfil completo; devuelto a la cola.", applicantID))
		return Outcome{Kind: OutcomeError, ApplicantID: applicantID, Err: fmt.Errorf("profile %d: %w", applicantID, err)}
	}

	e.Log.Info().Str("date", date).Int64("applicant", applicantID).Msg("acquisition cycle started")

	winner, duplicates := e.fanOut(ctx, applicant, date)

	if winner == nil {
		winner = e.fallback(ctx, applicant, date)
	}

	if winner == nil {
		if err := e.Queue.ReturnToWaiting(ctx, applicantID); err != nil {
			e.Log.Error().Err(err).Int64("applicant", applicantID).Msg("return to waiting failed")
		}
		e.Notifier.Notify(ctx, applicantID, fmt.Sprintf(
			"No conseguimos la cita del %s esta vez; sigues primero en la cola.\n"+
				"Por si quieres intentarlo a mano:\nNombre: %s %s\nDocumento: %s\nEmail: %s\nTeléfono: %s",
			date, applicant.FirstName, applicant.LastName, applicant.Document, applicant.Email, applicant.Phone))
		return Outcome{Kind: OutcomeNoSlot, ApplicantID: applicantID, Date: date}
	}

	won, err := e.Queue.MarkBooked(ctx, applicantID, winner.ConfirmationID, winner.Candidate.Date, winner.Candidate.Time)
	if err != nil {
		// The reservation exists upstream; only our record failed. The
		// operator has to reconcile by hand either way.
		e.notifyAdmin(ctx, fmt.Sprintf("Reserva %s confirmada para %d pero no registrada: %v",
			winner.ConfirmationID, applicantID, err))
		return Outcome{Kind: OutcomeError, ApplicantID: applicantID, Err: fmt.Errorf("mark booked: %w", err)}
	}
	if !won {
		if e.Metrics != nil {
			e.Metrics.DuplicateWins.Inc()
		}
		e.notifyAdmin(ctx, fmt.Sprintf(
			"Reserva duplicada detectada para el aplicante %d (confirmación %s, %s %s). Cancelar manualmente.",
			applicantID, winner.ConfirmationID, winner.Candidate.Date, winner.Candidate.Time))
		return Outcome{Kind: OutcomeError, ApplicantID: applicantID,
			Err: fmt.Errorf("applicant %d already booked by another cycle", applicantID)}
	}

	if duplicates > 0 {
		if e.Metrics != nil {
			e.Metrics.DuplicateWins.Add(float64(duplicates))
		}
		e.notifyAdmin(ctx, fmt.Sprintf(
			"%d confirmaciones extra descartadas en el ciclo de %d; revisar reservas duplicadas upstream.",
			duplicates, applicantID))
	}

	e.Notifier.Notify(ctx, applicantID, fmt.Sprintf(
		"¡Cita confirmada! %s a las %s\nNúmero de confirmación: %s",
		winner.Candidate.Date, winner.Candidate.Time, winner.ConfirmationID))
	e.Log.Info().Str("confirmation", winner.ConfirmationID).
		Str("date", winner.Candidate.Date).Str("time", winner.Candidate.Time).
		Int64("applicant", applicantID).Msg("reservation confirmed")

	return Outcome{
		Kind:           OutcomeConfirmed,
		ApplicantID:    applicantID,
		ConfirmationID: winner.ConfirmationID,
		Date:           winner.Candidate.Date,
		Time:           winner.Candidate.Time,
	}
}

// fanOut fires one attempt per catalog candidate concurrently and returns
// the first confirmed result by completion order, plus how many additional
// confirmations arrived after the winner (each one is a probable duplicate
// booking upstream).
func (e *Engine) fanOut(ctx context.Context, applicant Applicant, date string) (*Result, int) {
	tmpl := e.template(applicant)
	candidates := Catalog(date, CatalogConfigFrom(e.Cfg))

	results := make(chan Result, len(candidates))
	var wg sync.WaitGroup
	for _, cand := range candidates {
		payload, err := tmpl.Payload(cand.Date, cand.Time)
		if err != nil {
			e.Log.Error().Err(err).Str("time", cand.Time).Msg("payload render failed")
			continue
		}
		cand.Payload = payload

		wg.Add(1)
		go func(cand Candidate) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- Result{Candidate: cand, Err: fmt.Errorf("attempt panic: %v", r)}
				}
			}()
			results <- e.attempt(ctx, cand)
		}(cand)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var winner *Result
	duplicates := 0
	for res := range results {
		if !res.Confirmed() {
			continue
		}
		if winner == nil {
			r := res
			winner = &r
			continue
		}
		duplicates++
	}
	return winner, duplicates
}

// fallback asks the upstream which times are actually open and attempts
// exactly one booking against the first reported slot.
func (e *Engine) fallback(ctx context.Context, applicant Applicant, date string) *Result {
	times, err := e.Slots.OpenTimes(ctx, date)
	if err != nil {
		e.Log.Warn().Err(err).Str("date", date).Msg("fallback time listing failed")
		return nil
	}
	if len(times) == 0 {
		return nil
	}

	tmpl := e.template(applicant)
	payload, err := tmpl.Payload(date, times[0])
	if err != nil {
		return nil
	}
	res := e.attempt(ctx, Candidate{Date: date, Time: times[0], Payload: payload})
	if res.Confirmed() {
		return &res
	}
	return nil
}

func (e *Engine) attempt(ctx context.Context, cand Candidate) Result {
	actx, cancel := context.WithTimeout(ctx, e.Cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	res := e.Strategy.Attempt(actx, cand)
	if e.Metrics != nil {
		e.Metrics.AttemptLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
		switch {
		case res.Confirmed():
			e.Metrics.AttemptsTotal.WithLabelValues("confirmed").Inc()
		case res.Status != 0:
			e.Metrics.AttemptsTotal.WithLabelValues("rejected").Inc()
		default:
			e.Metrics.AttemptsTotal.WithLabelValues("transport").Inc()
		}
	}
	return res
}

// template returns the cached payload template for an applicant, building
// it on first use.
func (e *Engine) template(a Applicant) *Template {
	if e.templates == nil {
		e.templates = make(map[int64]*Template)
	}
	if t, ok := e.templates[a.ID]; ok {
		return t
	}
	t := NewTemplate(e.Cfg, a)
	e.templates[a.ID] = t
	return t
}

func (e *Engine) notifyAdmin(ctx context.Context, message string) {
	if e.Cfg.AdminChatID == 0 {
		return
	}
	e.Notifier.Notify(ctx, e.Cfg.AdminChatID, message)
}

func (e *Engine) countCycle(kind OutcomeKind) {
	if e.Metrics == nil || kind == "" {
		return
	}
	e.Metrics.CyclesTotal.WithLabelValues(string(kind)).Inc()
}
