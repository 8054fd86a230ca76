package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/cita-sniper/internal/claim"
	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/db"
)

func testEngineConfig() config.Config {
	return config.Config{
		ServiceID:          "svc-1",
		BranchID:           "branch-1",
		CustomSlotLength:   10,
		AttemptTimeout:     500 * time.Millisecond,
		OperatingStartHour: 8,
		OperatingEndHour:   14,
		SlotGranularity:    5 * time.Minute,
		PriorityHours:      []int{9, 10, 11, 12, 8, 13},
		AdminChatID:        99,
	}
}

type reservationRecord struct {
	applicantID    int64
	confirmationID string
	date, time     string
}

type fakeQueue struct {
	mu           sync.Mutex
	waiting      []int64
	status       map[int64]string
	reservations []reservationRecord

	// loseBooked simulates another instance resolving the entry between
	// our dequeue and our booked transition.
	loseBooked bool
}

func newFakeQueue(ids ...int64) *fakeQueue {
	q := &fakeQueue{status: make(map[int64]string)}
	for _, id := range ids {
		q.waiting = append(q.waiting, id)
		q.status[id] = "waiting"
	}
	return q
}

func (q *fakeQueue) DequeueHead(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) == 0 {
		return 0, db.ErrNotFound
	}
	id := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.status[id] = "processing"
	return id, nil
}

func (q *fakeQueue) MarkBooked(_ context.Context, id int64, conf, date, timeOfDay string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.loseBooked {
		q.status[id] = "booked"
		return false, nil
	}
	if q.status[id] != "processing" {
		return false, nil
	}
	q.status[id] = "booked"
	q.reservations = append(q.reservations, reservationRecord{id, conf, date, timeOfDay})
	return true, nil
}

func (q *fakeQueue) ReturnToWaiting(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status[id] != "processing" {
		return fmt.Errorf("applicant %d not processing", id)
	}
	q.status[id] = "waiting"
	q.waiting = append([]int64{id}, q.waiting...)
	return nil
}

func (q *fakeQueue) statusOf(id int64) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status[id]
}

type fakeProfiles map[int64]Applicant

func (p fakeProfiles) Profile(_ context.Context, id int64) (Applicant, error) {
	a, ok := p[id]
	if !ok {
		return Applicant{}, db.ErrNotFound
	}
	return a, nil
}

type fakeStrategy struct {
	mu       sync.Mutex
	attempts int
	fn       func(c Candidate) Result
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) Attempt(_ context.Context, c Candidate) Result {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	return s.fn(c)
}

func (s *fakeStrategy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type fakeSlots struct {
	times []string
	err   error
	calls int
}

func (s *fakeSlots) OpenTimes(context.Context, string) ([]string, error) {
	s.calls++
	return s.times, s.err
}

type notification struct {
	recipient int64
	message   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, recipient int64, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{recipient, message})
}

func (n *fakeNotifier) to(recipient int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, msg := range n.sent {
		if msg.recipient == recipient {
			out = append(out, msg.message)
		}
	}
	return out
}

func rejectAll(c Candidate) Result {
	return Result{Candidate: c, Status: 404, Err: errors.New("http 404")}
}

func newTestEngine(q *fakeQueue, s Strategy, slots SlotSource, n *fakeNotifier) *Engine {
	return &Engine{
		Queue: q,
		Profiles: fakeProfiles{
			1: {ID: 1, FirstName: "Ana", LastName: "García", Document: "11111111A", Email: "a@x.es", Phone: "+34600000001"},
			2: {ID: 2, FirstName: "Ben", LastName: "Pérez", Document: "22222222B", Email: "b@x.es", Phone: "+34600000002"},
		},
		Strategy: s,
		Slots:    slots,
		Notifier: n,
		Cfg:      testEngineConfig(),
		Log:      zerolog.Nop(),
	}
}

func TestAcquireConfirmsSingleWinner(t *testing.T) {
	q := newFakeQueue(1, 2)
	strat := &fakeStrategy{fn: func(c Candidate) Result {
		if c.Time == "09:45" {
			return Result{Candidate: c, ConfirmationID: "CONF123", Status: 200}
		}
		return rejectAll(c)
	}}
	slots := &fakeSlots{}
	n := &fakeNotifier{}
	e := newTestEngine(q, strat, slots, n)

	out := e.Acquire(context.Background(), []string{"2025-12-18"})
	if out.Kind != OutcomeConfirmed {
		t.Fatalf("outcome %v, want confirmed (err=%v)", out.Kind, out.Err)
	}
	if out.ConfirmationID != "CONF123" || out.Date != "2025-12-18" || out.Time != "09:45" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if q.statusOf(1) != "booked" {
		t.Fatalf("applicant 1 status %q, want booked", q.statusOf(1))
	}
	if len(q.reservations) != 1 {
		t.Fatalf("%d reservations recorded, want 1", len(q.reservations))
	}
	if slots.calls != 0 {
		t.Fatal("fallback used even though a blind candidate confirmed")
	}
	if got := n.to(1); len(got) != 1 {
		t.Fatalf("applicant told %d times, want 1", len(got))
	}

	// B is still head of the queue for the next event.
	id, err := q.DequeueHead(context.Background())
	if err != nil || id != 2 {
		t.Fatalf("next dequeue got (%d, %v), want applicant 2", id, err)
	}
}

func TestAcquireEmptyQueue(t *testing.T) {
	q := newFakeQueue()
	strat := &fakeStrategy{fn: rejectAll}
	n := &fakeNotifier{}
	e := newTestEngine(q, strat, &fakeSlots{}, n)

	out := e.Acquire(context.Background(), []string{"2025-12-19"})
	if out.Kind != OutcomeNoApplicant {
		t.Fatalf("outcome %v, want noapplicant", out.Kind)
	}
	if strat.count() != 0 {
		t.Fatalf("%d booking attempts issued for an empty queue", strat.count())
	}
	if got := n.to(99); len(got) != 1 {
		t.Fatalf("operator notified %d times, want 1", len(got))
	}
}

func TestAcquireNoSlotReturnsApplicantToHead(t *testing.T) {
	q := newFakeQueue(1, 2)
	strat := &fakeStrategy{fn: rejectAll}
	slots := &fakeSlots{} // fallback also empty
	n := &fakeNotifier{}
	e := newTestEngine(q, strat, slots, n)

	out := e.Acquire(context.Background(), []string{"2025-12-18"})
	if out.Kind != OutcomeNoSlot {
		t.Fatalf("outcome %v, want noslot", out.Kind)
	}
	if strat.count() != 72 {
		t.Fatalf("%d attempts issued, want the full 72-candidate catalog", strat.count())
	}
	if slots.calls != 1 {
		t.Fatalf("fallback consulted %d times, want 1", slots.calls)
	}
	if q.statusOf(1) != "waiting" {
		t.Fatalf("applicant 1 status %q, want waiting", q.statusOf(1))
	}
	if len(q.reservations) != 0 {
		t.Fatal("reservation recorded without a confirmation")
	}
	// Lost race costs nothing: applicant 1 is still first in line.
	id, _ := q.DequeueHead(context.Background())
	if id != 1 {
		t.Fatalf("next dequeue got %d, want applicant 1 back at the head", id)
	}
	if got := n.to(1); len(got) != 1 {
		t.Fatalf("applicant told %d times, want their data for a manual attempt", len(got))
	}
}

func TestAcquireFallbackBooksFirstRealSlot(t *testing.T) {
	q := newFakeQueue(1)
	// 14:20 sits outside operating hours so no blind candidate hits it.
	strat := &fakeStrategy{fn: func(c Candidate) Result {
		if c.Time == "14:20" {
			return Result{Candidate: c, ConfirmationID: "FB-1", Status: 200}
		}
		return rejectAll(c)
	}}
	slots := &fakeSlots{times: []string{"14:20", "14:30"}}
	e := newTestEngine(q, strat, slots, &fakeNotifier{})

	out := e.Acquire(context.Background(), []string{"2025-12-18"})
	if out.Kind != OutcomeConfirmed {
		t.Fatalf("outcome %v, want confirmed via fallback (err=%v)", out.Kind, out.Err)
	}
	if out.ConfirmationID != "FB-1" || out.Time != "14:20" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	// Catalog attempts plus exactly one fallback attempt.
	if strat.count() != 73 {
		t.Fatalf("%d attempts, want 72 blind + 1 fallback", strat.count())
	}
}

func TestAcquireAtMostOneReservation(t *testing.T) {
	q := newFakeQueue(1)
	// Two candidates both report success; only one reservation may result.
	strat := &fakeStrategy{fn: func(c Candidate) Result {
		if c.Time == "09:00" || c.Time == "09:05" {
			return Result{Candidate: c, ConfirmationID: "CONF-" + c.Time, Status: 200}
		}
		return rejectAll(c)
	}}
	n := &fakeNotifier{}
	e := newTestEngine(q, strat, &fakeSlots{}, n)

	out := e.Acquire(context.Background(), []string{"2025-12-18"})
	if out.Kind != OutcomeConfirmed {
		t.Fatalf("outcome %v, want confirmed", out.Kind)
	}
	if len(q.reservations) != 1 {
		t.Fatalf("%d reservations recorded, want exactly 1", len(q.reservations))
	}
	// The extra confirmation is flagged to the operator for reconciliation.
	if got := n.to(99); len(got) != 1 {
		t.Fatalf("operator notified %d times about duplicates, want 1", len(got))
	}
}

func TestAcquireLostCASIsNotConfirmed(t *testing.T) {
	q := newFakeQueue(1)
	strat := &fakeStrategy{fn: func(c Candidate) Result {
		return Result{Candidate: c, ConfirmationID: "CONF123", Status: 200}
	}}
	n := &fakeNotifier{}
	e := newTestEngine(q, strat, &fakeSlots{}, n)
	q.loseBooked = true

	out := e.Acquire(context.Background(), []string{"2025-12-18"})
	if out.Kind != OutcomeError {
		t.Fatalf("outcome %v, want error for a lost booked transition", out.Kind)
	}
	if len(q.reservations) != 0 {
		t.Fatal("reservation recorded despite losing the booked transition")
	}
	if got := n.to(99); len(got) == 0 {
		t.Fatal("operator not told to reconcile the duplicate booking")
	}
}

func TestAcquireSkipsClaimedEvent(t *testing.T) {
	q := newFakeQueue(1, 2)
	strat := &fakeStrategy{fn: func(c Candidate) Result {
		return Result{Candidate: c, ConfirmationID: "C1", Status: 200}
	}}
	e := newTestEngine(q, strat, &fakeSlots{}, &fakeNotifier{})
	e.Claims = claim.NewMemory(time.Minute)

	if out := e.Acquire(context.Background(), []string{"2025-12-18"}); out.Kind != OutcomeConfirmed {
		t.Fatalf("first cycle outcome %v, want confirmed", out.Kind)
	}
	out := e.Acquire(context.Background(), []string{"2025-12-18"})
	if out.Kind != OutcomeSkipped {
		t.Fatalf("second cycle outcome %v, want skipped", out.Kind)
	}
	if q.statusOf(2) != "waiting" {
		t.Fatal("skipped event still dequeued an applicant")
	}
}

func TestAcquireSurvivesPanickingStrategy(t *testing.T) {
	q := newFakeQueue(1)
	strat := &fakeStrategy{fn: func(c Candidate) Result {
		panic("boom")
	}}
	e := newTestEngine(q, strat, &fakeSlots{err: errors.New("down")}, &fakeNotifier{})

	out := e.Acquire(context.Background(), []string{"2025-12-18"})
	if out.Kind != OutcomeNoSlot {
		t.Fatalf("outcome %v, want noslot despite panicking attempts", out.Kind)
	}
	if q.statusOf(1) != "waiting" {
		t.Fatalf("applicant 1 status %q, want waiting", q.statusOf(1))
	}
}

func TestAcquireMissingProfile(t *testing.T) {
	q := newFakeQueue(7) // no profile for 7
	strat := &fakeStrategy{fn: rejectAll}
	n := &fakeNotifier{}
	e := newTestEngine(q, strat, &fakeSlots{}, n)

	out := e.Acquire(context.Background(), []string{"2025-12-18"})
	if out.Kind != OutcomeError {
		t.Fatalf("outcome %v, want error", out.Kind)
	}
	if strat.count() != 0 {
		t.Fatal("attempts issued without a profile")
	}
	if q.statusOf(7) != "waiting" {
		t.Fatalf("applicant 7 status %q, want returned to waiting", q.statusOf(7))
	}
}
