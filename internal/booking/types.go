package booking

import (
	"context"
)

// Applicant is the contact/identity profile a booking is made for. It is
// read-only to this package; the profile store owns it.
type Applicant struct {
	ID        int64
	FirstName string
	LastName  string
	Document  string
	Email     string
	Phone     string
}

// Candidate is one {date, time} pair the engine is willing to attempt,
// with its request payload prebuilt from the applicant's template.
type Candidate struct {
	Date    string // YYYY-MM-DD
	Time    string // HH:MM
	Payload []byte
}

// Result is the outcome of a single booking attempt. A non-empty
// confirmation id is the only positive signal; everything else
// (rejection status, transport error) counts as not confirmed.
type Result struct {
	Candidate      Candidate
	ConfirmationID string
	Status         int
	Err            error
}

func (r Result) Confirmed() bool { return r.ConfirmationID != "" }

type OutcomeKind string

const (
	OutcomeConfirmed   OutcomeKind = "confirmed"
	OutcomeNoSlot      OutcomeKind = "noslot"
	OutcomeNoApplicant OutcomeKind = "noapplicant"
	OutcomeSkipped     OutcomeKind = "skipped"
	OutcomeError       OutcomeKind = "error"
)

// Outcome is the terminal state of one acquisition cycle.
type Outcome struct {
	Kind           OutcomeKind
	ApplicantID    int64
	ConfirmationID string
	Date           string
	Time           string
	Err            error
}

// Strategy executes one booking attempt for one candidate. Implementations
// must fold every failure mode into the Result; they never panic out.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, c Candidate) Result
}

// SlotSource reports which times the upstream actually has open for a date.
// Used by the engine's fallback after a blind fan-out comes up empty.
type SlotSource interface {
	OpenTimes(ctx context.Context, date string) ([]string, error)
}

// QueueStore is the FIFO admission list. DequeueHead must be atomic with
// respect to concurrent dequeues and moves the entry to processing;
// MarkBooked is a compare-and-swap from processing to booked and reports
// whether this caller won the transition.
type QueueStore interface {
	DequeueHead(ctx context.Context) (int64, error)
	MarkBooked(ctx context.Context, applicantID int64, confirmationID, date, timeOfDay string) (bool, error)
	ReturnToWaiting(ctx context.Context, applicantID int64) error
}

// ProfileStore returns an applicant's profile by id.
type ProfileStore interface {
	Profile(ctx context.Context, applicantID int64) (Applicant, error)
}
