package queue

import (
	"context"
	"time"

	"github.com/example/cita-sniper/internal/db"
)

// Status values a queue entry moves through. Transitions are forward-only
// except the explicit return from processing to waiting after a lost race
// and the operator-initiated abandon.
const (
	StatusWaiting    = "waiting"
	StatusProcessing = "processing"
	StatusBooked     = "booked"
	StatusAbandoned  = "abandoned"
)

type Entry struct {
	ApplicantID int64
	Status      string
	EnqueuedAt  time.Time
	UpdatedAt   time.Time
}

type Reservation struct {
	ApplicantID    int64
	ConfirmationID string
	Date           string
	Time           string
	CreatedAt      time.Time
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// Enqueue adds an applicant to the tail of the queue and returns their
// 1-based position among waiting entries. Re-enqueueing is a no-op that
// reports the existing position.
func (r *Repo) Enqueue(ctx context.Context, applicantID int64) (int, error) {
	if err := r.db.Exec(ctx, `
INSERT INTO queue_entries(applicant_id) VALUES ($1)
ON CONFLICT (applicant_id) DO NOTHING`, applicantID); err != nil {
		return 0, err
	}
	return r.Position(ctx, applicantID)
}

// Position reports where an applicant stands: 1-based among waiting
// entries, -1 once booked, 0 when not queued at all. An entry that is
// mid-cycle (processing) counts as position 1.
func (r *Repo) Position(ctx context.Context, applicantID int64) (int, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM queue_entries WHERE applicant_id=$1`, applicantID).Scan(&status)
	if err != nil {
		if err = db.WrapNotFound(err); db.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	switch status {
	case StatusBooked:
		return -1, nil
	case StatusProcessing:
		return 1, nil
	case StatusAbandoned:
		return 0, nil
	}

	var pos int
	err = r.db.QueryRow(ctx, `
SELECT COUNT(*) FROM queue_entries q, queue_entries me
WHERE me.applicant_id=$1 AND q.status='waiting' AND q.enqueued_at <= me.enqueued_at`, applicantID).Scan(&pos)
	if err != nil {
		return 0, db.WrapNotFound(err)
	}
	return pos, nil
}

// DequeueHead pops the longest-waiting applicant and moves them to
// processing. SKIP LOCKED keeps the pop atomic against a concurrent
// instance running the same query. Returns db.ErrNotFound on an empty
// queue.
func (r *Repo) DequeueHead(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
UPDATE queue_entries SET status='processing', updated_at=now()
WHERE applicant_id = (
    SELECT applicant_id FROM queue_entries
    WHERE status='waiting'
    ORDER BY enqueued_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED)
RETURNING applicant_id`).Scan(&id)
	if err != nil {
		return 0, db.WrapNotFound(err)
	}
	return id, nil
}

// MarkBooked transitions processing -> booked and writes the reservation
// record. The transition is a compare-and-swap: it reports false when some
// other cycle already resolved this entry, in which case no reservation
// record is written.
func (r *Repo) MarkBooked(ctx context.Context, applicantID int64, confirmationID, date, timeOfDay string) (bool, error) {
	affected, err := r.db.ExecAffected(ctx, `
UPDATE queue_entries SET status='booked', updated_at=now()
WHERE applicant_id=$1 AND status='processing'`, applicantID)
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	err = r.db.Exec(ctx, `
INSERT INTO reservations(applicant_id, confirmation_id, slot_date, slot_time)
VALUES ($1,$2,$3,$4)`, applicantID, confirmationID, date, timeOfDay)
	return true, err
}

// ReturnToWaiting hands a processing entry back to the queue. enqueued_at
// is untouched, so the applicant keeps their place at the head.
func (r *Repo) ReturnToWaiting(ctx context.Context, applicantID int64) error {
	return r.db.Exec(ctx, `
UPDATE queue_entries SET status='waiting', updated_at=now()
WHERE applicant_id=$1 AND status='processing'`, applicantID)
}

// Abandon is the operator/user-initiated rollback out of the queue.
func (r *Repo) Abandon(ctx context.Context, applicantID int64) error {
	affected, err := r.db.ExecAffected(ctx, `
UPDATE queue_entries SET status='abandoned', updated_at=now()
WHERE applicant_id=$1 AND status IN ('waiting','processing')`, applicantID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return db.ErrNotFound
	}
	return nil
}

// Remove deletes a waiting entry entirely.
func (r *Repo) Remove(ctx context.Context, applicantID int64) error {
	affected, err := r.db.ExecAffected(ctx, `
DELETE FROM queue_entries WHERE applicant_id=$1 AND status='waiting'`, applicantID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *Repo) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
SELECT applicant_id, status, enqueued_at, updated_at
FROM queue_entries
ORDER BY enqueued_at
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ApplicantID, &e.Status, &e.EnqueuedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountWaiting backs the queue gauge.
func (r *Repo) CountWaiting(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_entries WHERE status='waiting'`).Scan(&n)
	return n, err
}

func (r *Repo) Reservations(ctx context.Context, limit int) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `
SELECT applicant_id, confirmation_id, slot_date, slot_time, created_at
FROM reservations
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ApplicantID, &r.ConfirmationID, &r.Date, &r.Time, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
