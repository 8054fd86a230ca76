package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/cita-sniper/internal/booking"
	"github.com/example/cita-sniper/internal/db"
)

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// Upsert stores an applicant's contact profile, keyed by document.
func (r *Repo) Upsert(ctx context.Context, a booking.Applicant) (int64, error) {
	if err := validate(a); err != nil {
		return 0, err
	}
	var id int64
	err := r.db.QueryRow(ctx, `
INSERT INTO applicants(first_name, last_name, document, email, phone)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (document) DO UPDATE SET
    first_name=EXCLUDED.first_name,
    last_name=EXCLUDED.last_name,
    email=EXCLUDED.email,
    phone=EXCLUDED.phone,
    updated_at=now()
RETURNING id`,
		a.FirstName, a.LastName, a.Document, a.Email, a.Phone,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func (r *Repo) Profile(ctx context.Context, applicantID int64) (booking.Applicant, error) {
	var a booking.Applicant
	err := r.db.QueryRow(ctx, `
SELECT id, first_name, last_name, document, email, phone
FROM applicants WHERE id=$1`, applicantID).
		Scan(&a.ID, &a.FirstName, &a.LastName, &a.Document, &a.Email, &a.Phone)
	if err != nil {
		return booking.Applicant{}, db.WrapNotFound(err)
	}
	return a, nil
}

func (r *Repo) ByDocument(ctx context.Context, document string) (booking.Applicant, error) {
	var a booking.Applicant
	err := r.db.QueryRow(ctx, `
SELECT id, first_name, last_name, document, email, phone
FROM applicants WHERE document=$1`, strings.TrimSpace(document)).
		Scan(&a.ID, &a.FirstName, &a.LastName, &a.Document, &a.Email, &a.Phone)
	if err != nil {
		return booking.Applicant{}, db.WrapNotFound(err)
	}
	return a, nil
}

func validate(a booking.Applicant) error {
	if strings.TrimSpace(a.FirstName) == "" {
		return fmt.Errorf("first name required")
	}
	if strings.TrimSpace(a.Document) == "" {
		return fmt.Errorf("document required")
	}
	if strings.TrimSpace(a.Email) == "" {
		return fmt.Errorf("email required")
	}
	if strings.TrimSpace(a.Phone) == "" {
		return fmt.Errorf("phone required")
	}
	return nil
}
