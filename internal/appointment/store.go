package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("appointment not found")
	ErrOverlap         = errors.New("overlapping scheduled appointment exists")
	ErrTransient       = errors.New("transient storage conflict")
	ErrVersionMismatch = errors.New("appointment version or status changed")
	ErrDuplicateKey    = errors.New("idempotency key already used")
)

// Store is the persistence layer behind the service. Each write method is a
// single atomic unit: either every row it names is written or none is.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByIdempotencyKey(ctx context.Context, facilityID uuid.UUID, key string) (*Appointment, error)

	// ListActive returns scheduled appointments at a facility overlapping [from, to).
	ListActive(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientNumber string, limit, offset int) ([]Appointment, error)
	// ListByFacility returns appointments of any status starting in [from, to).
	ListByFacility(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// InsertIfNoOverlap stores appt and ev unless a scheduled appointment at
	// the same facility overlaps it (ErrOverlap) or the idempotency key is
	// taken (ErrDuplicateKey). ErrTransient means the attempt may be retried.
	InsertIfNoOverlap(ctx context.Context, appt *Appointment, ev Event) (*Appointment, error)

	// UpdateStatus moves a scheduled appointment at expectedVersion to
	// ch.To. ErrVersionMismatch when the row moved on.
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, ch StatusChange, ev Event) (*Appointment, error)

	// ReplaceIfNoOverlap cancels oldID and inserts next in one write. The old
	// range does not block the new one.
	ReplaceIfNoOverlap(ctx context.Context, oldID uuid.UUID, expectedVersion int64, ch StatusChange, next *Appointment, cancelled, booked Event) (*Appointment, error)

	// Sweeper
	ListScheduledEndingBefore(ctx context.Context, t time.Time, limit int) ([]Appointment, error)

	ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]Event, error)
}
