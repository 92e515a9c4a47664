package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/facility-booking/internal/facility"
)

// Postgres error codes the booking path reacts to.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgExclusionViolation   = "23P01"
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"

	idempotencyIndex = "appointments_facility_idempotency_key"
	facilityFK       = "appointments_facility_id_fkey"
)

// PgStore keeps appointments in Postgres. Reservations run in SERIALIZABLE
// transactions that re-read overlapping scheduled rows before inserting; the
// appointments_no_overlap exclusion constraint rejects anything that slips
// past.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const appointmentColumns = `id, facility_id, patient_number, start_at, duration_minutes,
	appointment_type, reason, notes, contact_email, contact_phone, status, version,
	idempotency_key, rescheduled_from, cancelled_at, cancelled_by, cancellation_reason,
	created_by, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var key *string

	err := row.Scan(
		&a.ID,
		&a.FacilityID,
		&a.PatientNumber,
		&a.Start,
		&a.DurationMinutes,
		&a.Type,
		&a.Reason,
		&a.Notes,
		&a.ContactEmail,
		&a.ContactPhone,
		&a.Status,
		&a.Version,
		&key,
		&a.RescheduledFrom,
		&a.CancelledAt,
		&a.CancelledBy,
		&a.CancellationReason,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if key != nil {
		a.IdempotencyKey = *key
	}
	a.Start = a.Start.UTC()
	if a.CancelledAt != nil {
		at := a.CancelledAt.UTC()
		a.CancelledAt = &at
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// mapPgError turns the constraint and serialization failures into store
// sentinels. Anything else is returned unchanged.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrTransient, pgErr.Message)
	case pgExclusionViolation:
		return ErrOverlap
	case pgUniqueViolation:
		if pgErr.ConstraintName == idempotencyIndex {
			return ErrDuplicateKey
		}
	case pgForeignKeyViolation:
		// Hours came from a directory the database has never seen.
		if pgErr.ConstraintName == facilityFK {
			return fmt.Errorf("%w: not registered in the database", facility.ErrFacilityNotFound)
		}
	}
	return err
}

func (s *PgStore) inTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// Reads

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (s *PgStore) GetByIdempotencyKey(ctx context.Context, facilityID uuid.UUID, key string) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE facility_id = $1 AND idempotency_key = $2
	`, facilityID, key)
	return scanAppointment(row)
}

func (s *PgStore) ListActive(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE facility_id = $1
		  AND status = 'scheduled'
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, facilityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (s *PgStore) ListByPatient(ctx context.Context, patientNumber string, limit, offset int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_number = $1
		ORDER BY start_at DESC
		LIMIT $2 OFFSET $3
	`, patientNumber, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (s *PgStore) ListByFacility(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE facility_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, facilityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by facility: %w", err)
	}
	return collectAppointments(rows)
}

func (s *PgStore) ListScheduledEndingBefore(ctx context.Context, t time.Time, limit int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND end_at < $1
		ORDER BY end_at
		LIMIT $2
	`, t, limit)
	if err != nil {
		return nil, fmt.Errorf("list lapsed appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (s *PgStore) ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// Writes

func (s *PgStore) InsertIfNoOverlap(ctx context.Context, appt *Appointment, ev Event) (*Appointment, error) {
	var created *Appointment
	err := s.inTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		if err := checkInsert(ctx, tx, appt, uuid.Nil); err != nil {
			return err
		}
		a, err := insertAppointment(ctx, tx, appt)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, ev, a.ID, a.CreatedAt); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PgStore) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, ch StatusChange, ev Event) (*Appointment, error) {
	var updated *Appointment
	err := s.inTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		a, err := updateStatus(ctx, tx, id, expectedVersion, ch)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, ev, a.ID, ch.At); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PgStore) ReplaceIfNoOverlap(ctx context.Context, oldID uuid.UUID, expectedVersion int64, ch StatusChange, next *Appointment, cancelled, booked Event) (*Appointment, error) {
	var created *Appointment
	err := s.inTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		old, err := updateStatus(ctx, tx, oldID, expectedVersion, ch)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, cancelled, old.ID, ch.At); err != nil {
			return err
		}
		if err := checkInsert(ctx, tx, next, oldID); err != nil {
			return err
		}
		a, err := insertAppointment(ctx, tx, next)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, booked, a.ID, a.CreatedAt); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func checkInsert(ctx context.Context, tx pgx.Tx, appt *Appointment, skip uuid.UUID) error {
	if appt.IdempotencyKey != "" {
		var existing uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT id FROM appointments WHERE facility_id = $1 AND idempotency_key = $2
		`, appt.FacilityID, appt.IdempotencyKey).Scan(&existing)
		if err == nil {
			return ErrDuplicateKey
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check idempotency key: %w", err)
		}
	}

	var conflict uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id
		FROM appointments
		WHERE facility_id = $1
		  AND status = 'scheduled'
		  AND start_at < $3
		  AND end_at > $2
		  AND id <> $4
		LIMIT 1
	`, appt.FacilityID, appt.Start, appt.End(), skip).Scan(&conflict)
	if err == nil {
		return ErrOverlap
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check overlap: %w", err)
	}
	return nil
}

func insertAppointment(ctx context.Context, tx pgx.Tx, a *Appointment) (*Appointment, error) {
	var key *string
	if a.IdempotencyKey != "" {
		key = &a.IdempotencyKey
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, facility_id, patient_number, start_at, end_at, duration_minutes,
		                          appointment_type, reason, notes, contact_email, contact_phone,
		                          status, version, idempotency_key, rescheduled_from, created_by,
		                          created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		RETURNING `+appointmentColumns,
		a.ID, a.FacilityID, a.PatientNumber, a.Start, a.End(), a.DurationMinutes,
		a.Type, a.Reason, a.Notes, a.ContactEmail, a.ContactPhone,
		a.Status, a.Version, key, a.RescheduledFrom, a.CreatedBy, a.CreatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func updateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, expectedVersion int64, ch StatusChange) (*Appointment, error) {
	var cancelledAt *time.Time
	var cancelledBy, reason string
	if ch.To == StatusCancelled {
		cancelledAt = &ch.At
		cancelledBy = ch.Actor
		reason = ch.Reason
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    version = version + 1,
		    updated_at = $4,
		    cancelled_at = $5,
		    cancelled_by = $6,
		    cancellation_reason = $7
		WHERE id = $1
		  AND version = $2
		  AND status = 'scheduled'
		RETURNING `+appointmentColumns,
		id, expectedVersion, ch.To, ch.At, cancelledAt, cancelledBy, reason)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check appointment: %w", err)
		}
		if exists {
			return nil, ErrVersionMismatch
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev Event, appointmentID uuid.UUID, at time.Time) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = at
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.Type, appointmentID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
