package facility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/facility-booking/internal/schedule"
)

// PgRepository reads facility configuration from Postgres. Facilities are
// maintained by the practice settings tooling; the booking core only reads.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const facilityColumns = `id, name, access_point_type, postcode, phone, time_zone,
	slot_minutes, lead_time_minutes, max_advance_days, opening_hours`

func scanFacility(row pgx.Row) (*Facility, error) {
	var f Facility
	var leadMinutes int

	err := row.Scan(
		&f.ID,
		&f.Name,
		&f.Type,
		&f.Postcode,
		&f.Phone,
		&f.TimeZone,
		&f.SlotMinutes,
		&leadMinutes,
		&f.MaxAdvanceDays,
		&f.OpeningHours,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFacilityNotFound
		}
		return nil, err
	}

	f.LeadTime = time.Duration(leadMinutes) * time.Minute
	return &f, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Facility, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, id)
	return scanFacility(row)
}

func (r *PgRepository) OperatingHours(ctx context.Context, id uuid.UUID) (schedule.OperatingHours, error) {
	f, err := r.Get(ctx, id)
	if err != nil {
		return schedule.OperatingHours{}, err
	}
	return f.Hours()
}

func (r *PgRepository) List(ctx context.Context) ([]Facility, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+facilityColumns+` FROM facilities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	defer rows.Close()

	var out []Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Upsert writes a facility record. Used by the seeder and bookingctl.
func (r *PgRepository) Upsert(ctx context.Context, f Facility) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO facilities (id, name, access_point_type, postcode, phone, time_zone,
		                        slot_minutes, lead_time_minutes, max_advance_days, opening_hours,
		                        created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (id) DO UPDATE
		   SET name              = EXCLUDED.name,
		       access_point_type = EXCLUDED.access_point_type,
		       postcode          = EXCLUDED.postcode,
		       phone             = EXCLUDED.phone,
		       time_zone         = EXCLUDED.time_zone,
		       slot_minutes      = EXCLUDED.slot_minutes,
		       lead_time_minutes = EXCLUDED.lead_time_minutes,
		       max_advance_days  = EXCLUDED.max_advance_days,
		       opening_hours     = EXCLUDED.opening_hours,
		       updated_at        = now()
	`, f.ID, f.Name, f.Type, f.Postcode, f.Phone, f.TimeZone,
		f.SlotMinutes, int(f.LeadTime/time.Minute), f.MaxAdvanceDays, f.OpeningHours)
	if err != nil {
		return fmt.Errorf("upsert facility %s: %w", f.ID, err)
	}
	return nil
}
