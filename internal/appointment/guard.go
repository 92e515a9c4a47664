package appointment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/config"
)

// Guard is the only path that creates appointments. The store decides
// conflicts atomically; the guard retries transient aborts a bounded number
// of times and turns the outcome into a booking error.
type Guard struct {
	store       Store
	maxAttempts int
	baseBackoff time.Duration
	log         zerolog.Logger
}

func NewGuard(store Store, cfg config.Booking, log zerolog.Logger) *Guard {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Guard{
		store:       store,
		maxAttempts: attempts,
		baseBackoff: cfg.BaseBackoff,
		log:         log,
	}
}

// Reserve inserts appt unless its range is taken. ErrDuplicateKey is returned
// as is so the caller can resolve the replay.
func (g *Guard) Reserve(ctx context.Context, appt *Appointment, ev Event) (*Appointment, error) {
	return g.retry(ctx, appt.FacilityID, func(ctx context.Context) (*Appointment, error) {
		return g.store.InsertIfNoOverlap(ctx, appt, ev)
	})
}

// Replace cancels oldID and books next as one write.
func (g *Guard) Replace(ctx context.Context, oldID uuid.UUID, expectedVersion int64, ch StatusChange, next *Appointment, cancelled, booked Event) (*Appointment, error) {
	return g.retry(ctx, next.FacilityID, func(ctx context.Context) (*Appointment, error) {
		return g.store.ReplaceIfNoOverlap(ctx, oldID, expectedVersion, ch, next, cancelled, booked)
	})
}

func (g *Guard) retry(ctx context.Context, facilityID uuid.UUID, op func(context.Context) (*Appointment, error)) (*Appointment, error) {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, timeoutError(err)
		}

		appt, err := op(ctx)
		switch {
		case err == nil:
			return appt, nil
		case errors.Is(err, ErrOverlap):
			return nil, &Error{Code: CodeSlotAlreadyBooked, Detail: "an overlapping appointment is already scheduled", Err: err}
		case errors.Is(err, ErrTransient):
			lastErr = err
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
			return nil, timeoutError(err)
		default:
			return nil, err
		}

		if attempt == g.maxAttempts {
			break
		}
		wait := g.backoff(attempt)
		g.log.Debug().
			Str("facility_id", facilityID.String()).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(lastErr).
			Msg("reservation aborted, retrying")
		if err := sleep(ctx, wait); err != nil {
			return nil, timeoutError(err)
		}
	}

	return nil, &Error{
		Code:   CodeSlotAlreadyBooked,
		Detail: fmt.Sprintf("gave up after %d attempts", g.maxAttempts),
		Err:    lastErr,
	}
}

// backoff doubles per attempt with up to 50% jitter either side.
func (g *Guard) backoff(attempt int) time.Duration {
	if g.baseBackoff <= 0 {
		return 0
	}
	d := g.baseBackoff << (attempt - 1)
	half := int64(d / 2)
	return time.Duration(half + rand.Int64N(int64(d)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func timeoutError(err error) *Error {
	return &Error{Code: CodeTimeout, Detail: "reservation did not complete in time", Err: err}
}
