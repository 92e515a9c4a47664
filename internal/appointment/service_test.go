package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/facility-booking/internal/facility"
	"github.com/hackgods/facility-booking/internal/schedule"
	"github.com/hackgods/facility-booking/internal/validate"
)

var testFacilityID = uuid.MustParse("6f1c9c2e-8d7a-4f43-9a59-2b1f0f8e7a11")

const (
	patientA = "9434765919"
	patientB = "401 023 2137"
)

// Wednesday 14 October 2026, 09:10 UTC.
var testNow = time.Date(2026, 10, 14, 9, 10, 0, 0, time.UTC)

var testDate = schedule.Date{Year: 2026, Month: time.October, Day: 14}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testDirectory() *facility.Directory {
	weekday := "09:00-17:00"
	return facility.NewDirectory(facility.Facility{
		ID:             testFacilityID,
		Name:           "Riverside Surgery",
		Type:           facility.GPSurgery,
		TimeZone:       "UTC",
		SlotMinutes:    30,
		LeadTime:       2 * time.Hour,
		MaxAdvanceDays: 60,
		OpeningHours: map[string]string{
			"monday":    weekday,
			"tuesday":   weekday,
			"wednesday": weekday,
			"thursday":  weekday,
			"friday":    weekday,
			"saturday":  "Closed",
		},
	})
}

type fixture struct {
	store *MemoryStore
	clock *testClock
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), clock: &testClock{now: testNow}}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.svc = NewService(f.store, testDirectory(), fastBooking(), opts...)
	return f
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 10, 14, hour, minute, 0, 0, time.UTC)
}

func reserveAt(start time.Time) ReserveRequest {
	return ReserveRequest{
		FacilityID:    testFacilityID.String(),
		PatientNumber: patientA,
		Start:         start,
		Type:          "routine",
		Reason:        "annual review",
	}
}

func mustReserve(t *testing.T, svc *Service, req ReserveRequest) *Appointment {
	t.Helper()
	a, err := svc.Reserve(context.Background(), req)
	if err != nil {
		t.Fatalf("Reserve(%s): %v", req.Start.Format(time.RFC3339), err)
	}
	return a
}

func slotStarts(slots []schedule.Slot) map[time.Time]bool {
	out := make(map[time.Time]bool, len(slots))
	for _, s := range slots {
		out[s.Start] = true
	}
	return out
}

func TestReserve_LeadTimeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.svc.AvailableSlots(ctx, testFacilityID.String(), testDate)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(before) == 0 || !before[0].Start.Equal(at(11, 30)) {
		t.Fatalf("first bookable slot should be 11:30, got %+v", before)
	}

	// The next full slot after now is inside the 2h lead time.
	_, err = f.svc.Reserve(ctx, reserveAt(at(9, 30)))
	if !errors.Is(err, ErrOutsideBookingWindow) {
		t.Fatalf("expected OUTSIDE_BOOKING_WINDOW, got %v", err)
	}

	a := mustReserve(t, f.svc, reserveAt(at(11, 30)))
	if a.Status != StatusScheduled || a.Version != 1 {
		t.Errorf("new appointment should be scheduled at version 1, got %s v%d", a.Status, a.Version)
	}
	if a.DurationMinutes != 30 {
		t.Errorf("routine 15 minutes should snap to the 30 minute grid, got %d", a.DurationMinutes)
	}

	after, err := f.svc.AvailableSlots(ctx, testFacilityID.String(), testDate)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before)-1 {
		t.Errorf("expected exactly one slot to disappear, had %d now %d", len(before), len(after))
	}
	if slotStarts(after)[at(11, 30)] {
		t.Error("booked slot still offered")
	}
	if !slotStarts(after)[at(12, 0)] {
		t.Error("neighbouring slot should still be offered")
	}

	events, err := f.svc.Events(ctx, a.ID)
	if err != nil || len(events) != 1 || events[0].Type != EventAppointmentBooked {
		t.Errorf("expected one booked event, got %+v (%v)", events, err)
	}
}

func TestReserve_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReserveRequest)
		want   *Error
		reason validate.Reason
	}{
		{"facility id not a uuid", func(r *ReserveRequest) { r.FacilityID = "riverside" }, ErrInvalidIdentifier, validate.ReasonInvalidFormat},
		{"bad checksum", func(r *ReserveRequest) { r.PatientNumber = "1234567890" }, ErrInvalidIdentifier, validate.ReasonChecksumMismatch},
		{"short identifier", func(r *ReserveRequest) { r.PatientNumber = "94347659" }, ErrInvalidIdentifier, validate.ReasonWrongLength},
		{"unknown type", func(r *ReserveRequest) { r.Type = "surgery" }, ErrInvalidRequest, ""},
		{"duration too long", func(r *ReserveRequest) { r.DurationMinutes = 180 }, ErrInvalidRequest, ""},
		{"duration too short", func(r *ReserveRequest) { r.DurationMinutes = 2 }, ErrInvalidRequest, ""},
		{"missing start", func(r *ReserveRequest) { r.Start = time.Time{} }, ErrInvalidRequest, ""},
		{"reason too long", func(r *ReserveRequest) { r.Reason = strings.Repeat("x", 501) }, ErrInvalidRequest, ""},
		{"bad email", func(r *ReserveRequest) { r.ContactEmail = "not-an-email" }, ErrInvalidContact, validate.ReasonInvalidFormat},
		{"bad phone", func(r *ReserveRequest) { r.ContactPhone = "12345" }, ErrInvalidContact, validate.ReasonInvalidFormat},
		{"unknown facility", func(r *ReserveRequest) { r.FacilityID = uuid.NewString() }, ErrFacilityNotFound, ""},
		{"closed day", func(r *ReserveRequest) { r.Start = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC) }, ErrOutsideOperatingHours, ""},
		{"off grid", func(r *ReserveRequest) { r.Start = at(12, 10) }, ErrOutsideOperatingHours, ""},
		{"past closing", func(r *ReserveRequest) { r.Start = at(16, 30); r.DurationMinutes = 60 }, ErrOutsideOperatingHours, ""},
		{"before opening", func(r *ReserveRequest) { r.Start = time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC) }, ErrOutsideOperatingHours, ""},
		{"too far ahead", func(r *ReserveRequest) { r.Start = time.Date(2027, 1, 20, 10, 0, 0, 0, time.UTC) }, ErrOutsideBookingWindow, ""},
		{"in the past", func(r *ReserveRequest) { r.Start = time.Date(2026, 10, 13, 10, 0, 0, 0, time.UTC) }, ErrOutsideBookingWindow, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := reserveAt(at(12, 0))
			tt.mutate(&req)

			_, err := f.svc.Reserve(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %s, got %v", tt.want.Code, err)
			}
			var bookingErr *Error
			if errors.As(err, &bookingErr) && bookingErr.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", bookingErr.Reason, tt.reason)
			}
		})
	}
}

func TestReserve_NormalizesIdentifier(t *testing.T) {
	f := newFixture(t)
	req := reserveAt(at(12, 0))
	req.PatientNumber = patientB
	req.ContactEmail = "patient@example.org"
	req.ContactPhone = "07700 900123"

	a := mustReserve(t, f.svc, req)
	if a.PatientNumber != "4010232137" {
		t.Errorf("patient number stored as %q", a.PatientNumber)
	}
}

func TestReserve_ConcurrentSameSlot(t *testing.T) {
	const n = 50
	f := newFixture(t)

	var (
		wg        sync.WaitGroup
		gate      = make(chan struct{})
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := f.svc.Reserve(context.Background(), reserveAt(at(14, 0)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotAlreadyBooked):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	if successes != 1 || conflicts != n-1 || len(others) != 0 {
		t.Fatalf("successes=%d conflicts=%d others=%v", successes, conflicts, others)
	}
}

func TestReserve_ConcurrentOverlappingRanges(t *testing.T) {
	f := newFixture(t)

	requests := []ReserveRequest{reserveAt(at(13, 0)), reserveAt(at(13, 30)), reserveAt(at(13, 0))}
	requests[0].DurationMinutes = 60
	requests[2].DurationMinutes = 90

	var (
		wg        sync.WaitGroup
		gate      = make(chan struct{})
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 30; i++ {
		req := requests[i%len(requests)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			if _, err := f.svc.Reserve(context.Background(), req); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrSlotAlreadyBooked) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("overlapping ranges: %d bookings succeeded", successes)
	}
}

func TestReserve_Timeout(t *testing.T) {
	f := newFixture(t)
	f.svc.guard.baseBackoff = time.Hour
	f.store.FailNext(100)

	req := reserveAt(at(12, 0))
	req.Timeout = 20 * time.Millisecond
	_, err := f.svc.Reserve(context.Background(), req)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}

	// Nothing was written, so a retry with the same request books the slot.
	f.store.FailNext(0)
	req.Timeout = 0
	mustReserve(t, f.svc, req)
}

// blockingKeyStore stalls idempotency lookups until the caller gives up.
type blockingKeyStore struct {
	*MemoryStore
}

func (s blockingKeyStore) GetByIdempotencyKey(ctx context.Context, _ uuid.UUID, _ string) (*Appointment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestReserve_TimeoutDuringReplay(t *testing.T) {
	clock := &testClock{now: testNow}
	svc := NewService(blockingKeyStore{NewMemoryStore()}, testDirectory(), fastBooking(), WithClock(clock.Now))

	req := reserveAt(at(12, 0))
	req.IdempotencyKey = "booking-slow"
	req.Timeout = 20 * time.Millisecond
	_, err := svc.Reserve(context.Background(), req)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline as cause, got %v", err)
	}
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]uuid.UUID
	fail    bool
}

func (c *mapCache) Lookup(_ context.Context, facilityID uuid.UUID, key string) (uuid.UUID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return uuid.Nil, false, errors.New("cache down")
	}
	id, ok := c.entries[facilityID.String()+key]
	return id, ok, nil
}

func (c *mapCache) Remember(_ context.Context, facilityID uuid.UUID, key string, id uuid.UUID, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("cache down")
	}
	c.entries[facilityID.String()+key] = id
	return nil
}

func (c *mapCache) Forget(_ context.Context, facilityID uuid.UUID, key string, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[facilityID.String()+key] == id {
		delete(c.entries, facilityID.String()+key)
	}
	return nil
}

func TestReserve_StaleCacheEntry(t *testing.T) {
	req := reserveAt(at(15, 0))
	req.IdempotencyKey = "booking-stale"
	ghost := uuid.New()
	cache := &mapCache{entries: map[string]uuid.UUID{testFacilityID.String() + req.IdempotencyKey: ghost}}
	f := newFixture(t, WithIdempotencyCache(cache))

	a := mustReserve(t, f.svc, req)
	if a.ID == ghost {
		t.Fatal("booked the id of a missing appointment")
	}
	if got := cache.entries[testFacilityID.String()+req.IdempotencyKey]; got != a.ID {
		t.Errorf("cache should point at the new booking, got %s", got)
	}
}

func TestReserve_Idempotency(t *testing.T) {
	for _, tc := range []struct {
		name  string
		cache *mapCache
	}{
		{"store only", nil},
		{"with cache", &mapCache{entries: map[string]uuid.UUID{}}},
		{"cache failing", &mapCache{entries: map[string]uuid.UUID{}, fail: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var opts []Option
			if tc.cache != nil {
				opts = append(opts, WithIdempotencyCache(tc.cache))
			}
			f := newFixture(t, opts...)

			req := reserveAt(at(15, 0))
			req.IdempotencyKey = "booking-7f3a"
			first := mustReserve(t, f.svc, req)

			// Replays return the original even once the slot is inside the lead time.
			f.clock.Advance(4 * time.Hour)
			again := mustReserve(t, f.svc, req)
			if again.ID != first.ID {
				t.Errorf("replay returned %s, want %s", again.ID, first.ID)
			}

			req.Start = at(16, 0)
			if _, err := f.svc.Reserve(context.Background(), req); !errors.Is(err, ErrIdempotencyKeyReused) {
				t.Errorf("expected IDEMPOTENCY_KEY_REUSED, got %v", err)
			}

			list, _ := f.store.ListByFacility(context.Background(), testFacilityID, at(0, 0), at(23, 59))
			if len(list) != 1 {
				t.Errorf("replays must not create rows, found %d", len(list))
			}
		})
	}
}

func TestTransition_FromScheduled(t *testing.T) {
	for _, to := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		t.Run(string(to), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := mustReserve(t, f.svc, reserveAt(at(12, 0)))

			if _, err := f.svc.Transition(ctx, a.ID, to, a.Version+1, TransitionInput{Actor: "reception"}); !errors.Is(err, ErrStaleWrite) {
				t.Fatalf("expected STALE_WRITE for a wrong version, got %v", err)
			}

			updated, err := f.svc.Transition(ctx, a.ID, to, a.Version, TransitionInput{Actor: "reception", Reason: "patient called"})
			if err != nil {
				t.Fatalf("Transition: %v", err)
			}
			if updated.Status != to || updated.Version != a.Version+1 {
				t.Errorf("got %s v%d", updated.Status, updated.Version)
			}
			if to == StatusCancelled && (updated.CancelledAt == nil || updated.CancelledBy != "reception" || updated.CancellationReason != "patient called") {
				t.Errorf("cancellation metadata missing: %+v", updated)
			}

			events, _ := f.svc.Events(ctx, a.ID)
			if len(events) != 2 || events[1].Type != to.eventType() {
				t.Errorf("expected booked + %s events, got %+v", to.eventType(), events)
			}
		})
	}
}

func TestTransition_FromTerminal(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		for _, to := range allStatuses {
			t.Run(string(terminal)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				ctx := context.Background()
				a := mustReserve(t, f.svc, reserveAt(at(12, 0)))
				done, err := f.svc.Transition(ctx, a.ID, terminal, a.Version, TransitionInput{})
				if err != nil {
					t.Fatal(err)
				}

				// Correct and stale versions both report the illegal move.
				for _, v := range []int64{done.Version, a.Version} {
					if _, err := f.svc.Transition(ctx, a.ID, to, v, TransitionInput{}); !errors.Is(err, ErrInvalidTransition) {
						t.Errorf("version %d: expected INVALID_TRANSITION, got %v", v, err)
					}
				}
			})
		}
	}
}

func TestTransition_ConcurrentWriters(t *testing.T) {
	f := newFixture(t)
	a := mustReserve(t, f.svc, reserveAt(at(12, 0)))

	var (
		wg        sync.WaitGroup
		gate      = make(chan struct{})
		mu        sync.Mutex
		successes int
	)
	targets := []Status{StatusCompleted, StatusCancelled, StatusNoShow}
	for i := 0; i < 12; i++ {
		to := targets[i%len(targets)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := f.svc.Transition(context.Background(), a.ID, to, a.Version, TransitionInput{})
			switch {
			case err == nil:
				mu.Lock()
				successes++
				mu.Unlock()
			case errors.Is(err, ErrStaleWrite), errors.Is(err, ErrInvalidTransition):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected a single winning transition, got %d", successes)
	}
	final, _ := f.svc.Get(context.Background(), a.ID)
	if final.Version != 2 {
		t.Errorf("version should be bumped once, got %d", final.Version)
	}
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Transition(context.Background(), uuid.New(), StatusCancelled, 1, TransitionInput{}); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected APPOINTMENT_NOT_FOUND, got %v", err)
	}
}

func TestCancel_ReopensSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := mustReserve(t, f.svc, reserveAt(at(12, 0)))

	slots, _ := f.svc.AvailableSlots(ctx, testFacilityID.String(), testDate)
	if slotStarts(slots)[at(12, 0)] {
		t.Fatal("booked slot offered before cancellation")
	}

	if _, err := f.svc.Transition(ctx, a.ID, StatusCancelled, a.Version, TransitionInput{Actor: "patient"}); err != nil {
		t.Fatal(err)
	}
	slots, _ = f.svc.AvailableSlots(ctx, testFacilityID.String(), testDate)
	if !slotStarts(slots)[at(12, 0)] {
		t.Error("cancelled slot should be available again")
	}

	req := reserveAt(at(12, 0))
	req.PatientNumber = patientB
	mustReserve(t, f.svc, req)
}

func TestReschedule(t *testing.T) {
	ctx := context.Background()

	t.Run("moves the booking", func(t *testing.T) {
		f := newFixture(t)
		a := mustReserve(t, f.svc, reserveAt(at(12, 0)))

		moved, err := f.svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(14, 0), ExpectedVersion: a.Version, Actor: "patient"})
		if err != nil {
			t.Fatalf("Reschedule: %v", err)
		}
		if moved.ID == a.ID || moved.RescheduledFrom == nil || *moved.RescheduledFrom != a.ID {
			t.Errorf("new appointment should point at the old one: %+v", moved)
		}

		old, _ := f.svc.Get(ctx, a.ID)
		if old.Status != StatusCancelled || old.Version != 2 {
			t.Errorf("old appointment should be cancelled at v2, got %s v%d", old.Status, old.Version)
		}

		slots, _ := f.svc.AvailableSlots(ctx, testFacilityID.String(), testDate)
		starts := slotStarts(slots)
		if !starts[at(12, 0)] || starts[at(14, 0)] {
			t.Errorf("availability not updated: 12:00=%v 14:00=%v", starts[at(12, 0)], starts[at(14, 0)])
		}

		events, _ := f.svc.Events(ctx, a.ID)
		if len(events) != 2 || events[1].Type != EventAppointmentRescheduled {
			t.Errorf("old appointment events: %+v", events)
		}
	})

	t.Run("snaps to the current granularity", func(t *testing.T) {
		dir := testDirectory()
		fac, err := dir.Get(ctx, testFacilityID)
		if err != nil {
			t.Fatal(err)
		}
		fac.SlotMinutes = 15
		dir.Put(*fac)
		clock := &testClock{now: testNow}
		svc := NewService(NewMemoryStore(), dir, fastBooking(), WithClock(clock.Now))

		req := reserveAt(at(12, 0))
		req.DurationMinutes = 15
		a := mustReserve(t, svc, req)
		if a.DurationMinutes != 15 {
			t.Fatalf("booked %d minutes, want 15", a.DurationMinutes)
		}

		fac.SlotMinutes = 30
		dir.Put(*fac)
		moved, err := svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(14, 0), ExpectedVersion: a.Version})
		if err != nil {
			t.Fatalf("Reschedule: %v", err)
		}
		if moved.DurationMinutes != 30 || !moved.End().Equal(at(14, 30)) {
			t.Errorf("rescheduled booking runs %d minutes to %s, want 30 to 14:30", moved.DurationMinutes, moved.End())
		}
	})

	t.Run("overlapping itself", func(t *testing.T) {
		f := newFixture(t)
		req := reserveAt(at(12, 0))
		req.DurationMinutes = 60
		a := mustReserve(t, f.svc, req)

		if _, err := f.svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(12, 30), ExpectedVersion: a.Version}); err != nil {
			t.Fatalf("shifting within its own range should succeed: %v", err)
		}
	})

	t.Run("target taken", func(t *testing.T) {
		f := newFixture(t)
		a := mustReserve(t, f.svc, reserveAt(at(12, 0)))
		other := reserveAt(at(14, 0))
		other.PatientNumber = patientB
		mustReserve(t, f.svc, other)

		_, err := f.svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(14, 0), ExpectedVersion: a.Version})
		if !errors.Is(err, ErrSlotAlreadyBooked) {
			t.Fatalf("expected SLOT_ALREADY_BOOKED, got %v", err)
		}
		still, _ := f.svc.Get(ctx, a.ID)
		if still.Status != StatusScheduled || still.Version != a.Version {
			t.Errorf("failed reschedule must leave the original untouched: %s v%d", still.Status, still.Version)
		}
	})

	t.Run("stale version", func(t *testing.T) {
		f := newFixture(t)
		a := mustReserve(t, f.svc, reserveAt(at(12, 0)))
		if _, err := f.svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(14, 0), ExpectedVersion: 7}); !errors.Is(err, ErrStaleWrite) {
			t.Errorf("expected STALE_WRITE, got %v", err)
		}
	})

	t.Run("outside hours", func(t *testing.T) {
		f := newFixture(t)
		a := mustReserve(t, f.svc, reserveAt(at(12, 0)))
		if _, err := f.svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(17, 0), ExpectedVersion: a.Version}); !errors.Is(err, ErrOutsideOperatingHours) {
			t.Errorf("expected OUTSIDE_OPERATING_HOURS, got %v", err)
		}
	})
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, h := range []int{12, 13, 14} {
		mustReserve(t, f.svc, reserveAt(at(h, 0)))
	}
	other := reserveAt(at(15, 0))
	other.PatientNumber = patientB
	mustReserve(t, f.svc, other)

	page, err := f.svc.ListByPatient(ctx, patientA, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || !page[0].Start.Equal(at(14, 0)) {
		t.Errorf("first page should hold the two latest, got %+v", page)
	}
	rest, _ := f.svc.ListByPatient(ctx, patientA, 2, 2)
	if len(rest) != 1 || !rest[0].Start.Equal(at(12, 0)) {
		t.Errorf("second page = %+v", rest)
	}

	if _, err := f.svc.ListByPatient(ctx, "1234567890", 0, 0); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("expected INVALID_IDENTIFIER, got %v", err)
	}

	day, err := f.svc.ListByFacilityDay(ctx, testFacilityID.String(), testDate)
	if err != nil || len(day) != 4 {
		t.Errorf("facility day = %d appointments (%v)", len(day), err)
	}
	next, _ := f.svc.ListByFacilityDay(ctx, testFacilityID.String(), testDate.AddDays(1))
	if len(next) != 0 {
		t.Errorf("next day should be empty, got %d", len(next))
	}
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := mustReserve(t, f.svc, reserveAt(at(11, 30)))
	late := mustReserve(t, f.svc, reserveAt(at(15, 0)))
	done := mustReserve(t, f.svc, reserveAt(at(12, 0)))
	if _, err := f.svc.Transition(ctx, done.ID, StatusCompleted, done.Version, TransitionInput{}); err != nil {
		t.Fatal(err)
	}

	// 12:00 ended at 12:30; with 30 minutes grace only 11:30 has lapsed at 12:45.
	f.clock.now = at(12, 45)
	n, err := f.svc.SweepNoShows(ctx, 30*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("SweepNoShows = %d, %v", n, err)
	}

	got, _ := f.svc.Get(ctx, early.ID)
	if got.Status != StatusNoShow {
		t.Errorf("11:30 should be a no-show, got %s", got.Status)
	}
	if got, _ := f.svc.Get(ctx, late.ID); got.Status != StatusScheduled {
		t.Errorf("15:00 should still be scheduled, got %s", got.Status)
	}
	if got, _ := f.svc.Get(ctx, done.ID); got.Status != StatusCompleted {
		t.Errorf("completed appointment touched: %s", got.Status)
	}

	n, _ = f.svc.SweepNoShows(ctx, 30*time.Minute)
	if n != 0 {
		t.Errorf("second sweep marked %d", n)
	}
}
