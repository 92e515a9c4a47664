package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/config"
	"github.com/hackgods/facility-booking/internal/facility"
	"github.com/hackgods/facility-booking/internal/schedule"
	"github.com/hackgods/facility-booking/internal/validate"
)

// FacilityDirectory supplies a facility's booking configuration.
type FacilityDirectory interface {
	OperatingHours(ctx context.Context, id uuid.UUID) (schedule.OperatingHours, error)
}

// IdempotencyCache is an advisory lookup in front of the store's idempotency
// index. A miss or an error falls through to the store.
type IdempotencyCache interface {
	Lookup(ctx context.Context, facilityID uuid.UUID, key string) (uuid.UUID, bool, error)
	Remember(ctx context.Context, facilityID uuid.UUID, key string, appointmentID uuid.UUID, ttl time.Duration) error
	Forget(ctx context.Context, facilityID uuid.UUID, key string, appointmentID uuid.UUID) error
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
	sweepBatchSize  = 500
	systemActor     = "system"
)

type Service struct {
	store      Store
	facilities FacilityDirectory
	guard      *Guard
	cache      IdempotencyCache
	cfg        config.Booking
	now        func() time.Time
	log        zerolog.Logger
}

type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithIdempotencyCache(c IdempotencyCache) Option {
	return func(s *Service) { s.cache = c }
}

func NewService(store Store, facilities FacilityDirectory, cfg config.Booking, opts ...Option) *Service {
	s := &Service{
		store:      store,
		facilities: facilities,
		cfg:        cfg,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.guard = NewGuard(store, cfg, s.log)
	return s
}

// ReserveRequest is the input of Reserve. DurationMinutes of zero books the
// type's default duration.
type ReserveRequest struct {
	FacilityID      string
	PatientNumber   string
	Start           time.Time
	DurationMinutes int
	Type            string
	Reason          string
	Notes           string
	ContactEmail    string
	ContactPhone    string
	IdempotencyKey  string
	CreatedBy       string
	Timeout         time.Duration
}

// TransitionInput carries who moved the appointment and why.
type TransitionInput struct {
	Actor  string
	Reason string
}

type RescheduleRequest struct {
	Start           time.Time
	ExpectedVersion int64
	Actor           string
	Timeout         time.Duration
}

// AvailableSlots returns the free slots of a facility on a local date. The
// answer is a snapshot; only Reserve guarantees a slot.
func (s *Service) AvailableSlots(ctx context.Context, facilityID string, date schedule.Date) ([]schedule.Slot, error) {
	id, err := parseFacilityID(facilityID)
	if err != nil {
		return nil, err
	}
	h, err := s.hours(ctx, id)
	if err != nil {
		return nil, err
	}

	from, to := h.DayWindow(date)
	active, err := s.store.ListActive(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}

	busy := make([]schedule.Interval, 0, len(active))
	for _, a := range active {
		busy = append(busy, a.Interval())
	}
	return schedule.Available(h, date, s.now(), busy), nil
}

// Reserve books an appointment. It validates the request, checks the facility
// hours and booking window, then hands the write to the Guard.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	candidate, err := s.buildCandidate(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.ReserveTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	h, err := s.hours(ctx, candidate.FacilityID)
	if err != nil {
		return nil, err
	}
	dur := schedule.SnapDuration(candidate.Duration(), h.Granularity)
	candidate.DurationMinutes = int(dur / time.Minute)

	if candidate.IdempotencyKey != "" {
		existing, err := s.replay(ctx, candidate)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	if err := s.checkBookable(h, candidate.Start, dur); err != nil {
		return nil, err
	}

	ev := Event{
		Type: EventAppointmentBooked,
		Payload: s.payload(map[string]any{
			"facility_id":      candidate.FacilityID.String(),
			"start":            candidate.Start,
			"duration_minutes": candidate.DurationMinutes,
			"type":             candidate.Type,
			"created_by":       candidate.CreatedBy,
		}),
	}

	created, err := s.guard.Reserve(ctx, candidate, ev)
	if errors.Is(err, ErrDuplicateKey) {
		// Lost a race against a request with the same key.
		existing, replayErr := s.replay(ctx, candidate)
		if replayErr == nil && existing == nil {
			replayErr = fmt.Errorf("reserve appointment: %w", err)
		}
		return existing, replayErr
	}
	if errors.Is(err, facility.ErrFacilityNotFound) {
		return nil, &Error{Code: CodeFacilityNotFound, Detail: "facility " + candidate.FacilityID.String(), Err: err}
	}
	if err != nil {
		var bookingErr *Error
		if errors.As(err, &bookingErr) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("facility_id", created.FacilityID.String()).
		Time("start", created.Start).
		Msg("appointment booked")

	if created.IdempotencyKey != "" {
		s.remember(ctx, created)
	}
	return created, nil
}

func (s *Service) buildCandidate(req ReserveRequest) (*Appointment, error) {
	facilityID, err := parseFacilityID(req.FacilityID)
	if err != nil {
		return nil, err
	}
	if r := validate.PatientIdentifier(req.PatientNumber); !r.Valid {
		return nil, invalidField(CodeInvalidIdentifier, "patient_number", r.Reason)
	}

	typ, ok := ParseType(req.Type)
	if !ok {
		return nil, newError(CodeInvalidRequest, "unknown appointment type %q", req.Type)
	}
	minutes := req.DurationMinutes
	if minutes == 0 {
		minutes = typ.DefaultMinutes()
	}
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return nil, newError(CodeInvalidRequest, "duration must be between %d and %d minutes", MinDurationMinutes, MaxDurationMinutes)
	}
	if req.Start.IsZero() {
		return nil, newError(CodeInvalidRequest, "start is required")
	}
	if len(req.Reason) > maxReasonLength {
		return nil, newError(CodeInvalidRequest, "reason exceeds %d characters", maxReasonLength)
	}
	if len(req.Notes) > maxNotesLength {
		return nil, newError(CodeInvalidRequest, "notes exceed %d characters", maxNotesLength)
	}
	if len(req.IdempotencyKey) > maxKeyLength {
		return nil, newError(CodeInvalidRequest, "idempotency key exceeds %d characters", maxKeyLength)
	}
	if req.ContactEmail != "" {
		if r := validate.Email(req.ContactEmail); !r.Valid {
			return nil, invalidField(CodeInvalidContact, "contact_email", r.Reason)
		}
	}
	if req.ContactPhone != "" {
		if r := validate.PhoneNumber(req.ContactPhone); !r.Valid {
			return nil, invalidField(CodeInvalidContact, "contact_phone", r.Reason)
		}
	}

	now := s.now().UTC()
	return &Appointment{
		ID:              uuid.New(),
		FacilityID:      facilityID,
		PatientNumber:   validate.NormalizePatientIdentifier(req.PatientNumber),
		Start:           req.Start.UTC(),
		DurationMinutes: minutes,
		Type:            typ,
		Reason:          req.Reason,
		Notes:           req.Notes,
		ContactEmail:    req.ContactEmail,
		ContactPhone:    req.ContactPhone,
		Status:          StatusScheduled,
		Version:         1,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// checkBookable applies the booking window before the opening hours, so a
// slot that is simply too close reports the window.
func (s *Service) checkBookable(h schedule.OperatingHours, start time.Time, dur time.Duration) error {
	switch h.CheckWindow(s.now(), start) {
	case schedule.TooSoon:
		return newError(CodeOutsideBookingWindow, "start must be at least %s from now", h.MinLeadTime)
	case schedule.TooFar:
		return newError(CodeOutsideBookingWindow, "start is more than %d days ahead", h.MaxAdvanceDays)
	}
	if !h.Fits(start, dur) {
		return newError(CodeOutsideOperatingHours, "%s for %s is not a bookable slot", start.Format(time.RFC3339), dur)
	}
	return nil
}

// replay resolves a request whose idempotency key may already be stored. It
// returns nil, nil when the key is unused.
func (s *Service) replay(ctx context.Context, candidate *Appointment) (*Appointment, error) {
	if s.cache != nil {
		id, ok, err := s.cache.Lookup(ctx, candidate.FacilityID, candidate.IdempotencyKey)
		if err != nil {
			s.log.Warn().Err(err).Msg("idempotency cache lookup failed")
		} else if ok {
			existing, err := s.store.Get(ctx, id)
			if err == nil {
				return matchReplay(existing, candidate)
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, lookupError(ctx, "load replayed appointment", err)
			}
			// The entry outlived its row, e.g. after a database restore.
			if err := s.cache.Forget(ctx, candidate.FacilityID, candidate.IdempotencyKey, id); err != nil {
				s.log.Warn().Err(err).Msg("idempotency cache cleanup failed")
			}
		}
	}

	existing, err := s.store.GetByIdempotencyKey(ctx, candidate.FacilityID, candidate.IdempotencyKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, lookupError(ctx, "load appointment by idempotency key", err)
	}
	s.remember(ctx, existing)
	return matchReplay(existing, candidate)
}

// lookupError reports a failed read as TIMEOUT once the reservation deadline
// has passed.
func lookupError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return timeoutError(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func matchReplay(existing, candidate *Appointment) (*Appointment, error) {
	if !existing.sameBooking(*candidate) {
		return nil, newError(CodeIdempotencyKeyReused, "key %q was used for a different booking", candidate.IdempotencyKey)
	}
	return existing, nil
}

func (s *Service) remember(ctx context.Context, a *Appointment) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remember(ctx, a.FacilityID, a.IdempotencyKey, a.ID, s.cfg.IdempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("idempotency cache write failed")
	}
}

// Transition moves a scheduled appointment to a terminal state. Legality is
// checked before the version, so a terminal appointment always reports
// INVALID_TRANSITION.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, expectedVersion int64, in TransitionInput) (*Appointment, error) {
	if len(in.Reason) > maxReasonLength {
		return nil, newError(CodeInvalidRequest, "reason exceeds %d characters", maxReasonLength)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(current, to, expectedVersion); err != nil {
		return nil, err
	}

	ch := StatusChange{To: to, At: s.now().UTC(), Actor: in.Actor, Reason: in.Reason}
	ev := Event{
		Type: to.eventType(),
		Payload: s.payload(map[string]any{
			"from":    current.Status,
			"to":      to,
			"actor":   in.Actor,
			"reason":  in.Reason,
			"version": expectedVersion + 1,
		}),
	}

	updated, err := s.store.UpdateStatus(ctx, id, expectedVersion, ch, ev)
	if err != nil {
		return nil, s.lostWrite(ctx, id, to, expectedVersion, err)
	}
	return updated, nil
}

func checkTransition(current *Appointment, to Status, expectedVersion int64) error {
	if !current.Status.CanTransitionTo(to) {
		return newError(CodeInvalidTransition, "cannot move from %s to %s", current.Status, to)
	}
	if current.Version != expectedVersion {
		return newError(CodeStaleWrite, "expected version %d, found %d", expectedVersion, current.Version)
	}
	return nil
}

// lostWrite explains a conditional write that matched no row by re-reading
// the appointment.
func (s *Service) lostWrite(ctx context.Context, id uuid.UUID, to Status, expectedVersion int64, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return newError(CodeAppointmentNotFound, "appointment %s", id)
	case errors.Is(err, ErrTransient):
		return &Error{Code: CodeStaleWrite, Detail: "concurrent update, re-read and retry", Err: err}
	case !errors.Is(err, ErrVersionMismatch):
		var bookingErr *Error
		if errors.As(err, &bookingErr) {
			return err
		}
		return fmt.Errorf("update appointment status: %w", err)
	}

	latest, getErr := s.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	if checkErr := checkTransition(latest, to, expectedVersion); checkErr != nil {
		return checkErr
	}
	return &Error{Code: CodeStaleWrite, Detail: "appointment changed during the write", Err: err}
}

// Reschedule cancels the appointment and books the same patient at start in
// one atomic write. The returned appointment is the new booking.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if req.Start.IsZero() {
		return nil, newError(CodeInvalidRequest, "start is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.ReserveTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(current, StatusCancelled, req.ExpectedVersion); err != nil {
		return nil, err
	}

	h, err := s.hours(ctx, current.FacilityID)
	if err != nil {
		return nil, err
	}
	start := req.Start.UTC()
	// The facility's granularity may have changed since the original booking.
	dur := schedule.SnapDuration(current.Duration(), h.Granularity)
	if err := s.checkBookable(h, start, dur); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	oldID := current.ID
	next := &Appointment{
		ID:              uuid.New(),
		FacilityID:      current.FacilityID,
		PatientNumber:   current.PatientNumber,
		Start:           start,
		DurationMinutes: int(dur / time.Minute),
		Type:            current.Type,
		Reason:          current.Reason,
		Notes:           current.Notes,
		ContactEmail:    current.ContactEmail,
		ContactPhone:    current.ContactPhone,
		Status:          StatusScheduled,
		Version:         1,
		RescheduledFrom: &oldID,
		CreatedBy:       req.Actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ch := StatusChange{To: StatusCancelled, At: now, Actor: req.Actor, Reason: "rescheduled"}
	cancelled := Event{
		Type: EventAppointmentRescheduled,
		Payload: s.payload(map[string]any{
			"rescheduled_to": next.ID.String(),
			"from_start":     current.Start,
			"to_start":       next.Start,
			"actor":          req.Actor,
		}),
	}
	booked := Event{
		Type: EventAppointmentBooked,
		Payload: s.payload(map[string]any{
			"facility_id":      next.FacilityID.String(),
			"start":            next.Start,
			"duration_minutes": next.DurationMinutes,
			"rescheduled_from": oldID.String(),
		}),
	}

	created, err := s.guard.Replace(ctx, oldID, req.ExpectedVersion, ch, next, cancelled, booked)
	if err != nil {
		var bookingErr *Error
		if errors.As(err, &bookingErr) {
			return nil, err
		}
		return nil, s.lostWrite(ctx, oldID, StatusCancelled, req.ExpectedVersion, err)
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("rescheduled_from", oldID.String()).
		Time("start", created.Start).
		Msg("appointment rescheduled")
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(CodeAppointmentNotFound, "appointment %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// ListByPatient pages a patient's appointments, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientNumber string, limit, offset int) ([]Appointment, error) {
	if r := validate.PatientIdentifier(patientNumber); !r.Valid {
		return nil, invalidField(CodeInvalidIdentifier, "patient_number", r.Reason)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.store.ListByPatient(ctx, validate.NormalizePatientIdentifier(patientNumber), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListByFacilityDay lists every appointment of any status starting on the
// facility-local date.
func (s *Service) ListByFacilityDay(ctx context.Context, facilityID string, date schedule.Date) ([]Appointment, error) {
	id, err := parseFacilityID(facilityID)
	if err != nil {
		return nil, err
	}
	h, err := s.hours(ctx, id)
	if err != nil {
		return nil, err
	}
	from, to := h.DayWindow(date)
	appointments, err := s.store.ListByFacility(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by facility: %w", err)
	}
	return appointments, nil
}

func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// SweepNoShows marks scheduled appointments that ended more than grace ago as
// no_show. Appointments changed concurrently are skipped.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	lapsed, err := s.store.ListScheduledEndingBefore(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find lapsed appointments: %w", err)
	}

	marked := 0
	for _, a := range lapsed {
		_, err := s.Transition(ctx, a.ID, StatusNoShow, a.Version, TransitionInput{Actor: systemActor, Reason: "not attended"})
		switch {
		case err == nil:
			marked++
		case errors.Is(err, ErrStaleWrite), errors.Is(err, ErrInvalidTransition):
			s.log.Debug().Str("appointment_id", a.ID.String()).Err(err).Msg("skipping appointment changed during sweep")
		default:
			s.log.Error().Str("appointment_id", a.ID.String()).Err(err).Msg("failed to mark no-show")
		}
	}
	return marked, nil
}

func (s *Service) hours(ctx context.Context, id uuid.UUID) (schedule.OperatingHours, error) {
	h, err := s.facilities.OperatingHours(ctx, id)
	if errors.Is(err, facility.ErrFacilityNotFound) {
		return schedule.OperatingHours{}, newError(CodeFacilityNotFound, "facility %s", id)
	}
	if err != nil {
		if ctx.Err() != nil {
			return schedule.OperatingHours{}, timeoutError(err)
		}
		return schedule.OperatingHours{}, fmt.Errorf("load facility hours: %w", err)
	}
	return h, nil
}

func (s *Service) payload(fields map[string]any) []byte {
	data, err := json.Marshal(fields)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal event payload")
		return nil
	}
	return data
}

func parseFacilityID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, invalidField(CodeInvalidIdentifier, "facility_id", validate.ReasonInvalidFormat)
	}
	return id, nil
}
