package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store kept in process memory. Every write runs under one
// mutex, which makes it a shared backing store for tests and single-process
// tools. It gives no guarantee across processes; use PgStore for that.
type MemoryStore struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	byKey        map[idempotencyKey]uuid.UUID
	events       []Event
	nextEventID  int64
	failWrites   int
}

type idempotencyKey struct {
	facility uuid.UUID
	key      string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments: make(map[uuid.UUID]*Appointment),
		byKey:        make(map[idempotencyKey]uuid.UUID),
	}
}

// FailNext makes the next n writes fail with ErrTransient, the way a
// serialization failure would.
func (m *MemoryStore) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = n
}

func (m *MemoryStore) injectFault() bool {
	if m.failWrites > 0 {
		m.failWrites--
		return true
	}
	return false
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetByIdempotencyKey(_ context.Context, facilityID uuid.UUID, key string) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[idempotencyKey{facilityID, key}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.appointments[id]
	return &cp, nil
}

func (m *MemoryStore) ListActive(_ context.Context, facilityID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a *Appointment) bool {
		return a.FacilityID == facilityID && a.Status.Active() &&
			a.Start.Before(to) && from.Before(a.End())
	}), nil
}

func (m *MemoryStore) ListByPatient(_ context.Context, patientNumber string, limit, offset int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.filter(func(a *Appointment) bool { return a.PatientNumber == patientNumber })
	// Newest first, matching the Postgres ordering.
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.After(all[j].Start) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) ListByFacility(_ context.Context, facilityID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(a *Appointment) bool {
		return a.FacilityID == facilityID && !a.Start.Before(from) && a.Start.Before(to)
	}), nil
}

func (m *MemoryStore) ListScheduledEndingBefore(_ context.Context, t time.Time, limit int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filter(func(a *Appointment) bool { return a.Status.Active() && a.End().Before(t) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, appointmentID uuid.UUID) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, ev := range m.events {
		if ev.AppointmentID == appointmentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertIfNoOverlap(_ context.Context, appt *Appointment, ev Event) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.injectFault() {
		return nil, ErrTransient
	}
	if err := m.checkInsert(appt, uuid.Nil); err != nil {
		return nil, err
	}
	return m.insert(appt, ev), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, expectedVersion int64, ch StatusChange, ev Event) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.injectFault() {
		return nil, ErrTransient
	}
	a, err := m.conditional(id, expectedVersion)
	if err != nil {
		return nil, err
	}
	m.apply(a, ch)
	m.appendEvent(ev, a.ID, ch.At)

	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ReplaceIfNoOverlap(_ context.Context, oldID uuid.UUID, expectedVersion int64, ch StatusChange, next *Appointment, cancelled, booked Event) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.injectFault() {
		return nil, ErrTransient
	}
	old, err := m.conditional(oldID, expectedVersion)
	if err != nil {
		return nil, err
	}
	if err := m.checkInsert(next, oldID); err != nil {
		return nil, err
	}

	m.apply(old, ch)
	m.appendEvent(cancelled, old.ID, ch.At)
	return m.insert(next, booked), nil
}

// checkInsert runs the overlap and idempotency checks, ignoring skip.
func (m *MemoryStore) checkInsert(appt *Appointment, skip uuid.UUID) error {
	if appt.IdempotencyKey != "" {
		if _, taken := m.byKey[idempotencyKey{appt.FacilityID, appt.IdempotencyKey}]; taken {
			return ErrDuplicateKey
		}
	}
	for id, other := range m.appointments {
		if id == skip || other.FacilityID != appt.FacilityID || !other.Status.Active() {
			continue
		}
		if other.Overlaps(*appt) {
			return ErrOverlap
		}
	}
	return nil
}

func (m *MemoryStore) conditional(id uuid.UUID, expectedVersion int64) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Version != expectedVersion || !a.Status.Active() {
		return nil, ErrVersionMismatch
	}
	return a, nil
}

func (m *MemoryStore) insert(appt *Appointment, ev Event) *Appointment {
	stored := *appt
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	m.appointments[stored.ID] = &stored
	if stored.IdempotencyKey != "" {
		m.byKey[idempotencyKey{stored.FacilityID, stored.IdempotencyKey}] = stored.ID
	}
	m.appendEvent(ev, stored.ID, stored.CreatedAt)

	cp := stored
	return &cp
}

func (m *MemoryStore) apply(a *Appointment, ch StatusChange) {
	a.Status = ch.To
	a.Version++
	a.UpdatedAt = ch.At
	if ch.To == StatusCancelled {
		at := ch.At
		a.CancelledAt = &at
		a.CancelledBy = ch.Actor
		a.CancellationReason = ch.Reason
	}
}

func (m *MemoryStore) appendEvent(ev Event, id uuid.UUID, at time.Time) {
	m.nextEventID++
	ev.ID = m.nextEventID
	ev.AppointmentID = id
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = at
	}
	m.events = append(m.events, ev)
}

func (m *MemoryStore) filter(keep func(*Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range m.appointments {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
