package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/facility-booking/internal/schedule"
)

type AppointmentType string

const (
	TypeRoutine     AppointmentType = "routine"
	TypeUrgent      AppointmentType = "urgent"
	TypeFollowUp    AppointmentType = "follow_up"
	TypeVaccination AppointmentType = "vaccination"
	TypeBloodTest   AppointmentType = "blood_test"
	TypeOther       AppointmentType = "other"
)

var defaultMinutes = map[AppointmentType]int{
	TypeRoutine:     15,
	TypeUrgent:      15,
	TypeFollowUp:    15,
	TypeVaccination: 10,
	TypeBloodTest:   10,
	TypeOther:       15,
}

const (
	MinDurationMinutes = 5
	MaxDurationMinutes = 120
	maxReasonLength    = 500
	maxNotesLength     = 1000
	maxKeyLength       = 255
)

// ParseType accepts the wire form of an appointment type. An empty string is
// a routine appointment.
func ParseType(s string) (AppointmentType, bool) {
	if s == "" {
		return TypeRoutine, true
	}
	t := AppointmentType(s)
	_, ok := defaultMinutes[t]
	return t, ok
}

// DefaultMinutes is the duration booked when the caller does not pass one.
func (t AppointmentType) DefaultMinutes() int {
	return defaultMinutes[t]
}

type Appointment struct {
	ID                 uuid.UUID
	FacilityID         uuid.UUID
	PatientNumber      string
	Start              time.Time
	DurationMinutes    int
	Type               AppointmentType
	Reason             string
	Notes              string
	ContactEmail       string
	ContactPhone       string
	Status             Status
	Version            int64
	IdempotencyKey     string
	RescheduledFrom    *uuid.UUID
	CancelledAt        *time.Time
	CancelledBy        string
	CancellationReason string
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration())
}

func (a Appointment) Interval() schedule.Interval {
	return schedule.Interval{Start: a.Start, End: a.End()}
}

// Overlaps reports whether the half-open ranges of a and b intersect.
func (a Appointment) Overlaps(b Appointment) bool {
	return a.Start.Before(b.End()) && b.Start.Before(a.End())
}

// sameBooking reports whether two requests under one idempotency key describe
// the same reservation.
func (a Appointment) sameBooking(b Appointment) bool {
	return a.FacilityID == b.FacilityID &&
		a.PatientNumber == b.PatientNumber &&
		a.Start.Equal(b.Start) &&
		a.DurationMinutes == b.DurationMinutes &&
		a.Type == b.Type
}

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

// Event is an audit log row. Downstream notifiers consume these; they are
// written in the same atomic write as the change they describe.
type Event struct {
	ID            int64
	Type          string
	AppointmentID uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// StatusChange describes a move out of scheduled.
type StatusChange struct {
	To     Status
	At     time.Time
	Actor  string
	Reason string
}
