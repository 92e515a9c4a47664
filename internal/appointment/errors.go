package appointment

import (
	"fmt"

	"github.com/hackgods/facility-booking/internal/validate"
)

// Kind groups error codes by how a caller recovers from them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAvailability
	KindConcurrency
	KindState
	KindTimeout
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAvailability:
		return "availability"
	case KindConcurrency:
		return "concurrency"
	case KindState:
		return "state"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	}
	return "internal"
}

type Code string

const (
	CodeInvalidIdentifier     Code = "INVALID_IDENTIFIER"
	CodeInvalidContact        Code = "INVALID_CONTACT"
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeIdempotencyKeyReused  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeSlotAlreadyBooked     Code = "SLOT_ALREADY_BOOKED"
	CodeOutsideOperatingHours Code = "OUTSIDE_OPERATING_HOURS"
	CodeOutsideBookingWindow  Code = "OUTSIDE_BOOKING_WINDOW"
	CodeStaleWrite            Code = "STALE_WRITE"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeTimeout               Code = "TIMEOUT"
	CodeAppointmentNotFound   Code = "APPOINTMENT_NOT_FOUND"
	CodeFacilityNotFound      Code = "FACILITY_NOT_FOUND"
)

var codeKinds = map[Code]Kind{
	CodeInvalidIdentifier:     KindValidation,
	CodeInvalidContact:        KindValidation,
	CodeInvalidRequest:        KindValidation,
	CodeIdempotencyKeyReused:  KindValidation,
	CodeSlotAlreadyBooked:     KindAvailability,
	CodeOutsideOperatingHours: KindAvailability,
	CodeOutsideBookingWindow:  KindAvailability,
	CodeStaleWrite:            KindConcurrency,
	CodeInvalidTransition:     KindState,
	CodeTimeout:               KindTimeout,
	CodeAppointmentNotFound:   KindNotFound,
	CodeFacilityNotFound:      KindNotFound,
}

// Error is the typed failure returned by every Service operation. Reason
// carries the validator's reason code for identifier and contact failures.
type Error struct {
	Code   Code
	Reason validate.Reason
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != validate.ReasonNone {
		msg += " (" + string(e.Reason) + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on the code, so errors.Is(err, ErrStaleWrite) holds for any
// STALE_WRITE regardless of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Kind() Kind {
	return codeKinds[e.Code]
}

var (
	ErrInvalidIdentifier     = &Error{Code: CodeInvalidIdentifier}
	ErrInvalidContact        = &Error{Code: CodeInvalidContact}
	ErrInvalidRequest        = &Error{Code: CodeInvalidRequest}
	ErrIdempotencyKeyReused  = &Error{Code: CodeIdempotencyKeyReused}
	ErrSlotAlreadyBooked     = &Error{Code: CodeSlotAlreadyBooked}
	ErrOutsideOperatingHours = &Error{Code: CodeOutsideOperatingHours}
	ErrOutsideBookingWindow  = &Error{Code: CodeOutsideBookingWindow}
	ErrStaleWrite            = &Error{Code: CodeStaleWrite}
	ErrInvalidTransition     = &Error{Code: CodeInvalidTransition}
	ErrTimeout               = &Error{Code: CodeTimeout}
	ErrAppointmentNotFound   = &Error{Code: CodeAppointmentNotFound}
	ErrFacilityNotFound      = &Error{Code: CodeFacilityNotFound}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func invalidField(code Code, field string, reason validate.Reason) *Error {
	return &Error{Code: code, Reason: reason, Detail: field}
}
