package appointment

import "fmt"

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Active appointments block their time range for new bookings.
func (s Status) Active() bool {
	return s == StatusScheduled
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) eventType() string {
	switch s {
	case StatusCompleted:
		return EventAppointmentCompleted
	case StatusCancelled:
		return EventAppointmentCancelled
	case StatusNoShow:
		return EventAppointmentNoShow
	}
	return ""
}
