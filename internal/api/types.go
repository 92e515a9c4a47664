package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/facility-booking/internal/appointment"
)

type CreateAppointmentRequest struct {
	FacilityID      string    `json:"facility_id"`
	PatientNumber   string    `json:"patient_number"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Type            string    `json:"type,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	ContactEmail    string    `json:"contact_email,omitempty"`
	ContactPhone    string    `json:"contact_phone,omitempty"`
	CreatedBy       string    `json:"created_by,omitempty"`
}

type TransitionRequest struct {
	Status          string `json:"status"`
	ExpectedVersion int64  `json:"expected_version"`
	Reason          string `json:"reason,omitempty"`
	Actor           string `json:"actor,omitempty"`
}

type RescheduleRequest struct {
	Start           time.Time `json:"start"`
	ExpectedVersion int64     `json:"expected_version"`
	Actor           string    `json:"actor,omitempty"`
}

type ValidateRequest struct {
	Value string `json:"value"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	FacilityID         uuid.UUID  `json:"facility_id"`
	PatientNumber      string     `json:"patient_number"`
	Start              time.Time  `json:"start"`
	End                time.Time  `json:"end"`
	DurationMinutes    int        `json:"duration_minutes"`
	Type               string     `json:"type"`
	Reason             string     `json:"reason,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	ContactEmail       string     `json:"contact_email,omitempty"`
	ContactPhone       string     `json:"contact_phone,omitempty"`
	Status             string     `json:"status"`
	Version            int64      `json:"version"`
	RescheduledFrom    *uuid.UUID `json:"rescheduled_from,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CreatedBy          string     `json:"created_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		FacilityID:         a.FacilityID,
		PatientNumber:      a.PatientNumber,
		Start:              a.Start,
		End:                a.End(),
		DurationMinutes:    a.DurationMinutes,
		Type:               string(a.Type),
		Reason:             a.Reason,
		Notes:              a.Notes,
		ContactEmail:       a.ContactEmail,
		ContactPhone:       a.ContactPhone,
		Status:             string(a.Status),
		Version:            a.Version,
		RescheduledFrom:    a.RescheduledFrom,
		CancelledAt:        a.CancelledAt,
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		CreatedBy:          a.CreatedBy,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toAppointmentList(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return out
}

type EventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}
