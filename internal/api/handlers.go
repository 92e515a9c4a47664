package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/facility-booking/internal/appointment"
	"github.com/hackgods/facility-booking/internal/schedule"
	"github.com/hackgods/facility-booking/internal/validate"
)

const idempotencyHeader = "Idempotency-Key"

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), "could not parse JSON")
			return
		}

		appt, err := svc.Reserve(r.Context(), appointment.ReserveRequest{
			FacilityID:      req.FacilityID,
			PatientNumber:   req.PatientNumber,
			Start:           req.Start,
			DurationMinutes: req.DurationMinutes,
			Type:            req.Type,
			Reason:          req.Reason,
			Notes:           req.Notes,
			ContactEmail:    req.ContactEmail,
			ContactPhone:    req.ContactPhone,
			IdempotencyKey:  r.Header.Get(idempotencyHeader),
			CreatedBy:       req.CreatedBy,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		w.Header().Set("Location", "/appointments/"+appt.ID.String())
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// listAppointmentsHandler serves either a patient's appointments
// (?patient_number=&limit=&offset=) or a facility's day (?facility_id=&date=).
func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var (
			list []appointment.Appointment
			err  error
		)
		switch {
		case q.Get("patient_number") != "":
			limit, okLimit := queryInt(q.Get("limit"))
			offset, okOffset := queryInt(q.Get("offset"))
			if !okLimit || !okOffset {
				writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), "limit and offset must be integers")
				return
			}
			list, err = svc.ListByPatient(r.Context(), q.Get("patient_number"), limit, offset)
		case q.Get("facility_id") != "":
			date, dateErr := schedule.ParseDate(q.Get("date"))
			if dateErr != nil {
				writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), "date must be YYYY-MM-DD")
				return
			}
			list, err = svc.ListByFacilityDay(r.Context(), q.Get("facility_id"), date)
		default:
			writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), "patient_number or facility_id and date are required")
			return
		}
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(list))
	}
}

func listEventsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		events, err := svc.Events(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]EventResponse, 0, len(events))
		for _, ev := range events {
			resp = append(resp, EventResponse{ID: ev.ID, Type: ev.Type, Payload: ev.Payload, CreatedAt: ev.CreatedAt})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func transitionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), "could not parse JSON")
			return
		}
		to, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), err.Error())
			return
		}

		appt, err := svc.Transition(r.Context(), id, to, req.ExpectedVersion, appointment.TransitionInput{
			Actor:  req.Actor,
			Reason: req.Reason,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), "could not parse JSON")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, appointment.RescheduleRequest{
			Start:           req.Start,
			ExpectedVersion: req.ExpectedVersion,
			Actor:           req.Actor,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		w.Header().Set("Location", "/appointments/"+appt.ID.String())
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := schedule.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), chi.URLParam(r, "id"), date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if slots == nil {
			slots = []schedule.Slot{}
		}

		writeJSON(w, http.StatusOK, slots)
	}
}

var validators = map[string]func(string) validate.Result{
	"patient-identifier": validate.PatientIdentifier,
	"postcode":           validate.Postcode,
	"phone":              validate.PhoneNumber,
	"email":              validate.Email,
}

func validateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		check, ok := validators[chi.URLParam(r, "kind")]
		if !ok {
			writeError(w, http.StatusNotFound, "UNKNOWN_VALIDATOR", "kind must be patient-identifier, postcode, phone or email")
			return
		}

		var req ValidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.CodeInvalidRequest), "could not parse JSON")
			return
		}

		writeJSON(w, http.StatusOK, check(req.Value))
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   string(appointment.CodeInvalidIdentifier),
			Reason:  string(validate.ReasonInvalidFormat),
			Details: "id must be a valid UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
