package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/appointment"
	"github.com/hackgods/facility-booking/internal/config"
	"github.com/hackgods/facility-booking/internal/facility"
	"github.com/hackgods/facility-booking/internal/validate"
)

var facilityID = uuid.MustParse("0b7f3d7c-4e1a-4c5e-9d0e-6f2b8c9a1d33")

// Wednesday 14 October 2026, 09:10 UTC.
var now = time.Date(2026, 10, 14, 9, 10, 0, 0, time.UTC)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	weekday := "09:00-17:00"
	dir := facility.NewDirectory(facility.Facility{
		ID:             facilityID,
		Name:           "Harbour Walk-in Centre",
		Type:           facility.WalkInCentre,
		TimeZone:       "UTC",
		SlotMinutes:    30,
		LeadTime:       2 * time.Hour,
		MaxAdvanceDays: 30,
		OpeningHours: map[string]string{
			"monday":    weekday,
			"tuesday":   weekday,
			"wednesday": weekday,
			"thursday":  weekday,
			"friday":    weekday,
		},
	})

	cfg := config.DefaultBooking()
	cfg.BaseBackoff = time.Millisecond
	svc := appointment.NewService(appointment.NewMemoryStore(), dir, cfg,
		appointment.WithClock(func() time.Time { return now }))

	ok := func(context.Context) error { return nil }
	return NewRouter(RouterConfig{
		Service: svc,
		Health:  NewHealthHandler(ok, nil, "test", "v0"),
		Logger:  zerolog.Nop(),
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createRequest(hour int) CreateAppointmentRequest {
	return CreateAppointmentRequest{
		FacilityID:    facilityID.String(),
		PatientNumber: "943 476 5919",
		Start:         time.Date(2026, 10, 14, hour, 0, 0, 0, time.UTC),
		CreatedBy:     "reception",
	}
}

func TestCreateAppointment(t *testing.T) {
	h := testRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", createRequest(14))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
	created := decode[AppointmentResponse](t, rec)
	if created.PatientNumber != "9434765919" || created.Status != "scheduled" || created.Version != 1 {
		t.Errorf("unexpected appointment: %+v", created)
	}

	rec = do(t, h, http.MethodPost, "/appointments", createRequest(14))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second booking status = %d", rec.Code)
	}
	if e := decode[ErrorResponse](t, rec); e.Error != string(appointment.CodeSlotAlreadyBooked) {
		t.Errorf("error = %+v", e)
	}

	rec = do(t, h, http.MethodGet, "/appointments/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestCreateAppointment_Idempotent(t *testing.T) {
	h := testRouter(t)
	key := uuid.NewString()

	first := decode[AppointmentResponse](t, do(t, h, http.MethodPost, "/appointments", createRequest(15), idempotencyHeader, key))
	rec := do(t, h, http.MethodPost, "/appointments", createRequest(15), idempotencyHeader, key)
	if rec.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, body %s", rec.Code, rec.Body)
	}
	if again := decode[AppointmentResponse](t, rec); again.ID != first.ID {
		t.Errorf("replay returned %s, want %s", again.ID, first.ID)
	}

	rec = do(t, h, http.MethodPost, "/appointments", createRequest(16), idempotencyHeader, key)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reused key status = %d", rec.Code)
	}
}

func TestCreateAppointment_Errors(t *testing.T) {
	h := testRouter(t)

	tests := []struct {
		name   string
		mutate func(*CreateAppointmentRequest)
		status int
		code   appointment.Code
		reason validate.Reason
	}{
		{"bad checksum", func(r *CreateAppointmentRequest) { r.PatientNumber = "9434765918" }, http.StatusBadRequest, appointment.CodeInvalidIdentifier, validate.ReasonChecksumMismatch},
		{"bad email", func(r *CreateAppointmentRequest) { r.ContactEmail = "nobody" }, http.StatusBadRequest, appointment.CodeInvalidContact, validate.ReasonInvalidFormat},
		{"inside lead time", func(r *CreateAppointmentRequest) { r.Start = now.Add(30 * time.Minute).Truncate(30 * time.Minute) }, http.StatusConflict, appointment.CodeOutsideBookingWindow, ""},
		{"after closing", func(r *CreateAppointmentRequest) { r.Start = time.Date(2026, 10, 14, 17, 0, 0, 0, time.UTC) }, http.StatusConflict, appointment.CodeOutsideOperatingHours, ""},
		{"unknown facility", func(r *CreateAppointmentRequest) { r.FacilityID = uuid.NewString() }, http.StatusNotFound, appointment.CodeFacilityNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest(14)
			tt.mutate(&req)
			rec := do(t, h, http.MethodPost, "/appointments", req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			e := decode[ErrorResponse](t, rec)
			if e.Error != string(tt.code) || e.Reason != string(tt.reason) {
				t.Errorf("error = %+v", e)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d", rec.Code)
	}
}

func TestTransitionAndEvents(t *testing.T) {
	h := testRouter(t)
	created := decode[AppointmentResponse](t, do(t, h, http.MethodPost, "/appointments", createRequest(13)))
	path := "/appointments/" + created.ID.String()

	rec := do(t, h, http.MethodPost, path+"/transition", TransitionRequest{Status: "no-show", ExpectedVersion: 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, path+"/transition", TransitionRequest{Status: "cancelled", ExpectedVersion: 3})
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Error != string(appointment.CodeStaleWrite) {
		t.Fatalf("stale write not reported, status %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, path+"/transition", TransitionRequest{Status: "cancelled", ExpectedVersion: 1, Actor: "patient", Reason: "feeling better"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode[AppointmentResponse](t, rec); got.Status != "cancelled" || got.Version != 2 || got.CancelledBy != "patient" {
		t.Errorf("unexpected appointment after cancel: %+v", got)
	}

	rec = do(t, h, http.MethodPost, path+"/transition", TransitionRequest{Status: "completed", ExpectedVersion: 2})
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Error != string(appointment.CodeInvalidTransition) {
		t.Fatalf("terminal transition not rejected, status %d", rec.Code)
	}

	events := decode[[]EventResponse](t, do(t, h, http.MethodGet, path+"/events", nil))
	if len(events) != 2 || events[0].Type != appointment.EventAppointmentBooked || events[1].Type != appointment.EventAppointmentCancelled {
		t.Errorf("events = %+v", events)
	}
}

func TestReschedule(t *testing.T) {
	h := testRouter(t)
	created := decode[AppointmentResponse](t, do(t, h, http.MethodPost, "/appointments", createRequest(12)))

	rec := do(t, h, http.MethodPost, "/appointments/"+created.ID.String()+"/reschedule", RescheduleRequest{
		Start:           time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC),
		ExpectedVersion: 1,
		Actor:           "reception",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	moved := decode[AppointmentResponse](t, rec)
	if moved.RescheduledFrom == nil || *moved.RescheduledFrom != created.ID {
		t.Errorf("rescheduled_from = %v", moved.RescheduledFrom)
	}

	old := decode[AppointmentResponse](t, do(t, h, http.MethodGet, "/appointments/"+created.ID.String(), nil))
	if old.Status != "cancelled" {
		t.Errorf("old appointment status = %s", old.Status)
	}
}

func TestListAppointments(t *testing.T) {
	h := testRouter(t)
	for _, hour := range []int{12, 14} {
		if rec := do(t, h, http.MethodPost, "/appointments", createRequest(hour)); rec.Code != http.StatusCreated {
			t.Fatalf("book %02d:00: status %d, body %s", hour, rec.Code, rec.Body)
		}
	}

	byPatient := decode[[]AppointmentResponse](t, do(t, h, http.MethodGet, "/appointments?patient_number=9434765919&limit=1", nil))
	if len(byPatient) != 1 {
		t.Errorf("limit not applied: %d", len(byPatient))
	}

	byDay := decode[[]AppointmentResponse](t, do(t, h, http.MethodGet, "/appointments?facility_id="+facilityID.String()+"&date=2026-10-14", nil))
	if len(byDay) != 2 {
		t.Errorf("facility day listing = %d", len(byDay))
	}

	if rec := do(t, h, http.MethodGet, "/appointments", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing filter status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/appointments?patient_number=123", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad identifier status = %d", rec.Code)
	}
}

func TestAvailableSlots(t *testing.T) {
	h := testRouter(t)

	before := decode[[]map[string]time.Time](t, do(t, h, http.MethodGet, "/facilities/"+facilityID.String()+"/slots?date=2026-10-14", nil))
	if rec := do(t, h, http.MethodPost, "/appointments", createRequest(14)); rec.Code != http.StatusCreated {
		t.Fatalf("book: status %d, body %s", rec.Code, rec.Body)
	}
	after := decode[[]map[string]time.Time](t, do(t, h, http.MethodGet, "/facilities/"+facilityID.String()+"/slots?date=2026-10-14", nil))
	if len(before) == 0 || len(after) != len(before)-1 {
		t.Errorf("slots before %d, after %d", len(before), len(after))
	}

	// Saturday is closed: an empty array rather than null.
	rec := do(t, h, http.MethodGet, "/facilities/"+facilityID.String()+"/slots?date=2026-10-17", nil)
	if rec.Code != http.StatusOK || bytes.TrimSpace(rec.Body.Bytes())[0] != '[' {
		t.Errorf("closed day: %d %s", rec.Code, rec.Body)
	}

	if rec := do(t, h, http.MethodGet, "/facilities/"+facilityID.String()+"/slots?date=14-10-2026", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/appointments/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/appointments/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	h := testRouter(t)

	tests := []struct {
		kind   string
		value  string
		valid  bool
		reason validate.Reason
	}{
		{"patient-identifier", "943 476 5919", true, ""},
		{"patient-identifier", "9434765918", false, validate.ReasonChecksumMismatch},
		{"postcode", "SW1A 1AA", true, ""},
		{"phone", "+44 20 7946 0018", true, ""},
		{"email", "not-an-email", false, validate.ReasonInvalidFormat},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, "/validate/"+tt.kind, ValidateRequest{Value: tt.value})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", tt.kind, rec.Code)
		}
		got := decode[validate.Result](t, rec)
		if got.Valid != tt.valid || got.Reason != tt.reason {
			t.Errorf("%s(%q) = %+v", tt.kind, tt.value, got)
		}
	}

	if rec := do(t, h, http.MethodPost, "/validate/nhs", ValidateRequest{Value: "x"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown validator status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		postgres PingFunc
		redis    PingFunc
		status   int
		want     string
	}{
		{"all up", ok, ok, http.StatusOK, "ok"},
		{"cache disabled", ok, nil, http.StatusOK, "ok"},
		{"cache down", ok, down, http.StatusOK, "degraded"},
		{"database down", down, ok, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hh := NewHealthHandler(tt.postgres, tt.redis, "test", "v0")
			rec := httptest.NewRecorder()
			hh.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := decode[ReadinessResponse](t, rec); got.Status != tt.want {
				t.Errorf("readiness = %+v", got)
			}
		})
	}
}
