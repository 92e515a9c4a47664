package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

var kindStatus = map[appointment.Kind]int{
	appointment.KindValidation:   http.StatusBadRequest,
	appointment.KindNotFound:     http.StatusNotFound,
	appointment.KindAvailability: http.StatusConflict,
	appointment.KindState:        http.StatusConflict,
	appointment.KindConcurrency:  http.StatusConflict,
	appointment.KindTimeout:      http.StatusGatewayTimeout,
}

// handleServiceError maps booking errors to their HTTP status. Anything
// untyped is an internal failure and is logged rather than echoed.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var bookingErr *appointment.Error
	if errors.As(err, &bookingErr) {
		status, ok := kindStatus[bookingErr.Kind()]
		if !ok {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, ErrorResponse{
			Error:   string(bookingErr.Code),
			Reason:  string(bookingErr.Reason),
			Details: bookingErr.Detail,
		})
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}
