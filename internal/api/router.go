package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/facility-booking/internal/appointment"
)

type RouterConfig struct {
	Service *appointment.Service
	Health  *HealthHandler
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)

	r.Get("/facilities/{id}/slots", availableSlotsHandler(cfg.Service))

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Get("/{id}/events", listEventsHandler(cfg.Service))
		r.Post("/{id}/transition", transitionHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleHandler(cfg.Service))
	})

	r.Post("/validate/{kind}", validateHandler())

	return r
}
