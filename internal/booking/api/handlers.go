// Package api exposes the booking endpoints over HTTP.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"conventionhub/internal/booking"
	"conventionhub/internal/common/api"
)

// Handler serves the booking endpoints.
type Handler struct {
	service *booking.Service
	logger  *slog.Logger
}

// NewHandler creates a booking handler.
func NewHandler(service *booking.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the booking endpoints on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/booking/{serviceType}", h.createBooking)
	r.Get("/booking/{serviceType}", h.listBookings)
	r.Get("/booking/{serviceType}/{reference}", h.getBooking)
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	serviceType := chi.URLParam(r, "serviceType")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.BadRequest(w, "Invalid request body")
		return
	}

	result, err := h.service.CreateBooking(r.Context(), serviceType, body)
	if err != nil {
		h.writeCreateError(w, r, serviceType, err)
		return
	}
	api.WriteData(w, http.StatusOK, result)
}

func (h *Handler) writeCreateError(w http.ResponseWriter, r *http.Request, serviceType string, err error) {
	var verr *booking.ValidationError
	switch {
	case errors.As(err, &verr):
		if len(verr.Errors) > 0 {
			api.WriteErrorList(w, http.StatusBadRequest, verr.Message, verr.Errors)
			return
		}
		api.BadRequest(w, verr.Message)
	case errors.Is(err, booking.ErrUnknownServiceType):
		api.BadRequest(w, "Invalid service type")
	case errors.Is(err, booking.ErrRoomsUnavailable):
		api.BadRequest(w, "No rooms available for the selected dates")
	case errors.Is(err, booking.ErrGatewayInit):
		api.WriteError(w, http.StatusInternalServerError, "Failed to initialize payment")
	default:
		h.logger.Error("create booking failed",
			"service_type", serviceType,
			"path", r.URL.Path,
			"error", err,
		)
		api.InternalError(w)
	}
}

func (h *Handler) listBookings(w http.ResponseWriter, r *http.Request) {
	serviceType := chi.URLParam(r, "serviceType")
	page := api.QueryInt(r, "page", 1, 0)
	limit := api.QueryInt(r, "limit", 20, 100)

	var confirmed *bool
	switch r.URL.Query().Get("confirmed") {
	case "true":
		v := true
		confirmed = &v
	case "false":
		v := false
		confirmed = &v
	}

	result, err := h.service.ListBookings(r.Context(), serviceType, page, limit, confirmed)
	if err != nil {
		if errors.Is(err, booking.ErrUnknownServiceType) {
			api.BadRequest(w, "Invalid service type")
			return
		}
		h.logger.Error("list bookings failed",
			"service_type", serviceType,
			"error", err,
		)
		api.InternalError(w)
		return
	}

	records := result.Records
	if records == nil {
		records = []*booking.ServiceRecord{}
	}
	api.WritePaginated(w, records, api.NewPagination(page, limit, result.Total))
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	serviceType := chi.URLParam(r, "serviceType")
	reference := chi.URLParam(r, "reference")

	record, err := h.service.GetBooking(r.Context(), serviceType, reference)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrUnknownServiceType):
			api.BadRequest(w, "Invalid service type")
		case errors.Is(err, booking.ErrRecordNotFound):
			api.NotFound(w, "Payment record not found")
		default:
			h.logger.Error("get booking failed",
				"service_type", serviceType,
				"reference", reference,
				"error", err,
			)
			api.InternalError(w)
		}
		return
	}
	api.WriteData(w, http.StatusOK, record)
}
