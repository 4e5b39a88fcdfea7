// Package api exposes receipt downloads, secure-link issuance and the admin
// code regeneration endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"conventionhub/internal/booking"
	"conventionhub/internal/common/api"
	"conventionhub/internal/common/database"
	"conventionhub/internal/common/events"
	"conventionhub/internal/common/middleware"
	"conventionhub/internal/common/retry"
	"conventionhub/internal/qr"
	"conventionhub/internal/receipt"
)

// Renderer renders receipt data into a downloadable document.
type Renderer interface {
	RenderHTML(data *receipt.Data) ([]byte, error)
	RenderPDF(data *receipt.Data) ([]byte, error)
}

// AuditTrail lists code regenerations recorded for a record.
type AuditTrail interface {
	ListByRecord(ctx context.Context, recordID string) ([]*qr.Regeneration, error)
}

// Handler serves the receipt endpoints.
type Handler struct {
	receipts *receipt.Service
	renderer Renderer
	tokens   *receipt.TokenIssuer
	bookings *booking.Service
	audits   AuditTrail
	limiter  middleware.Limiter
	events   events.Publisher
	logger   *slog.Logger
}

// NewHandler creates a receipt handler.
func NewHandler(receipts *receipt.Service, renderer Renderer, tokens *receipt.TokenIssuer, bookings *booking.Service, audits AuditTrail, limiter middleware.Limiter, publisher events.Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		receipts: receipts,
		renderer: renderer,
		tokens:   tokens,
		bookings: bookings,
		audits:   audits,
		limiter:  limiter,
		events:   publisher,
		logger:   logger,
	}
}

// Routes mounts the receipt endpoints on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/receipt/download", h.download)
	r.Post("/receipt/secure-link", h.secureLink)
	r.Post("/admin/qr/regenerate", h.regenerateQR)
	r.Get("/admin/qr/regenerations/{serviceType}/{reference}", h.listRegenerations)
}

// download serves a rendered receipt. Validation runs cheapest first: the
// token when present, then reference shape, then the per-IP rate limit,
// before any storage or rendering work.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reference := r.URL.Query().Get("ref")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}

	tokenString := r.URL.Query().Get("token")
	tokenGated := tokenString != ""

	monitor := func(outcome string) {
		h.monitorDownload(r.Context(), reference, format, outcome, tokenGated, time.Since(start))
	}

	if format != "pdf" && format != "html" {
		monitor("validation")
		api.BadRequest(w, "Format must be pdf or html")
		return
	}

	var claims *receipt.TokenClaims
	if tokenGated {
		var err error
		claims, err = h.tokens.Verify(tokenString, reference, middleware.GetClientIP(r.Context()))
		if err != nil {
			monitor("validation")
			switch {
			case errors.Is(err, receipt.ErrTokenExpired):
				api.Unauthorized(w, "Download link has expired")
			case errors.Is(err, receipt.ErrIPNotAllowed):
				api.Forbidden(w, "Download link is not valid from this address")
			default:
				api.Unauthorized(w, "Invalid download link")
			}
			return
		}
		// An exhausted link is refused here, before any record lookup or
		// rendering work is spent on it.
		if err := h.tokens.CheckQuota(r.Context(), claims); err != nil {
			monitor("validation")
			if errors.Is(err, receipt.ErrQuotaExhausted) {
				api.Forbidden(w, "Download limit reached")
				return
			}
			h.logger.Error("checking download quota failed",
				"reference", reference,
				"error", err,
			)
			api.InternalError(w)
			return
		}
	}

	if reference == "" {
		monitor("validation")
		api.BadRequest(w, "Payment reference is required")
		return
	}
	if !booking.ValidReference(reference) {
		monitor("validation")
		api.BadRequest(w, "Invalid payment reference format")
		return
	}

	if h.limiter != nil {
		allowed, retryAfter, err := h.limiter.Allow(r.Context(), middleware.GetClientIP(r.Context()))
		if err == nil && !allowed {
			monitor("validation")
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			api.TooManyRequests(w, seconds)
			return
		}
	}

	data, err := h.receipts.Lookup(r.Context(), reference)
	if err != nil {
		if database.IsNotFound(err) {
			monitor("not_found")
			api.NotFound(w, "Payment record not found")
			return
		}
		monitor("internal")
		h.logger.Error("receipt lookup failed",
			"reference", reference,
			"error", err,
		)
		api.InternalError(w)
		return
	}

	if data.Status != booking.StatusConfirmed {
		monitor("validation")
		api.BadRequest(w, "Payment not confirmed")
		return
	}

	document, err := h.render(r.Context(), data, format)
	if err != nil {
		monitor("generation")
		h.logger.Error("receipt generation failed",
			"reference", reference,
			"format", format,
			"error", err,
		)
		api.ServiceUnavailable(w, "Failed to generate receipt")
		return
	}

	if tokenGated {
		if _, err := h.tokens.Consume(r.Context(), claims); err != nil {
			monitor("validation")
			if errors.Is(err, receipt.ErrQuotaExhausted) {
				api.Forbidden(w, "Download limit reached")
				return
			}
			h.logger.Error("consuming download quota failed",
				"reference", reference,
				"error", err,
			)
			api.InternalError(w)
			return
		}
	}

	h.writeDocument(w, data, format, document, tokenGated)
	monitor("ok")
}

func (h *Handler) render(ctx context.Context, data *receipt.Data, format string) ([]byte, error) {
	var document []byte
	err := retry.Do(ctx, retry.DefaultPolicy(), func(context.Context) error {
		var renderErr error
		if format == "html" {
			document, renderErr = h.renderer.RenderHTML(data)
		} else {
			document, renderErr = h.renderer.RenderPDF(data)
		}
		return renderErr
	})
	return document, err
}

func (h *Handler) writeDocument(w http.ResponseWriter, data *receipt.Data, format string, document []byte, tokenGated bool) {
	switch {
	case tokenGated:
		// Token-gated responses are personal; no shared cache may keep them.
		w.Header().Set("Cache-Control", "private, no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
	case format == "pdf":
		w.Header().Set("Cache-Control", "public, max-age=3600")
	default:
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}

	if format == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", receipt.Filename(data, format)))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(document)
}

func (h *Handler) monitorDownload(ctx context.Context, reference, format, outcome string, tokenGated bool, latency time.Duration) {
	if h.events == nil {
		return
	}
	eventType := events.EventDownloadSucceeded
	if outcome != "ok" {
		eventType = events.EventDownloadFailed
	}
	event, err := events.NewEvent(eventType, "receipt", reference, events.DownloadData{
		PaymentReference: reference,
		Format:           format,
		Outcome:          outcome,
		TokenGated:       tokenGated,
		LatencyMs:        latency.Milliseconds(),
	})
	if err != nil {
		return
	}
	if err := h.events.Publish(ctx, event.WithCorrelation(middleware.GetCorrelationID(ctx))); err != nil {
		h.logger.Warn("publishing download event failed",
			"error", err,
		)
	}
}

type secureLinkRequest struct {
	PaymentReference string   `json:"paymentReference" validate:"required"`
	UserEmail        string   `json:"userEmail,omitempty" validate:"omitempty,email"`
	UserPhone        string   `json:"userPhone,omitempty"`
	ExpiresIn        int      `json:"expiresIn,omitempty" validate:"omitempty,min=60,max=604800"`
	MaxDownloads     int      `json:"maxDownloads,omitempty" validate:"omitempty,min=1,max=10"`
	AllowedIPs       []string `json:"allowedIPs,omitempty"`
}

func (h *Handler) secureLink(w http.ResponseWriter, r *http.Request) {
	var req secureLinkRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.BadRequest(w, "Invalid request body")
		return
	}
	if !booking.ValidReference(req.PaymentReference) {
		api.BadRequest(w, "Invalid payment reference format")
		return
	}

	data, err := h.receipts.Lookup(r.Context(), req.PaymentReference)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "Payment record not found")
			return
		}
		h.logger.Error("secure link lookup failed",
			"reference", req.PaymentReference,
			"error", err,
		)
		api.InternalError(w)
		return
	}
	if data.Status != booking.StatusConfirmed {
		api.BadRequest(w, "Payment not confirmed")
		return
	}

	contact := req.UserEmail
	if contact == "" {
		contact = req.UserPhone
	}
	ttl := time.Duration(req.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = h.tokens.DefaultTTL()
	}
	maxDownloads := req.MaxDownloads
	if maxDownloads <= 0 {
		maxDownloads = h.tokens.DefaultMaxDownloads()
	}

	token, _, err := h.tokens.Issue(r.Context(), req.PaymentReference, receipt.IssueOptions{
		TTL:          ttl,
		MaxDownloads: maxDownloads,
		AllowedIPs:   req.AllowedIPs,
		Contact:      contact,
	})
	if err != nil {
		h.logger.Error("issuing secure link failed",
			"reference", req.PaymentReference,
			"error", err,
		)
		api.InternalError(w)
		return
	}

	api.WriteData(w, http.StatusOK, map[string]any{
		"secureURL": fmt.Sprintf("/receipt/download?ref=%s&format=pdf&token=%s",
			req.PaymentReference, token),
		"expiresIn":    int(ttl.Seconds()),
		"maxDownloads": maxDownloads,
	})
}

type regenerateRequest struct {
	ServiceType      string `json:"serviceType" validate:"required"`
	PaymentReference string `json:"serviceId" validate:"required"`
	AdminID          string `json:"adminId" validate:"required"`
	Reason           string `json:"reason,omitempty"`
}

func (h *Handler) regenerateQR(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.BadRequest(w, "Invalid request body")
		return
	}

	record, err := h.bookings.RegenerateQR(r.Context(), req.ServiceType, req.PaymentReference, req.AdminID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrUnknownServiceType):
			api.BadRequest(w, "Invalid service type")
		case errors.Is(err, booking.ErrRecordNotFound):
			api.NotFound(w, "Payment record not found")
		case errors.Is(err, booking.ErrNotConfirmed):
			api.BadRequest(w, "Payment not confirmed")
		default:
			h.logger.Error("qr regeneration failed",
				"reference", req.PaymentReference,
				"error", err,
			)
			api.InternalError(w)
		}
		return
	}
	api.WriteData(w, http.StatusOK, record)
}

// listRegenerations returns the audit trail of code reissues for one record,
// newest first. Only code digests are exposed, never the codes themselves.
func (h *Handler) listRegenerations(w http.ResponseWriter, r *http.Request) {
	serviceType := chi.URLParam(r, "serviceType")
	reference := chi.URLParam(r, "reference")

	record, err := h.bookings.GetBooking(r.Context(), serviceType, reference)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrUnknownServiceType):
			api.BadRequest(w, "Invalid service type")
		case errors.Is(err, booking.ErrRecordNotFound):
			api.NotFound(w, "Payment record not found")
		default:
			h.logger.Error("audit trail lookup failed",
				"reference", reference,
				"error", err,
			)
			api.InternalError(w)
		}
		return
	}

	rows, err := h.audits.ListByRecord(r.Context(), record.ID)
	if err != nil {
		h.logger.Error("listing regenerations failed",
			"record_id", record.ID,
			"error", err,
		)
		api.InternalError(w)
		return
	}
	if rows == nil {
		rows = []*qr.Regeneration{}
	}
	api.WriteData(w, http.StatusOK, rows)
}
