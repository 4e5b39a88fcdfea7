package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"conventionhub/internal/booking"
	"conventionhub/internal/common/api"
)

// SignatureVerifier checks a webhook's HMAC signature over the raw body.
type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// WebhookHandler processes payment gateway webhooks.
type WebhookHandler struct {
	service  *booking.Service
	verifier SignatureVerifier
	logger   *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(service *booking.Service, verifier SignatureVerifier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, verifier: verifier, logger: logger}
}

// Routes mounts the webhook endpoint on a router.
func (h *WebhookHandler) Routes(r chi.Router) {
	r.Post("/webhook/payment", h.handlePayment)
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// handlePayment acknowledges authenticated, well-formed webhooks with 200
// once their outcome is settled, including business rejections: redelivering
// a webhook we understood and refused only repeats the refusal. Transient
// internal failures answer 500 so the gateway redelivers and the confirmation
// is not lost.
func (h *WebhookHandler) handlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.BadRequest(w, "Invalid request body")
		return
	}

	signature := r.Header.Get("x-paystack-signature")
	if signature == "" || !h.verifier.VerifySignature(body, signature) {
		h.logger.Warn("webhook signature verification failed",
			"remote_addr", r.RemoteAddr,
		)
		api.Unauthorized(w, "Invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		api.BadRequest(w, "Invalid webhook payload")
		return
	}

	if payload.Event != "charge.success" {
		h.logger.Info("ignoring webhook event",
			"event", payload.Event,
		)
		api.WriteData(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if payload.Data.Reference == "" {
		api.BadRequest(w, "Missing payment reference")
		return
	}

	if err := h.service.ConfirmBooking(r.Context(), payload.Data.Reference); err != nil {
		switch {
		case errors.Is(err, booking.ErrRecordNotFound), errors.Is(err, booking.ErrAmountMismatch):
			// Logged and monitored inside the service; redelivery cannot
			// change the outcome, so the webhook is still acknowledged.
			h.logger.Warn("webhook confirmation refused",
				"reference", payload.Data.Reference,
				"error", err,
			)
		default:
			h.logger.Error("webhook confirmation failed",
				"reference", payload.Data.Reference,
				"error", err,
			)
			api.WriteError(w, http.StatusInternalServerError, "Confirmation failed")
			return
		}
	}
	api.WriteData(w, http.StatusOK, map[string]string{"status": "received"})
}
