package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event types
const (
	// Booking lifecycle
	EventBookingCreated         = "booking.created"
	EventBookingConfirmed       = "booking.confirmed"
	EventBookingConfirmReplayed = "booking.confirm_replayed"
	EventWebhookOrphaned        = "booking.webhook_orphaned"
	EventAmountMismatch         = "booking.amount_mismatch"
	EventGatewayInitFailed      = "booking.gateway_init_failed"

	// Delivery monitoring
	EventDeliverySucceeded = "delivery.succeeded"
	EventDeliveryFailed    = "delivery.failed"

	// Receipt download monitoring
	EventDownloadSucceeded = "receipt.download.succeeded"
	EventDownloadFailed    = "receipt.download.failed"

	// QR administration
	EventQRRegenerated = "qr.regenerated"
)

// BookingCreatedData is the data for booking.created events
type BookingCreatedData struct {
	ServiceType      string `json:"service_type"`
	PaymentReference string `json:"payment_reference"`
	UserID           string `json:"user_id"`
	AmountMinor      int64  `json:"amount_minor"`
	Currency         string `json:"currency"`
}

// BookingConfirmedData is the data for booking.confirmed events
type BookingConfirmedData struct {
	ServiceType      string    `json:"service_type"`
	PaymentReference string    `json:"payment_reference"`
	QRCount          int       `json:"qr_count"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
}

// DeliveryData is the data for delivery.* events
type DeliveryData struct {
	PaymentReference string `json:"payment_reference"`
	Stage            string `json:"stage"` // probe, document
	Attempts         int    `json:"attempts"`
	LatencyMs        int64  `json:"latency_ms"`
	Error            string `json:"error,omitempty"`
}

// DownloadData is the data for receipt.download.* events
type DownloadData struct {
	PaymentReference string `json:"payment_reference,omitempty"`
	Format           string `json:"format"`
	Outcome          string `json:"outcome"` // ok, validation, not_found, generation, internal
	TokenGated       bool   `json:"token_gated"`
	LatencyMs        int64  `json:"latency_ms"`
}

// QRRegeneratedData is the data for qr.regenerated events
type QRRegeneratedData struct {
	ServiceType      string `json:"service_type"`
	PaymentReference string `json:"payment_reference"`
	AdminID          string `json:"admin_id"`
	Reason           string `json:"reason,omitempty"`
}
