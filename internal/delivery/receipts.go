package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"conventionhub/internal/booking"
	"conventionhub/internal/receipt"
	"conventionhub/internal/user"
)

// Renderer turns receipt data into the PDF document sent to the payer.
type Renderer interface {
	RenderPDF(data *receipt.Data) ([]byte, error)
}

// ReceiptSender sends the receipt for a freshly confirmed booking. It plugs
// into the confirmation flow; every failure here is logged and monitored but
// never unwinds the confirmation.
type ReceiptSender struct {
	renderer Renderer
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewReceiptSender creates a receipt sender.
func NewReceiptSender(renderer Renderer, pipeline *Pipeline, logger *slog.Logger) *ReceiptSender {
	return &ReceiptSender{renderer: renderer, pipeline: pipeline, logger: logger}
}

// DeliverReceipt renders the receipt PDF and pushes it through the delivery
// pipeline.
func (s *ReceiptSender) DeliverReceipt(ctx context.Context, record *booking.ServiceRecord, payer *user.User) {
	info, _ := booking.Lookup(string(record.Kind))

	data := &receipt.Data{
		ServiceType:      string(record.Kind),
		Description:      info.Description,
		PaymentReference: record.PaymentReference,
		Amount:           record.Amount,
		Status:           record.Status,
		Date:             record.CreatedAt,
		AdditionalInfo:   booking.DescribeDetails(record.Kind, record.Details),
		User: receipt.Party{
			FullName:    payer.FullName,
			Email:       payer.Email,
			PhoneNumber: payer.PhoneNumber,
		},
		QRCodes: record.QRCodes,
	}
	if record.ConfirmedAt != nil {
		data.Date = *record.ConfirmedAt
	}

	document, err := s.renderer.RenderPDF(data)
	if err != nil {
		s.logger.Error("rendering receipt for delivery failed",
			"reference", record.PaymentReference,
			"error", err,
		)
		return
	}

	message := fmt.Sprintf("Your payment for %s is confirmed. Reference: %s. Your receipt is attached.",
		info.Description, record.PaymentReference)

	result := s.pipeline.Deliver(ctx, payer.PhoneNumber, record.PaymentReference,
		message, receipt.Filename(data, "pdf"), document)
	if result.Err != nil {
		s.logger.Warn("receipt delivery incomplete",
			"reference", record.PaymentReference,
			"text_sent", result.TextSent,
			"document_sent", result.DocumentSent,
			"error", result.Err,
		)
	}
}
