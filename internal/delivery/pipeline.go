package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conventionhub/internal/common/events"
	"conventionhub/internal/common/retry"
)

// Messenger is the transport the pipeline delivers through.
type Messenger interface {
	SendText(ctx context.Context, phone, text string) error
	SendDocument(ctx context.Context, phone, filename string, document []byte, caption string) error
}

// Result reports what the pipeline managed to do. Partial success is normal;
// callers log it and move on.
type Result struct {
	TextSent     bool
	DocumentSent bool
	Err          error
}

// Pipeline delivers a confirmation text and the receipt document to a payer.
// The text doubles as a reachability probe; when it fails after retries the
// document upload is skipped since the number is unreachable anyway.
type Pipeline struct {
	messenger Messenger
	publisher events.Publisher
	policy    retry.Policy
	logger    *slog.Logger
}

// NewPipeline creates a delivery pipeline.
func NewPipeline(messenger Messenger, publisher events.Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		messenger: messenger,
		publisher: publisher,
		policy:    retry.DefaultPolicy(),
		logger:    logger,
	}
}

// Deliver sends the confirmation text, then the receipt document.
func (p *Pipeline) Deliver(ctx context.Context, phone, reference, message, filename string, document []byte) Result {
	var result Result

	start := time.Now()
	err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		return p.messenger.SendText(ctx, phone, message)
	})
	p.monitor(ctx, reference, "probe", time.Since(start), err)
	if err != nil {
		result.Err = fmt.Errorf("confirmation text: %w", err)
		p.logger.Warn("confirmation text failed, skipping document",
			"reference", reference,
			"error", err,
		)
		return result
	}
	result.TextSent = true

	start = time.Now()
	err = retry.Do(ctx, p.policy, func(ctx context.Context) error {
		return p.messenger.SendDocument(ctx, phone, filename, document, message)
	})
	p.monitor(ctx, reference, "document", time.Since(start), err)
	if err != nil {
		result.Err = fmt.Errorf("receipt document: %w", err)
		p.logger.Warn("receipt document delivery failed",
			"reference", reference,
			"error", err,
		)
		return result
	}
	result.DocumentSent = true

	p.logger.Info("receipt delivered",
		"reference", reference,
	)
	return result
}

func (p *Pipeline) monitor(ctx context.Context, reference, stage string, latency time.Duration, deliveryErr error) {
	eventType := events.EventDeliverySucceeded
	data := events.DeliveryData{
		PaymentReference: reference,
		Stage:            stage,
		Attempts:         p.policy.MaxAttempts,
		LatencyMs:        latency.Milliseconds(),
	}
	if deliveryErr != nil {
		eventType = events.EventDeliveryFailed
		data.Error = deliveryErr.Error()
	}

	event, err := events.NewEvent(eventType, "delivery", reference, data)
	if err != nil {
		return
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Warn("publishing delivery event failed",
			"reference", reference,
			"error", err,
		)
	}
}
