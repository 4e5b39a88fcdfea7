package delivery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"conventionhub/internal/common/events"
	"conventionhub/internal/common/retry"
)

type fakeMessenger struct {
	textErrs []error
	docErrs  []error

	textCalls int
	docCalls  int
}

func (m *fakeMessenger) SendText(context.Context, string, string) error {
	m.textCalls++
	if len(m.textErrs) > 0 {
		err := m.textErrs[0]
		m.textErrs = m.textErrs[1:]
		return err
	}
	return nil
}

func (m *fakeMessenger) SendDocument(context.Context, string, string, []byte, string) error {
	m.docCalls++
	if len(m.docErrs) > 0 {
		err := m.docErrs[0]
		m.docErrs = m.docErrs[1:]
		return err
	}
	return nil
}

type capturePublisher struct {
	published []*events.Event
}

func (p *capturePublisher) Publish(_ context.Context, e *events.Event) error {
	p.published = append(p.published, e)
	return nil
}

func newTestPipeline(m *fakeMessenger, pub *capturePublisher) *Pipeline {
	p := NewPipeline(m, pub, slog.Default())
	p.policy = retry.Policy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return 0 },
		Classify:    func(err error) bool { return !retry.IsTerminal(err) },
	}
	return p
}

func TestDeliverHappyPath(t *testing.T) {
	m := &fakeMessenger{}
	pub := &capturePublisher{}
	p := newTestPipeline(m, pub)

	result := p.Deliver(context.Background(), "+2348012345678", "DINNER_1", "confirmed", "receipt.pdf", []byte("%PDF"))
	if !result.TextSent || !result.DocumentSent || result.Err != nil {
		t.Fatalf("result = %+v", result)
	}
	if m.textCalls != 1 || m.docCalls != 1 {
		t.Errorf("calls: text=%d doc=%d", m.textCalls, m.docCalls)
	}
	if len(pub.published) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.published))
	}
	for _, e := range pub.published {
		if e.Type != events.EventDeliverySucceeded {
			t.Errorf("event type = %s, want %s", e.Type, events.EventDeliverySucceeded)
		}
	}
}

func TestDeliverRetriesTransientTextFailure(t *testing.T) {
	m := &fakeMessenger{
		textErrs: []error{
			&APIError{StatusCode: http.StatusInternalServerError},
			&APIError{StatusCode: http.StatusTooManyRequests},
		},
	}
	p := newTestPipeline(m, &capturePublisher{})

	result := p.Deliver(context.Background(), "+2348012345678", "DINNER_1", "confirmed", "receipt.pdf", nil)
	if !result.TextSent || !result.DocumentSent {
		t.Fatalf("result = %+v", result)
	}
	if m.textCalls != 3 {
		t.Errorf("textCalls = %d, want 3", m.textCalls)
	}
}

func TestDeliverProbeFailureSkipsDocument(t *testing.T) {
	m := &fakeMessenger{
		textErrs: []error{
			retry.Terminal(&APIError{StatusCode: http.StatusBadRequest}),
		},
	}
	pub := &capturePublisher{}
	p := newTestPipeline(m, pub)

	result := p.Deliver(context.Background(), "+2348012345678", "DINNER_1", "confirmed", "receipt.pdf", nil)
	if result.TextSent || result.DocumentSent {
		t.Fatalf("result = %+v", result)
	}
	if result.Err == nil {
		t.Error("expected error")
	}
	if m.textCalls != 1 {
		t.Errorf("textCalls = %d, terminal errors must not be retried", m.textCalls)
	}
	if m.docCalls != 0 {
		t.Errorf("docCalls = %d, document must be skipped after probe failure", m.docCalls)
	}
	if len(pub.published) != 1 || pub.published[0].Type != events.EventDeliveryFailed {
		t.Errorf("expected a single delivery.failed event, got %+v", pub.published)
	}
}

func TestDeliverDocumentFailureKeepsTextResult(t *testing.T) {
	m := &fakeMessenger{
		docErrs: []error{
			&APIError{StatusCode: http.StatusInternalServerError},
			&APIError{StatusCode: http.StatusInternalServerError},
			&APIError{StatusCode: http.StatusInternalServerError},
		},
	}
	p := newTestPipeline(m, &capturePublisher{})

	result := p.Deliver(context.Background(), "+2348012345678", "DINNER_1", "confirmed", "receipt.pdf", nil)
	if !result.TextSent {
		t.Error("text should have been sent")
	}
	if result.DocumentSent {
		t.Error("document should have failed")
	}
	if result.Err == nil {
		t.Error("expected error")
	}
	if m.docCalls != 3 {
		t.Errorf("docCalls = %d, want 3", m.docCalls)
	}
}

func TestClassify(t *testing.T) {
	retryable := []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway}
	for _, code := range retryable {
		if err := classify(&APIError{StatusCode: code}); retry.IsTerminal(err) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	terminal := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound}
	for _, code := range terminal {
		if err := classify(&APIError{StatusCode: code}); !retry.IsTerminal(err) {
			t.Errorf("status %d should be terminal", code)
		}
	}
	var apiErr *APIError
	if err := classify(&APIError{StatusCode: 400}); !errors.As(err, &apiErr) {
		t.Error("terminal wrapper should preserve APIError")
	}
}
