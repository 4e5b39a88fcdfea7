package booking

import (
	"encoding/json"
	"errors"
	"time"

	"conventionhub/internal/common/money"
)

// Status represents the payment status of a service record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Transition errors.
var (
	ErrAlreadyConfirmed = errors.New("record already confirmed")
	ErrNotPending       = errors.New("record is not pending")
	ErrNotConfirmed     = errors.New("record is not confirmed")
)

// ServiceRecord is one booked service, keyed by its payment reference.
// Amount is computed once at creation and never recomputed. The check-in
// fields are owned by the check-in subsystem; this service only reads them.
type ServiceRecord struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"serviceType"`
	UserID           string          `json:"userId"`
	PaymentReference string          `json:"paymentReference"`
	Amount           money.Money     `json:"totalAmount"`
	Status           Status          `json:"status"`
	QRCodes          []string        `json:"qrCodes,omitempty"`
	Details          json.RawMessage `json:"details"`

	CheckedIn      bool            `json:"checkedIn"`
	CheckedInAt    *time.Time      `json:"checkedInAt,omitempty"`
	CheckedOutAt   *time.Time      `json:"checkedOutAt,omitempty"`
	Collected      bool            `json:"collected"`
	CollectedAt    *time.Time      `json:"collectedAt,omitempty"`
	CheckInHistory json.RawMessage `json:"checkInHistory,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
}

// NewServiceRecord creates a pending record.
func NewServiceRecord(id string, kind Kind, userID, reference string, amount money.Money, details json.RawMessage, now time.Time) *ServiceRecord {
	return &ServiceRecord{
		ID:               id,
		Kind:             kind,
		UserID:           userID,
		PaymentReference: reference,
		Amount:           amount,
		Status:           StatusPending,
		Details:          details,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsConfirmed reports whether the record has been paid for.
func (r *ServiceRecord) IsConfirmed() bool {
	return r.Status == StatusConfirmed
}

// MarkConfirmed transitions pending -> confirmed and attaches the issued
// codes. Confirming twice returns ErrAlreadyConfirmed so the caller can ack
// a replayed webhook without side effects.
func (r *ServiceRecord) MarkConfirmed(qrCodes []string, now time.Time) error {
	if r.Status == StatusConfirmed {
		return ErrAlreadyConfirmed
	}
	if r.Status != StatusPending {
		return ErrNotPending
	}
	r.Status = StatusConfirmed
	r.QRCodes = qrCodes
	r.ConfirmedAt = &now
	r.UpdatedAt = now
	return nil
}

// MarkFailed transitions pending -> failed.
func (r *ServiceRecord) MarkFailed(now time.Time) error {
	if r.Status != StatusPending {
		return ErrNotPending
	}
	r.Status = StatusFailed
	r.UpdatedAt = now
	return nil
}

// ReplaceQRCodes swaps the issued codes on a confirmed record. Only the
// admin regeneration path calls this; old codes are invalidated by
// replacement.
func (r *ServiceRecord) ReplaceQRCodes(qrCodes []string, now time.Time) error {
	if r.Status != StatusConfirmed {
		return ErrNotConfirmed
	}
	r.QRCodes = qrCodes
	r.UpdatedAt = now
	return nil
}
