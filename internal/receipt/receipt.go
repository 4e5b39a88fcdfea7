// Package receipt assembles and renders payment receipts, and issues the
// signed tokens that gate secure downloads.
package receipt

import (
	"context"
	"time"

	"conventionhub/internal/booking"
	"conventionhub/internal/common/money"
	"conventionhub/internal/user"
)

// Data is everything a rendered receipt shows.
type Data struct {
	ServiceType      string
	Description      string
	PaymentReference string
	Amount           money.Money
	Status           booking.Status
	Date             time.Time
	AdditionalInfo   string
	User             Party
	QRCodes          []string
}

// Party is the payer block on a receipt.
type Party struct {
	FullName    string
	Email       string
	PhoneNumber string
}

// RecordStore resolves payment references to records.
type RecordStore interface {
	FindByReference(ctx context.Context, reference string) (*booking.ServiceRecord, error)
}

// UserStore resolves user ids to payer identities.
type UserStore interface {
	Get(ctx context.Context, id string) (*user.User, error)
}

// Service looks up receipt data.
type Service struct {
	records RecordStore
	users   UserStore
}

// NewService creates a receipt service.
func NewService(records RecordStore, users UserStore) *Service {
	return &Service{records: records, users: users}
}

// Lookup assembles receipt data for a payment reference. The returned data
// reflects the record's current status; callers decide whether a pending
// record may be rendered.
func (s *Service) Lookup(ctx context.Context, reference string) (*Data, error) {
	record, err := s.records.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	info, _ := booking.Lookup(string(record.Kind))

	data := &Data{
		ServiceType:      string(record.Kind),
		Description:      info.Description,
		PaymentReference: record.PaymentReference,
		Amount:           record.Amount,
		Status:           record.Status,
		Date:             record.CreatedAt,
		AdditionalInfo:   booking.DescribeDetails(record.Kind, record.Details),
		QRCodes:          record.QRCodes,
	}
	if record.ConfirmedAt != nil {
		data.Date = *record.ConfirmedAt
	}

	u, err := s.users.Get(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	data.User = Party{
		FullName:    u.FullName,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
	}
	return data, nil
}
