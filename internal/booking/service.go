package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"conventionhub/internal/common/database"
	"conventionhub/internal/common/events"
	"conventionhub/internal/common/money"
	"conventionhub/internal/gateway"
	"conventionhub/internal/user"
)

// Service errors surfaced to the API layer.
var (
	ErrUnknownServiceType = errors.New("unknown service type")
	ErrGatewayInit        = errors.New("payment gateway initialization failed")
	ErrRecordNotFound     = errors.New("payment record not found")
	ErrRoomsUnavailable   = errors.New("no rooms available for the selected dates")
	ErrAmountMismatch     = errors.New("paid amount does not match the booking")
)

// Store persists service records.
type Store interface {
	Create(ctx context.Context, record *ServiceRecord) error
	GetByReference(ctx context.Context, kind Kind, reference string) (*ServiceRecord, error)
	FindByReference(ctx context.Context, reference string) (*ServiceRecord, error)
	Update(ctx context.Context, record *ServiceRecord) error
	List(ctx context.Context, kind Kind, page, limit int, confirmed *bool) ([]*ServiceRecord, int64, error)
	CountOverlappingStays(ctx context.Context, roomType, checkIn, checkOut string) (int, error)
}

// UserStore resolves payer identities.
type UserStore interface {
	ResolveOrCreate(ctx context.Context, fullName, email, phone string) (*user.User, error)
	Get(ctx context.Context, id string) (*user.User, error)
}

// Gateway initializes and verifies checkout transactions.
type Gateway interface {
	Initialize(ctx context.Context, amount money.Money, email, reference string) (*gateway.Authorization, error)
	Verify(ctx context.Context, reference string) (*gateway.Verification, error)
}

// CodeIssuer signs attendance codes.
type CodeIssuer interface {
	IssueSeats(serviceType, recordID, userID string, seats int, validUntil time.Time, metadata map[string]string) ([]string, error)
	Regenerate(raw string, validUntil time.Time) (string, error)
}

// Auditor records admin code regenerations. All swaps of one regeneration
// are recorded together.
type Auditor interface {
	RecordRegeneration(ctx context.Context, serviceType, recordID, reference, adminID, reason string, oldCodes, newCodes []string) error
}

// Deliverer sends the receipt to the payer after confirmation. Failures are
// logged and monitored, never propagated to the webhook response.
type Deliverer interface {
	DeliverReceipt(ctx context.Context, record *ServiceRecord, payer *user.User)
}

// Service drives the booking lifecycle from creation through webhook-driven
// confirmation.
type Service struct {
	store     Store
	users     UserStore
	gateway   Gateway
	codes     CodeIssuer
	auditor   Auditor
	deliverer Deliverer
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a booking service.
func NewService(store Store, users UserStore, gw Gateway, codes CodeIssuer, auditor Auditor, deliverer Deliverer, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		users:     users,
		gateway:   gw,
		codes:     codes,
		auditor:   auditor,
		deliverer: deliverer,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateResult is what a successful booking creation returns.
type CreateResult struct {
	PaymentLink      string      `json:"paymentLink"`
	PaymentReference string      `json:"paymentReference"`
	TotalAmount      money.Money `json:"totalAmount"`
}

// CreateBooking validates the request, prices it, persists a pending record
// and initializes the gateway checkout. The pending record is written before
// the gateway call so a fast webhook always finds it.
func (s *Service) CreateBooking(ctx context.Context, serviceType string, body []byte) (*CreateResult, error) {
	info, ok := Lookup(serviceType)
	if !ok {
		return nil, ErrUnknownServiceType
	}

	req, err := DecodeRequest(info.Kind, body)
	if err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	now := s.now().UTC()
	if verr := req.Validate(now); verr != nil {
		return nil, verr
	}

	if accom, ok := req.(*AccommodationRequest); ok {
		if err := s.checkAvailability(ctx, accom); err != nil {
			return nil, err
		}
	}

	contact := req.Payer()
	payer, err := s.users.ResolveOrCreate(ctx, contact.FullName, contact.Email, contact.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}

	amount := req.Price()
	reference := NewReference(info, contact.PhoneNumber, now)
	details, err := req.Details()
	if err != nil {
		return nil, fmt.Errorf("encoding details: %w", err)
	}

	record := NewServiceRecord(ulid.Make().String(), info.Kind, payer.ID, reference, amount, details, now)
	if err := s.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting pending record: %w", err)
	}

	auth, err := s.gateway.Initialize(ctx, amount, contact.Email, reference)
	if err != nil {
		s.logger.Error("gateway initialization failed",
			"service_type", serviceType,
			"reference", reference,
			"error", err,
		)
		s.publish(ctx, events.EventGatewayInitFailed, string(info.Kind), reference, events.BookingCreatedData{
			ServiceType:      string(info.Kind),
			PaymentReference: reference,
			UserID:           payer.ID,
			AmountMinor:      amount.AmountMinor,
			Currency:         string(amount.Currency),
		})
		return nil, ErrGatewayInit
	}

	s.publish(ctx, events.EventBookingCreated, string(info.Kind), reference, events.BookingCreatedData{
		ServiceType:      string(info.Kind),
		PaymentReference: reference,
		UserID:           payer.ID,
		AmountMinor:      amount.AmountMinor,
		Currency:         string(amount.Currency),
	})

	s.logger.Info("booking created",
		"service_type", serviceType,
		"reference", reference,
		"amount", amount.AmountMinor,
	)

	return &CreateResult{
		PaymentLink:      auth.AuthorizationURL,
		PaymentReference: reference,
		TotalAmount:      amount,
	}, nil
}

func (s *Service) checkAvailability(ctx context.Context, req *AccommodationRequest) error {
	booked, err := s.store.CountOverlappingStays(ctx, req.AccommodationType, req.CheckInDate, req.CheckOutDate)
	if err != nil {
		return fmt.Errorf("checking availability: %w", err)
	}
	if booked >= RoomCapacity(req.AccommodationType) {
		return ErrRoomsUnavailable
	}
	return nil
}

// ConfirmBooking processes a successful-charge webhook. It is idempotent: a
// replayed reference is acknowledged without side effects. The gateway is
// asked to verify the charge independently of the webhook payload; a status
// or amount mismatch refuses confirmation.
func (s *Service) ConfirmBooking(ctx context.Context, reference string) error {
	record, err := s.store.FindByReference(ctx, reference)
	if err != nil {
		if database.IsNotFound(err) {
			s.publish(ctx, events.EventWebhookOrphaned, "unknown", reference, map[string]string{
				"payment_reference": reference,
			})
			s.logger.Warn("webhook for unknown reference",
				"reference", reference,
			)
			return ErrRecordNotFound
		}
		return fmt.Errorf("resolving reference: %w", err)
	}

	if record.IsConfirmed() {
		s.publish(ctx, events.EventBookingConfirmReplayed, string(record.Kind), reference, events.BookingConfirmedData{
			ServiceType:      string(record.Kind),
			PaymentReference: reference,
			QRCount:          len(record.QRCodes),
		})
		s.logger.Info("webhook replay for confirmed record",
			"reference", reference,
		)
		return nil
	}

	verification, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return fmt.Errorf("verifying transaction: %w", err)
	}
	if !verification.Succeeded() {
		s.logger.Warn("webhook for unsettled transaction",
			"reference", reference,
			"gateway_status", verification.Status,
		)
		return fmt.Errorf("transaction not settled: status %s", verification.Status)
	}
	if verification.AmountMinor != record.Amount.AmountMinor {
		s.publish(ctx, events.EventAmountMismatch, string(record.Kind), reference, map[string]int64{
			"expected_minor": record.Amount.AmountMinor,
			"paid_minor":     verification.AmountMinor,
		})
		s.logger.Error("paid amount does not match booking",
			"reference", reference,
			"expected", record.Amount.AmountMinor,
			"paid", verification.AmountMinor,
		)
		return ErrAmountMismatch
	}

	now := s.now().UTC()
	codes, err := s.issueCodes(record, now)
	if err != nil {
		return fmt.Errorf("issuing codes: %w", err)
	}

	if err := record.MarkConfirmed(codes, now); err != nil {
		if errors.Is(err, ErrAlreadyConfirmed) {
			return nil
		}
		return err
	}
	if err := s.store.Update(ctx, record); err != nil {
		return fmt.Errorf("persisting confirmation: %w", err)
	}

	s.publish(ctx, events.EventBookingConfirmed, string(record.Kind), reference, events.BookingConfirmedData{
		ServiceType:      string(record.Kind),
		PaymentReference: reference,
		QRCount:          len(codes),
		ConfirmedAt:      now,
	})
	s.logger.Info("booking confirmed",
		"service_type", record.Kind,
		"reference", reference,
		"qr_count", len(codes),
	)

	// Receipt delivery runs after the confirmation is durable. Its outcome
	// never affects the confirmed state.
	if s.deliverer != nil {
		payer, err := s.users.Get(ctx, record.UserID)
		if err != nil {
			s.logger.Warn("payer lookup for delivery failed",
				"reference", reference,
				"error", err,
			)
		} else {
			s.deliverer.DeliverReceipt(ctx, record, payer)
		}
	}
	return nil
}

func (s *Service) issueCodes(record *ServiceRecord, now time.Time) ([]string, error) {
	info, _ := Lookup(string(record.Kind))
	if !info.Issuable {
		return nil, nil
	}

	validUntil := now.Add(info.QRLifetime)
	if override := QRExpiryOverride(record.Kind, record.Details); override != nil {
		validUntil = *override
	}

	seats := 1
	if n := seatCountFromDetails(record.Kind, record.Details); n > 0 {
		seats = n
	}

	return s.codes.IssueSeats(string(record.Kind), record.ID, record.UserID, seats, validUntil, map[string]string{
		"reference": record.PaymentReference,
	})
}

// seatCountFromDetails recovers the seat count from the persisted details.
// Only dinner reservations issue more than one code.
func seatCountFromDetails(kind Kind, raw json.RawMessage) int {
	if kind != KindDinner {
		return 1
	}
	var d DinnerDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return 1
	}
	return d.NumberOfGuests
}

// Page is one page of records.
type Page struct {
	Records []*ServiceRecord
	Total   int64
}

// ListBookings returns a page of records for one service type.
func (s *Service) ListBookings(ctx context.Context, serviceType string, page, limit int, confirmed *bool) (*Page, error) {
	info, ok := Lookup(serviceType)
	if !ok {
		return nil, ErrUnknownServiceType
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	records, total, err := s.store.List(ctx, info.Kind, page, limit, confirmed)
	if err != nil {
		return nil, fmt.Errorf("listing %s records: %w", serviceType, err)
	}
	return &Page{Records: records, Total: total}, nil
}

// GetBooking resolves a record by reference for one service type.
func (s *Service) GetBooking(ctx context.Context, serviceType, reference string) (*ServiceRecord, error) {
	info, ok := Lookup(serviceType)
	if !ok {
		return nil, ErrUnknownServiceType
	}
	record, err := s.store.GetByReference(ctx, info.Kind, reference)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

// RegenerateQR reissues all codes on a confirmed record with fresh expiries,
// writes the audit trail and redelivers the receipt best effort.
func (s *Service) RegenerateQR(ctx context.Context, serviceType, reference, adminID, reason string) (*ServiceRecord, error) {
	info, ok := Lookup(serviceType)
	if !ok {
		return nil, ErrUnknownServiceType
	}

	record, err := s.store.GetByReference(ctx, info.Kind, reference)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if !record.IsConfirmed() {
		return nil, ErrNotConfirmed
	}

	now := s.now().UTC()
	validUntil := now.Add(info.QRLifetime)
	if override := QRExpiryOverride(record.Kind, record.Details); override != nil {
		validUntil = *override
	}

	oldCodes := record.QRCodes
	newCodes := make([]string, 0, len(oldCodes))
	for _, old := range oldCodes {
		fresh, err := s.codes.Regenerate(old, validUntil)
		if err != nil {
			return nil, fmt.Errorf("regenerating code: %w", err)
		}
		newCodes = append(newCodes, fresh)
	}

	if err := record.ReplaceQRCodes(newCodes, now); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting regenerated codes: %w", err)
	}

	if s.auditor != nil {
		if err := s.auditor.RecordRegeneration(ctx, serviceType, record.ID, reference, adminID, reason, oldCodes, newCodes); err != nil {
			s.logger.Warn("recording regeneration audit failed",
				"reference", reference,
				"error", err,
			)
		}
	}

	s.publish(ctx, events.EventQRRegenerated, serviceType, reference, events.QRRegeneratedData{
		ServiceType:      serviceType,
		PaymentReference: reference,
		AdminID:          adminID,
		Reason:           reason,
	})

	if s.deliverer != nil {
		if payer, err := s.users.Get(ctx, record.UserID); err == nil {
			s.deliverer.DeliverReceipt(ctx, record, payer)
		}
	}
	return record, nil
}

func (s *Service) publish(ctx context.Context, eventType, aggregateType, aggregateID string, data interface{}) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, aggregateType, aggregateID, data)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing event failed",
			"event_type", eventType,
			"error", err,
		)
	}
}
