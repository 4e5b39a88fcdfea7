package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"conventionhub/internal/common/database"
)

const recordColumns = `id, user_id, payment_reference, amount_minor, currency, status,
	qr_codes, details, checked_in, checked_in_at, checked_out_at,
	collected, collected_at, check_in_history, created_at, updated_at, confirmed_at`

// PostgresStore persists service records, one table per kind. The table name
// always comes from the kind registry, never from request input.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a record store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Create inserts a pending record.
func (s *PostgresStore) Create(ctx context.Context, record *ServiceRecord) error {
	info, ok := Lookup(string(record.Kind))
	if !ok {
		return fmt.Errorf("unknown kind %q", record.Kind)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, user_id, payment_reference, amount_minor, currency, status,
			qr_codes, details, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, info.Table)

	qrCodes, _ := json.Marshal(record.QRCodes)
	details := record.Details
	if details == nil {
		details = json.RawMessage(`{}`)
	}

	_, err := s.db.Exec(ctx, query,
		record.ID, record.UserID, record.PaymentReference,
		record.Amount.AmountMinor, record.Amount.Currency, record.Status,
		qrCodes, details, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("inserting %s record: %w", record.Kind, err)
	}
	return nil
}

// GetByReference fetches a record from one kind's collection.
func (s *PostgresStore) GetByReference(ctx context.Context, kind Kind, reference string) (*ServiceRecord, error) {
	info, ok := Lookup(string(kind))
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE payment_reference = $1`, recordColumns, info.Table)
	record, err := scanRecord(s.db.QueryRow(ctx, query, reference))
	if err != nil {
		return nil, err
	}
	record.Kind = kind
	return record, nil
}

// FindByReference resolves a reference to its record. The prefix points at
// the owning collection directly; references with an unrecognized prefix
// fall back to scanning all collections in the fixed kind order.
func (s *PostgresStore) FindByReference(ctx context.Context, reference string) (*ServiceRecord, error) {
	if info, ok := KindFromReference(reference); ok {
		return s.GetByReference(ctx, info.Kind, reference)
	}
	for _, kind := range Kinds() {
		record, err := s.GetByReference(ctx, kind, reference)
		if err == nil {
			return record, nil
		}
		if !database.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, database.ErrNotFound
}

// Update persists status, codes and confirmation timestamp.
func (s *PostgresStore) Update(ctx context.Context, record *ServiceRecord) error {
	info, ok := Lookup(string(record.Kind))
	if !ok {
		return fmt.Errorf("unknown kind %q", record.Kind)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, qr_codes = $3, updated_at = $4, confirmed_at = $5
		WHERE id = $1
	`, info.Table)

	qrCodes, _ := json.Marshal(record.QRCodes)
	record.UpdatedAt = time.Now().UTC()

	tag, err := s.db.Exec(ctx, query,
		record.ID, record.Status, qrCodes, record.UpdatedAt, record.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("updating %s record: %w", record.Kind, err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// List returns a page of records for one kind, optionally filtered by
// confirmation state, newest first.
func (s *PostgresStore) List(ctx context.Context, kind Kind, page, limit int, confirmed *bool) ([]*ServiceRecord, int64, error) {
	info, ok := Lookup(string(kind))
	if !ok {
		return nil, 0, fmt.Errorf("unknown kind %q", kind)
	}

	where := ""
	args := []interface{}{}
	if confirmed != nil {
		status := StatusPending
		if *confirmed {
			status = StatusConfirmed
		}
		where = "WHERE status = $1"
		args = append(args, status)
	}

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, info.Table, where)
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting %s records: %w", kind, err)
	}

	offset := (page - 1) * limit
	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, recordColumns, info.Table, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing %s records: %w", kind, err)
	}
	defer rows.Close()

	var records []*ServiceRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		record.Kind = kind
		records = append(records, record)
	}
	return records, total, rows.Err()
}

// CountOverlappingStays counts non-failed accommodation bookings of one room
// type whose date range overlaps [checkIn, checkOut).
func (s *PostgresStore) CountOverlappingStays(ctx context.Context, roomType, checkIn, checkOut string) (int, error) {
	info := registry[KindAccommodation]
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE status <> $1
		  AND details->>'accommodationType' = $2
		  AND details->>'checkInDate' < $4
		  AND details->>'checkOutDate' > $3
	`, info.Table)

	var count int
	err := s.db.QueryRow(ctx, query, StatusFailed, roomType, checkIn, checkOut).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting overlapping stays: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*ServiceRecord, error) {
	var r ServiceRecord
	var qrCodes []byte

	err := row.Scan(
		&r.ID, &r.UserID, &r.PaymentReference,
		&r.Amount.AmountMinor, &r.Amount.Currency, &r.Status,
		&qrCodes, &r.Details, &r.CheckedIn, &r.CheckedInAt, &r.CheckedOutAt,
		&r.Collected, &r.CollectedAt, &r.CheckInHistory,
		&r.CreatedAt, &r.UpdatedAt, &r.ConfirmedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(qrCodes, &r.QRCodes); err != nil {
		return nil, fmt.Errorf("decoding qr codes: %w", err)
	}
	return &r, nil
}
