package qr

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"conventionhub/internal/common/database"
)

// Regeneration is one audit row recording an admin code reissue. Only code
// digests are stored.
type Regeneration struct {
	ID               string    `json:"id"`
	ServiceType      string    `json:"serviceType"`
	RecordID         string    `json:"recordId"`
	PaymentReference string    `json:"paymentReference"`
	AdminID          string    `json:"adminId"`
	Reason           string    `json:"reason"`
	OldCodeHash      string    `json:"oldCodeHash"`
	NewCodeHash      string    `json:"newCodeHash"`
	CreatedAt        time.Time `json:"createdAt"`
}

// NewRegeneration builds an audit row from the codes being swapped.
func NewRegeneration(serviceType, recordID, reference, adminID, reason, oldCode, newCode string, now time.Time) *Regeneration {
	return &Regeneration{
		ID:               ulid.Make().String(),
		ServiceType:      serviceType,
		RecordID:         recordID,
		PaymentReference: reference,
		AdminID:          adminID,
		Reason:           reason,
		OldCodeHash:      Hash(oldCode),
		NewCodeHash:      Hash(newCode),
		CreatedAt:        now,
	}
}

// AuditStore persists regeneration audit rows.
type AuditStore struct {
	db *database.DB
}

// NewAuditStore creates an audit store.
func NewAuditStore(db *database.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record inserts a single audit row.
func (s *AuditStore) Record(ctx context.Context, r *Regeneration) error {
	return insertRegeneration(ctx, s.db, r)
}

// RecordRegeneration persists one audit row per swapped code, all inside one
// transaction so a regeneration's trail is never partially written.
func (s *AuditStore) RecordRegeneration(ctx context.Context, serviceType, recordID, reference, adminID, reason string, oldCodes, newCodes []string) error {
	now := time.Now().UTC()
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for i, code := range newCodes {
			old := ""
			if i < len(oldCodes) {
				old = oldCodes[i]
			}
			if err := insertRegeneration(ctx, tx, NewRegeneration(serviceType, recordID, reference, adminID, reason, old, code, now)); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRegeneration(ctx context.Context, q database.Querier, r *Regeneration) error {
	_, err := q.Exec(ctx, `
		INSERT INTO qr_regenerations (
			id, service_type, record_id, payment_reference,
			admin_id, reason, old_code_hash, new_code_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.ServiceType, r.RecordID, r.PaymentReference,
		r.AdminID, r.Reason, r.OldCodeHash, r.NewCodeHash, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting qr regeneration audit: %w", err)
	}
	return nil
}

// ListByRecord returns the audit trail for one record, newest first.
func (s *AuditStore) ListByRecord(ctx context.Context, recordID string) ([]*Regeneration, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, service_type, record_id, payment_reference,
		       admin_id, reason, old_code_hash, new_code_hash, created_at
		FROM qr_regenerations
		WHERE record_id = $1
		ORDER BY created_at DESC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("listing qr regenerations: %w", err)
	}
	defer rows.Close()

	var out []*Regeneration
	for rows.Next() {
		var r Regeneration
		if err := rows.Scan(
			&r.ID, &r.ServiceType, &r.RecordID, &r.PaymentReference,
			&r.AdminID, &r.Reason, &r.OldCodeHash, &r.NewCodeHash, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
