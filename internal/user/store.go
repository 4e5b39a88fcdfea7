// Package user persists payer identities. Bookings only hold the user id.
package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"conventionhub/internal/common/database"
)

// User is a payer.
type User struct {
	ID          string    `json:"id"`
	FullName    string    `json:"fullName"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phoneNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PostgresStore persists users.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a user store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ResolveOrCreate returns the user matching (email, phone), creating one if
// absent. A changed display name on an existing contact pair is kept as-is;
// the contact pair is the identity.
func (s *PostgresStore) ResolveOrCreate(ctx context.Context, fullName, email, phone string) (*User, error) {
	existing, err := s.getByContact(ctx, email, phone)
	if err == nil {
		return existing, nil
	}
	if !database.IsNotFound(err) {
		return nil, err
	}

	u := &User{
		ID:          uuid.NewString(),
		FullName:    fullName,
		Email:       email,
		PhoneNumber: phone,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO users (id, full_name, email, phone_number, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.FullName, u.Email, u.PhoneNumber, u.CreatedAt)
	if err != nil {
		// Concurrent creation of the same contact pair: fall back to the
		// winner's row.
		if database.IsUniqueViolation(err) {
			return s.getByContact(ctx, email, phone)
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// Get fetches a user by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	return s.scanOne(s.db.QueryRow(ctx, `
		SELECT id, full_name, email, phone_number, created_at
		FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) getByContact(ctx context.Context, email, phone string) (*User, error) {
	return s.scanOne(s.db.QueryRow(ctx, `
		SELECT id, full_name, email, phone_number, created_at
		FROM users WHERE email = $1 AND phone_number = $2
	`, email, phone))
}

func (s *PostgresStore) scanOne(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PhoneNumber, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
