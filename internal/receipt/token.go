package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"conventionhub/internal/common/database"
)

// Token errors.
var (
	ErrTokenInvalid   = errors.New("invalid download token")
	ErrTokenExpired   = errors.New("download token has expired")
	ErrQuotaExhausted = errors.New("download limit reached")
	ErrIPNotAllowed   = errors.New("download token not valid from this address")
)

// TokenConfig holds secure-link configuration.
type TokenConfig struct {
	SigningKey   string        `envconfig:"DOWNLOAD_TOKEN_KEY" required:"true"`
	DefaultTTL   time.Duration `envconfig:"DOWNLOAD_TOKEN_TTL" default:"24h"`
	MaxDownloads int           `envconfig:"DOWNLOAD_TOKEN_MAX_DOWNLOADS" default:"3"`
}

// TokenClaims is what a secure-link token carries.
type TokenClaims struct {
	Reference    string   `json:"ref"`
	MaxDownloads int      `json:"max_downloads"`
	AllowedIPs   []string `json:"allowed_ips,omitempty"`
	Contact      string   `json:"contact,omitempty"`
	jwt.RegisteredClaims
}

// QuotaStore tracks per-token download budgets.
type QuotaStore interface {
	// Ensure registers a token's budget if it is not yet known.
	Ensure(ctx context.Context, tokenID string, maxDownloads int) error
	// Remaining reports the unspent budget without consuming any of it.
	Remaining(ctx context.Context, tokenID string) (int, error)
	// Consume atomically decrements the budget. Returns ErrQuotaExhausted
	// when no downloads remain.
	Consume(ctx context.Context, tokenID string) (remaining int, err error)
}

// TokenIssuer creates and verifies secure download links.
type TokenIssuer struct {
	config TokenConfig
	quotas QuotaStore
	now    func() time.Time
}

// NewTokenIssuer creates a token issuer.
func NewTokenIssuer(cfg TokenConfig, quotas QuotaStore) *TokenIssuer {
	return &TokenIssuer{config: cfg, quotas: quotas, now: time.Now}
}

// DefaultTTL reports the lifetime applied when IssueOptions leaves TTL unset.
func (t *TokenIssuer) DefaultTTL() time.Duration {
	return t.config.DefaultTTL
}

// DefaultMaxDownloads reports the budget applied when IssueOptions leaves
// MaxDownloads unset.
func (t *TokenIssuer) DefaultMaxDownloads() int {
	return t.config.MaxDownloads
}

// IssueOptions narrows a token beyond the defaults.
type IssueOptions struct {
	TTL          time.Duration
	MaxDownloads int
	AllowedIPs   []string
	Contact      string
}

// Issue creates a signed token for one payment reference and registers its
// download budget.
func (t *TokenIssuer) Issue(ctx context.Context, reference string, opts IssueOptions) (string, time.Time, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = t.config.DefaultTTL
	}
	maxDownloads := opts.MaxDownloads
	if maxDownloads <= 0 {
		maxDownloads = t.config.MaxDownloads
	}

	now := t.now()
	expiresAt := now.Add(ttl)
	claims := TokenClaims{
		Reference:    reference,
		MaxDownloads: maxDownloads,
		AllowedIPs:   opts.AllowedIPs,
		Contact:      opts.Contact,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.config.SigningKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing download token: %w", err)
	}

	if err := t.quotas.Ensure(ctx, claims.ID, maxDownloads); err != nil {
		return "", time.Time{}, fmt.Errorf("registering download quota: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry, reference binding and IP restriction.
// It does not consume quota; call Consume once the download succeeds.
func (t *TokenIssuer) Verify(tokenString, reference, clientIP string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return []byte(t.config.SigningKey), nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || claims.Reference == "" {
		return nil, ErrTokenInvalid
	}
	if claims.Reference != reference {
		return nil, ErrTokenInvalid
	}
	if len(claims.AllowedIPs) > 0 {
		allowed := false
		for _, ip := range claims.AllowedIPs {
			if ip == clientIP {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, ErrIPNotAllowed
		}
	}
	return claims, nil
}

// CheckQuota reports whether the token has downloads left without spending
// one. It runs with the other token checks so an exhausted link is refused
// before any record lookup or rendering.
func (t *TokenIssuer) CheckQuota(ctx context.Context, claims *TokenClaims) error {
	remaining, err := t.quotas.Remaining(ctx, claims.ID)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		return ErrQuotaExhausted
	}
	return nil
}

// Consume spends one download from the token's budget.
func (t *TokenIssuer) Consume(ctx context.Context, claims *TokenClaims) (int, error) {
	return t.quotas.Consume(ctx, claims.ID)
}

// PostgresQuotaStore persists download budgets.
type PostgresQuotaStore struct {
	db *database.DB
}

// NewPostgresQuotaStore creates a quota store.
func NewPostgresQuotaStore(db *database.DB) *PostgresQuotaStore {
	return &PostgresQuotaStore{db: db}
}

var _ QuotaStore = (*PostgresQuotaStore)(nil)

// Ensure registers the token budget once; replays are no-ops.
func (s *PostgresQuotaStore) Ensure(ctx context.Context, tokenID string, maxDownloads int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO download_tokens (id, remaining_downloads, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, tokenID, maxDownloads, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting download token: %w", err)
	}
	return nil
}

// Remaining reports the unspent budget. A missing row counts as exhausted.
func (s *PostgresQuotaStore) Remaining(ctx context.Context, tokenID string) (int, error) {
	var remaining int
	err := s.db.QueryRow(ctx, `
		SELECT remaining_downloads FROM download_tokens WHERE id = $1
	`, tokenID).Scan(&remaining)
	if err != nil {
		if database.IsNotFound(err) {
			return 0, ErrQuotaExhausted
		}
		return 0, fmt.Errorf("reading download quota: %w", err)
	}
	return remaining, nil
}

// Consume decrements the budget in a single statement so concurrent downloads
// cannot overspend it.
func (s *PostgresQuotaStore) Consume(ctx context.Context, tokenID string) (int, error) {
	var remaining int
	err := s.db.QueryRow(ctx, `
		UPDATE download_tokens
		SET remaining_downloads = remaining_downloads - 1
		WHERE id = $1 AND remaining_downloads > 0
		RETURNING remaining_downloads
	`, tokenID).Scan(&remaining)
	if err != nil {
		if database.IsNotFound(err) {
			return 0, ErrQuotaExhausted
		}
		return 0, fmt.Errorf("consuming download quota: %w", err)
	}
	return remaining, nil
}
