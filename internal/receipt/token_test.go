package receipt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memQuotaStore struct {
	mu     sync.Mutex
	quotas map[string]int
}

func newMemQuotaStore() *memQuotaStore {
	return &memQuotaStore{quotas: map[string]int{}}
}

func (s *memQuotaStore) Ensure(_ context.Context, tokenID string, maxDownloads int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotas[tokenID]; !ok {
		s.quotas[tokenID] = maxDownloads
	}
	return nil
}

func (s *memQuotaStore) Remaining(_ context.Context, tokenID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas[tokenID], nil
}

func (s *memQuotaStore) Consume(_ context.Context, tokenID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining, ok := s.quotas[tokenID]
	if !ok || remaining <= 0 {
		return 0, ErrQuotaExhausted
	}
	s.quotas[tokenID] = remaining - 1
	return remaining - 1, nil
}

func newTestTokenIssuer(now time.Time) *TokenIssuer {
	iss := NewTokenIssuer(TokenConfig{
		SigningKey:   "test-token-key",
		DefaultTTL:   24 * time.Hour,
		MaxDownloads: 3,
	}, newMemQuotaStore())
	iss.now = func() time.Time { return now }
	return iss
}

func TestTokenIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestTokenIssuer(now)

	token, expiresAt, err := iss.Issue(context.Background(), "CONV_1234567890123_2348012345678", IssueOptions{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, now.Add(24*time.Hour))
	}

	claims, err := iss.Verify(token, "CONV_1234567890123_2348012345678", "10.0.0.1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.MaxDownloads != 3 {
		t.Errorf("maxDownloads = %d, want 3", claims.MaxDownloads)
	}
}

func TestTokenVerifyWrongReference(t *testing.T) {
	now := time.Now()
	iss := newTestTokenIssuer(now)

	token, _, err := iss.Issue(context.Background(), "CONV_1234567890123_2348012345678", IssueOptions{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := iss.Verify(token, "DINNER_1234567890123_2348012345678", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenVerifyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestTokenIssuer(now)

	token, _, err := iss.Issue(context.Background(), "CONV_1234567890123_2348012345678", IssueOptions{TTL: time.Minute})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	iss.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := iss.Verify(token, "CONV_1234567890123_2348012345678", ""); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenVerifyGarbage(t *testing.T) {
	iss := newTestTokenIssuer(time.Now())
	if _, err := iss.Verify("not-a-token", "CONV_1234567890123_2348012345678", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenIPRestriction(t *testing.T) {
	now := time.Now()
	iss := newTestTokenIssuer(now)

	token, _, err := iss.Issue(context.Background(), "CONV_1234567890123_2348012345678", IssueOptions{
		AllowedIPs: []string{"10.0.0.1", "10.0.0.2"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := iss.Verify(token, "CONV_1234567890123_2348012345678", "10.0.0.2"); err != nil {
		t.Errorf("allowed ip rejected: %v", err)
	}
	if _, err := iss.Verify(token, "CONV_1234567890123_2348012345678", "192.168.1.1"); !errors.Is(err, ErrIPNotAllowed) {
		t.Errorf("err = %v, want ErrIPNotAllowed", err)
	}
}

func TestTokenQuotaExhaustion(t *testing.T) {
	now := time.Now()
	iss := newTestTokenIssuer(now)
	ctx := context.Background()

	token, _, err := iss.Issue(ctx, "CONV_1234567890123_2348012345678", IssueOptions{MaxDownloads: 2})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := iss.Verify(token, "CONV_1234567890123_2348012345678", "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if remaining, err := iss.Consume(ctx, claims); err != nil || remaining != 1 {
		t.Fatalf("first consume: remaining=%d err=%v", remaining, err)
	}
	if remaining, err := iss.Consume(ctx, claims); err != nil || remaining != 0 {
		t.Fatalf("second consume: remaining=%d err=%v", remaining, err)
	}
	if _, err := iss.Consume(ctx, claims); !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("err = %v, want ErrQuotaExhausted", err)
	}
}

func TestTokenCheckQuota(t *testing.T) {
	now := time.Now()
	iss := newTestTokenIssuer(now)
	ctx := context.Background()

	token, _, err := iss.Issue(ctx, "CONV_1234567890123_2348012345678", IssueOptions{MaxDownloads: 1})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := iss.Verify(token, "CONV_1234567890123_2348012345678", "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := iss.CheckQuota(ctx, claims); err != nil {
		t.Fatalf("fresh token refused: %v", err)
	}
	// The check never spends: the single download must still be available.
	if err := iss.CheckQuota(ctx, claims); err != nil {
		t.Fatalf("second check refused: %v", err)
	}
	if _, err := iss.Consume(ctx, claims); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := iss.CheckQuota(ctx, claims); !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("err = %v, want ErrQuotaExhausted", err)
	}
}
