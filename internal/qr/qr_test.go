package qr

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestIssuer(now time.Time) *Issuer {
	iss := NewIssuer(Config{SigningKey: "test-signing-key", PNGSize: 256})
	iss.now = func() time.Time { return now }
	return iss
}

func TestIssueAndValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(now)

	code, err := iss.Issue("dinner", "rec-1", "user-1", now.Add(30*24*time.Hour), map[string]string{"seat": "2"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	payload, err := iss.Validate(code)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if payload.Type != "dinner" || payload.ID != "rec-1" || payload.UserID != "user-1" {
		t.Errorf("payload mismatch: %+v", payload)
	}
	if payload.Metadata["seat"] != "2" {
		t.Errorf("metadata seat = %q, want 2", payload.Metadata["seat"])
	}
}

func TestValidateExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(now)

	code, err := iss.Issue("convention", "rec-1", "user-1", now.Add(-time.Hour), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := iss.Validate(code); !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestValidateTampered(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(now)

	code, err := iss.Issue("convention", "rec-1", "user-1", now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(code, ".")
	tampered := parts[0] + "x." + parts[1]
	if _, err := iss.Validate(tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestValidateMalformed(t *testing.T) {
	iss := newTestIssuer(time.Now())

	for _, raw := range []string{"", "no-dot", "a.b.c", ".sig", "body."} {
		if _, err := iss.Validate(raw); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Validate(%q) err = %v, want ErrInvalidFormat", raw, err)
		}
	}
}

func TestValidateWrongKey(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(now)
	other := NewIssuer(Config{SigningKey: "different-key"})
	other.now = func() time.Time { return now }

	code, err := iss.Issue("convention", "rec-1", "user-1", now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := other.Validate(code); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestRegenerateExpiredCode(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(now)

	expired, err := iss.Issue("dinner", "rec-1", "user-1", now.Add(-time.Hour), nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := iss.Validate(expired); !errors.Is(err, ErrExpired) {
		t.Fatalf("precondition: code should be expired, got %v", err)
	}

	fresh, err := iss.Regenerate(expired, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	payload, err := iss.Validate(fresh)
	if err != nil {
		t.Fatalf("validate regenerated: %v", err)
	}
	if payload.ID != "rec-1" {
		t.Errorf("regenerated payload id = %q, want rec-1", payload.ID)
	}
}

func TestRegenerateRejectsTampered(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(now)

	code, _ := iss.Issue("dinner", "rec-1", "user-1", now.Add(time.Hour), nil)
	parts := strings.Split(code, ".")
	if _, err := iss.Regenerate(parts[0]+"x."+parts[1], now.Add(time.Hour)); err == nil {
		t.Error("expected error regenerating tampered code")
	}
}

func TestIssueSeats(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(now)

	codes, err := iss.IssueSeats("dinner", "rec-1", "user-1", 3, now.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("issue seats: %v", err)
	}
	if len(codes) != 3 {
		t.Fatalf("len(codes) = %d, want 3", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if seen[c] {
			t.Error("duplicate seat code issued")
		}
		seen[c] = true
		payload, err := iss.Validate(c)
		if err != nil {
			t.Fatalf("validate seat code: %v", err)
		}
		if payload.Metadata["seat"] == "" {
			t.Error("seat metadata missing")
		}
	}
}

func TestRenderPNG(t *testing.T) {
	iss := newTestIssuer(time.Now())
	code, _ := iss.Issue("convention", "rec-1", "user-1", time.Now().Add(time.Hour), nil)

	png, err := iss.RenderPNG(code)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Error("output is not a PNG")
	}
}
