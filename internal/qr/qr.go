// Package qr issues and validates signed attendance codes. A code is a
// base64url JSON payload followed by a dot and an HMAC-SHA256 signature;
// scanners validate offline against the shared signing key.
package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
)

// Validation errors surfaced to scanning clients verbatim.
var (
	ErrInvalidFormat    = errors.New("Invalid QR code format")
	ErrMissingFields    = errors.New("Missing required QR code fields")
	ErrExpired          = errors.New("QR code has expired")
	ErrInvalidSignature = errors.New("Invalid QR code signature")
)

// Payload is the decoded content of a code.
type Payload struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	ValidUntil int64             `json:"valid_until"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Config holds code-signing configuration.
type Config struct {
	SigningKey string `envconfig:"QR_SIGNING_KEY" required:"true"`
	PNGSize    int    `envconfig:"QR_PNG_SIZE" default:"256"`
}

// Issuer signs and validates codes.
type Issuer struct {
	key     []byte
	pngSize int
	now     func() time.Time
}

// NewIssuer creates an issuer from config.
func NewIssuer(cfg Config) *Issuer {
	size := cfg.PNGSize
	if size <= 0 {
		size = 256
	}
	return &Issuer{
		key:     []byte(cfg.SigningKey),
		pngSize: size,
		now:     time.Now,
	}
}

// Issue creates a signed code for one seat of a record. validUntil is the
// explicit expiry; pass the registry lifetime added to now, or a detail-derived
// override such as an accommodation checkout date.
func (i *Issuer) Issue(serviceType, recordID, userID string, validUntil time.Time, metadata map[string]string) (string, error) {
	payload := Payload{
		Type:       serviceType,
		ID:         recordID,
		UserID:     userID,
		ValidUntil: validUntil.Unix(),
		Metadata:   metadata,
	}
	return i.encode(payload)
}

// IssueSeats creates one code per seat. Each carries a distinct seat number in
// its metadata so individual guests scan individually.
func (i *Issuer) IssueSeats(serviceType, recordID, userID string, seats int, validUntil time.Time, metadata map[string]string) ([]string, error) {
	codes := make([]string, 0, seats)
	for seat := 1; seat <= seats; seat++ {
		md := make(map[string]string, len(metadata)+1)
		for k, v := range metadata {
			md[k] = v
		}
		if seats > 1 {
			md["seat"] = strconv.Itoa(seat)
		}
		code, err := i.Issue(serviceType, recordID, userID, validUntil, md)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// Validate checks a scanned code's structure, signature and expiry and
// returns its payload.
func (i *Issuer) Validate(raw string) (*Payload, error) {
	payload, err := i.decode(raw)
	if err != nil {
		return nil, err
	}
	if i.now().Unix() > payload.ValidUntil {
		return nil, ErrExpired
	}
	return payload, nil
}

// Regenerate reissues a code with a fresh expiry, tolerating an expired
// original. The signature must still verify; a tampered code cannot be
// regenerated.
func (i *Issuer) Regenerate(raw string, validUntil time.Time) (string, error) {
	payload, err := i.decode(raw)
	if err != nil {
		return "", err
	}
	payload.ValidUntil = validUntil.Unix()
	return i.encode(*payload)
}

// RenderPNG rasterizes a code for embedding in receipts.
func (i *Issuer) RenderPNG(code string) ([]byte, error) {
	return qrcode.Encode(code, qrcode.Medium, i.pngSize)
}

// Hash returns a stable digest of a code for audit rows. Raw codes are never
// written to the audit trail.
func Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (i *Issuer) encode(payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + i.sign(encoded), nil
}

func (i *Issuer) decode(raw string) (*Payload, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrInvalidFormat
	}
	if !hmac.Equal([]byte(i.sign(parts[0])), []byte(parts[1])) {
		return nil, ErrInvalidSignature
	}

	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidFormat
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrInvalidFormat
	}
	if payload.Type == "" || payload.ID == "" || payload.UserID == "" || payload.ValidUntil == 0 {
		return nil, ErrMissingFields
	}
	return &payload, nil
}

func (i *Issuer) sign(encoded string) string {
	mac := hmac.New(sha256.New, i.key)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

