package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"conventionhub/internal/booking"
	"conventionhub/internal/common/database"
	"conventionhub/internal/common/money"
	"conventionhub/internal/gateway"
	"conventionhub/internal/user"
)

const webhookSecret = "test-webhook-secret"

type memStore struct {
	records map[string]*booking.ServiceRecord
}

func (s *memStore) Create(_ context.Context, r *booking.ServiceRecord) error {
	clone := *r
	s.records[r.PaymentReference] = &clone
	return nil
}

func (s *memStore) GetByReference(_ context.Context, kind booking.Kind, reference string) (*booking.ServiceRecord, error) {
	r, ok := s.records[reference]
	if !ok || r.Kind != kind {
		return nil, database.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *memStore) FindByReference(_ context.Context, reference string) (*booking.ServiceRecord, error) {
	r, ok := s.records[reference]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *memStore) Update(_ context.Context, r *booking.ServiceRecord) error {
	clone := *r
	s.records[r.PaymentReference] = &clone
	return nil
}

func (s *memStore) List(_ context.Context, kind booking.Kind, page, limit int, confirmed *bool) ([]*booking.ServiceRecord, int64, error) {
	var out []*booking.ServiceRecord
	for _, r := range s.records {
		if r.Kind == kind {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, int64(len(out)), nil
}

func (s *memStore) CountOverlappingStays(context.Context, string, string, string) (int, error) {
	return 0, nil
}

type memUsers struct {
	users map[string]*user.User
}

func (s *memUsers) ResolveOrCreate(_ context.Context, fullName, email, phone string) (*user.User, error) {
	u := &user.User{ID: "user-" + email, FullName: fullName, Email: email, PhoneNumber: phone}
	s.users[u.ID] = u
	return u, nil
}

func (s *memUsers) Get(_ context.Context, id string) (*user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return u, nil
}

type stubGateway struct {
	amounts    map[string]int64
	verifyErrs []error
}

func (g *stubGateway) Initialize(_ context.Context, amount money.Money, _, reference string) (*gateway.Authorization, error) {
	g.amounts[reference] = amount.AmountMinor
	return &gateway.Authorization{
		AuthorizationURL: "https://checkout.example.com/" + reference,
		Reference:        reference,
	}, nil
}

func (g *stubGateway) Verify(_ context.Context, reference string) (*gateway.Verification, error) {
	if len(g.verifyErrs) > 0 {
		err := g.verifyErrs[0]
		g.verifyErrs = g.verifyErrs[1:]
		return nil, err
	}
	return &gateway.Verification{Status: "success", AmountMinor: g.amounts[reference]}, nil
}

type stubCodes struct{}

func (stubCodes) IssueSeats(serviceType, recordID, userID string, seats int, _ time.Time, _ map[string]string) ([]string, error) {
	codes := make([]string, seats)
	for i := range codes {
		codes[i] = fmt.Sprintf("code-%d", i+1)
	}
	return codes, nil
}

func (stubCodes) Regenerate(raw string, _ time.Time) (string, error) {
	return "fresh-" + raw, nil
}

type hmacVerifier struct{ secret string }

func (v hmacVerifier) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(v.secret))
	mac.Write(body)
	return hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(signature))
}

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestRouter(t *testing.T) (chi.Router, *memStore) {
	router, store, _ := newTestRouterWithGateway(t)
	return router, store
}

func newTestRouterWithGateway(t *testing.T) (chi.Router, *memStore, *stubGateway) {
	t.Helper()
	store := &memStore{records: map[string]*booking.ServiceRecord{}}
	users := &memUsers{users: map[string]*user.User{}}
	gw := &stubGateway{amounts: map[string]int64{}}
	svc := booking.NewService(store, users, gw, stubCodes{}, nil, nil, nil, slog.Default())

	r := chi.NewRouter()
	NewHandler(svc, slog.Default()).Routes(r)
	NewWebhookHandler(svc, hmacVerifier{secret: webhookSecret}, slog.Default()).Routes(r)
	return r, store, gw
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestCreateBookingEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	payload := []byte(`{"fullName":"Ada Obi","email":"ada@example.com","phoneNumber":"+2348012345678"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/convention", bytes.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Error("success should be true")
	}
	data := body["data"].(map[string]any)
	if data["paymentLink"] == "" || data["paymentReference"] == "" {
		t.Errorf("incomplete data: %v", data)
	}
	if len(store.records) != 1 {
		t.Error("pending record not persisted")
	}
}

func TestCreateBookingInvalidServiceType(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/spa", bytes.NewReader([]byte(`{}`))))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "Invalid service type" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestCreateBookingValidationMessage(t *testing.T) {
	router, _ := newTestRouter(t)

	payload := []byte(`{"fullName":"Ada Obi","email":"ada@example.com","phoneNumber":"+2348012345678","numberOfGuests":11,"guestDetails":[]}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/dinner", bytes.NewReader(payload)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "Number of guests must be between 1 and 10" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestCreateBookingAggregatedGuestErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	payload := []byte(`{
		"fullName":"Ada Obi","email":"ada@example.com","phoneNumber":"+2348012345678",
		"numberOfGuests":2,
		"guestDetails":[{"fullName":""},{"fullName":"Ok","email":"not-an-email"}]
	}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/dinner", bytes.NewReader(payload)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	errs, ok := body["errors"].([]any)
	if !ok || len(errs) != 2 {
		t.Fatalf("errors = %v, want two aggregated item errors", body["errors"])
	}
}

func TestCreateBookingMissingFields(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/convention", bytes.NewReader([]byte(`{"fullName":"Ada Obi"}`))))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "Please provide email, phoneNumber" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestListBookingsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	payload := []byte(`{"fullName":"Ada Obi","email":"ada@example.com","phoneNumber":"+2348012345678"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/convention", bytes.NewReader(payload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("setup create failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/booking/convention?page=1&limit=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	pagination := body["pagination"].(map[string]any)
	if pagination["totalItems"].(float64) != 1 {
		t.Errorf("totalItems = %v", pagination["totalItems"])
	}
	if pagination["currentPage"].(float64) != 1 {
		t.Errorf("currentPage = %v", pagination["currentPage"])
	}
}

func TestWebhookConfirmsBooking(t *testing.T) {
	router, store := newTestRouter(t)

	payload := []byte(`{"fullName":"Ada Obi","email":"ada@example.com","phoneNumber":"+2348012345678"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/convention", bytes.NewReader(payload)))
	created := decodeBody(t, rec)["data"].(map[string]any)
	reference := created["paymentReference"].(string)

	event, _ := json.Marshal(map[string]any{
		"event": "charge.success",
		"data":  map[string]any{"reference": reference},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(event))
	req.Header.Set("x-paystack-signature", sign(event))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	record := store.records[reference]
	if record.Status != booking.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", record.Status)
	}
	if len(record.QRCodes) != 1 {
		t.Errorf("qr codes = %d, want 1", len(record.QRCodes))
	}
}

func TestWebhookAsksRedeliveryOnTransientFailure(t *testing.T) {
	router, store, gw := newTestRouterWithGateway(t)

	payload := []byte(`{"fullName":"Ada Obi","email":"ada@example.com","phoneNumber":"+2348012345678"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/convention", bytes.NewReader(payload)))
	reference := decodeBody(t, rec)["data"].(map[string]any)["paymentReference"].(string)

	gw.verifyErrs = []error{fmt.Errorf("gateway error: status=502")}

	event, _ := json.Marshal(map[string]any{
		"event": "charge.success",
		"data":  map[string]any{"reference": reference},
	})
	deliver := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(event))
		req.Header.Set("x-paystack-signature", sign(event))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	// Verification fails transiently: the gateway must be told to redeliver
	// and the record must stay pending.
	if rec := deliver(); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 on transient failure", rec.Code)
	}
	if store.records[reference].Status != booking.StatusPending {
		t.Fatalf("status = %s, want pending after failed confirmation", store.records[reference].Status)
	}

	// The redelivered webhook completes the confirmation.
	if rec := deliver(); rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d body = %s", rec.Code, rec.Body.String())
	}
	if store.records[reference].Status != booking.StatusConfirmed {
		t.Errorf("status = %s, want confirmed after redelivery", store.records[reference].Status)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	router, _ := newTestRouter(t)

	event := []byte(`{"event":"charge.success","data":{"reference":"CONV_1234567890123_2348012345678"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(event))
	req.Header.Set("x-paystack-signature", "forged")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookAcksUnknownReference(t *testing.T) {
	router, _ := newTestRouter(t)

	event := []byte(`{"event":"charge.success","data":{"reference":"CONV_1234567890123_2348012345678"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(event))
	req.Header.Set("x-paystack-signature", sign(event))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Unknown references are acknowledged so the gateway stops redelivering.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	router, _ := newTestRouter(t)

	event := []byte(`{"event":"transfer.success","data":{"reference":"X"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(event))
	req.Header.Set("x-paystack-signature", sign(event))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	event := []byte(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(event))
	req.Header.Set("x-paystack-signature", sign(event))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
