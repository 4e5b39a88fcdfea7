package receipt

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"conventionhub/internal/booking"
	"conventionhub/internal/common/money"
	"conventionhub/internal/qr"
)

func newTestRenderer() *Renderer {
	issuer := qr.NewIssuer(qr.Config{SigningKey: "render-test-key"})
	return NewRenderer(issuer.RenderPNG)
}

func sampleData() *Data {
	return &Data{
		ServiceType:      "dinner",
		Description:      "Gala Dinner Reservation",
		PaymentReference: "DINNER_1234567890123_2348012345678",
		Amount:           money.New(100_000_00, money.NGN),
		Status:           booking.StatusConfirmed,
		Date:             time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		AdditionalInfo:   "Guests: 2, Date: March 15, 2026",
		User: Party{
			FullName:    "Ada Obi",
			Email:       "ada@example.com",
			PhoneNumber: "+2348012345678",
		},
		QRCodes: []string{"code-one", "code-two"},
	}
}

func TestRenderHTML(t *testing.T) {
	out, err := newTestRenderer().RenderHTML(sampleData())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := string(out)
	for _, want := range []string{
		"DINNER_1234567890123_2348012345678",
		"Gala Dinner Reservation",
		"Ada Obi",
		"March 1, 2026",
		"Guests: 2",
		"data:image/png;base64,",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
	if got := strings.Count(html, "data:image/png;base64,"); got != 2 {
		t.Errorf("embedded %d codes, want 2", got)
	}
}

func TestRenderHTMLDeterministic(t *testing.T) {
	r := newTestRenderer()
	data := sampleData()

	first, err := r.RenderHTML(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := r.RenderHTML(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("html output differs between renders of the same data")
	}
}

func TestRenderPDF(t *testing.T) {
	out, err := newTestRenderer().RenderPDF(sampleData())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Error("output is not a PDF")
	}
}

func TestRenderPDFWithoutCodes(t *testing.T) {
	data := sampleData()
	data.QRCodes = nil

	out, err := newTestRenderer().RenderPDF(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Error("output is not a PDF")
	}
}

func TestFilename(t *testing.T) {
	data := sampleData()
	if got := Filename(data, "pdf"); got != "receipt_DINNER_1234567890123_2348012345678.pdf" {
		t.Errorf("filename = %q", got)
	}
}

func TestFormatMajor(t *testing.T) {
	cases := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{50, "0.50"},
		{100_000_00, "100,000.00"},
		{1_234_567_89, "1,234,567.89"},
		{-5000, "-50.00"},
	}
	for _, c := range cases {
		if got := formatMajor(c.minor); got != c.want {
			t.Errorf("formatMajor(%d) = %q, want %q", c.minor, got, c.want)
		}
	}
}
