package receipt

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const dateFormat = "January 2, 2006"

// Filename returns the download filename for a receipt.
func Filename(data *Data, format string) string {
	return fmt.Sprintf("receipt_%s.%s", data.PaymentReference, format)
}

var htmlTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Payment Receipt {{.PaymentReference}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 40px; color: #222; }
.receipt { max-width: 640px; margin: 0 auto; border: 1px solid #ddd; padding: 32px; }
h1 { font-size: 22px; margin-bottom: 4px; }
.section { margin-top: 24px; border-top: 1px solid #eee; padding-top: 16px; }
.row { margin: 6px 0; }
.label { color: #666; display: inline-block; width: 180px; }
.status { text-transform: uppercase; font-weight: bold; }
</style>
</head>
<body>
<div class="receipt">
<h1>Payment Receipt</h1>
<div class="section">
<div class="row"><span class="label">Service</span>{{.Description}}</div>
<div class="row"><span class="label">Reference</span>{{.PaymentReference}}</div>
<div class="row"><span class="label">Amount</span>{{.AmountDisplay}}</div>
<div class="row"><span class="label">Date</span>{{.DateDisplay}}</div>
<div class="row"><span class="label">Status</span><span class="status">{{.Status}}</span></div>
{{if .AdditionalInfo}}<div class="row"><span class="label">Details</span>{{.AdditionalInfo}}</div>{{end}}
</div>
<div class="section">
<div class="row"><span class="label">Name</span>{{.User.FullName}}</div>
<div class="row"><span class="label">Email</span>{{.User.Email}}</div>
<div class="row"><span class="label">Phone</span>{{.User.PhoneNumber}}</div>
</div>
{{if .QRImages}}
<div class="section">
<div class="row"><span class="label">Entry Codes</span></div>
{{range .QRImages}}<img src="data:image/png;base64,{{.}}" width="160" height="160" alt="entry code">{{end}}
</div>
{{end}}
</div>
</body>
</html>
`))

type htmlView struct {
	*Data
	AmountDisplay string
	DateDisplay   string
	QRImages      []string
}

// Renderer turns receipt data into HTML or PDF bytes. Output for the same
// data is deterministic so shareable responses are cacheable.
type Renderer struct {
	encodeQR func(code string) ([]byte, error)
}

// NewRenderer creates a renderer. encodeQR rasterizes a signed code into a
// PNG; production wiring passes the code issuer's RenderPNG.
func NewRenderer(encodeQR func(code string) ([]byte, error)) *Renderer {
	return &Renderer{encodeQR: encodeQR}
}

// RenderHTML renders a receipt as a standalone HTML page with embedded codes.
func (r *Renderer) RenderHTML(data *Data) ([]byte, error) {
	view := htmlView{
		Data:          data,
		AmountDisplay: data.Amount.String(),
		DateDisplay:   data.Date.Format(dateFormat),
	}
	for _, code := range data.QRCodes {
		png, err := r.encodeQR(code)
		if err != nil {
			return nil, fmt.Errorf("encoding qr image: %w", err)
		}
		view.QRImages = append(view.QRImages, base64.StdEncoding.EncodeToString(png))
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("rendering html receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPDF renders an A4 receipt with the entry codes embedded as images.
func (r *Renderer) RenderPDF(data *Data) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.Cell(0, 15, "PAYMENT RECEIPT")
	pdf.Ln(18)

	pdf.SetDrawColor(220, 220, 220)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(8)

	drawSection(pdf, "PAYMENT SUMMARY")
	pdf.SetFont("Helvetica", "", 12)
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(55, 8, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.MultiCell(0, 8, value, "", "L", false)
	}
	row("Service", data.Description)
	row("Reference", data.PaymentReference)
	// The currency glyph is outside gofpdf's core font set; spell the code.
	row("Amount", fmt.Sprintf("%s %s", data.Amount.Currency, formatMajor(data.Amount.AmountMinor)))
	row("Date", data.Date.Format(dateFormat))
	row("Status", strings.ToUpper(string(data.Status)))
	if data.AdditionalInfo != "" {
		row("Details", data.AdditionalInfo)
	}
	pdf.Ln(4)

	drawSection(pdf, "PAYER")
	row("Name", data.User.FullName)
	row("Email", data.User.Email)
	row("Phone", data.User.PhoneNumber)
	pdf.Ln(4)

	if len(data.QRCodes) > 0 {
		drawSection(pdf, "ENTRY CODES")
		pdf.SetFont("Helvetica", "I", 10)
		pdf.Cell(0, 6, "Present a code below at the venue for scanning.")
		pdf.Ln(10)

		x, y := 15.0, pdf.GetY()
		for i, code := range data.QRCodes {
			png, err := r.encodeQR(code)
			if err != nil {
				return nil, fmt.Errorf("encoding qr image: %w", err)
			}
			name := "qr" + strconv.Itoa(i)
			pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: "png"}, bytes.NewReader(png))

			if x+45 > 195 {
				x = 15
				y += 52
			}
			if y+45 > 270 {
				pdf.AddPage()
				y = pdf.GetY()
				x = 15
			}
			pdf.ImageOptions(name, x, y, 45, 0, false, gofpdf.ImageOptions{ImageType: "png"}, 0, "")
			if len(data.QRCodes) > 1 {
				pdf.SetXY(x, y+45)
				pdf.SetFont("Helvetica", "", 9)
				pdf.CellFormat(45, 5, fmt.Sprintf("Guest %d", i+1), "", 0, "C", false, 0, "")
			}
			x += 50
		}
		pdf.SetY(y + 52)
	}

	pdf.Line(15, 280, 195, 280)
	pdf.SetY(282)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, "This receipt was generated automatically and is valid without a signature.", "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering pdf receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSection(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(0, 9, title, "", 1, "L", true, 0, "")
	pdf.Ln(3)
}

// formatMajor renders minor units as a major-unit string with thousands
// separators, e.g. 5000000 -> "50,000.00".
func formatMajor(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	major := minor / 100
	cents := minor % 100

	digits := strconv.FormatInt(major, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := fmt.Sprintf("%s.%02d", b.String(), cents)
	if neg {
		return "-" + out
	}
	return out
}
