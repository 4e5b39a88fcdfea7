package booking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"conventionhub/internal/common/money"
)

var validate = validator.New()

// ValidationError is a client-caused request error. Message is always
// actionable and field-referencing; Errors carries the aggregated per-item
// failures for list validations.
type ValidationError struct {
	Message string
	Errors  []string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// Contact identifies the payer.
type Contact struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

// Payer returns the payer contact. Embedding Contact gives every request
// type this accessor.
func (c Contact) Payer() Contact { return c }

// PersonDetail is one guest or brochure recipient.
type PersonDetail struct {
	FullName            string `json:"fullName"`
	Email               string `json:"email,omitempty"`
	PhoneNumber         string `json:"phoneNumber,omitempty"`
	DietaryRequirements string `json:"dietaryRequirements,omitempty"`
}

// Request is a decoded, kind-specific booking payload.
type Request interface {
	// Validate applies the ordered rules: field presence, range and
	// format constraints, then aggregated per-item checks.
	Validate(now time.Time) *ValidationError
	Payer() Contact
	// Price computes the total from the static price table. It is called
	// once at creation; the result is stored and never recomputed.
	Price() money.Money
	Details() (json.RawMessage, error)
}

// DecodeRequest parses a raw body into the kind's request type.
func DecodeRequest(kind Kind, body []byte) (Request, error) {
	var req Request
	switch kind {
	case KindConvention:
		req = &ConventionRequest{}
	case KindDinner:
		req = &DinnerRequest{}
	case KindAccommodation:
		req = &AccommodationRequest{}
	case KindBrochure:
		req = &BrochureRequest{}
	case KindGoodwill:
		req = &GoodwillRequest{}
	case KindDonation:
		req = &DonationRequest{}
	default:
		return nil, fmt.Errorf("unknown service type %q", kind)
	}
	if err := json.Unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("decoding %s request: %w", kind, err)
	}
	return req, nil
}

func requireFields(fields map[string]string) *ValidationError {
	var missing []string
	for _, name := range []string{
		"fullName", "email", "phoneNumber",
		"accommodationType", "checkInDate", "checkOutDate", "message",
	} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return invalid("Please provide " + strings.Join(missing, ", "))
	}
	return nil
}

func validateEmail(email string) bool {
	return validate.Var(email, "email") == nil
}

// validatePeople aggregates all item errors instead of failing on the first.
func validatePeople(label string, people []PersonDetail) []string {
	var errs []string
	for i, p := range people {
		if strings.TrimSpace(p.FullName) == "" {
			errs = append(errs, fmt.Sprintf("%s %d: full name is required", label, i+1))
		}
		if p.Email != "" && !validateEmail(p.Email) {
			errs = append(errs, fmt.Sprintf("%s %d: invalid email format", label, i+1))
		}
	}
	return errs
}

// --- Convention registration ---

type ConventionRequest struct {
	Contact
}

func (r *ConventionRequest) Validate(time.Time) *ValidationError {
	if err := requireFields(map[string]string{
		"fullName": r.FullName, "email": r.Email, "phoneNumber": r.PhoneNumber,
	}); err != nil {
		return err
	}
	if !validateEmail(r.Email) {
		return invalid("Invalid email format")
	}
	return nil
}

func (r *ConventionRequest) Price() money.Money { return conventionFee }

func (r *ConventionRequest) Details() (json.RawMessage, error) {
	return json.Marshal(struct{}{})
}

// --- Dinner reservation ---

type DinnerRequest struct {
	Contact
	NumberOfGuests      int            `json:"numberOfGuests"`
	GuestDetails        []PersonDetail `json:"guestDetails"`
	Date                string         `json:"date,omitempty"`
	DietaryRequirements string         `json:"dietaryRequirements,omitempty"`
}

// DinnerDetails is the persisted shape of a dinner reservation's specifics.
type DinnerDetails struct {
	NumberOfGuests      int            `json:"numberOfGuests"`
	GuestDetails        []PersonDetail `json:"guestDetails"`
	Date                string         `json:"date,omitempty"`
	DietaryRequirements string         `json:"dietaryRequirements,omitempty"`
}

func (r *DinnerRequest) Validate(time.Time) *ValidationError {
	if err := requireFields(map[string]string{
		"fullName": r.FullName, "email": r.Email, "phoneNumber": r.PhoneNumber,
	}); err != nil {
		return err
	}
	if !validateEmail(r.Email) {
		return invalid("Invalid email format")
	}
	if r.NumberOfGuests < 1 || r.NumberOfGuests > 10 {
		return invalid("Number of guests must be between 1 and 10")
	}
	if len(r.GuestDetails) != r.NumberOfGuests {
		return invalid("Number of guest details must match numberOfGuests")
	}
	if errs := validatePeople("Guest", r.GuestDetails); len(errs) > 0 {
		return &ValidationError{Message: "Invalid guest details", Errors: errs}
	}
	return nil
}

func (r *DinnerRequest) Price() money.Money {
	return dinnerPerGuest.Multiply(int64(r.NumberOfGuests))
}

func (r *DinnerRequest) Details() (json.RawMessage, error) {
	return json.Marshal(DinnerDetails{
		NumberOfGuests:      r.NumberOfGuests,
		GuestDetails:        r.GuestDetails,
		Date:                r.Date,
		DietaryRequirements: r.DietaryRequirements,
	})
}

// --- Accommodation booking ---

type AccommodationRequest struct {
	Contact
	AccommodationType string `json:"accommodationType"`
	CheckInDate       string `json:"checkInDate"`
	CheckOutDate      string `json:"checkOutDate"`
}

// AccommodationDetails is the persisted shape of an accommodation booking's
// specifics.
type AccommodationDetails struct {
	AccommodationType string `json:"accommodationType"`
	CheckInDate       string `json:"checkInDate"`
	CheckOutDate      string `json:"checkOutDate"`
	Nights            int    `json:"nights"`
}

const dateLayout = "2006-01-02"

func (r *AccommodationRequest) Validate(now time.Time) *ValidationError {
	if err := requireFields(map[string]string{
		"fullName": r.FullName, "email": r.Email, "phoneNumber": r.PhoneNumber,
		"accommodationType": r.AccommodationType,
		"checkInDate":       r.CheckInDate,
		"checkOutDate":      r.CheckOutDate,
	}); err != nil {
		return err
	}
	if !validateEmail(r.Email) {
		return invalid("Invalid email format")
	}
	if _, ok := accommodationNightly[r.AccommodationType]; !ok {
		return invalid("Accommodation type must be one of standard, premium, luxury")
	}
	checkIn, err := time.Parse(dateLayout, r.CheckInDate)
	if err != nil {
		return invalid("Invalid check-in date format")
	}
	checkOut, err := time.Parse(dateLayout, r.CheckOutDate)
	if err != nil {
		return invalid("Invalid check-out date format")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if checkIn.Before(today) {
		return invalid("Check-in date cannot be in the past")
	}
	if !checkOut.After(checkIn) {
		return invalid("Check-out date must be after check-in date")
	}
	return nil
}

// Nights returns the stay length. Valid requests always have at least one.
func (r *AccommodationRequest) Nights() int {
	checkIn, err1 := time.Parse(dateLayout, r.CheckInDate)
	checkOut, err2 := time.Parse(dateLayout, r.CheckOutDate)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(checkOut.Sub(checkIn).Hours() / 24)
}

func (r *AccommodationRequest) Price() money.Money {
	return accommodationNightly[r.AccommodationType].Multiply(int64(r.Nights()))
}

func (r *AccommodationRequest) Details() (json.RawMessage, error) {
	return json.Marshal(AccommodationDetails{
		AccommodationType: r.AccommodationType,
		CheckInDate:       r.CheckInDate,
		CheckOutDate:      r.CheckOutDate,
		Nights:            r.Nights(),
	})
}

// --- Brochure order ---

type BrochureRequest struct {
	Contact
	Quantity         int            `json:"quantity"`
	RecipientDetails []PersonDetail `json:"recipientDetails"`
}

// BrochureDetails is the persisted shape of a brochure order's specifics.
type BrochureDetails struct {
	Quantity         int            `json:"quantity"`
	RecipientDetails []PersonDetail `json:"recipientDetails"`
}

func (r *BrochureRequest) Validate(time.Time) *ValidationError {
	if err := requireFields(map[string]string{
		"fullName": r.FullName, "email": r.Email, "phoneNumber": r.PhoneNumber,
	}); err != nil {
		return err
	}
	if !validateEmail(r.Email) {
		return invalid("Invalid email format")
	}
	if r.Quantity < 1 || r.Quantity > 100 {
		return invalid("Quantity must be between 1 and 100")
	}
	if len(r.RecipientDetails) != r.Quantity {
		return invalid("Number of recipient details must match quantity")
	}
	if errs := validatePeople("Recipient", r.RecipientDetails); len(errs) > 0 {
		return &ValidationError{Message: "Invalid recipient details", Errors: errs}
	}
	return nil
}

func (r *BrochureRequest) Price() money.Money {
	return brochureUnit.Multiply(int64(r.Quantity))
}

func (r *BrochureRequest) Details() (json.RawMessage, error) {
	return json.Marshal(BrochureDetails{
		Quantity:         r.Quantity,
		RecipientDetails: r.RecipientDetails,
	})
}

// --- Goodwill message ---

type GoodwillRequest struct {
	Contact
	Message     string `json:"message"`
	AmountMinor int64  `json:"amount"`
}

// GoodwillDetails is the persisted shape of a goodwill message's specifics.
type GoodwillDetails struct {
	Message string `json:"message"`
}

func (r *GoodwillRequest) Validate(time.Time) *ValidationError {
	if err := requireFields(map[string]string{
		"fullName": r.FullName, "email": r.Email, "phoneNumber": r.PhoneNumber,
		"message": r.Message,
	}); err != nil {
		return err
	}
	if !validateEmail(r.Email) {
		return invalid("Invalid email format")
	}
	if r.AmountMinor < freeAmountFloor.AmountMinor {
		return invalid("Amount must be at least " + freeAmountFloor.String())
	}
	return nil
}

func (r *GoodwillRequest) Price() money.Money {
	return money.New(r.AmountMinor, money.NGN)
}

func (r *GoodwillRequest) Details() (json.RawMessage, error) {
	return json.Marshal(GoodwillDetails{Message: r.Message})
}

// --- Donation ---

type DonationRequest struct {
	Contact
	AmountMinor int64 `json:"amount"`
}

func (r *DonationRequest) Validate(time.Time) *ValidationError {
	if err := requireFields(map[string]string{
		"fullName": r.FullName, "email": r.Email, "phoneNumber": r.PhoneNumber,
	}); err != nil {
		return err
	}
	if !validateEmail(r.Email) {
		return invalid("Invalid email format")
	}
	if r.AmountMinor < freeAmountFloor.AmountMinor {
		return invalid("Amount must be at least " + freeAmountFloor.String())
	}
	return nil
}

func (r *DonationRequest) Price() money.Money {
	return money.New(r.AmountMinor, money.NGN)
}

func (r *DonationRequest) Details() (json.RawMessage, error) {
	return json.Marshal(struct{}{})
}
