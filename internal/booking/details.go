package booking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// describers render the kind-specific detail blob into the human free-text
// line shown on receipts.
var describers = map[Kind]func(raw json.RawMessage) string{
	KindDinner: func(raw json.RawMessage) string {
		var d DinnerDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return ""
		}
		parts := []string{fmt.Sprintf("Guests: %d", d.NumberOfGuests)}
		if d.Date != "" {
			if t, err := time.Parse(dateLayout, d.Date); err == nil {
				parts = append(parts, "Date: "+t.Format("January 2, 2006"))
			}
		}
		if d.DietaryRequirements != "" {
			parts = append(parts, "Dietary Requirements: "+d.DietaryRequirements)
		}
		return strings.Join(parts, ", ")
	},
	KindAccommodation: func(raw json.RawMessage) string {
		var d AccommodationDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return ""
		}
		return fmt.Sprintf("Room: %s, Check-in: %s, Check-out: %s, Nights: %d",
			d.AccommodationType, d.CheckInDate, d.CheckOutDate, d.Nights)
	},
	KindBrochure: func(raw json.RawMessage) string {
		var d BrochureDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return ""
		}
		return fmt.Sprintf("Copies: %d", d.Quantity)
	},
	KindGoodwill: func(raw json.RawMessage) string {
		var d GoodwillDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return ""
		}
		return "Message: " + d.Message
	},
}

// DescribeDetails returns the receipt free-text line for a record's details.
func DescribeDetails(kind Kind, raw json.RawMessage) string {
	if fn, ok := describers[kind]; ok {
		return fn(raw)
	}
	return ""
}

// QRExpiryOverride returns an explicit code expiry derived from the record's
// details. Accommodation codes expire at checkout; every other kind uses the
// registry lifetime.
func QRExpiryOverride(kind Kind, raw json.RawMessage) *time.Time {
	if kind != KindAccommodation {
		return nil
	}
	var d AccommodationDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil
	}
	checkOut, err := time.Parse(dateLayout, d.CheckOutDate)
	if err != nil {
		return nil
	}
	// End of checkout day
	expiry := checkOut.Add(24*time.Hour - time.Second)
	return &expiry
}
