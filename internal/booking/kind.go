// Package booking implements the payment-triggered fulfillment pipeline:
// request validation, pricing, pending record creation, gateway checkout
// initialization and webhook-driven confirmation.
package booking

import (
	"time"

	"conventionhub/internal/common/money"
)

// Kind is the category of bookable service.
type Kind string

const (
	KindConvention    Kind = "convention"
	KindDinner        Kind = "dinner"
	KindAccommodation Kind = "accommodation"
	KindBrochure      Kind = "brochure"
	KindGoodwill      Kind = "goodwill"
	KindDonation      Kind = "donation"
)

// Info describes one service kind. Adding a kind is an edit to the registry
// table below, not a new branch scattered across files.
type Info struct {
	Kind        Kind
	Table       string
	Prefix      string
	Description string
	QRLifetime  time.Duration
	// Issuable reports whether confirmed records of this kind carry
	// scannable codes. Goodwill messages and donations have nothing to
	// check in or collect.
	Issuable bool
}

// Price table, in kobo.
var (
	conventionFee   = money.New(20_000_00, money.NGN)
	dinnerPerGuest  = money.New(50_000_00, money.NGN)
	brochureUnit    = money.New(10_000_00, money.NGN)
	freeAmountFloor = money.New(1_000_00, money.NGN)

	accommodationNightly = map[string]money.Money{
		"standard": money.New(30_000_00, money.NGN),
		"premium":  money.New(50_000_00, money.NGN),
		"luxury":   money.New(80_000_00, money.NGN),
	}

	accommodationCapacity = map[string]int{
		"standard": 40,
		"premium":  25,
		"luxury":   10,
	}
)

// RoomCapacity returns how many rooms of a type exist.
func RoomCapacity(roomType string) int {
	return accommodationCapacity[roomType]
}

var registry = map[Kind]Info{
	KindConvention: {
		Kind:        KindConvention,
		Table:       "convention_registrations",
		Prefix:      "CONV",
		Description: "Convention Registration",
		QRLifetime:  365 * 24 * time.Hour,
		Issuable:    true,
	},
	KindDinner: {
		Kind:        KindDinner,
		Table:       "dinner_reservations",
		Prefix:      "DINNER",
		Description: "Gala Dinner Reservation",
		QRLifetime:  30 * 24 * time.Hour,
		Issuable:    true,
	},
	KindAccommodation: {
		Kind:        KindAccommodation,
		Table:       "accommodation_bookings",
		Prefix:      "ACCOM",
		Description: "Accommodation Booking",
		QRLifetime:  30 * 24 * time.Hour,
		Issuable:    true,
	},
	KindBrochure: {
		Kind:        KindBrochure,
		Table:       "brochure_orders",
		Prefix:      "BROCHURE",
		Description: "Brochure Order",
		QRLifetime:  90 * 24 * time.Hour,
		Issuable:    true,
	},
	KindGoodwill: {
		Kind:        KindGoodwill,
		Table:       "goodwill_messages",
		Prefix:      "GOODWILL",
		Description: "Goodwill Message",
		Issuable:    false,
	},
	KindDonation: {
		Kind:        KindDonation,
		Table:       "donations",
		Prefix:      "DONATION",
		Description: "Donation",
		Issuable:    false,
	},
}

// kindOrder fixes the scan order used when resolving a bare payment
// reference across collections.
var kindOrder = []Kind{
	KindConvention,
	KindDinner,
	KindAccommodation,
	KindBrochure,
	KindGoodwill,
	KindDonation,
}

// Lookup resolves a service type string to its registry entry.
func Lookup(serviceType string) (Info, bool) {
	info, ok := registry[Kind(serviceType)]
	return info, ok
}

// Kinds returns all kinds in the fixed resolution order.
func Kinds() []Kind {
	out := make([]Kind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// KindByPrefix resolves a reference prefix to its kind.
func KindByPrefix(prefix string) (Info, bool) {
	for _, k := range kindOrder {
		if registry[k].Prefix == prefix {
			return registry[k], true
		}
	}
	return Info{}, false
}
