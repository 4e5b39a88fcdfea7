package booking

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// referencePattern matches <PREFIX>_<unixMillis>_<phone>.
var referencePattern = regexp.MustCompile(`^[A-Z]+_\d{12,14}_\d{7,15}$`)

// NewReference derives the payment reference joining a pending booking to its
// eventual confirmation: service prefix, creation timestamp and the payer's
// phone number.
func NewReference(info Info, phone string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", info.Prefix, now.UnixMilli(), sanitizePhone(phone))
}

func sanitizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidReference reports whether raw is a structurally plausible payment
// reference. Used to reject junk before any store lookup.
func ValidReference(raw string) bool {
	return referencePattern.MatchString(raw)
}

// KindFromReference resolves the owning service kind from a reference prefix.
func KindFromReference(raw string) (Info, bool) {
	idx := strings.IndexByte(raw, '_')
	if idx <= 0 {
		return Info{}, false
	}
	return KindByPrefix(raw[:idx])
}
