package domain

import "strings"

const (
	domesticPhoneDigits = 10
	// MinChatPhoneDigits is the shortest normalized number a chat channel accepts.
	MinChatPhoneDigits = domesticPhoneDigits
)

// NormalizePhone strips everything but digits and prefixes countryCode to a
// bare 10-digit domestic number.
func NormalizePhone(raw string, countryCode string) string {
	var b strings.Builder
	b.Grow(len(raw) + len(countryCode))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) == domesticPhoneDigits && countryCode != "" {
		return countryCode + digits
	}
	return digits
}

// IsChatCapablePhone reports whether raw normalizes to a number a chat channel can reach.
func IsChatCapablePhone(raw string) bool {
	return len(NormalizePhone(raw, "")) >= MinChatPhoneDigits
}
