package domain

import "strings"

const defaultCountryCode = "90"

// NormalizePhone strips everything but digits, adds the default country code to
// 10-digit national numbers and prefixes the result with "+". Input without any
// digit yields an empty string.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) == 10 && !strings.HasPrefix(digits, defaultCountryCode) {
		digits = defaultCountryCode + digits
	}
	return "+" + digits
}
