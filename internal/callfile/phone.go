package callfile

import "strings"

// NormalizePhone brings a dialed number to canonical +7XXXXXXXXXX form.
// Trunk-prefixed numbers (8...) and bare 11-digit country-code numbers
// (7...) are rewritten; anything already prefixed or unrecognized passes
// through unchanged.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(phone, "8"):
		return "+7" + phone[1:]
	case strings.HasPrefix(phone, "7") && len(phone) == 11:
		return "+" + phone
	}
	return phone
}

// SamePhone compares two numbers after normalization, ignoring the leading +.
func SamePhone(a, b string) bool {
	return strings.TrimPrefix(NormalizePhone(a), "+") == strings.TrimPrefix(NormalizePhone(b), "+")
}
