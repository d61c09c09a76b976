package user

import "strings"

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// Stored emails and lookups both go through it, so uniqueness is
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
