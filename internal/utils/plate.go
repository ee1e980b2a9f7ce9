package utils

import "strings"

// NormalizePlate upper-cases the plate and drops everything that is not a
// latin letter or a digit, so "abc-1234" and "ABC 1234" map to "ABC1234".
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range strings.ToUpper(plate) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
