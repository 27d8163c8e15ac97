// Package phone holds the canonical phone-number normalization used for
// contact uniqueness and call-history name resolution, plus a separate
// display-only formatter. The two are intentionally distinct: Normalize
// produces the match key, FormatDisplay produces what the UI renders.
package phone

import (
	"fmt"
	"strings"
	"unicode"
)

// Normalize reduces a phone number to its canonical comparison key:
// all non-digit characters are stripped, and a leading US country code "1"
// is dropped when the digit count is exactly 11. Ten-digit numbers are kept
// as-is; any other length passes through digit-stripped but otherwise
// unchanged. Normalize is idempotent.
func Normalize(number string) string {
	digits := stripNonDigits(number)
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// Matches reports whether two phone numbers normalize to the same key.
// Empty numbers never match anything, including each other.
func Matches(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}

// FormatDisplay renders a phone number for display. Ten-digit numbers become
// "AAA-BBB-CCCC"; eleven-digit numbers with a leading "1" become
// "+1 (AAA) BBB-CCCC". Anything else is returned unchanged. The output is
// never a valid match key; use Normalize for comparisons.
func FormatDisplay(number string) string {
	digits := stripNonDigits(number)
	switch {
	case len(digits) == 10:
		return fmt.Sprintf("%s-%s-%s", digits[0:3], digits[3:6], digits[6:10])
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("+1 (%s) %s-%s", digits[1:4], digits[4:7], digits[7:11])
	default:
		return number
	}
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) && r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
