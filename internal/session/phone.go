package session

import (
	"regexp"
	"strings"
)

var phoneShape = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone strips common separators and checks the E.164-ish shape:
// an optional leading plus and 7 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	p := phoneSeparators.Replace(strings.TrimSpace(raw))
	if !phoneShape.MatchString(p) {
		return "", ErrInvalidPhone
	}
	return p, nil
}
