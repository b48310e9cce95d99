package dispatch

import (
	"strings"

	"github.com/zulandar/heraldo/internal/apperr"
)

// Normalizer turns raw phone numbers into transport addresses: digits only,
// a country code prefixed when the digit count matches a table entry, then
// the domain suffix.
type Normalizer struct {
	suffix string
	codes  map[int]string
}

// NewNormalizer creates a Normalizer. The codes map is copied.
func NewNormalizer(suffix string, codes map[int]string) *Normalizer {
	cp := make(map[int]string, len(codes))
	for k, v := range codes {
		cp[k] = v
	}
	return &Normalizer{suffix: suffix, codes: cp}
}

// Digits strips everything but ASCII digits from raw.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns the address for raw. Addresses already carrying the
// suffix normalize to themselves.
func (n *Normalizer) Normalize(raw string) (string, error) {
	local, _, _ := strings.Cut(raw, "@")
	digits := Digits(local)
	if digits == "" {
		return "", apperr.Validationf("dispatch.Normalize", "contact %q has no digits", raw)
	}
	if code, ok := n.codes[len(digits)]; ok {
		digits = code + digits
	}
	return digits + n.suffix, nil
}
