package dispatch

import "strings"

// Rand is the subset of *math/rand.Rand the dispatcher draws from.
type Rand interface {
	Intn(n int) int
	Int63n(n int64) int64
}

// Personalizer prepends a random decoration to each message so
// consecutive sends are not byte-identical.
type Personalizer struct {
	decorations []string
	rng         Rand
}

// NewPersonalizer creates a Personalizer drawing from rng.
func NewPersonalizer(decorations []string, rng Rand) *Personalizer {
	return &Personalizer{decorations: decorations, rng: rng}
}

// Personalize returns "<decoration> <message>", or the trimmed message when
// no decorations are configured.
func (p *Personalizer) Personalize(message string) string {
	message = strings.TrimSpace(message)
	if len(p.decorations) == 0 {
		return message
	}
	return p.decorations[p.rng.Intn(len(p.decorations))] + " " + message
}
