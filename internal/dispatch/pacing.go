package dispatch

import (
	"sort"
	"time"
)

// Tier pauses for Pause after every Every-th contact.
type Tier struct {
	Every int
	Pause time.Duration
}

// Pacer picks the delay between consecutive contacts.
type Pacer struct {
	tiers     []Tier
	jitterMin time.Duration
	jitterMax time.Duration
	rng       Rand
}

// NewPacer creates a Pacer. Tiers are checked from the largest Every down,
// so with 10/25/50 the 50th contact gets the 50 pause.
func NewPacer(tiers []Tier, jitterMin, jitterMax time.Duration, rng Rand) *Pacer {
	ts := append([]Tier(nil), tiers...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Every > ts[j].Every })
	return &Pacer{tiers: ts, jitterMin: jitterMin, jitterMax: jitterMax, rng: rng}
}

// Delay returns the pause after the contact at 1-based position index.
func (p *Pacer) Delay(index int) time.Duration {
	for _, t := range p.tiers {
		if t.Every > 0 && index%t.Every == 0 {
			return t.Pause
		}
	}
	span := p.jitterMax - p.jitterMin
	if span <= 0 {
		return p.jitterMin
	}
	return p.jitterMin + time.Duration(p.rng.Int63n(int64(span)))
}
