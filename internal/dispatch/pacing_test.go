package dispatch

import (
	"context"
	"testing"
	"time"
)

// seqRand returns its values in turn.
type seqRand struct {
	vals []int64
	i    int
}

func (s *seqRand) Intn(n int) int { return int(s.Int63n(int64(n))) }

func (s *seqRand) Int63n(n int64) int64 {
	v := s.vals[s.i%len(s.vals)] % n
	s.i++
	return v
}

func defaultTiers() []Tier {
	return []Tier{
		{Every: 10, Pause: time.Minute},
		{Every: 50, Pause: 5 * time.Minute},
		{Every: 25, Pause: 2 * time.Minute},
	}
}

func TestPacer_Tiers(t *testing.T) {
	p := NewPacer(defaultTiers(), 8*time.Second, 15*time.Second, fixedRand{})
	tests := []struct {
		index int
		want  time.Duration
	}{
		{1, 8 * time.Second},
		{9, 8 * time.Second},
		{10, time.Minute},
		{20, time.Minute},
		{25, 2 * time.Minute},
		{50, 5 * time.Minute},
		{75, 2 * time.Minute},
		{100, 5 * time.Minute},
		{110, time.Minute},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.index); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.index, got, tt.want)
		}
	}
}

func TestPacer_JitterRange(t *testing.T) {
	span := int64(7 * time.Second)
	rng := &seqRand{vals: []int64{0, span / 2, span - 1}}
	p := NewPacer(nil, 8*time.Second, 15*time.Second, rng)
	for i := 1; i <= 3; i++ {
		d := p.Delay(i)
		if d < 8*time.Second || d >= 15*time.Second {
			t.Errorf("Delay(%d) = %v, want in [8s, 15s)", i, d)
		}
	}
}

func TestPacer_NoSpan(t *testing.T) {
	p := NewPacer(nil, 2*time.Second, 2*time.Second, fixedRand{})
	if got := p.Delay(3); got != 2*time.Second {
		t.Errorf("Delay = %v, want 2s", got)
	}
}

func TestPacer_DoesNotMutateTiers(t *testing.T) {
	tiers := defaultTiers()
	NewPacer(tiers, 0, 0, fixedRand{})
	if tiers[0].Every != 10 {
		t.Errorf("tiers reordered in place: %+v", tiers)
	}
}

func TestPersonalize(t *testing.T) {
	p := NewPersonalizer([]string{"👋", "✨"}, &seqRand{vals: []int64{1}})
	if got := p.Personalize("  Hola  "); got != "✨ Hola" {
		t.Errorf("Personalize = %q, want %q", got, "✨ Hola")
	}
	plain := NewPersonalizer(nil, fixedRand{})
	if got := plain.Personalize(" Hola "); got != "Hola" {
		t.Errorf("Personalize = %q, want %q", got, "Hola")
	}
}

func TestTimerSleeper(t *testing.T) {
	var s TimerSleeper
	if err := s.Sleep(t.Context(), time.Millisecond); err != nil {
		t.Errorf("Sleep = %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	start := time.Now()
	if err := s.Sleep(ctx, time.Hour); err == nil {
		t.Error("Sleep on cancelled context should fail")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on cancel")
	}
}
