package dispatch

import (
	"time"

	"github.com/zulandar/heraldo/internal/config"
)

// Policy is the tunable behaviour of the send loop. A job copies the policy
// in effect when it is submitted; later changes apply to the next job.
type Policy struct {
	Probe           bool
	RetryAttempts   int
	RetryPause      time.Duration
	Tiers           []Tier
	JitterMin       time.Duration
	JitterMax       time.Duration
	Decorations     []string
	AutoLogout      bool
	AutoLogoutGrace time.Duration
	MaxImageBytes   int
	Suffix          string
	CountryCodes    map[int]string
}

// PolicyFromConfig builds a Policy from a loaded config. cfg must have had
// its defaults applied.
func PolicyFromConfig(cfg *config.Config) Policy {
	d := cfg.Dispatch
	tiers := make([]Tier, len(d.Pacing.Tiers))
	for i, t := range d.Pacing.Tiers {
		tiers[i] = Tier{Every: t.Every, Pause: t.Pause}
	}
	codes := make(map[int]string, len(cfg.Normalize.CountryCodes))
	for k, v := range cfg.Normalize.CountryCodes {
		codes[k] = v
	}
	return Policy{
		Probe:           d.Probe == nil || *d.Probe,
		RetryAttempts:   d.Retry.Attempts,
		RetryPause:      d.Retry.Pause,
		Tiers:           tiers,
		JitterMin:       d.Pacing.JitterMin,
		JitterMax:       d.Pacing.JitterMax,
		Decorations:     append([]string(nil), d.Decorations...),
		AutoLogout:      d.AutoLogout.Enabled == nil || *d.AutoLogout.Enabled,
		AutoLogoutGrace: d.AutoLogout.Grace,
		MaxImageBytes:   d.MaxImageBytes,
		Suffix:          cfg.Normalize.Suffix,
		CountryCodes:    codes,
	}
}

// DefaultPolicy returns the policy of a config with every default applied.
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.Default())
}
