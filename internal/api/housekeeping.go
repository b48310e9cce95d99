package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/notify"
	"github.com/zulandar/heraldo/internal/session"
	"github.com/zulandar/heraldo/internal/store"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TotalsReader aggregates a day's sends per tenant.
type TotalsReader interface {
	DailyTotals(ctx context.Context, day time.Time) ([]store.DayTotal, error)
}

// HousekeeperOpts configures the periodic session sweep and daily digest.
type HousekeeperOpts struct {
	Sessions  *session.Registry
	IdleTTL   time.Duration
	SweepCron string

	Totals     TotalsReader     // optional; digest is off without it
	Notifier   *notify.Notifier // optional
	DigestCron string           // empty disables the digest

	Location *time.Location
	Log      zerolog.Logger
	Now      func() time.Time
}

// Housekeeper runs background maintenance on cron schedules.
type Housekeeper struct {
	sessions *session.Registry
	idleTTL  time.Duration
	totals   TotalsReader
	notifier *notify.Notifier
	log      zerolog.Logger
	now      func() time.Time

	cron *cron.Cron
}

// NewHousekeeper validates opts and registers the schedules. Nothing runs
// until Start.
func NewHousekeeper(opts HousekeeperOpts) (*Housekeeper, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("api: housekeeper: sessions is required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Housekeeper{
		sessions: opts.Sessions,
		idleTTL:  opts.IdleTTL,
		totals:   opts.Totals,
		notifier: opts.Notifier,
		log:      opts.Log,
		now:      opts.Now,
		cron:     cron.New(cron.WithParser(cronParser), cron.WithLocation(opts.Location)),
	}

	if opts.SweepCron != "" && opts.IdleTTL > 0 {
		if _, err := h.cron.AddFunc(opts.SweepCron, func() { h.SweepIdle() }); err != nil {
			return nil, fmt.Errorf("api: housekeeper: sweep schedule %q: %w", opts.SweepCron, err)
		}
	}
	if opts.DigestCron != "" && h.totals != nil && h.notifier.Enabled() {
		if _, err := h.cron.AddFunc(opts.DigestCron, h.runDigest); err != nil {
			return nil, fmt.Errorf("api: housekeeper: digest schedule %q: %w", opts.DigestCron, err)
		}
	}
	return h, nil
}

// Jobs reports how many schedules are registered.
func (h *Housekeeper) Jobs() int { return len(h.cron.Entries()) }

// Start begins running the schedules in the background.
func (h *Housekeeper) Start() { h.cron.Start() }

// Stop halts the scheduler and waits for a running job to finish or ctx to
// expire.
func (h *Housekeeper) Stop(ctx context.Context) {
	done := h.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// SweepIdle forgets sessions that have had no client for longer than the
// idle TTL.
func (h *Housekeeper) SweepIdle() []string {
	return h.sessions.SweepIdle(h.idleTTL)
}

func (h *Housekeeper) runDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := h.SendDigest(ctx); err != nil {
		h.log.Warn().Err(err).Msg("daily digest failed")
	}
}

// SendDigest posts today's per-tenant totals to the configured notifiers.
func (h *Housekeeper) SendDigest(ctx context.Context) error {
	if h.totals == nil {
		return nil
	}
	day := h.now()
	rows, err := h.totals.DailyTotals(ctx, day)
	if err != nil {
		return fmt.Errorf("api: digest: %w", err)
	}
	totals := make([]notify.TenantTotal, len(rows))
	for i, r := range rows {
		totals[i] = notify.TenantTotal{TenantID: r.TenantID, Sent: r.Sent, Failed: r.Failed, Skipped: r.Skipped}
	}
	return h.notifier.Digest(ctx, day, totals)
}
