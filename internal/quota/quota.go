// Package quota enforces each tenant's daily send limit.
package quota

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/apperr"
	"github.com/zulandar/heraldo/internal/store"
)

// Reader reports a tenant's current-day usage and limit.
type Reader interface {
	DailyQuota(ctx context.Context, tenantID string) (store.Quota, error)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Admitted   bool `json:"admitted"`
	SentToday  int  `json:"sentToday"`
	DailyLimit int  `json:"dailyLimit"`
	Remaining  int  `json:"remaining"`
}

// Guard admits or rejects jobs against the daily limit. Usage is read from
// the store on every call and never cached.
type Guard struct {
	reader Reader
	log    zerolog.Logger
}

// NewGuard creates a Guard.
func NewGuard(reader Reader, log zerolog.Logger) (*Guard, error) {
	if reader == nil {
		return nil, fmt.Errorf("quota: reader is required")
	}
	return &Guard{reader: reader, log: log}, nil
}

// CheckAndReserve admits count more sends iff sentToday+count <= limit.
// Rejections return an apperr.QuotaExceeded error carrying the remaining
// allowance. A store failure rejects the job.
func (g *Guard) CheckAndReserve(ctx context.Context, tenantID string, count int) (Decision, error) {
	q, err := g.reader.DailyQuota(ctx, tenantID)
	if err != nil {
		g.log.Error().Err(err).Str("tenant", tenantID).Msg("quota read failed; rejecting job")
		if apperr.KindOf(err) == apperr.Persistence {
			return Decision{}, err
		}
		return Decision{}, apperr.Wrap(apperr.Persistence, "quota.CheckAndReserve", "could not read quota", err)
	}

	d := Decision{
		SentToday:  q.SentToday,
		DailyLimit: q.DailyLimit,
		Remaining:  max(q.DailyLimit-q.SentToday, 0),
	}
	if q.SentToday+count > q.DailyLimit {
		g.log.Info().
			Str("tenant", tenantID).
			Int("requested", count).
			Int("remaining", d.Remaining).
			Msg("job rejected by daily limit")
		return d, apperr.Quota("quota.CheckAndReserve", d.Remaining)
	}
	d.Admitted = true
	return d, nil
}

// Status reports usage without admitting anything.
func (g *Guard) Status(ctx context.Context, tenantID string) (Decision, error) {
	q, err := g.reader.DailyQuota(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		SentToday:  q.SentToday,
		DailyLimit: q.DailyLimit,
		Remaining:  max(q.DailyLimit-q.SentToday, 0),
	}, nil
}
