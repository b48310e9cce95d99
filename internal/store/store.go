// Package store persists send history, job summaries and tenant limits,
// and answers the daily quota query.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/heraldo/internal/apperr"
	"github.com/zulandar/heraldo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	// MaxPage keeps the row offset well inside int range.
	MaxPage    = 1_000_000
	dateLayout = "2006-01-02"
)

// Options configures a Store.
type Options struct {
	DefaultDailyLimit int
	// CountFailures makes failed and skipped sends consume quota too.
	CountFailures bool
	// Location defines where a quota day starts. Defaults to time.Local.
	Location *time.Location
	Now      func() time.Time
}

// Store wraps a gorm connection.
type Store struct {
	db   *gorm.DB
	opts Options
}

// New creates a Store.
func New(db *gorm.DB, opts Options) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{db: db, opts: opts}, nil
}

// Quota is a tenant's usage for the current day.
type Quota struct {
	SentToday  int
	DailyLimit int
}

// DayBounds returns the UTC start and end of the quota day containing t.
func (s *Store) DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(s.opts.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.opts.Location)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// RecordSend appends one send result.
func (s *Store) RecordSend(ctx context.Context, rec models.SendRecord) error {
	if rec.TenantID == "" {
		return fmt.Errorf("store: record send: tenant id is required")
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = s.opts.Now()
	}
	rec.SentAt = rec.SentAt.UTC()
	if rec.Status == "" {
		rec.Status = models.StatusSent
		if !rec.Success {
			rec.Status = models.StatusFailed
		}
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return apperr.Wrap(apperr.Persistence, "store.RecordSend", "could not record send", err)
	}
	return nil
}

// DailyQuota returns how many sends count against the tenant's limit today.
func (s *Store) DailyQuota(ctx context.Context, tenantID string) (Quota, error) {
	limit, err := s.dailyLimit(ctx, tenantID)
	if err != nil {
		return Quota{}, err
	}

	start, end := s.DayBounds(s.opts.Now())
	q := s.db.WithContext(ctx).Model(&models.SendRecord{}).
		Where("tenant_id = ? AND sent_at >= ? AND sent_at < ?", tenantID, start, end)
	if !s.opts.CountFailures {
		q = q.Where("status = ?", models.StatusSent)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return Quota{}, apperr.Wrap(apperr.Persistence, "store.DailyQuota", "could not read quota", err)
	}
	return Quota{SentToday: int(n), DailyLimit: limit}, nil
}

func (s *Store) dailyLimit(ctx context.Context, tenantID string) (int, error) {
	var t models.Tenant
	err := s.db.WithContext(ctx).Where("id = ?", tenantID).Limit(1).Find(&t).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.Persistence, "store.DailyQuota", "could not read tenant", err)
	}
	if t.ID == "" {
		return s.opts.DefaultDailyLimit, nil
	}
	return t.DailyLimit, nil
}

// SetDailyLimit creates or updates the tenant's daily limit.
func (s *Store) SetDailyLimit(ctx context.Context, tenantID string, limit int) error {
	if tenantID == "" {
		return apperr.Validationf("store.SetDailyLimit", "tenant id is required")
	}
	if limit < 0 {
		return apperr.Validationf("store.SetDailyLimit", "limit must not be negative")
	}
	t := models.Tenant{ID: tenantID, DailyLimit: limit}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"daily_limit", "updated_at"}),
	}).Create(&t)
	if result.Error != nil {
		return fmt.Errorf("store: set daily limit for %q: %w", tenantID, result.Error)
	}
	return nil
}

// SaveJob creates or replaces a job summary.
func (s *Store) SaveJob(ctx context.Context, job models.DispatchJob) error {
	if err := s.db.WithContext(ctx).Save(&job).Error; err != nil {
		return fmt.Errorf("store: save job %s: %w", job.ID, err)
	}
	return nil
}

// Job loads one job summary.
func (s *Store) Job(ctx context.Context, id string) (*models.DispatchJob, error) {
	var job models.DispatchJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, fmt.Errorf("store: job %s: %w", id, err)
	}
	return &job, nil
}

// HistoryQuery selects a page of send history. Date, when set, is a
// YYYY-MM-DD day in the quota timezone.
type HistoryQuery struct {
	Page     int
	PageSize int
	Date     string
}

// HistoryPage is one page of send history, newest first.
type HistoryPage struct {
	Records    []models.SendRecord
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

// History returns the tenant's send records, newest first.
func (s *Store) History(ctx context.Context, tenantID string, q HistoryQuery) (HistoryPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		return HistoryPage{}, apperr.Validationf("store.History", "page must be at most %d", MaxPage)
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	base := s.db.WithContext(ctx).Model(&models.SendRecord{}).Where("tenant_id = ?", tenantID)
	if q.Date != "" {
		day, err := time.ParseInLocation(dateLayout, q.Date, s.opts.Location)
		if err != nil {
			return HistoryPage{}, apperr.Validationf("store.History", "date must be YYYY-MM-DD, got %q", q.Date)
		}
		start, end := s.DayBounds(day)
		base = base.Where("sent_at >= ? AND sent_at < ?", start, end)
	}

	page := HistoryPage{Page: q.Page, PageSize: q.PageSize}
	if err := base.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return HistoryPage{}, fmt.Errorf("store: history count: %w", err)
	}
	if err := base.Session(&gorm.Session{}).
		Order("sent_at DESC").Order("id DESC").
		Offset((q.Page - 1) * q.PageSize).Limit(q.PageSize).
		Find(&page.Records).Error; err != nil {
		return HistoryPage{}, fmt.Errorf("store: history: %w", err)
	}
	page.TotalPages = int((page.Total + int64(q.PageSize) - 1) / int64(q.PageSize))
	return page, nil
}

// DayTotal is one tenant's send counts for a day.
type DayTotal struct {
	TenantID string
	Sent     int
	Failed   int
	Skipped  int
}

// DailyTotals aggregates every tenant's sends for the quota day containing
// day, ordered by tenant id.
func (s *Store) DailyTotals(ctx context.Context, day time.Time) ([]DayTotal, error) {
	start, end := s.DayBounds(day)
	var rows []struct {
		TenantID string
		Status   string
		N        int
	}
	err := s.db.WithContext(ctx).Model(&models.SendRecord{}).
		Select("tenant_id, status, COUNT(*) AS n").
		Where("sent_at >= ? AND sent_at < ?", start, end).
		Group("tenant_id, status").
		Order("tenant_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: daily totals: %w", err)
	}

	var out []DayTotal
	for _, r := range rows {
		if len(out) == 0 || out[len(out)-1].TenantID != r.TenantID {
			out = append(out, DayTotal{TenantID: r.TenantID})
		}
		t := &out[len(out)-1]
		switch r.Status {
		case models.StatusSent:
			t.Sent += r.N
		case models.StatusSkipped:
			t.Skipped += r.N
		default:
			t.Failed += r.N
		}
	}
	return out, nil
}
