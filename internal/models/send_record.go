package models

import "time"

// Send outcomes stored in SendRecord.Status.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// SendRecord is one row per contact attempted by a bulk job. Rows are
// append-only and feed both the history listing and the daily quota count.
type SendRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	TenantID    string    `gorm:"size:64;not null;index:idx_tenant_sent"`
	JobID       string    `gorm:"size:36;index"`
	Address     string    `gorm:"size:128;not null"`
	ContactName string    `gorm:"size:128"`
	Message     string    `gorm:"type:text"`
	Status      string    `gorm:"size:16;not null;default:sent"`
	Success     bool      `gorm:"not null;default:false"`
	Error       string    `gorm:"type:text"`
	SentAt      time.Time `gorm:"not null;index:idx_tenant_sent"`
}
