package models

import "time"

// DispatchJob summarizes a finished bulk job.
type DispatchJob struct {
	ID          string `gorm:"primaryKey;size:36"`
	TenantID    string `gorm:"size:64;not null;index"`
	Total       int    `gorm:"not null"`
	Sent        int    `gorm:"not null;default:0"`
	Failed      int    `gorm:"not null;default:0"`
	Skipped     int    `gorm:"not null;default:0"`
	Aborted     bool   `gorm:"default:false"`
	AbortReason string `gorm:"type:text"`
	WithImage   bool   `gorm:"default:false"`
	CreatedAt   time.Time
	FinishedAt  *time.Time
}
