package models

import "time"

// Tenant holds per-tenant settings. A tenant without a row uses the
// configured default daily limit.
type Tenant struct {
	ID         string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"size:128"`
	DailyLimit int    `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
