package models

import "time"

// Operator is a shop-floor user as seen by the authorization gate.
// Level is one of operator, lead, supervisor, admin.
type Operator struct {
	ID         string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"size:128"`
	Department string `gorm:"size:32;index"`
	Level      string `gorm:"size:16;default:operator"`
	Active     bool   `gorm:"not null"`
	CreatedAt  time.Time
}
