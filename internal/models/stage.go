package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage statuses.
const (
	StatusBlocked    = "blocked"
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Dependency types. Only finish_to_start is evaluated; the others are
// accepted and stored so the tag survives round trips.
const (
	DepFinishToStart  = "finish_to_start"
	DepStartToStart   = "start_to_start"
	DepFinishToFinish = "finish_to_finish"
)

// Job is a unit of production demand for one part at one quantity.
// Jobs sharing a CohortID were produced together in one upstream run.
type Job struct {
	ID         string `gorm:"primaryKey;size:32"`
	PartNumber string `gorm:"size:64;not null;index"`
	Quantity   int    `gorm:"default:1"`
	CohortID   string `gorm:"size:32;index"`
	DueDate    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Stages []Stage `gorm:"foreignKey:JobID"`
}

// Stage is one unit of departmental work within a job.
type Stage struct {
	ID             string              `gorm:"primaryKey;size:32"`
	JobID          string              `gorm:"size:32;not null;index"`
	Department     string              `gorm:"size:32;not null;index"`
	MachineID      string              `gorm:"size:32;index"`
	BookingID      string              `gorm:"size:36"`
	CohortID       string              `gorm:"size:32;index"`
	Status         string              `gorm:"size:16;default:blocked;index"`
	Operator       string              `gorm:"size:64;index"`
	Progress       int                 `gorm:"default:0"`
	PlannedHours   decimal.Decimal     `gorm:"type:decimal(8,2)"`
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time `gorm:"index"`
	ActualStart    *time.Time
	CompletionDate *time.Time
	ActualHours    decimal.NullDecimal `gorm:"type:decimal(8,2)"`
	ActualCost     decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Deps []StageDep `gorm:"foreignKey:StageID"`
}

// StageDep is a must-finish-before edge: StageID cannot leave blocked until
// RequiredStageID is completed.
type StageDep struct {
	StageID         string `gorm:"primaryKey;size:32"`
	RequiredStageID string `gorm:"primaryKey;size:32"`
	JobID           string `gorm:"size:32;index"`
	DepType         string `gorm:"size:24;default:finish_to_start"`
}

// PlannedDuration converts PlannedHours to a duration, truncated to the second.
func (s Stage) PlannedDuration() time.Duration {
	return HoursDuration(s.PlannedHours)
}

// HoursDuration converts decimal hours to a duration, truncated to the second.
func HoursDuration(hours decimal.Decimal) time.Duration {
	secs := hours.Mul(decimal.NewFromInt(3600)).IntPart()
	return time.Duration(secs) * time.Second
}

// Booked reports whether the stage currently holds a machine interval.
func (s Stage) Booked() bool {
	return s.BookingID != "" && s.MachineID != "" && s.ScheduledStart != nil && s.ScheduledEnd != nil
}

// Terminal reports whether the stage can no longer change status.
func (s Stage) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}
