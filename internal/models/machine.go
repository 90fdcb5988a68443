package models

import (
	"strings"
	"time"
)

// Machine is a shared piece of shop equipment that stages are booked onto.
// Tags lists capabilities; a tag equal to a department name means the
// machine can run that department's stages.
type Machine struct {
	ID          string `gorm:"primaryKey;size:32"`
	Name        string `gorm:"size:128;not null"`
	Tags        string `gorm:"size:255"`
	Active      bool   `gorm:"not null"`
	Schedulable bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TagList returns the machine's capability tags, trimmed and lowercased.
func (m Machine) TagList() []string {
	var tags []string
	for _, t := range strings.Split(m.Tags, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// HasTag reports whether the machine carries the given capability tag.
func (m Machine) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range m.TagList() {
		if t == tag {
			return true
		}
	}
	return false
}

// Bookable reports whether new bookings may be placed on the machine.
func (m Machine) Bookable() bool {
	return m.Active && m.Schedulable
}
