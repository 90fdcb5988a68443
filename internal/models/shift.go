package models

// ShiftWindow is an operating window in a shift calendar. A window with a
// Weekday recurs weekly; a window with a Date (YYYY-MM-DD) applies to that
// date only and overrides recurring windows for it. Start and End are
// "HH:MM"; End before Start means the window runs overnight.
type ShiftWindow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Name     string `gorm:"size:64"`
	Calendar string `gorm:"size:64;default:plant;index"`
	Weekday  *int
	Date     string `gorm:"size:10;index"`
	Start    string `gorm:"size:5;not null"`
	End      string `gorm:"size:5;not null"`
	Active   bool   `gorm:"not null"`
}

// Recurring reports whether the window repeats weekly.
func (s ShiftWindow) Recurring() bool {
	return s.Date == ""
}
