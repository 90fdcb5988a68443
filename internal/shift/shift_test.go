package shift

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/shopyard/internal/models"
)

func weekly(id uint, weekday int, start, end string) models.ShiftWindow {
	wd := weekday
	return models.ShiftWindow{ID: id, Name: "w", Weekday: &wd, Start: start, End: end, Active: true}
}

func dated(id uint, date, start, end string) models.ShiftWindow {
	return models.ShiftWindow{ID: id, Name: "d", Date: date, Start: start, End: end, Active: true}
}

func mustCalendar(t *testing.T, windows []models.ShiftWindow) *Calendar {
	t.Helper()
	cal, err := NewCalendar(windows)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return cal
}

func TestNewCalendar_RejectsInvalid(t *testing.T) {
	// A stored row with neither weekday nor date.
	noDay := models.ShiftWindow{ID: 1, Name: "day", Start: "08:00", End: "16:00", Active: true}
	if _, err := NewCalendar([]models.ShiftWindow{noDay}); err == nil || !strings.Contains(err.Error(), "one of weekday or date") {
		t.Errorf("err = %v, want weekday or date error", err)
	}

	badClock := weekly(2, 1, "8am", "16:00")
	if _, err := NewCalendar([]models.ShiftWindow{weekly(1, 1, "06:00", "08:00"), badClock}); err == nil || !strings.Contains(err.Error(), "window 2") {
		t.Errorf("err = %v, want error naming window 2", err)
	}
}

func TestFindConflicts_InactiveProposal(t *testing.T) {
	cal := mustCalendar(t, []models.ShiftWindow{weekly(1, 1, "06:00", "14:00")})

	proposed := weekly(0, 1, "08:00", "10:00")
	proposed.Active = false
	got, err := cal.FindConflicts(proposed, 0)
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("conflicts = %+v, want the 06:00-14:00 window", got)
	}

	// Storing an inactive window does not compete with active ones.
	if _, conflicts, err := cal.Save(proposed); err != nil {
		t.Errorf("Save inactive: %v (conflicts %+v)", err, conflicts)
	}
}

func TestFindConflicts_MondayOverlap(t *testing.T) {
	existing := weekly(1, 1, "14:00", "22:00")
	cal := mustCalendar(t, []models.ShiftWindow{existing})

	got, err := cal.FindConflicts(weekly(0, 1, "08:00", "16:00"), 0)
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("conflicts = %+v, want the 14:00-22:00 window", got)
	}
}

func TestFindConflicts_ReturnsAll(t *testing.T) {
	cal := mustCalendar(t, []models.ShiftWindow{
		weekly(1, 2, "06:00", "10:00"),
		weekly(2, 2, "12:00", "18:00"),
		weekly(3, 2, "18:00", "23:00"),
		weekly(4, 3, "08:00", "12:00"),
	})
	got, err := cal.FindConflicts(weekly(0, 2, "09:00", "13:00"), 0)
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("conflicts = %+v, want windows 1 and 2", got)
	}
}

func TestFindConflicts_Cases(t *testing.T) {
	tests := []struct {
		name     string
		existing models.ShiftWindow
		proposed models.ShiftWindow
		want     bool
	}{
		{"touching is not overlap", weekly(1, 1, "06:00", "14:00"), weekly(0, 1, "14:00", "22:00"), false},
		{"different weekday", weekly(1, 1, "06:00", "14:00"), weekly(0, 2, "06:00", "14:00"), false},
		{"overnight overlaps late shift", weekly(1, 1, "22:00", "06:00"), weekly(0, 1, "20:00", "23:00"), true},
		{"overnight vs early same weekday", weekly(1, 1, "22:00", "06:00"), weekly(0, 1, "02:00", "05:00"), false},
		{"same holiday date", dated(1, "2026-12-24", "06:00", "12:00"), dated(0, "2026-12-24", "10:00", "14:00"), true},
		{"different holiday dates", dated(1, "2026-12-24", "06:00", "12:00"), dated(0, "2026-12-31", "10:00", "14:00"), false},
		{"holiday overrides recurring", weekly(1, 4, "06:00", "14:00"), dated(0, "2026-12-24", "08:00", "12:00"), false},
		{"inactive existing ignored", func() models.ShiftWindow {
			w := weekly(1, 1, "06:00", "14:00")
			w.Active = false
			return w
		}(), weekly(0, 1, "08:00", "10:00"), false},
		{"other calendar", func() models.ShiftWindow {
			w := weekly(1, 1, "06:00", "14:00")
			w.Calendar = "annex"
			return w
		}(), weekly(0, 1, "08:00", "10:00"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := mustCalendar(t, []models.ShiftWindow{tt.existing})
			got, err := cal.FindConflicts(tt.proposed, 0)
			if err != nil {
				t.Fatalf("FindConflicts: %v", err)
			}
			if (len(got) > 0) != tt.want {
				t.Errorf("conflict = %v, want %v", len(got) > 0, tt.want)
			}
		})
	}
}

func TestFindConflicts_ExcludingSelf(t *testing.T) {
	cal := mustCalendar(t, []models.ShiftWindow{weekly(7, 1, "06:00", "14:00")})

	edit := weekly(7, 1, "07:00", "15:00")
	got, err := cal.FindConflicts(edit, 7)
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("editing a window should not conflict with itself, got %+v", got)
	}
}

func TestValidate(t *testing.T) {
	bad := 9
	tests := []struct {
		name    string
		w       models.ShiftWindow
		wantErr string
	}{
		{"no day", models.ShiftWindow{Start: "06:00", End: "14:00"}, "one of weekday or date"},
		{"both", func() models.ShiftWindow { w := weekly(0, 1, "06:00", "14:00"); w.Date = "2026-01-01"; return w }(), "mutually exclusive"},
		{"weekday range", models.ShiftWindow{Weekday: &bad, Start: "06:00", End: "14:00"}, "outside 0..6"},
		{"bad date", dated(0, "24/12/2026", "06:00", "14:00"), "YYYY-MM-DD"},
		{"bad start", weekly(0, 1, "6am", "14:00"), "start"},
		{"bad minutes", weekly(0, 1, "06:0", "14:00"), "bad minutes"},
		{"hour 24", weekly(0, 1, "24:00", "14:00"), "bad hour"},
		{"zero length", weekly(0, 1, "06:00", "06:00"), "equal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.w)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err, tt.wantErr)
			}
		})
	}

	if err := Validate(weekly(0, 0, "22:00", "06:00")); err != nil {
		t.Errorf("overnight window should be valid: %v", err)
	}
}

func TestCalendar_Save(t *testing.T) {
	cal := mustCalendar(t, []models.ShiftWindow{weekly(3, 1, "06:00", "14:00")})

	saved, conflicts, err := cal.Save(weekly(0, 1, "14:00", "22:00"))
	if err != nil {
		t.Fatalf("Save: %v (conflicts %+v)", err, conflicts)
	}
	if saved.ID != 4 {
		t.Errorf("assigned ID = %d, want 4", saved.ID)
	}
	if saved.Calendar != DefaultCalendar {
		t.Errorf("Calendar = %q, want %q", saved.Calendar, DefaultCalendar)
	}

	_, conflicts, err = cal.Save(weekly(0, 1, "13:00", "15:00"))
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if len(conflicts) != 2 {
		t.Errorf("conflicts = %d, want 2", len(conflicts))
	}
	if n := len(cal.Windows()); n != 2 {
		t.Errorf("windows = %d, want 2 after rejected save", n)
	}

	// Editing in place.
	edited := weekly(3, 1, "05:00", "13:00")
	if _, _, err := cal.Save(edited); err != nil {
		t.Fatalf("Save edit: %v", err)
	}
	if w := cal.Windows()[0]; w.Start != "05:00" {
		t.Errorf("edited start = %q, want 05:00", w.Start)
	}
}

func TestWindowsOn_DatedOverridesRecurring(t *testing.T) {
	cal := mustCalendar(t, []models.ShiftWindow{
		weekly(1, 4, "14:00", "22:00"),
		weekly(2, 4, "06:00", "14:00"),
		dated(3, "2026-12-24", "06:00", "10:00"),
	})

	thursday := time.Date(2026, 12, 17, 0, 0, 0, 0, time.UTC)
	got := cal.WindowsOn("", thursday)
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 1 {
		t.Errorf("regular Thursday = %+v, want recurring windows in start order", got)
	}

	christmasEve := time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC)
	got = cal.WindowsOn(DefaultCalendar, christmasEve)
	if len(got) != 1 || got[0].ID != 3 {
		t.Errorf("Christmas Eve = %+v, want only the dated window", got)
	}
}

func TestFromCron(t *testing.T) {
	windows, err := FromCron("day", "plant", "0 6 * * 1-5", 8*time.Hour)
	if err != nil {
		t.Fatalf("FromCron: %v", err)
	}
	if len(windows) != 5 {
		t.Fatalf("windows = %d, want 5", len(windows))
	}
	for i, w := range windows {
		if *w.Weekday != i+1 {
			t.Errorf("windows[%d].Weekday = %d, want %d", i, *w.Weekday, i+1)
		}
		if w.Start != "06:00" || w.End != "14:00" {
			t.Errorf("windows[%d] = %s-%s, want 06:00-14:00", i, w.Start, w.End)
		}
		if !w.Active {
			t.Errorf("windows[%d] should be active", i)
		}
	}
}

func TestFromCron_Overnight(t *testing.T) {
	windows, err := FromCron("night", "", "0 22 * * 0", 8*time.Hour)
	if err != nil {
		t.Fatalf("FromCron: %v", err)
	}
	if len(windows) != 1 || windows[0].Start != "22:00" || windows[0].End != "06:00" {
		t.Errorf("windows = %+v, want one Sunday 22:00-06:00 window", windows)
	}
	if err := Validate(windows[0]); err != nil {
		t.Errorf("expanded window invalid: %v", err)
	}
}

func TestFromCron_Errors(t *testing.T) {
	if _, err := FromCron("x", "", "not a cron", time.Hour); err == nil {
		t.Error("expected parse error")
	}
	if _, err := FromCron("x", "", "0 6 * * *", 0); err == nil {
		t.Error("expected duration error")
	}
	if _, err := FromCron("x", "", "0 6 * * *", 24*time.Hour); err == nil {
		t.Error("expected duration error for 24h")
	}
}

func TestOccurrence(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

	start, end, err := Occurrence(weekly(0, 1, "22:00", "06:00"), day)
	if err != nil {
		t.Fatalf("Occurrence: %v", err)
	}
	if want := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}

	if _, _, err := Occurrence(weekly(0, 1, "bad", "06:00"), day); err == nil {
		t.Error("expected error for bad start")
	}
}
