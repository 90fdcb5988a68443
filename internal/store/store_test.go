package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/scheduler"
	"github.com/zulandar/shopyard/internal/stage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Machine{},
		&models.Operator{},
		&models.Job{},
		&models.Stage{},
		&models.StageDep{},
		&models.ShiftWindow{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

var start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	end := start.Add(2 * time.Hour)
	mon := 1
	rows := []interface{}{
		&models.Machine{ID: "M1", Name: "press", Tags: "print", Active: true, Schedulable: true},
		&models.Machine{ID: "M2", Name: "coater", Tags: "coat", Active: true, Schedulable: true},
		&models.Operator{ID: "jsmith", Department: "print", Level: "operator", Active: true},
		&models.ShiftWindow{Name: "day", Calendar: "plant", Weekday: &mon, Start: "06:00", End: "18:00", Active: true},
		&models.Job{ID: "job-1", PartNumber: "PN-1", Quantity: 4},
		&models.Stage{ID: "A", JobID: "job-1", Department: "print", MachineID: "M1", BookingID: "bk-a",
			Status: models.StatusScheduled, PlannedHours: decimal.NewFromInt(2), ScheduledStart: &start, ScheduledEnd: &end},
		&models.Stage{ID: "B", JobID: "job-1", Department: "coat", Status: models.StatusBlocked, PlannedHours: decimal.NewFromInt(3)},
		&models.StageDep{StageID: "B", RequiredStageID: "A", JobID: "job-1", DepType: models.DepFinishToStart},
	}
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("seed %T: %v", r, err)
		}
	}
}

func TestLoadSnapshot(t *testing.T) {
	db := testDB(t)
	seed(t, db)

	snap, err := LoadSnapshot(db)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(snap.Machines) != 2 || len(snap.Jobs) != 1 || len(snap.Stages) != 2 ||
		len(snap.Deps) != 1 || len(snap.Operators) != 1 || len(snap.Shifts) != 1 {
		t.Errorf("snapshot sizes = %d machines, %d jobs, %d stages, %d deps, %d operators, %d shifts",
			len(snap.Machines), len(snap.Jobs), len(snap.Stages), len(snap.Deps), len(snap.Operators), len(snap.Shifts))
	}
	for _, s := range snap.Stages {
		if s.ID == "A" && !s.PlannedHours.Equal(decimal.NewFromInt(2)) {
			t.Errorf("A.PlannedHours = %s, want 2", s.PlannedHours)
		}
	}
}

func TestApply_RoundTrip(t *testing.T) {
	db := testDB(t)
	seed(t, db)

	now := start
	e, err := Open(db, scheduler.Options{
		Now:     func() time.Time { return now },
		Routing: stage.NewRouting(stage.Step{Department: "print", Hours: decimal.NewFromInt(2)}),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	out, err := e.StartStage("A", "jsmith")
	if err != nil {
		t.Fatalf("StartStage: %v", err)
	}
	if err := Apply(db, out); err != nil {
		t.Fatalf("Apply(start): %v", err)
	}
	now = now.Add(90 * time.Minute)
	cost := decimal.RequireFromString("42.10")
	out, err = e.CompleteStage("A", "jsmith", &cost)
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if err := Apply(db, out); err != nil {
		t.Fatalf("Apply(complete): %v", err)
	}

	var a, b models.Stage
	db.First(&a, "id = ?", "A")
	db.First(&b, "id = ?", "B")
	if a.Status != models.StatusCompleted || a.Operator != "jsmith" || a.Progress != 100 {
		t.Errorf("A = %s by %s at %d%%", a.Status, a.Operator, a.Progress)
	}
	if !a.ActualHours.Valid || !a.ActualHours.Decimal.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("A.ActualHours = %v, want 1.5", a.ActualHours)
	}
	if !a.ActualCost.Valid || !a.ActualCost.Decimal.Equal(cost) {
		t.Errorf("A.ActualCost = %v, want 42.10", a.ActualCost)
	}
	if b.Status != models.StatusScheduled || b.MachineID != "M2" || b.ScheduledStart == nil {
		t.Errorf("B = %s on %q, want scheduled on M2", b.Status, b.MachineID)
	}

	// A fresh engine over the stored rows sees the same bookings.
	e2, err := Open(db, scheduler.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if bk := e2.Bookings("M2"); len(bk) != 1 || bk[0].StageID != "B" {
		t.Errorf("reloaded M2 bookings = %+v, want B", bk)
	}
}

func TestApply_Dependencies(t *testing.T) {
	db := testDB(t)
	seed(t, db)

	added := models.StageDep{StageID: "C", RequiredStageID: "B", JobID: "job-1", DepType: models.DepFinishToStart}
	c := models.Stage{ID: "C", JobID: "job-1", Department: "coat", Status: models.StatusBlocked}
	if err := Apply(db, scheduler.Outcome{Changed: []models.Stage{c}, AddedDeps: []models.StageDep{added, added}}); err != nil {
		t.Fatalf("Apply(add): %v", err)
	}
	var n int64
	db.Model(&models.StageDep{}).Count(&n)
	if n != 2 {
		t.Errorf("deps = %d, want 2", n)
	}

	removed := models.StageDep{StageID: "B", RequiredStageID: "A"}
	if err := Apply(db, scheduler.Outcome{RemovedDeps: []models.StageDep{removed}}); err != nil {
		t.Fatalf("Apply(remove): %v", err)
	}
	var deps []models.StageDep
	db.Find(&deps)
	if len(deps) != 1 || deps[0].StageID != "C" {
		t.Errorf("deps = %+v, want only C -> B", deps)
	}
}

func TestApply_Empty(t *testing.T) {
	if err := Apply(nil, scheduler.Outcome{}); err != nil {
		t.Errorf("Apply(empty) = %v, want nil", err)
	}
}

func TestSaveJobAndShift(t *testing.T) {
	db := testDB(t)
	if err := SaveJob(db, models.Job{ID: "job-9", PartNumber: "PN-9", Quantity: 1}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := SaveJob(db, models.Job{ID: "job-9", PartNumber: "PN-9", Quantity: 7}); err != nil {
		t.Fatalf("SaveJob update: %v", err)
	}
	var j models.Job
	db.First(&j, "id = ?", "job-9")
	if j.Quantity != 7 {
		t.Errorf("Quantity = %d, want 7", j.Quantity)
	}

	tue := 2
	w := models.ShiftWindow{ID: 5, Name: "late", Calendar: "plant", Weekday: &tue, Start: "14:00", End: "22:00", Active: true}
	if err := SaveShift(db, w); err != nil {
		t.Fatalf("SaveShift: %v", err)
	}
	w.End = "23:00"
	if err := SaveShift(db, w); err != nil {
		t.Fatalf("SaveShift update: %v", err)
	}
	var got models.ShiftWindow
	db.First(&got, 5)
	if got.End != "23:00" {
		t.Errorf("End = %q, want 23:00", got.End)
	}
}
