// Package store moves scheduler state between the database and the engine.
package store

import (
	"fmt"

	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/scheduler"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadSnapshot reads everything the engine needs to start.
func LoadSnapshot(db *gorm.DB) (scheduler.Snapshot, error) {
	var snap scheduler.Snapshot
	loads := []struct {
		name string
		dest interface{}
	}{
		{"machines", &snap.Machines},
		{"jobs", &snap.Jobs},
		{"stages", &snap.Stages},
		{"stage deps", &snap.Deps},
		{"operators", &snap.Operators},
		{"shifts", &snap.Shifts},
	}
	for _, l := range loads {
		if err := db.Find(l.dest).Error; err != nil {
			return scheduler.Snapshot{}, fmt.Errorf("store: load %s: %w", l.name, err)
		}
	}
	return snap, nil
}

// Open loads a snapshot and builds an engine over it.
func Open(db *gorm.DB, opts scheduler.Options) (*scheduler.Engine, error) {
	snap, err := LoadSnapshot(db)
	if err != nil {
		return nil, err
	}
	return scheduler.New(snap, opts)
}

// Apply persists an engine outcome in one transaction.
func Apply(db *gorm.DB, out scheduler.Outcome) error {
	if len(out.Changed) == 0 && len(out.AddedDeps) == 0 && len(out.RemovedDeps) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for i := range out.Changed {
			s := out.Changed[i]
			s.Deps = nil
			if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{UpdateAll: true}).Create(&s).Error; err != nil {
				return fmt.Errorf("store: save stage %s: %w", s.ID, err)
			}
		}
		for _, d := range out.RemovedDeps {
			if err := tx.Where("stage_id = ? AND required_stage_id = ?", d.StageID, d.RequiredStageID).
				Delete(&models.StageDep{}).Error; err != nil {
				return fmt.Errorf("store: delete dependency %s -> %s: %w", d.StageID, d.RequiredStageID, err)
			}
		}
		for i := range out.AddedDeps {
			d := out.AddedDeps[i]
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&d).Error; err != nil {
				return fmt.Errorf("store: save dependency %s -> %s: %w", d.StageID, d.RequiredStageID, err)
			}
		}
		return nil
	})
}

// SaveJob upserts a job.
func SaveJob(db *gorm.DB, j models.Job) error {
	j.Stages = nil
	if err := db.Omit(clause.Associations).Clauses(clause.OnConflict{UpdateAll: true}).Create(&j).Error; err != nil {
		return fmt.Errorf("store: save job %s: %w", j.ID, err)
	}
	return nil
}

// SaveShift upserts a shift window.
func SaveShift(db *gorm.DB, w models.ShiftWindow) error {
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&w).Error; err != nil {
		return fmt.Errorf("store: save shift %q: %w", w.Name, err)
	}
	return nil
}
