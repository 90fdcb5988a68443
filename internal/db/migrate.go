package db

import (
	"fmt"
	"strings"

	"github.com/zulandar/shopyard/internal/config"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/shift"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Machine{},
		&models.Operator{},
		&models.Job{},
		&models.Stage{},
		&models.StageDep{},
		&models.ShiftWindow{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Seed writes the machines, operators and shift calendar from configuration.
func Seed(db *gorm.DB, cfg *config.Config) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := SeedMachines(tx, cfg.Machines); err != nil {
			return err
		}
		if err := SeedOperators(tx, cfg.Operators); err != nil {
			return err
		}
		return SeedShifts(tx, cfg.Shifts)
	})
}

// SeedMachines upserts Machine rows from configuration.
func SeedMachines(db *gorm.DB, machines []config.MachineConfig) error {
	for _, mc := range machines {
		m := models.Machine{
			ID:          mc.ID,
			Name:        mc.Name,
			Tags:        strings.Join(mc.Tags, ","),
			Active:      mc.Active == nil || *mc.Active,
			Schedulable: mc.Schedulable == nil || *mc.Schedulable,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "tags", "active", "schedulable", "updated_at"}),
		}).Create(&m)
		if result.Error != nil {
			return fmt.Errorf("db: seed machine %q: %w", mc.ID, result.Error)
		}
	}
	return nil
}

// SeedOperators upserts Operator rows from configuration.
func SeedOperators(db *gorm.DB, operators []config.OperatorConfig) error {
	for _, oc := range operators {
		level := strings.ToLower(strings.TrimSpace(oc.Level))
		if level == "" {
			level = "operator"
		}
		op := models.Operator{
			ID:         oc.ID,
			Name:       oc.Name,
			Department: oc.Department,
			Level:      level,
			Active:     !oc.Inactive,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "department", "level", "active"}),
		}).Create(&op)
		if result.Error != nil {
			return fmt.Errorf("db: seed operator %q: %w", oc.ID, result.Error)
		}
	}
	return nil
}

// SeedShifts replaces the stored shift calendar with the configured one.
// Cron entries are expanded to weekly windows. Windows that conflict with
// each other are rejected before anything is written.
func SeedShifts(db *gorm.DB, shifts []config.ShiftConfig) error {
	windows, err := ShiftWindows(shifts)
	if err != nil {
		return err
	}
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ShiftWindow{}).Error; err != nil {
		return fmt.Errorf("db: clear shifts: %w", err)
	}
	if len(windows) == 0 {
		return nil
	}
	if err := db.Create(&windows).Error; err != nil {
		return fmt.Errorf("db: seed shifts: %w", err)
	}
	return nil
}

// ShiftWindows expands shift configuration into validated windows.
func ShiftWindows(shifts []config.ShiftConfig) ([]models.ShiftWindow, error) {
	cal, err := shift.NewCalendar(nil)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	var out []models.ShiftWindow
	for i, sc := range shifts {
		var batch []models.ShiftWindow
		if sc.Cron != "" {
			expanded, err := shift.FromCron(sc.Name, sc.Calendar, sc.Cron, sc.Duration)
			if err != nil {
				return nil, fmt.Errorf("db: shifts[%d]: %w", i, err)
			}
			batch = expanded
		} else {
			batch = []models.ShiftWindow{{
				Name:     sc.Name,
				Calendar: sc.Calendar,
				Weekday:  sc.Weekday,
				Date:     sc.Date,
				Start:    sc.Start,
				End:      sc.End,
			}}
		}
		for _, w := range batch {
			w.Active = !sc.Inactive
			saved, conflicts, err := cal.Save(w)
			if err != nil {
				if len(conflicts) > 0 {
					return nil, fmt.Errorf("db: shifts[%d] %q overlaps %q: %w", i, sc.Name, conflicts[0].Name, err)
				}
				return nil, fmt.Errorf("db: shifts[%d]: %w", i, err)
			}
			saved.ID = 0
			out = append(out, saved)
		}
	}
	return out, nil
}
