package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopyard/internal/allocator"
	"github.com/zulandar/shopyard/internal/config"
	"github.com/zulandar/shopyard/internal/db"
	"github.com/zulandar/shopyard/internal/scheduler"
	"github.com/zulandar/shopyard/internal/stage"
	"github.com/zulandar/shopyard/internal/store"
	"gorm.io/gorm"
)

const defaultConfigPath = "shopyard.yaml"

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to Shopyard config file")
}

func addOperatorFlag(cmd *cobra.Command, operator *string) {
	cmd.Flags().StringVarP(operator, "operator", "o", "", "operator performing the action (required)")
	cmd.MarkFlagRequired("operator")
}

// connectFromConfig loads config and opens the configured database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, gormDB, nil
}

// engineOptions maps the scheduling and routing config onto the engine.
func engineOptions(cfg *config.Config) scheduler.Options {
	steps := make([]stage.Step, len(cfg.Routing))
	for i, r := range cfg.Routing {
		steps[i] = stage.Step{Department: r.Department, Hours: r.Hours}
	}
	return scheduler.Options{
		Bounds:       allocator.Bounds{Min: cfg.Scheduling.MinSlot, Max: cfg.Scheduling.MaxSlot},
		Routing:      stage.NewRouting(steps...),
		DefaultHours: cfg.Scheduling.DefaultStageHours,
		Logger:       log.Default(),
	}
}

// openEngine loads the stored schedule into a fresh engine.
func openEngine(configPath string) (*config.Config, *gorm.DB, *scheduler.Engine, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	e, err := store.Open(gormDB, engineOptions(cfg))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load schedule: %w", err)
	}
	return cfg, gormDB, e, nil
}

// commitOutcome stores an engine outcome and prints what changed.
func commitOutcome(out io.Writer, gormDB *gorm.DB, o scheduler.Outcome) error {
	if err := store.Apply(gormDB, o); err != nil {
		return err
	}
	fmt.Fprintf(out, "Stage %s: %s\n", o.Stage.ID, o.Stage.Status)
	for _, s := range o.Changed {
		if s.ID == o.Stage.ID {
			continue
		}
		fmt.Fprintf(out, "  %s (%s, %s) -> %s %s\n", s.ID, s.JobID, s.Department, s.Status, formatBooking(s))
	}
	for _, d := range o.AddedDeps {
		fmt.Fprintf(out, "  dependency added: %s requires %s\n", d.StageID, d.RequiredStageID)
	}
	for _, d := range o.RemovedDeps {
		fmt.Fprintf(out, "  dependency removed: %s requires %s\n", d.StageID, d.RequiredStageID)
	}
	return nil
}
