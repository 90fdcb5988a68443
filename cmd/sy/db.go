package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/shopyard/internal/config"
	"github.com/zulandar/shopyard/internal/db"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var (
		configPath string
		reset      bool
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Shopyard database",
		Long: `Creates the database, migrates all tables and seeds machines, operators
and the shift calendar from config. Running it again re-seeds in place.

With --reset the database is dropped first and every job and stage is lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath, reset, yes)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&reset, "reset", false, "drop the database before initializing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the reset confirmation prompt")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string, reset, yes bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for plant %q from %s\n", cfg.Plant, configPath)

	target := databaseLabel(cfg.Database)
	if reset && !yes && !confirmReset(cmd, target) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	var gormDB *gorm.DB
	switch cfg.Database.Driver {
	case "sqlite":
		if reset {
			if err := os.Remove(cfg.Database.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", cfg.Database.Path, err)
			}
			fmt.Fprintf(out, "Removed %s\n", cfg.Database.Path)
		}
		gormDB, err = db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return err
		}
	default:
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
		}
		fmt.Fprintf(out, "Connected to %s:%d\n", cfg.Database.Host, cfg.Database.Port)
		if reset {
			if err := db.DropDatabase(adminDB, cfg.Database.Name); err != nil {
				return err
			}
			fmt.Fprintf(out, "Dropped database %s\n", cfg.Database.Name)
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		gormDB, err = db.Connect(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
		}
	}
	fmt.Fprintf(out, "Database %s ready\n", target)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.Seed(gormDB, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d machines, %d operators, %d shift entries\n",
		len(cfg.Machines), len(cfg.Operators), len(cfg.Shifts))

	fmt.Fprintln(out, "\nShopyard database initialized successfully.")
	return nil
}

func databaseLabel(cfg config.DatabaseConfig) string {
	if cfg.Driver == "sqlite" {
		return cfg.Path
	}
	return cfg.Name
}

// confirmReset asks for a typed "yes". A non-terminal stdin never confirms;
// scripts pass --yes instead.
func confirmReset(cmd *cobra.Command, target string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, "Refusing to reset without a terminal; pass --yes to confirm.")
		return false
	}

	fmt.Fprintf(out, "WARNING: This will permanently delete all data in %q.\n", target)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
