// Package config provides YAML-based configuration loading for Shopyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/auth"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Shopyard configuration, loaded from shopyard.yaml.
type Config struct {
	Plant      string           `yaml:"plant"`
	Database   DatabaseConfig   `yaml:"database"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Routing    []RouteStep      `yaml:"routing"`
	Machines   []MachineConfig  `yaml:"machines"`
	Operators  []OperatorConfig `yaml:"operators"`
	Shifts     []ShiftConfig    `yaml:"shifts"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Sweep      SweepConfig      `yaml:"sweep"`
}

// DatabaseConfig selects and addresses the backing database. Driver is
// "mysql" (the default) or "sqlite"; sqlite only needs Path.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`
}

// SchedulingConfig bounds bookings and sets the fallback stage length.
type SchedulingConfig struct {
	MinSlot           time.Duration   `yaml:"min_slot"`
	MaxSlot           time.Duration   `yaml:"max_slot"`
	DefaultStageHours decimal.Decimal `yaml:"default_stage_hours"`
}

// RouteStep is one department on the plant routing, in processing order.
type RouteStep struct {
	Department string          `yaml:"department"`
	Hours      decimal.Decimal `yaml:"hours"`
}

// MachineConfig seeds a machine. Tags name the departments it serves.
type MachineConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Tags        []string `yaml:"tags"`
	Active      *bool    `yaml:"active"`
	Schedulable *bool    `yaml:"schedulable"`
}

// OperatorConfig seeds an operator.
type OperatorConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Department string `yaml:"department"`
	Level      string `yaml:"level"`
	Inactive   bool   `yaml:"inactive"`
}

// ShiftConfig seeds shift windows. A window is either explicit (Weekday or
// Date plus Start and End) or a cron expression firing at each window start
// with Duration giving its length.
type ShiftConfig struct {
	Name     string        `yaml:"name"`
	Calendar string        `yaml:"calendar"`
	Weekday  *int          `yaml:"weekday"`
	Date     string        `yaml:"date"`
	Start    string        `yaml:"start"`
	End      string        `yaml:"end"`
	Cron     string        `yaml:"cron"`
	Duration time.Duration `yaml:"duration"`
	Inactive bool          `yaml:"inactive"`
}

// DashboardConfig configures the HTTP API.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// SweepConfig configures the background re-evaluation sweep.
type SweepConfig struct {
	Schedule string `yaml:"schedule"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" && c.Plant != "" {
			c.Database.Name = "shopyard_" + c.Plant
		}
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "shopyard.db"
		}
	}
	c.Database.Password = os.ExpandEnv(c.Database.Password)

	if c.Scheduling.MinSlot == 0 {
		c.Scheduling.MinSlot = 15 * time.Minute
	}
	if c.Scheduling.MaxSlot == 0 {
		c.Scheduling.MaxSlot = 7 * 24 * time.Hour
	}
	if c.Scheduling.DefaultStageHours.IsZero() {
		c.Scheduling.DefaultStageHours = decimal.NewFromInt(1)
	}

	for i := range c.Machines {
		if c.Machines[i].Name == "" {
			c.Machines[i].Name = c.Machines[i].ID
		}
		if c.Machines[i].Active == nil {
			c.Machines[i].Active = boolPtr(true)
		}
		if c.Machines[i].Schedulable == nil {
			c.Machines[i].Schedulable = boolPtr(true)
		}
	}
	for i := range c.Operators {
		if c.Operators[i].Name == "" {
			c.Operators[i].Name = c.Operators[i].ID
		}
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "*/15 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Plant == "" {
		errs = append(errs, "plant is required")
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}

	if c.Scheduling.MinSlot < 0 || c.Scheduling.MaxSlot < 0 {
		errs = append(errs, "scheduling slots must be positive")
	} else if c.Scheduling.MinSlot > c.Scheduling.MaxSlot {
		errs = append(errs, "scheduling.min_slot exceeds scheduling.max_slot")
	}
	if c.Scheduling.DefaultStageHours.IsNegative() {
		errs = append(errs, "scheduling.default_stage_hours must not be negative")
	}

	seenDept := make(map[string]bool)
	for i, r := range c.Routing {
		key := strings.ToLower(strings.TrimSpace(r.Department))
		if key == "" {
			errs = append(errs, fmt.Sprintf("routing[%d].department is required", i))
			continue
		}
		if seenDept[key] {
			errs = append(errs, fmt.Sprintf("routing[%d].department %q is listed twice", i, r.Department))
		}
		seenDept[key] = true
		if r.Hours.IsNegative() {
			errs = append(errs, fmt.Sprintf("routing[%d].hours must not be negative", i))
		}
	}

	seenMachine := make(map[string]bool)
	for i, m := range c.Machines {
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("machines[%d].id is required", i))
			continue
		}
		if seenMachine[m.ID] {
			errs = append(errs, fmt.Sprintf("machines[%d].id %q is duplicated", i, m.ID))
		}
		seenMachine[m.ID] = true
		if len(m.Tags) == 0 {
			errs = append(errs, fmt.Sprintf("machines[%d].tags is required", i))
		}
	}

	seenOperator := make(map[string]bool)
	for i, o := range c.Operators {
		if o.ID == "" {
			errs = append(errs, fmt.Sprintf("operators[%d].id is required", i))
			continue
		}
		if seenOperator[o.ID] {
			errs = append(errs, fmt.Sprintf("operators[%d].id %q is duplicated", i, o.ID))
		}
		seenOperator[o.ID] = true
		lvl, err := auth.ParseLevel(o.Level)
		if err != nil {
			errs = append(errs, fmt.Sprintf("operators[%d].level: %v", i, err))
		} else if lvl < auth.LevelSupervisor && o.Department == "" {
			errs = append(errs, fmt.Sprintf("operators[%d].department is required below supervisor", i))
		}
	}

	for i, s := range c.Shifts {
		if s.Cron != "" {
			if s.Duration <= 0 {
				errs = append(errs, fmt.Sprintf("shifts[%d].duration is required with cron", i))
			}
			if s.Start != "" || s.End != "" || s.Weekday != nil || s.Date != "" {
				errs = append(errs, fmt.Sprintf("shifts[%d] mixes cron with explicit times", i))
			}
			continue
		}
		if s.Start == "" || s.End == "" {
			errs = append(errs, fmt.Sprintf("shifts[%d] needs start and end, or cron", i))
		}
		if (s.Weekday == nil) == (s.Date == "") {
			errs = append(errs, fmt.Sprintf("shifts[%d] needs exactly one of weekday or date", i))
		}
	}

	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("sweep.schedule: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
