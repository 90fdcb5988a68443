package db

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/shopyard/internal/config"
	"github.com/zulandar/shopyard/internal/models"
	"gorm.io/gorm"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, Name: "shopyard_akron", User: "root"},
			want: "root@tcp(127.0.0.1:3306)/shopyard_akron?",
		},
		{
			name: "custom host and port",
			cfg:  config.DatabaseConfig{Host: "10.0.0.5", Port: 3307, Name: "shop", User: "sched", Password: "pw"},
			want: "sched:pw@tcp(10.0.0.5:3307)/shop?",
		},
		{
			name: "server only",
			cfg:  config.DatabaseConfig{Host: "db.plant.local", Port: 3306, User: "root"},
			want: "root@tcp(db.plant.local:3306)/?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("DSN() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestDSN_ParseTimeFlag(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "localhost", Port: 3306, Name: "test", User: "root"})
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("DSN missing parseTime=true: %s", dsn)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("Open(postgres) err = %v, want unsupported driver", err)
	}
}

func TestConnect_Error(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := Connect(config.DatabaseConfig{Host: "127.0.0.1", Port: 1, Name: "nonexistent", User: "root"})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect to")
	}
}

func TestConnectAdmin_Error(t *testing.T) {
	_, err := ConnectAdmin(config.DatabaseConfig{Host: "127.0.0.1", Port: 1, User: "root"})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: admin connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: admin connect to")
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 6 {
		t.Errorf("AllModels() returned %d models, want 6", n)
	}
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
plant: akron
database:
  driver: sqlite
machines:
  - id: M1
    tags: [print]
  - id: M2
    name: coater
    tags: [coat, inspect]
    active: false
operators:
  - id: jsmith
    department: print
  - id: boss
    level: Supervisor
    inactive: true
shifts:
  - name: day
    weekday: 1
    start: "08:00"
    end: "16:00"
  - name: nights
    cron: "0 22 * * 2-3"
    duration: 8h
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func TestSeed(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t)
	if err := Seed(db, cfg); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	var machines []models.Machine
	db.Order("id").Find(&machines)
	if len(machines) != 2 {
		t.Fatalf("machines = %d, want 2", len(machines))
	}
	if machines[1].Tags != "coat,inspect" || machines[1].Active || !machines[1].Schedulable {
		t.Errorf("M2 = %+v, want coat,inspect inactive schedulable", machines[1])
	}
	if machines[0].Name != "M1" {
		t.Errorf("M1.Name = %q, want ID default", machines[0].Name)
	}

	var boss models.Operator
	if err := db.First(&boss, "id = ?", "boss").Error; err != nil {
		t.Fatalf("load boss: %v", err)
	}
	if boss.Level != "supervisor" || boss.Active {
		t.Errorf("boss = %+v, want inactive supervisor", boss)
	}

	var shifts []models.ShiftWindow
	db.Order("id").Find(&shifts)
	if len(shifts) != 3 {
		t.Fatalf("shifts = %d, want 3 (day plus two cron nights)", len(shifts))
	}
	if shifts[1].Start != "22:00" || shifts[1].End != "06:00" || *shifts[1].Weekday != int(time.Tuesday) {
		t.Errorf("shifts[1] = %+v, want Tuesday 22:00-06:00", shifts[1])
	}
	if shifts[0].Calendar != "plant" {
		t.Errorf("shifts[0].Calendar = %q, want plant", shifts[0].Calendar)
	}
}

func TestSeed_Idempotent(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t)
	for i := 0; i < 2; i++ {
		if err := Seed(db, cfg); err != nil {
			t.Fatalf("Seed #%d: %v", i+1, err)
		}
	}

	var n int64
	db.Model(&models.Machine{}).Count(&n)
	if n != 2 {
		t.Errorf("machines = %d after reseed, want 2", n)
	}
	db.Model(&models.ShiftWindow{}).Count(&n)
	if n != 3 {
		t.Errorf("shifts = %d after reseed, want 3", n)
	}
}

func TestSeed_UpdatesMachines(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t)
	if err := Seed(db, cfg); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	cfg.Machines[0].Tags = []string{"print", "coat"}
	if err := SeedMachines(db, cfg.Machines); err != nil {
		t.Fatalf("SeedMachines: %v", err)
	}
	var m models.Machine
	db.First(&m, "id = ?", "M1")
	if m.Tags != "print,coat" {
		t.Errorf("M1.Tags = %q, want print,coat", m.Tags)
	}
}

func TestShiftWindows_RejectsOverlap(t *testing.T) {
	mon := 1
	_, err := ShiftWindows([]config.ShiftConfig{
		{Name: "day", Weekday: &mon, Start: "08:00", End: "16:00"},
		{Name: "swing", Weekday: &mon, Start: "14:00", End: "22:00"},
	})
	if err == nil {
		t.Fatal("expected overlap error")
	}
	if !strings.Contains(err.Error(), `"swing" overlaps "day"`) {
		t.Errorf("error = %q, want the overlapping pair named", err.Error())
	}
}

func TestShiftWindows_BadCron(t *testing.T) {
	_, err := ShiftWindows([]config.ShiftConfig{{Name: "x", Cron: "not cron", Duration: time.Hour}})
	if err == nil || !strings.Contains(err.Error(), "shifts[0]") {
		t.Errorf("err = %v, want shifts[0] error", err)
	}
}
