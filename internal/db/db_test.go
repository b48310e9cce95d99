package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/heraldo/internal/config"
	"github.com/zulandar/heraldo/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "user without password",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root", Name: "heraldo"},
			want: "root@tcp(127.0.0.1:3306)/heraldo?parseTime=true&charset=utf8mb4&loc=UTC",
		},
		{
			name: "user with password",
			cfg:  config.DatabaseConfig{Host: "db.internal", Port: 3307, User: "app", Password: "pw", Name: "h"},
			want: "app:pw@tcp(db.internal:3307)/h?parseTime=true&charset=utf8mb4&loc=UTC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialector_UnsupportedDriver(t *testing.T) {
	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Errorf("error = %v", err)
	}
}

func TestDialector_Names(t *testing.T) {
	for _, driver := range []string{"sqlite", "mysql"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Path: ":memory:", Host: "h", Port: 1, User: "u", Name: "n"})
		if err != nil {
			t.Fatalf("Dialector(%s): %v", driver, err)
		}
		if d.Name() != driver {
			t.Errorf("Dialector(%s).Name() = %q", driver, d.Name())
		}
	}
}

func TestConnectAndMigrate_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	// Migrating twice is a no-op.
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}

	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
	if !gdb.Migrator().HasIndex(&models.SendRecord{}, "idx_tenant_sent") {
		t.Error("idx_tenant_sent index not created")
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 3 {
		t.Errorf("len(AllModels()) = %d, want 3", got)
	}
}
