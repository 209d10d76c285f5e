package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callgate.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("escribiendo config de prueba: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: "127.0.0.1"
  port: 3306
  username: "callgate"
  database: "callgate"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.SettingsTTLSeconds != 3 {
		t.Errorf("SettingsTTLSeconds = %d, want 3", cfg.Engine.SettingsTTLSeconds)
	}
	if cfg.Engine.ReaperIntervalSeconds != 10 {
		t.Errorf("ReaperIntervalSeconds = %d, want 10", cfg.Engine.ReaperIntervalSeconds)
	}
	if cfg.Engine.OrphanSafetyMarginSeconds != 60 {
		t.Errorf("OrphanSafetyMarginSeconds = %d, want 60", cfg.Engine.OrphanSafetyMarginSeconds)
	}
	if cfg.Database.MaxOpenConns != 10 || cfg.Database.MaxIdleConns != 5 {
		t.Errorf("pool = %d/%d, want 10/5", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetimeMinutes != 60 {
		t.Errorf("ConnMaxLifetimeMinutes = %d, want 60", cfg.Database.ConnMaxLifetimeMinutes)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  username: "archivo"
  password: "archivo"
api:
  jwt_secret: "archivo"
`)

	t.Setenv("CALLGATE_DB_USERNAME", "entorno")
	t.Setenv("CALLGATE_JWT_SECRET", "entorno")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Username != "entorno" {
		t.Errorf("Username = %q, want env override", cfg.Database.Username)
	}
	if cfg.Database.Password != "archivo" {
		t.Errorf("Password = %q, env must not clobber unset vars", cfg.Database.Password)
	}
	if cfg.API.JWTSecret != "entorno" {
		t.Errorf("JWTSecret = %q, want env override", cfg.API.JWTSecret)
	}
}

func TestDSNFormat(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 3306, Username: "u", Password: "p", Database: "callgate"}
	want := "u:p@tcp(db:3306)/callgate?parseTime=true&charset=utf8mb4"
	if got := d.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/callgate.yaml"); err == nil {
		t.Fatal("missing file must return an error")
	}
}
