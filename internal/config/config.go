package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config estructura principal de configuración
type Config struct {
	FastAGI  FastAGIConfig  `yaml:"fastagi"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
}

type FastAGIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type APIConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	EnableCORS    bool   `yaml:"enable_cors"`
	JWTSecret     string `yaml:"jwt_secret"`
	InternalToken string `yaml:"internal_token"` // shared secret for the PBX-facing endpoints
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`

	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"` // reciclado antes del wait_timeout de MySQL
}

type EngineConfig struct {
	SettingsTTLSeconds        int `yaml:"settings_ttl_seconds"`         // snapshot staleness bound
	ReaperIntervalSeconds     int `yaml:"reaper_interval_seconds"`      // orphan sweep period
	OrphanSafetyMarginSeconds int `yaml:"orphan_safety_margin_seconds"` // added to dial_timeout per attempt
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load carga la configuración desde archivo YAML
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error leyendo archivo de configuración: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parseando YAML: %w", err)
	}

	applyDefaults(&cfg)

	// Permitir sobrescribir con variables de entorno
	overrideWithEnv(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.SettingsTTLSeconds <= 0 {
		cfg.Engine.SettingsTTLSeconds = 3
	}
	if cfg.Engine.ReaperIntervalSeconds <= 0 {
		cfg.Engine.ReaperIntervalSeconds = 10
	}
	if cfg.Engine.OrphanSafetyMarginSeconds <= 0 {
		cfg.Engine.OrphanSafetyMarginSeconds = 60
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 60
	}
}

// overrideWithEnv permite sobrescribir configuración con variables de entorno
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("CALLGATE_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("CALLGATE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CALLGATE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CALLGATE_DB_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("CALLGATE_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := os.Getenv("CALLGATE_INTERNAL_TOKEN"); v != "" {
		cfg.API.InternalToken = v
	}
}

// Address devuelve la dirección completa del servidor FastAGI
func (f FastAGIConfig) Address() string {
	return fmt.Sprintf("%s:%d", f.Host, f.Port)
}

// Address devuelve la dirección completa del servidor API
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DSN devuelve el Data Source Name para MySQL
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}
