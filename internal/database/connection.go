package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"callgate/internal/config"
)

// Connection envuelve el pool de conexiones a MySQL. El pool se
// dimensiona desde la configuración: el hot path de admisión no toca la
// base, así que alcanza con un pool chico para el recorder y la API.
type Connection struct {
	DB *sql.DB
}

// NewConnection abre el pool y verifica conectividad antes de devolverlo.
func NewConnection(cfg config.DatabaseConfig) (*Connection, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error abriendo conexión: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	// Reciclar conexiones antes del wait_timeout del servidor MySQL.
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error conectando a %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}

	return &Connection{DB: db}, nil
}

// Close cierra el pool.
func (c *Connection) Close() error {
	return c.DB.Close()
}
