package database

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// schemaStatements creates every table callgate touches. The call_attempts
// and users tables are owned by this service; the configuration tables
// (dids, campaigns, clients, links) are owned by the management layer and
// are only created here so a standalone install works out of the box.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		status VARCHAR(10) NOT NULL DEFAULT 'active',
		routing_strategy VARCHAR(20) NOT NULL DEFAULT 'priority',
		dial_timeout_seconds INT NOT NULL DEFAULT 30,
		min_billable_seconds INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_campaigns_status (status)
	)`,
	`CREATE TABLE IF NOT EXISTS dids (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		number VARCHAR(50) NOT NULL UNIQUE,
		status VARCHAR(10) NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_dids_number (number)
	)`,
	`CREATE TABLE IF NOT EXISTS campaign_dids (
		campaign_id BIGINT NOT NULL,
		did_id BIGINT NOT NULL,
		PRIMARY KEY (campaign_id, did_id)
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		client_identifier VARCHAR(50) NOT NULL UNIQUE,
		name VARCHAR(100) NOT NULL,
		sip_uri VARCHAR(255) NOT NULL,
		status VARCHAR(10) NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS campaign_client_settings (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		campaign_id BIGINT NOT NULL,
		client_id BIGINT NOT NULL,
		status VARCHAR(10) NOT NULL DEFAULT 'active',
		max_concurrency INT NOT NULL DEFAULT 1,
		total_calls_allowed INT NULL,
		current_total_calls INT NOT NULL DEFAULT 0,
		forwarding_priority INT NOT NULL DEFAULT 0,
		weight INT NOT NULL DEFAULT 100,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_campaign_client (campaign_id, client_id),
		INDEX idx_ccs_campaign (campaign_id, status, forwarding_priority)
	)`,
	`CREATE TABLE IF NOT EXISTS call_attempts (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		call_id VARCHAR(64) NOT NULL,
		campaign_id BIGINT NOT NULL DEFAULT 0,
		did VARCHAR(50) NOT NULL,
		candidates VARCHAR(512) NOT NULL DEFAULT '',
		link_id BIGINT NULL,
		outcome VARCHAR(32) NOT NULL,
		started_at TIMESTAMP NOT NULL,
		answered_at TIMESTAMP NULL,
		ended_at TIMESTAMP NULL,
		duration_seconds INT NOT NULL DEFAULT 0,
		billsec_seconds INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_call_attempts_call_id (call_id),
		INDEX idx_call_attempts_campaign (campaign_id, created_at),
		INDEX idx_call_attempts_outcome (outcome)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(50) NOT NULL UNIQUE,
		password_hash VARCHAR(100) NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT 'operator',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// EnsureSchema crea las tablas si no existen
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("error creando esquema: %w", err)
		}
	}
	log.Println("[Schema] Esquema verificado")
	return nil
}
