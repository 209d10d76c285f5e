package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDuplicateAttempt is returned by FinalizeAttempt when a record for the
// same call id already exists. Callers treat it as "already recorded".
var ErrDuplicateAttempt = errors.New("call attempt already recorded")

// Repository maneja las operaciones de base de datos
type Repository struct {
	conn *Connection
}

// NewRepository crea un nuevo repositorio
func NewRepository(conn *Connection) *Repository {
	return &Repository{conn: conn}
}

// GetDB returns the underlying sql.DB
func (r *Repository) GetDB() *sql.DB {
	return r.conn.DB
}

// CampaignByDID resuelve la campaña vinculada a un DID activo.
// Devuelve (nil, nil) si el DID no existe, está inactivo o no tiene campaña.
// El estado de la campaña se devuelve sin filtrar: el motor decide.
func (r *Repository) CampaignByDID(did string) (*Campaign, error) {
	query := `
		SELECT c.id, c.name, c.status, c.routing_strategy, c.dial_timeout_seconds, c.min_billable_seconds
		FROM dids d
		JOIN campaign_dids cd ON cd.did_id = d.id
		JOIN campaigns c ON c.id = cd.campaign_id
		WHERE d.number = ? AND d.status = 'active'
		ORDER BY (c.status = 'active') DESC, c.id
		LIMIT 1
	`

	var c Campaign
	err := r.conn.DB.QueryRow(query, did).Scan(
		&c.ID, &c.Name, &c.Status, &c.RoutingStrategy, &c.DialTimeoutSeconds, &c.MinBillableSeconds,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error consultando campaña por DID: %w", err)
	}
	return &c, nil
}

// LinkSettingsByCampaign devuelve los links activos de una campaña cuyo
// cliente también está activo, ordenados por prioridad e id. El orden por
// estrategia se aplica en el settings store, no aquí.
func (r *Repository) LinkSettingsByCampaign(campaignID int64) ([]LinkSetting, error) {
	query := `
		SELECT s.id, s.campaign_id, s.client_id, cl.client_identifier, cl.name, cl.sip_uri,
		       s.status, s.max_concurrency, s.total_calls_allowed, s.current_total_calls,
		       s.forwarding_priority, s.weight
		FROM campaign_client_settings s
		JOIN clients cl ON cl.id = s.client_id
		WHERE s.campaign_id = ? AND s.status = 'active' AND cl.status = 'active'
		ORDER BY s.forwarding_priority ASC, s.id ASC
	`

	rows, err := r.conn.DB.Query(query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("error consultando links: %w", err)
	}
	defer rows.Close()

	links := make([]LinkSetting, 0)
	for rows.Next() {
		var l LinkSetting
		var totalAllowed sql.NullInt64
		err := rows.Scan(
			&l.ID, &l.CampaignID, &l.ClientID, &l.ClientIdentifier, &l.ClientName, &l.SIPURI,
			&l.Status, &l.MaxConcurrency, &totalAllowed, &l.CurrentTotalCalls,
			&l.ForwardingPriority, &l.Weight,
		)
		if err != nil {
			return nil, fmt.Errorf("error escaneando link: %w", err)
		}
		if totalAllowed.Valid {
			v := int(totalAllowed.Int64)
			l.TotalCallsAllowed = &v
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// FinalizeAttempt persiste el registro final de una llamada y, si
// countedLinkID no es nil, incrementa current_total_calls en la misma
// transacción. El incremento es un UPDATE atómico acotado al cap: nunca
// lee-modifica-escribe y nunca pasa de total_calls_allowed.
func (r *Repository) FinalizeAttempt(a *CallAttempt, countedLinkID *int64) error {
	tx, err := r.conn.DB.Begin()
	if err != nil {
		return fmt.Errorf("error iniciando transacción: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO call_attempts (call_id, campaign_id, did, candidates, link_id, outcome,
		                           started_at, answered_at, ended_at, duration_seconds, billsec_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := tx.Exec(insert,
		a.CallID, a.CampaignID, a.DID, encodeCandidates(a.Candidates), a.LinkID, a.Outcome,
		a.StartedAt, a.AnsweredAt, a.EndedAt, a.DurationSeconds, a.BillsecSeconds,
	)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("error insertando intento: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}

	if countedLinkID != nil {
		update := `
			UPDATE campaign_client_settings
			SET current_total_calls = current_total_calls + 1
			WHERE id = ? AND (total_calls_allowed IS NULL OR current_total_calls < total_calls_allowed)
		`
		if _, err := tx.Exec(update, *countedLinkID); err != nil {
			return fmt.Errorf("error incrementando contador del link %d: %w", *countedLinkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error confirmando transacción: %w", err)
	}
	return nil
}

// RecentAttempts devuelve los intentos más recientes, opcionalmente
// filtrados por campaña.
func (r *Repository) RecentAttempts(campaignID *int64, limit int) ([]CallAttempt, error) {
	query := `
		SELECT id, call_id, campaign_id, did, candidates, link_id, outcome,
		       started_at, answered_at, ended_at, duration_seconds, billsec_seconds, created_at
		FROM call_attempts
	`
	args := []interface{}{}
	if campaignID != nil {
		query += " WHERE campaign_id = ?"
		args = append(args, *campaignID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.conn.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error consultando intentos: %w", err)
	}
	defer rows.Close()

	attempts := make([]CallAttempt, 0)
	for rows.Next() {
		var a CallAttempt
		var candidates string
		var linkID sql.NullInt64
		err := rows.Scan(
			&a.ID, &a.CallID, &a.CampaignID, &a.DID, &candidates, &linkID, &a.Outcome,
			&a.StartedAt, &a.AnsweredAt, &a.EndedAt, &a.DurationSeconds, &a.BillsecSeconds, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error escaneando intento: %w", err)
		}
		if linkID.Valid {
			v := linkID.Int64
			a.LinkID = &v
		}
		a.Candidates = decodeCandidates(candidates)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListCampaigns lista todas las campañas (para la API de operación).
func (r *Repository) ListCampaigns() ([]Campaign, error) {
	query := `
		SELECT id, name, status, routing_strategy, dial_timeout_seconds, min_billable_seconds
		FROM campaigns
		ORDER BY id
	`
	rows, err := r.conn.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error listando campañas: %w", err)
	}
	defer rows.Close()

	campaigns := make([]Campaign, 0)
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.RoutingStrategy, &c.DialTimeoutSeconds, &c.MinBillableSeconds); err != nil {
			return nil, fmt.Errorf("error escaneando campaña: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// --- USER MANAGEMENT ---

func (r *Repository) GetUserByUsername(username string) (*User, error) {
	query := `SELECT id, username, password_hash, role, active FROM users WHERE username = ?`
	row := r.conn.DB.QueryRow(query, username)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Active)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) CreateUser(u *User) error {
	query := `INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)`
	_, err := r.conn.DB.Exec(query, u.Username, u.PasswordHash, u.Role)
	return err
}

// encodeCandidates serializa la lista de link ids como CSV.
func encodeCandidates(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func decodeCandidates(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
