package database

import "time"

// Campaign status values as written by the management layer.
const (
	CampaignActive   = "active"
	CampaignInactive = "inactive"
	CampaignPaused   = "paused"
)

// Routing strategies.
const (
	StrategyPriority   = "priority"
	StrategyRoundRobin = "round_robin"
	StrategyWeighted   = "weighted"
)

// Campaign represents a seller campaign. Read-only to this service;
// created and edited by the management layer.
type Campaign struct {
	ID                 int64  `db:"id" json:"id"`
	Name               string `db:"name" json:"name"`
	Status             string `db:"status" json:"status"`
	RoutingStrategy    string `db:"routing_strategy" json:"routing_strategy"`
	DialTimeoutSeconds int    `db:"dial_timeout_seconds" json:"dial_timeout_seconds"`
	MinBillableSeconds int    `db:"min_billable_seconds" json:"min_billable_seconds"`
}

// DialTimeout returns the campaign dial timeout as a duration.
func (c *Campaign) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// LinkSetting is one campaign-client pairing with its own caps, priority
// and weight. current_total_calls is the only column this service ever
// writes, and only through the outcome recorder.
type LinkSetting struct {
	ID                 int64  `db:"id" json:"id"`
	CampaignID         int64  `db:"campaign_id" json:"campaign_id"`
	ClientID           int64  `db:"client_id" json:"client_id"`
	ClientIdentifier   string `db:"client_identifier" json:"client_identifier"`
	ClientName         string `db:"client_name" json:"client_name"`
	SIPURI             string `db:"sip_uri" json:"sip_uri"`
	Status             string `db:"status" json:"status"`
	MaxConcurrency     int    `db:"max_concurrency" json:"max_concurrency"`
	TotalCallsAllowed  *int   `db:"total_calls_allowed" json:"total_calls_allowed"` // nil = unlimited
	CurrentTotalCalls  int    `db:"current_total_calls" json:"current_total_calls"`
	ForwardingPriority int    `db:"forwarding_priority" json:"forwarding_priority"`
	Weight             int    `db:"weight" json:"weight"`
}

// TotalCapReached reports whether the total-call budget is exhausted.
func (l *LinkSetting) TotalCapReached() bool {
	return l.TotalCallsAllowed != nil && l.CurrentTotalCalls >= *l.TotalCallsAllowed
}

// CallAttempt is the persisted record of one inbound call, finalized
// exactly once by the recorder and immutable afterwards.
type CallAttempt struct {
	ID              int64      `db:"id" json:"id"`
	CallID          string     `db:"call_id" json:"call_id"`
	CampaignID      int64      `db:"campaign_id" json:"campaign_id"`
	DID             string     `db:"did" json:"did"`
	Candidates      []int64    `db:"-" json:"candidates"`    // link ids considered, in decision order
	LinkID          *int64     `db:"link_id" json:"link_id"` // admitted link, nil when rejected outright
	Outcome         string     `db:"outcome" json:"outcome"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	AnsweredAt      *time.Time `db:"answered_at" json:"answered_at"`
	EndedAt         *time.Time `db:"ended_at" json:"ended_at"`
	DurationSeconds int        `db:"duration_seconds" json:"duration_seconds"`
	BillsecSeconds  int        `db:"billsec_seconds" json:"billsec_seconds"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// User is an operator account for the REST API.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	Active       bool   `json:"active"`
}
