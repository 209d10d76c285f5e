package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callgate/internal/config"
	"callgate/internal/database"
	"callgate/internal/engine"
)

type stubStore struct {
	links []database.LinkSetting
}

func (s *stubStore) GetUserByUsername(username string) (*database.User, error) { return nil, nil }
func (s *stubStore) RecentAttempts(campaignID *int64, limit int) ([]database.CallAttempt, error) {
	return nil, nil
}
func (s *stubStore) ListCampaigns() ([]database.Campaign, error) { return nil, nil }
func (s *stubStore) LinkSettingsByCampaign(campaignID int64) ([]database.LinkSetting, error) {
	return s.links, nil
}

func TestHandleLinksByCampaign(t *testing.T) {
	capTen := 10
	store := &stubStore{links: []database.LinkSetting{
		{ID: 1, CampaignID: 3, ClientIdentifier: "primary", Status: "active",
			MaxConcurrency: 2, TotalCallsAllowed: &capTen, CurrentTotalCalls: 4,
			ForwardingPriority: 0, Weight: 100},
		{ID: 2, CampaignID: 3, ClientIdentifier: "overflow", Status: "active",
			MaxConcurrency: 5, ForwardingPriority: 1, Weight: 100},
	}}
	tracker := engine.NewConcurrencyTracker()
	tracker.TryReserve(1, 2)
	eng := engine.New(nil, tracker, engine.NewAttemptTracker(), time.Minute)
	s := &Server{cfg: config.APIConfig{}, repo: store, engine: eng}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/links?campaign_id=3", nil)
	rec := httptest.NewRecorder()
	s.handleLinks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		Links []struct {
			LinkID            int64  `json:"link_id"`
			Client            string `json:"client"`
			Priority          int    `json:"priority"`
			MaxConcurrency    int    `json:"max_concurrency"`
			Concurrency       int    `json:"concurrency"`
			CurrentTotalCalls int    `json:"current_total_calls"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decodificando respuesta: %v", err)
	}
	if len(out.Links) != 2 {
		t.Fatalf("links = %d, want 2", len(out.Links))
	}
	first := out.Links[0]
	if first.LinkID != 1 || first.Client != "primary" || first.Concurrency != 1 {
		t.Fatalf("link 1 = %+v, want live concurrency 1", first)
	}
	if first.CurrentTotalCalls != 4 || first.MaxConcurrency != 2 {
		t.Fatalf("link 1 settings = %+v", first)
	}
}

func TestHandleLinksInvalidCampaignID(t *testing.T) {
	eng := engine.New(nil, engine.NewConcurrencyTracker(), engine.NewAttemptTracker(), time.Minute)
	s := &Server{cfg: config.APIConfig{}, repo: &stubStore{}, engine: eng}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/links?campaign_id=abc", nil)
	rec := httptest.NewRecorder()
	s.handleLinks(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
