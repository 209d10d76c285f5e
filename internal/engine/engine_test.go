package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"callgate/internal/database"
)

type stubSettings struct {
	campaign *database.Campaign
	links    []database.LinkSetting
	err      error
	rotation int
}

func (s *stubSettings) CampaignByDID(did string) (*database.Campaign, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.campaign, nil
}

func (s *stubSettings) EligibleLinks(c *database.Campaign, callID string) ([]database.LinkSetting, error) {
	if s.err != nil {
		return nil, s.err
	}
	// Rotación simple para los tests de round robin.
	n := len(s.links)
	out := make([]database.LinkSetting, 0, n)
	if c.RoutingStrategy == database.StrategyRoundRobin && n > 0 {
		k := s.rotation % n
		out = append(out, s.links[k:]...)
		out = append(out, s.links[:k]...)
	} else {
		out = append(out, s.links...)
	}
	return out, nil
}

func (s *stubSettings) AdvanceRotation(campaignID int64) { s.rotation++ }

func activeCampaign(strategy string) *database.Campaign {
	return &database.Campaign{
		ID:                 1,
		Name:               "test",
		Status:             database.CampaignActive,
		RoutingStrategy:    strategy,
		DialTimeoutSeconds: 30,
	}
}

func testLink(id int64, priority, maxConc int, totalAllowed *int, current int) database.LinkSetting {
	return database.LinkSetting{
		ID:                 id,
		CampaignID:         1,
		ClientIdentifier:   "client",
		Status:             "active",
		MaxConcurrency:     maxConc,
		TotalCallsAllowed:  totalAllowed,
		CurrentTotalCalls:  current,
		ForwardingPriority: priority,
		Weight:             100,
	}
}

func newTestEngine(s *stubSettings) *Engine {
	return New(s, NewConcurrencyTracker(), NewAttemptTracker(), time.Minute)
}

func TestDecideNoCampaign(t *testing.T) {
	e := newTestEngine(&stubSettings{campaign: nil})

	adm, err := e.Decide("c1", "18005550000")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if adm.Admitted || adm.RejectReason != RejectNoCampaign {
		t.Fatalf("got %+v, want rejection %s", adm, RejectNoCampaign)
	}
}

func TestDecideInactiveCampaignRejected(t *testing.T) {
	c := activeCampaign(database.StrategyPriority)
	c.Status = database.CampaignPaused
	e := newTestEngine(&stubSettings{campaign: c})

	adm, err := e.Decide("c1", "18005550000")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if adm.Admitted || adm.RejectReason != RejectNoCampaign {
		t.Fatalf("paused campaign must reject as %s, got %+v", RejectNoCampaign, adm)
	}
}

func TestDecideNoEligibleLinks(t *testing.T) {
	e := newTestEngine(&stubSettings{campaign: activeCampaign(database.StrategyPriority)})

	adm, err := e.Decide("c1", "18005550000")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if adm.Admitted || adm.RejectReason != RejectNoEligibleLink {
		t.Fatalf("got %+v, want rejection %s", adm, RejectNoEligibleLink)
	}
}

func TestDecideSettingsErrorFailsClosed(t *testing.T) {
	e := newTestEngine(&stubSettings{err: errors.New("db down")})

	if _, err := e.Decide("c1", "18005550000"); err == nil {
		t.Fatal("expected error when settings are unreadable")
	}
	if e.pending.Count() != 0 {
		t.Fatal("no attempt may be registered on a failed decision")
	}
}

func TestDecideSkipsFullLinksInPriorityOrder(t *testing.T) {
	s := &stubSettings{
		campaign: activeCampaign(database.StrategyPriority),
		links: []database.LinkSetting{
			testLink(10, 0, 1, nil, 0),
			testLink(20, 0, 1, nil, 0),
			testLink(30, 1, 5, nil, 0),
		},
	}
	e := newTestEngine(s)

	// Llenar los dos links de prioridad 0.
	e.tracker.TryReserve(10, 1)
	e.tracker.TryReserve(20, 1)

	adm, err := e.Decide("c1", "18005550000")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !adm.Admitted || adm.Link.ID != 30 {
		t.Fatalf("got %+v, want admission on link 30", adm)
	}
}

func TestDecideTotalCapSkipsWithoutReserving(t *testing.T) {
	cap2 := 2
	s := &stubSettings{
		campaign: activeCampaign(database.StrategyPriority),
		links: []database.LinkSetting{
			testLink(10, 0, 5, &cap2, 2), // cap alcanzado
			testLink(20, 1, 5, nil, 0),
		},
	}
	e := newTestEngine(s)

	adm, err := e.Decide("c1", "18005550000")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !adm.Admitted || adm.Link.ID != 20 {
		t.Fatalf("got %+v, want admission on link 20", adm)
	}
	if e.tracker.CurrentCount(10) != 0 {
		t.Fatal("capped link must not get a reservation")
	}
}

func TestDecideCapacityExhausted(t *testing.T) {
	s := &stubSettings{
		campaign: activeCampaign(database.StrategyPriority),
		links: []database.LinkSetting{
			testLink(10, 0, 1, nil, 0),
		},
	}
	e := newTestEngine(s)

	first, err := e.Decide("c1", "18005550000")
	if err != nil || !first.Admitted {
		t.Fatalf("first call should be admitted, got %+v err %v", first, err)
	}
	second, err := e.Decide("c2", "18005550000")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if second.Admitted || second.RejectReason != RejectCapacity {
		t.Fatalf("got %+v, want rejection %s", second, RejectCapacity)
	}
	if len(second.Candidates) != 1 {
		t.Fatalf("rejection must carry the candidate list, got %v", second.Candidates)
	}
}

func TestDecideCapacityRejectionReportsSkipCauses(t *testing.T) {
	capOne := 1
	s := &stubSettings{
		campaign: activeCampaign(database.StrategyPriority),
		links: []database.LinkSetting{
			testLink(10, 0, 5, &capOne, 1), // cap total agotado
			testLink(20, 1, 1, nil, 0),     // se llena abajo
		},
	}
	e := newTestEngine(s)
	e.tracker.TryReserve(20, 1)

	adm, err := e.Decide("c1", "18005550000")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if adm.Admitted || adm.RejectReason != RejectCapacity {
		t.Fatalf("got %+v, want rejection %s", adm, RejectCapacity)
	}
	if len(adm.Skipped) != 2 {
		t.Fatalf("skipped = %v, want both candidates with their cause", adm.Skipped)
	}
	causes := map[int64]string{}
	for _, sk := range adm.Skipped {
		causes[sk.LinkID] = sk.Reason
	}
	if causes[10] != SkipTotalCap {
		t.Fatalf("link 10 cause = %q, want %s", causes[10], SkipTotalCap)
	}
	if causes[20] != SkipConcurrency {
		t.Fatalf("link 20 cause = %q, want %s", causes[20], SkipConcurrency)
	}
}

func TestDecideRegistersPendingAttempt(t *testing.T) {
	s := &stubSettings{
		campaign: activeCampaign(database.StrategyPriority),
		links:    []database.LinkSetting{testLink(10, 0, 5, nil, 0)},
	}
	e := newTestEngine(s)
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return start }

	adm, err := e.Decide("c1", "18005550000")
	if err != nil || !adm.Admitted {
		t.Fatalf("Decide: %+v, %v", adm, err)
	}

	p := e.pending.Get("c1")
	if p == nil {
		t.Fatal("admitted call must have a pending attempt")
	}
	if p.LinkID != 10 || p.CampaignID != 1 || p.DID != "18005550000" {
		t.Fatalf("pending attempt = %+v", p)
	}
	wantDeadline := start.Add(30 * time.Second).Add(time.Minute)
	if !p.Deadline.Equal(wantDeadline) {
		t.Fatalf("deadline = %v, want %v", p.Deadline, wantDeadline)
	}
}

func TestDecideRoundRobinAlternates(t *testing.T) {
	s := &stubSettings{
		campaign: activeCampaign(database.StrategyRoundRobin),
		links: []database.LinkSetting{
			testLink(10, 0, 100, nil, 0),
			testLink(20, 0, 100, nil, 0),
		},
	}
	e := newTestEngine(s)

	var picks []int64
	for i := 0; i < 10; i++ {
		adm, err := e.Decide(fmt.Sprintf("rr-call-%d", i), "18005550000")
		if err != nil || !adm.Admitted {
			t.Fatalf("Decide %d: %+v, %v", i, adm, err)
		}
		picks = append(picks, adm.Link.ID)
	}
	for i, id := range picks {
		want := int64(10)
		if i%2 == 1 {
			want = 20
		}
		if id != want {
			t.Fatalf("pick %d = %d, want %d (sequence %v)", i, id, want, picks)
		}
	}
}

func TestDecideRejectionNeverHoldsSlots(t *testing.T) {
	cap0 := 0
	s := &stubSettings{
		campaign: activeCampaign(database.StrategyPriority),
		links: []database.LinkSetting{
			testLink(10, 0, 5, &cap0, 0),
		},
	}
	e := newTestEngine(s)

	adm, err := e.Decide("c1", "18005550000")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if adm.Admitted {
		t.Fatalf("link with zero total cap must not admit, got %+v", adm)
	}
	if e.tracker.CurrentCount(10) != 0 || e.pending.Count() != 0 {
		t.Fatal("rejected call must leave no reservation and no pending attempt")
	}
}
