package settings

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"callgate/internal/database"
)

// Source is the read path into the configuration tables owned by the
// management layer.
type Source interface {
	CampaignByDID(did string) (*database.Campaign, error)
	LinkSettingsByCampaign(campaignID int64) ([]database.LinkSetting, error)
}

// Store serves snapshot reads of campaign and link configuration with a
// bounded staleness (ttl). It also owns the per-campaign round-robin
// rotation cursor and the strategy-aware candidate ordering.
//
// Admission never trusts these snapshots for concurrency decisions; the
// tracker's atomic reserve is the only gate there. Snapshots are only
// used for the total-cap pre-filter and for ordering, where staleness up
// to the ttl is acceptable.
type Store struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	campaigns map[string]*campaignEntry
	links     map[int64]*linkEntry
	rotors    map[int64]int
}

type campaignEntry struct {
	campaign *database.Campaign // nil is a cached "no campaign for this DID"
	fetched  time.Time
}

type linkEntry struct {
	links   []database.LinkSetting
	fetched time.Time
}

// NewStore creates a store reading through src with the given snapshot ttl.
func NewStore(src Source, ttl time.Duration) *Store {
	return &Store{
		src:       src,
		ttl:       ttl,
		now:       time.Now,
		campaigns: make(map[string]*campaignEntry),
		links:     make(map[int64]*linkEntry),
		rotors:    make(map[int64]int),
	}
}

// CampaignByDID resolves the campaign for a DID, serving from the snapshot
// when fresh. Returns (nil, nil) when no campaign is linked to the DID.
func (s *Store) CampaignByDID(did string) (*database.Campaign, error) {
	s.mu.Lock()
	if e, ok := s.campaigns[did]; ok && s.now().Sub(e.fetched) < s.ttl {
		c := e.campaign
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	c, err := s.src.CampaignByDID(did)
	if err != nil {
		return nil, fmt.Errorf("settings: campaign lookup for DID %s: %w", did, err)
	}

	s.mu.Lock()
	s.campaigns[did] = &campaignEntry{campaign: c, fetched: s.now()}
	s.mu.Unlock()
	return c, nil
}

// EligibleLinks returns the ordered candidate list for a campaign. The
// order depends on the campaign's routing strategy:
//
//   - priority:    ascending forwarding_priority, ties by link id
//   - weighted:    priority tiers; within a tier a weighted-random
//     permutation seeded from the call id, so repeated ties
//     are not systematically favored
//   - round_robin: priority tiers; within a tier the list is rotated by
//     the campaign's cursor (advanced on each admission)
//
// Links that are inactive, or carry a non-positive weight under the
// weighted strategy, are excluded. An empty result is not an error.
func (s *Store) EligibleLinks(c *database.Campaign, callID string) ([]database.LinkSetting, error) {
	raw, err := s.cachedLinks(c.ID)
	if err != nil {
		return nil, err
	}

	links := make([]database.LinkSetting, 0, len(raw))
	for _, l := range raw {
		if l.Status != "active" {
			continue
		}
		if c.RoutingStrategy == database.StrategyWeighted && l.Weight <= 0 {
			continue
		}
		links = append(links, l)
	}

	sortByPriorityThenID(links)

	switch c.RoutingStrategy {
	case database.StrategyWeighted:
		permuteTiersWeighted(links, seedFromCallID(callID))
	case database.StrategyRoundRobin:
		s.mu.Lock()
		cursor := s.rotors[c.ID]
		s.mu.Unlock()
		rotateTiers(links, cursor)
	}

	return links, nil
}

// AdvanceRotation moves the campaign's round-robin cursor forward one
// position. Called by the engine after every admission.
func (s *Store) AdvanceRotation(campaignID int64) {
	s.mu.Lock()
	s.rotors[campaignID]++
	s.mu.Unlock()
}

// Invalidate drops all cached snapshots. Rotation cursors survive.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.campaigns = make(map[string]*campaignEntry)
	s.links = make(map[int64]*linkEntry)
	s.mu.Unlock()
}

func (s *Store) cachedLinks(campaignID int64) ([]database.LinkSetting, error) {
	s.mu.Lock()
	if e, ok := s.links[campaignID]; ok && s.now().Sub(e.fetched) < s.ttl {
		out := make([]database.LinkSetting, len(e.links))
		copy(out, e.links)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	links, err := s.src.LinkSettingsByCampaign(campaignID)
	if err != nil {
		return nil, fmt.Errorf("settings: links for campaign %d: %w", campaignID, err)
	}

	s.mu.Lock()
	s.links[campaignID] = &linkEntry{links: links, fetched: s.now()}
	s.mu.Unlock()

	out := make([]database.LinkSetting, len(links))
	copy(out, links)
	return out, nil
}

func sortByPriorityThenID(links []database.LinkSetting) {
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].ForwardingPriority != links[j].ForwardingPriority {
			return links[i].ForwardingPriority < links[j].ForwardingPriority
		}
		return links[i].ID < links[j].ID
	})
}

// tiers returns the [start,end) bounds of each equal-priority run.
// Input must already be sorted by priority.
func tiers(links []database.LinkSetting) [][2]int {
	var out [][2]int
	start := 0
	for i := 1; i <= len(links); i++ {
		if i == len(links) || links[i].ForwardingPriority != links[start].ForwardingPriority {
			out = append(out, [2]int{start, i})
			start = i
		}
	}
	return out
}

// permuteTiersWeighted reorders each priority tier with a weighted-random
// permutation: at each step a link is drawn with probability proportional
// to its weight. The RNG is seeded from the call id so a decision is
// reproducible, not process-seeded.
func permuteTiersWeighted(links []database.LinkSetting, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, t := range tiers(links) {
		tier := links[t[0]:t[1]]
		if len(tier) < 2 {
			continue
		}
		for i := 0; i < len(tier)-1; i++ {
			total := 0
			for j := i; j < len(tier); j++ {
				total += tier[j].Weight
			}
			pick := rng.Intn(total)
			acc := 0
			for j := i; j < len(tier); j++ {
				acc += tier[j].Weight
				if pick < acc {
					tier[i], tier[j] = tier[j], tier[i]
					break
				}
			}
		}
	}
}

// rotateTiers rotates each priority tier left by cursor positions so the
// least-recently-used link comes first.
func rotateTiers(links []database.LinkSetting, cursor int) {
	for _, t := range tiers(links) {
		tier := links[t[0]:t[1]]
		n := len(tier)
		if n < 2 {
			continue
		}
		k := cursor % n
		if k == 0 {
			continue
		}
		rotated := make([]database.LinkSetting, 0, n)
		rotated = append(rotated, tier[k:]...)
		rotated = append(rotated, tier[:k]...)
		copy(tier, rotated)
	}
}

func seedFromCallID(callID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(callID))
	return int64(h.Sum64())
}
