package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bizsim/internal/sim"
)

type settledKey struct {
	gameID  string
	quarter int
}

type metricKey struct {
	teamID  string
	quarter int
}

// MemoryStore implements Store with in-memory maps. It applies the same
// rounding and guards as PostgresStore and is used for tests and
// development.
type MemoryStore struct {
	mu          sync.RWMutex
	games       map[string]Game
	teams       map[string]sim.Team
	teamOrder   []string
	decisions   map[string]sim.Decision
	allocations map[string][]sim.Allocation
	cities      []sim.City
	metrics     map[metricKey]sim.Metric
	settled     map[settledKey]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:       make(map[string]Game),
		teams:       make(map[string]sim.Team),
		decisions:   make(map[string]sim.Decision),
		allocations: make(map[string][]sim.Allocation),
		metrics:     make(map[metricKey]sim.Metric),
		settled:     make(map[settledKey]time.Time),
	}
}

func (s *MemoryStore) PutGame(g Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
}

func (s *MemoryStore) PutTeam(t sim.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[t.ID]; !ok {
		s.teamOrder = append(s.teamOrder, t.ID)
	}
	s.teams[t.ID] = t
}

// PutMetric records a metric directly, bypassing settlement.
func (s *MemoryStore) PutMetric(m sim.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[metricKey{m.TeamID, m.Quarter}] = m
}

func (s *MemoryStore) Teams(_ context.Context, gameID string) ([]sim.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sim.Team
	for _, id := range s.teamOrder {
		if t := s.teams[id]; t.GameID == gameID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) Team(_ context.Context, teamID string) (sim.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[teamID]
	if !ok {
		return sim.Team{}, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) Decisions(_ context.Context, teamIDs []string, quarter int) ([]sim.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := toSet(teamIDs)
	var out []sim.Decision
	for _, d := range s.decisions {
		if _, ok := want[d.TeamID]; ok && d.Quarter == quarter {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out, nil
}

func (s *MemoryStore) Allocations(_ context.Context, decisionIDs []string) ([]sim.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sim.Allocation
	for _, id := range decisionIDs {
		out = append(out, s.allocations[id]...)
	}
	return out, nil
}

func (s *MemoryStore) Cities(_ context.Context) ([]sim.City, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]sim.City(nil), s.cities...), nil
}

func (s *MemoryStore) PriorMetrics(_ context.Context, teamIDs []string, quarter int) ([]sim.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sim.Metric
	for _, id := range teamIDs {
		if m, ok := s.metrics[metricKey{id, quarter}]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) Metrics(_ context.Context, gameID string, quarter int) ([]sim.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sim.Metric
	for _, id := range s.teamOrder {
		if s.teams[id].GameID != gameID {
			continue
		}
		if m, ok := s.metrics[metricKey{id, quarter}]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) CommitSettlement(_ context.Context, st Settlement) error {
	metrics := make([]sim.Metric, len(st.Metrics))
	for i, m := range st.Metrics {
		r, err := RoundMetric(m)
		if err != nil {
			return fmt.Errorf("team %s metric: %w", m.TeamID, err)
		}
		metrics[i] = r
	}
	updates := make([]sim.TeamUpdate, len(st.Updates))
	for i, u := range st.Updates {
		r, err := RoundUpdate(u)
		if err != nil {
			return fmt.Errorf("team %s update: %w", u.TeamID, err)
		}
		updates[i] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := settledKey{st.GameID, st.Quarter}
	if _, done := s.settled[key]; done {
		return ErrAlreadySettled
	}
	for _, m := range metrics {
		if _, dup := s.metrics[metricKey{m.TeamID, m.Quarter}]; dup {
			return fmt.Errorf("metric for team %s quarter %d already recorded", m.TeamID, m.Quarter)
		}
	}
	for _, u := range updates {
		if _, ok := s.teams[u.TeamID]; !ok {
			return fmt.Errorf("team %s: %w", u.TeamID, ErrNotFound)
		}
	}

	s.settled[key] = st.SettledAt
	for _, m := range metrics {
		s.metrics[metricKey{m.TeamID, m.Quarter}] = m
	}
	for _, u := range updates {
		s.teams[u.TeamID] = u.Apply(s.teams[u.TeamID])
	}
	return nil
}

func (s *MemoryStore) SubmitDecision(_ context.Context, d sim.Decision, allocs []sim.Allocation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.teams[d.TeamID]
	if !ok {
		return "", fmt.Errorf("team %s: %w", d.TeamID, ErrNotFound)
	}
	if _, done := s.settled[settledKey{team.GameID, d.Quarter}]; done {
		return "", ErrQuarterLocked
	}

	d.ID = ""
	for id, existing := range s.decisions {
		if existing.TeamID == d.TeamID && existing.Quarter == d.Quarter {
			d.ID = id
			break
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s.decisions[d.ID] = d

	stored := make([]sim.Allocation, len(allocs))
	for i, a := range allocs {
		a.DecisionID = d.ID
		stored[i] = a
	}
	s.allocations[d.ID] = stored
	return d.ID, nil
}

func (s *MemoryStore) SeedCities(_ context.Context, cities []sim.City) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cities) > 0 {
		return 0, nil
	}
	s.cities = append([]sim.City(nil), cities...)
	return len(cities), nil
}

func (s *MemoryStore) DueQuarters(_ context.Context, now time.Time) ([]Due, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var games []Game
	for _, g := range s.games {
		if !g.due(now) {
			continue
		}
		if _, done := s.settled[settledKey{g.ID, g.CurrentQuarter}]; done {
			continue
		}
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].QuarterStart.Before(games[j].QuarterStart) })
	out := make([]Due, 0, len(games))
	for _, g := range games {
		out = append(out, Due{GameID: g.ID, Quarter: g.CurrentQuarter})
	}
	return out, nil
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
