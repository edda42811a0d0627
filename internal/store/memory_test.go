package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bizsim/internal/sim"
	"bizsim/internal/store"
)

func newSeededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	s.PutGame(store.Game{ID: "g1", Status: store.GameActive, CurrentQuarter: 1, QuarterStart: time.Unix(0, 0), QuarterDuration: time.Hour})
	s.PutTeam(sim.Team{ID: "t1", GameID: "g1", Name: "Alpha", CurrentCapital: 1_000_000, StockPrice: 100})
	s.PutTeam(sim.Team{ID: "t2", GameID: "g1", Name: "Beta", CurrentCapital: 2_000_000, StockPrice: 100})
	s.PutTeam(sim.Team{ID: "t3", GameID: "other", Name: "Gamma", StockPrice: 100})
	if _, err := s.SeedCities(context.Background(), store.DefaultCities); err != nil {
		t.Fatalf("seed cities: %v", err)
	}
	return s
}

func TestMemoryTeamsFilteredByGame(t *testing.T) {
	s := newSeededStore(t)
	teams, err := s.Teams(context.Background(), "g1")
	if err != nil {
		t.Fatalf("teams: %v", err)
	}
	if len(teams) != 2 || teams[0].ID != "t1" || teams[1].ID != "t2" {
		t.Fatalf("unexpected teams: %+v", teams)
	}
	if _, err := s.Team(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemorySeedCitiesOnlyWhenEmpty(t *testing.T) {
	s := newSeededStore(t)
	n, err := s.SeedCities(context.Background(), []sim.City{{Name: "Extra"}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no cities added, got %d", n)
	}
	cities, _ := s.Cities(context.Background())
	if len(cities) != len(store.DefaultCities) {
		t.Fatalf("got %d cities want %d", len(cities), len(store.DefaultCities))
	}
}

func TestMemorySubmitDecisionReplacesEarlier(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)

	d := sim.Decision{TeamID: "t1", Quarter: 1, UnitsProduced: 10}
	id1, err := s.SubmitDecision(ctx, d, []sim.Allocation{{City: "Mumbai", Percentage: 60}, {City: "Delhi", Percentage: 40}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	d.UnitsProduced = 20
	id2, err := s.SubmitDecision(ctx, d, []sim.Allocation{{City: "Pune", Percentage: 100}})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("resubmission should keep the decision id: %s != %s", id1, id2)
	}

	decisions, _ := s.Decisions(ctx, []string{"t1", "t2"}, 1)
	if len(decisions) != 1 || decisions[0].UnitsProduced != 20 || decisions[0].ID != id1 {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}
	allocs, _ := s.Allocations(ctx, []string{id1})
	if len(allocs) != 1 || allocs[0].City != "Pune" || allocs[0].DecisionID != id1 {
		t.Fatalf("unexpected allocations: %+v", allocs)
	}
}

func TestMemoryCommitSettlementGuard(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)

	st := store.Settlement{
		GameID:  "g1",
		Quarter: 1,
		Metrics: []sim.Metric{
			{TeamID: "t1", Quarter: 1, Revenue: 1234.56, CustomerSatisfaction: 88.8888, MarketShare: 100},
			{TeamID: "t2", Quarter: 1, CashFlow: -20_000.4},
		},
		Updates: []sim.TeamUpdate{
			{TeamID: "t1", CurrentCapital: 1_500_000.7, StockPrice: 123.456, MarketShare: 100},
			{TeamID: "t2", CurrentCapital: 1_980_000, StockPrice: 95},
		},
		SettledAt: time.Now(),
	}
	if err := s.CommitSettlement(ctx, st); err != nil {
		t.Fatalf("commit: %v", err)
	}

	metrics, _ := s.Metrics(ctx, "g1", 1)
	if len(metrics) != 2 {
		t.Fatalf("got %d metrics", len(metrics))
	}
	if metrics[0].Revenue != 1235 || metrics[0].CustomerSatisfaction != 88.89 || metrics[1].CashFlow != -20_000 {
		t.Fatalf("metrics not rounded at the boundary: %+v", metrics)
	}
	team, _ := s.Team(ctx, "t1")
	if team.CurrentCapital != 1_500_001 || team.StockPrice != 123.46 || team.Name != "Alpha" {
		t.Fatalf("team not updated: %+v", team)
	}

	st.Metrics[0].Revenue = 999
	if err := s.CommitSettlement(ctx, st); !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	metrics, _ = s.Metrics(ctx, "g1", 1)
	if metrics[0].Revenue != 1235 {
		t.Fatalf("second settlement changed metrics: %+v", metrics[0])
	}

	if _, err := s.SubmitDecision(ctx, sim.Decision{TeamID: "t2", Quarter: 1}, nil); !errors.Is(err, store.ErrQuarterLocked) {
		t.Fatalf("expected ErrQuarterLocked, got %v", err)
	}
	if _, err := s.SubmitDecision(ctx, sim.Decision{TeamID: "t2", Quarter: 2}, nil); err != nil {
		t.Fatalf("next quarter should accept decisions: %v", err)
	}

	prior, _ := s.PriorMetrics(ctx, []string{"t1", "t2"}, 1)
	if len(prior) != 2 {
		t.Fatalf("got %d prior metrics", len(prior))
	}
}

func TestMemoryCommitRejectsNonFinite(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)
	var zero float64
	err := s.CommitSettlement(ctx, store.Settlement{
		GameID:  "g1",
		Quarter: 1,
		Metrics: []sim.Metric{{TeamID: "t1", Quarter: 1, ROI: 1 / zero}},
	})
	if !errors.Is(err, store.ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
	due, _ := s.DueQuarters(ctx, time.Unix(0, 0).Add(2*time.Hour))
	if len(due) != 1 {
		t.Fatalf("failed commit must not claim the quarter: %+v", due)
	}
}

func TestMemoryDueQuarters(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)
	start := time.Unix(0, 0)
	s.PutGame(store.Game{ID: "g2", Status: store.GameActive, CurrentQuarter: 3, QuarterStart: start.Add(30 * time.Minute), QuarterDuration: time.Hour})
	s.PutGame(store.Game{ID: "g3", Status: "finished", CurrentQuarter: 8, QuarterStart: start, QuarterDuration: time.Minute})

	due, err := s.DueQuarters(ctx, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0] != (store.Due{GameID: "g1", Quarter: 1}) {
		t.Fatalf("unexpected due quarters at 1h: %+v", due)
	}

	due, _ = s.DueQuarters(ctx, start.Add(2*time.Hour))
	if len(due) != 2 || due[0].GameID != "g1" || due[1].GameID != "g2" {
		t.Fatalf("unexpected due quarters at 2h: %+v", due)
	}

	if err := s.CommitSettlement(ctx, store.Settlement{GameID: "g1", Quarter: 1}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	due, _ = s.DueQuarters(ctx, start.Add(2*time.Hour))
	if len(due) != 1 || due[0].GameID != "g2" {
		t.Fatalf("settled quarter still due: %+v", due)
	}
}
