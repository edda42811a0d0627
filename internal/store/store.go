// Package store persists games, teams, decisions and settled quarters.
// PostgreSQL is the source of truth, Redis caches city reference data and
// MemoryStore backs tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"bizsim/internal/sim"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadySettled = errors.New("quarter already settled")
	ErrQuarterLocked  = errors.New("quarter is settled; decisions are locked")
	ErrTxConflict     = errors.New("transaction conflict, please retry")
	ErrNonFinite      = errors.New("non-finite number")
)

type Store interface {
	// Teams returns the teams of a game ordered by creation.
	Teams(ctx context.Context, gameID string) ([]sim.Team, error)
	Team(ctx context.Context, teamID string) (sim.Team, error)

	Decisions(ctx context.Context, teamIDs []string, quarter int) ([]sim.Decision, error)
	Allocations(ctx context.Context, decisionIDs []string) ([]sim.Allocation, error)
	Cities(ctx context.Context) ([]sim.City, error)
	// PriorMetrics returns the metrics the given teams recorded for quarter.
	PriorMetrics(ctx context.Context, teamIDs []string, quarter int) ([]sim.Metric, error)
	// Metrics returns every team's metrics for one quarter of a game.
	Metrics(ctx context.Context, gameID string, quarter int) ([]sim.Metric, error)

	// CommitSettlement claims (GameID, Quarter), appends the metrics and
	// applies the team updates atomically. A repeated claim fails with
	// ErrAlreadySettled and writes nothing.
	CommitSettlement(ctx context.Context, s Settlement) error

	// SubmitDecision stores a team's decision for a quarter, replacing any
	// earlier submission and its allocations. It returns the stored ID.
	SubmitDecision(ctx context.Context, d sim.Decision, allocs []sim.Allocation) (string, error)

	// SeedCities inserts cities when none exist and reports how many were added.
	SeedCities(ctx context.Context, cities []sim.City) (int, error)

	// DueQuarters lists active games whose current quarter has run its
	// course and has not been settled.
	DueQuarters(ctx context.Context, now time.Time) ([]Due, error)
}

type Settlement struct {
	GameID    string
	Quarter   int
	Metrics   []sim.Metric
	Updates   []sim.TeamUpdate
	SettledAt time.Time
}

type Due struct {
	GameID  string `json:"game_id"`
	Quarter int    `json:"quarter"`
}

type Game struct {
	ID              string
	Name            string
	Status          string
	CurrentQuarter  int
	QuarterStart    time.Time
	QuarterDuration time.Duration
}

const GameActive = "active"

func (g Game) due(now time.Time) bool {
	return g.Status == GameActive && !g.QuarterStart.Add(g.QuarterDuration).After(now)
}
