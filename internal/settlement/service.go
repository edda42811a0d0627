// Package settlement runs quarter settlements against a store: it loads a
// game's inputs in bulk, runs the engine, commits the results atomically
// and announces the settled quarter.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bizsim/internal/metrics"
	"bizsim/internal/notify"
	"bizsim/internal/sim"
	"bizsim/internal/store"
)

type Service struct {
	store  store.Store
	engine sim.Engine
	pub    notify.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewService(st store.Store, engine sim.Engine, pub notify.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = notify.Nop{}
	}
	return &Service{store: st, engine: engine, pub: pub, logger: logger, now: time.Now}
}

type Report struct {
	GameID         string             `json:"game_id"`
	Quarter        int                `json:"quarter"`
	TeamsProcessed int                `json:"teams_processed"`
	Gaps           []sim.ReferenceGap `json:"gaps"`
}

// SettleQuarter settles one quarter of a game. A quarter that was already
// settled returns store.ErrAlreadySettled and changes nothing.
func (s *Service) SettleQuarter(ctx context.Context, gameID string, quarter int) (Report, error) {
	report := Report{GameID: gameID, Quarter: quarter, Gaps: []sim.ReferenceGap{}}
	if quarter < 1 {
		return report, fmt.Errorf("quarter must be >= 1")
	}
	start := s.now()
	log := s.logger.With("game_id", gameID, "quarter", quarter)
	log.Info("settlement started")

	in, err := s.loadInput(ctx, gameID, quarter)
	if err != nil {
		s.fail(log, err)
		return report, err
	}

	res, err := s.engine.Settle(in)
	if err != nil {
		s.fail(log, err)
		return report, fmt.Errorf("game %s: %w", gameID, err)
	}
	for _, gap := range res.Gaps {
		log.Warn("allocation references unknown city", "team_id", gap.TeamID, "decision_id", gap.DecisionID, "city", gap.City)
	}
	metrics.ReferenceGaps.Add(float64(len(res.Gaps)))

	settledAt := s.now().UTC()
	err = s.store.CommitSettlement(ctx, store.Settlement{
		GameID:    gameID,
		Quarter:   quarter,
		Metrics:   res.Metrics,
		Updates:   res.Updates,
		SettledAt: settledAt,
	})
	if errors.Is(err, store.ErrAlreadySettled) {
		metrics.SettlementsTotal.WithLabelValues("already_settled").Inc()
		log.Info("quarter already settled")
		return report, err
	}
	if err != nil {
		err = persistence("commit settlement", err)
		s.fail(log, err)
		return report, err
	}

	report.TeamsProcessed = len(res.Metrics)
	if len(res.Gaps) > 0 {
		report.Gaps = res.Gaps
	}
	elapsed := s.now().Sub(start)
	metrics.SettlementsTotal.WithLabelValues("ok").Inc()
	metrics.SettlementDuration.Observe(elapsed.Seconds())
	metrics.TeamsSettled.Add(float64(report.TeamsProcessed))
	log.Info("settlement committed", "teams", report.TeamsProcessed, "gaps", len(res.Gaps), "duration_ms", elapsed.Milliseconds())

	ev := notify.QuarterSettled{GameID: gameID, Quarter: quarter, Teams: report.TeamsProcessed, SettledAt: settledAt}
	if err := s.pub.QuarterSettled(ctx, ev); err != nil {
		log.Warn("settlement notification failed", "err", err)
	}
	return report, nil
}

func (s *Service) loadInput(ctx context.Context, gameID string, quarter int) (sim.Input, error) {
	in := sim.Input{Quarter: quarter}

	teams, err := s.store.Teams(ctx, gameID)
	if err != nil {
		return in, persistence("load teams", err)
	}
	if len(teams) == 0 {
		return in, fmt.Errorf("game %s: %w", gameID, sim.ErrNoTeams)
	}
	in.Teams = teams
	teamIDs := make([]string, len(teams))
	for i, t := range teams {
		teamIDs[i] = t.ID
	}

	if in.Decisions, err = s.store.Decisions(ctx, teamIDs, quarter); err != nil {
		return in, persistence("load decisions", err)
	}
	if len(in.Decisions) > 0 {
		decisionIDs := make([]string, len(in.Decisions))
		for i, d := range in.Decisions {
			decisionIDs[i] = d.ID
		}
		if in.Allocations, err = s.store.Allocations(ctx, decisionIDs); err != nil {
			return in, persistence("load allocations", err)
		}
	}
	if in.Cities, err = s.store.Cities(ctx); err != nil {
		return in, persistence("load cities", err)
	}
	if quarter > 1 {
		if in.Prior, err = s.store.PriorMetrics(ctx, teamIDs, quarter-1); err != nil {
			return in, persistence("load prior metrics", err)
		}
	}
	return in, nil
}

func (s *Service) fail(log *slog.Logger, err error) {
	outcome := "error"
	if errors.Is(err, sim.ErrNoTeams) {
		outcome = "no_teams"
	}
	metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	log.Error("settlement failed", "err", err)
}

// SettleDue settles every quarter the store reports as due and returns how
// many were committed. One game failing does not stop the sweep.
func (s *Service) SettleDue(ctx context.Context) (int, error) {
	due, err := s.store.DueQuarters(ctx, s.now())
	if err != nil {
		return 0, persistence("list due quarters", err)
	}
	settled := 0
	var errs []error
	for _, d := range due {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		_, err := s.SettleQuarter(ctx, d.GameID, d.Quarter)
		switch {
		case err == nil:
			settled++
		case errors.Is(err, store.ErrAlreadySettled):
		default:
			errs = append(errs, fmt.Errorf("game %s quarter %d: %w", d.GameID, d.Quarter, err))
		}
	}
	return settled, errors.Join(errs...)
}
