package settlement

import (
	"context"
	"errors"

	"bizsim/internal/metrics"
	"bizsim/internal/sim"
	"bizsim/internal/store"
)

// SubmitDecision prices, validates and stores a team's decision. The
// submitted cost per unit is replaced by the cost model, and a decision
// without allocations is spread evenly over every known city.
func (s *Service) SubmitDecision(ctx context.Context, d sim.Decision, allocs []sim.Allocation) (sim.Decision, error) {
	team, err := s.store.Team(ctx, d.TeamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.DecisionsSubmitted.WithLabelValues("not_found").Inc()
			return d, err
		}
		return d, persistence("load team", err)
	}

	d.CostPerUnit = sim.CostPerUnit(d)
	if len(allocs) == 0 {
		cities, err := s.store.Cities(ctx)
		if err != nil {
			return d, persistence("load cities", err)
		}
		allocs = sim.EvenAllocations(d.ID, cities)
	}
	if err := sim.ValidateDecision(team, d, allocs); err != nil {
		metrics.DecisionsSubmitted.WithLabelValues("invalid").Inc()
		return d, err
	}

	id, err := s.store.SubmitDecision(ctx, d, allocs)
	if errors.Is(err, store.ErrQuarterLocked) || errors.Is(err, store.ErrNotFound) {
		metrics.DecisionsSubmitted.WithLabelValues("rejected").Inc()
		return d, err
	}
	if err != nil {
		return d, persistence("store decision", err)
	}
	d.ID = id
	metrics.DecisionsSubmitted.WithLabelValues("ok").Inc()
	s.logger.Info("decision submitted", "team_id", d.TeamID, "quarter", d.Quarter, "decision_id", id)
	return d, nil
}
