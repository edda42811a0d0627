// Package scenario runs whole games locally from a YAML description.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bizsim/internal/sim"
)

type Scenario struct {
	Name      string           `yaml:"name"`
	Quarters  int              `yaml:"quarters"`
	Workers   int              `yaml:"workers"`
	Cities    []sim.City       `yaml:"cities"`
	Teams     []sim.Team       `yaml:"teams"`
	Decisions []sim.Submission `yaml:"decisions"`
}

type Quarter struct {
	Quarter int        `json:"quarter"`
	Result  sim.Result `json:"result"`
	Teams   []sim.Team `json:"teams"`
}

// Load reads a scenario from a YAML file. Unknown keys are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}
	if err := sc.prepare(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) prepare() error {
	if len(sc.Teams) == 0 {
		return sim.ErrNoTeams
	}
	if len(sc.Cities) == 0 {
		return errors.New("scenario has no cities")
	}
	teams := make(map[string]struct{}, len(sc.Teams))
	for _, t := range sc.Teams {
		teams[t.ID] = struct{}{}
	}
	type slot struct {
		team    string
		quarter int
	}
	seen := make(map[slot]int, len(sc.Decisions))
	ids := make(map[string]struct{}, len(sc.Decisions))

	maxQuarter := 0
	for i := range sc.Decisions {
		d := &sc.Decisions[i]
		if d.Quarter < 1 {
			return fmt.Errorf("decision %d: quarter must be >= 1", i)
		}
		if _, ok := teams[d.TeamID]; !ok {
			return fmt.Errorf("decision %d: unknown team %q", i, d.TeamID)
		}
		key := slot{team: d.TeamID, quarter: d.Quarter}
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("decision %d: team %q already decided quarter %d in decision %d", i, d.TeamID, d.Quarter, prev)
		}
		seen[key] = i
		if d.ID == "" {
			d.ID = fmt.Sprintf("%s-q%d", d.TeamID, d.Quarter)
		}
		if _, dup := ids[d.ID]; dup {
			return fmt.Errorf("decision %d: id %q used twice", i, d.ID)
		}
		ids[d.ID] = struct{}{}
		if d.CostPerUnit == 0 {
			d.CostPerUnit = sim.CostPerUnit(d.Decision)
		}
		if len(d.Allocations) == 0 {
			d.Allocations = sim.EvenAllocations(d.ID, sc.Cities)
		}
		for j := range d.Allocations {
			d.Allocations[j].DecisionID = d.ID
		}
		if err := sim.ValidateShape(d.Decision, d.Allocations); err != nil {
			return fmt.Errorf("decision %d (%s): %w", i, d.ID, err)
		}
		maxQuarter = max(maxQuarter, d.Quarter)
	}
	if sc.Quarters == 0 {
		sc.Quarters = max(1, maxQuarter)
	}
	return nil
}

// SettleFunc settles one quarter. sim.Engine.Settle is one; a client of
// the /v1/simulate endpoint is another.
type SettleFunc func(sim.Input) (sim.Result, error)

// Run settles the scenario in process.
func Run(sc *Scenario) ([]Quarter, error) {
	return RunWith(sc, sim.Engine{Workers: sc.Workers}.Settle)
}

// RunWith settles quarters 1..Quarters in order through settle. Each quarter
// starts from the teams as the previous quarter left them and carries its
// metrics forward.
func RunWith(sc *Scenario, settle SettleFunc) ([]Quarter, error) {
	teams := append([]sim.Team(nil), sc.Teams...)

	var decisions []sim.Decision
	var allocations []sim.Allocation
	for _, s := range sc.Decisions {
		decisions = append(decisions, s.Decision)
		allocations = append(allocations, s.Allocations...)
	}

	var prior []sim.Metric
	out := make([]Quarter, 0, sc.Quarters)
	for q := 1; q <= sc.Quarters; q++ {
		res, err := settle(sim.Input{
			Quarter:     q,
			Teams:       teams,
			Decisions:   decisions,
			Allocations: allocations,
			Cities:      sc.Cities,
			Prior:       prior,
		})
		if err != nil {
			return out, fmt.Errorf("quarter %d: %w", q, err)
		}
		if len(res.Updates) != len(teams) {
			return out, fmt.Errorf("quarter %d: got %d team updates for %d teams", q, len(res.Updates), len(teams))
		}
		next := make([]sim.Team, len(teams))
		for i, t := range teams {
			next[i] = res.Updates[i].Apply(t)
		}
		teams = next
		prior = res.Metrics
		out = append(out, Quarter{Quarter: q, Result: res, Teams: teams})
	}
	return out, nil
}
