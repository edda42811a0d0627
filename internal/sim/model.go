// Package sim holds the quarter settlement engine and the rules that govern
// team decisions. Nothing in this package performs I/O.
package sim

import (
	"errors"
	"math"
)

type Tier int

const (
	Luxury Tier = iota
	Flagship
	Midtier
	Lowertier
)

var Tiers = [...]Tier{Luxury, Flagship, Midtier, Lowertier}

func (t Tier) String() string {
	switch t {
	case Luxury:
		return "luxury"
	case Flagship:
		return "flagship"
	case Midtier:
		return "midtier"
	case Lowertier:
		return "lowertier"
	}
	return "unknown"
}

const (
	InterestRatePerQuarter = 0.02
	HoldingCostRate        = 0.05

	MarketingBoostCap    = 0.2
	MarketingBoostSpend  = 5_000_000.0
	StockProfitScale     = 10_000_000.0
	MinStockPrice        = 10.0
	MissedQuarterPenalty = 10.0
	MissedQuarterStock   = 0.95

	SatisfactionDecay = 2.0
	ProductivityDecay = 1.0

	DefaultSatisfaction = 100.0
	DefaultProductivity = 100.0

	MaxRnDCostReduction = 0.3
	RnDCostSpend        = 5_000_000.0
)

// BaseTierCost is the unit production cost of each tier before R&D savings.
var BaseTierCost = TierValues{
	Luxury:    80_000,
	Flagship:  35_000,
	Midtier:   15_000,
	Lowertier: 6_000,
}

var (
	ErrNoTeams         = errors.New("no teams found for this game")
	ErrInvalidDecision = errors.New("invalid decision")
)

// CostPerUnit prices one unit of the decision's tier mix, discounted by R&D
// spend (up to 30% at 5,000,000).
func CostPerUnit(d Decision) float64 {
	reduction := math.Min(MaxRnDCostReduction, d.RnDBudget/RnDCostSpend*MaxRnDCostReduction)
	if reduction < 0 {
		reduction = 0
	}
	weighted := 0.0
	for _, t := range Tiers {
		weighted += BaseTierCost.Get(t) * d.Mix.Get(t) / 100
	}
	return math.Round(weighted * (1 - reduction))
}

// EvenAllocations spreads 100% across the cities in order; the first
// 100 mod n cities absorb the remainder.
func EvenAllocations(decisionID string, cities []City) []Allocation {
	if len(cities) == 0 {
		return nil
	}
	n := len(cities)
	each := 100 / n
	remainder := 100 - each*n
	out := make([]Allocation, 0, n)
	for i, c := range cities {
		pct := each
		if i < remainder {
			pct++
		}
		out = append(out, Allocation{DecisionID: decisionID, City: c.Name, Percentage: float64(pct)})
	}
	return out
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
