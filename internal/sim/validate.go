package sim

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError lists every rule a submitted decision breaks.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidDecision, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDecision
}

const percentTolerance = 1e-6

// ValidateDecision checks a decision and its allocations against the
// submitting team's current finances. CostPerUnit is taken as given, so
// callers pricing through CostPerUnit should set it first.
func ValidateDecision(team Team, d Decision, allocs []Allocation) error {
	problems := shapeProblems(d, allocs)
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	spend := float64(d.UnitsProduced)*d.CostPerUnit + d.MarketingBudget + d.RnDBudget + d.EmployeeBudget + d.DebtRepayment
	available := team.CurrentCapital + d.NewDebt
	if spend > available {
		add("total costs %.0f exceed available funds %.0f", spend, available)
	}
	if next := team.TotalDebt + d.NewDebt - d.DebtRepayment; next > team.DebtCeiling {
		add("new debt %.0f would exceed debt ceiling %.0f", next, team.DebtCeiling)
	}
	if d.DebtRepayment > team.TotalDebt {
		add("debt repayment %.0f cannot exceed current debt %.0f", d.DebtRepayment, team.TotalDebt)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateShape runs the checks that do not depend on a team's finances:
// non-negative amounts, tier percentages and allocations each summing to
// 100, no city allocated twice.
func ValidateShape(d Decision, allocs []Allocation) error {
	if problems := shapeProblems(d, allocs); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func shapeProblems(d Decision, allocs []Allocation) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if d.Quarter < 1 {
		add("quarter must be >= 1")
	}
	if d.UnitsProduced < 0 {
		add("units produced must be >= 0")
	}
	amounts := []struct {
		name string
		v    float64
	}{
		{"cost per unit", d.CostPerUnit},
		{"marketing budget", d.MarketingBudget},
		{"r&d budget", d.RnDBudget},
		{"employee budget", d.EmployeeBudget},
		{"new debt", d.NewDebt},
		{"debt repayment", d.DebtRepayment},
	}
	for _, a := range amounts {
		if a.v < 0 || math.IsNaN(a.v) {
			add("%s must be >= 0", a.name)
		}
	}
	for _, t := range Tiers {
		if d.Mix.Get(t) < 0 {
			add("%s percentage must be >= 0", t)
		}
		if d.Prices.Get(t) < 0 {
			add("%s price must be >= 0", t)
		}
	}
	if math.Abs(d.Mix.Sum()-100) > percentTolerance {
		add("tier percentages must sum to 100 (got %.2f)", d.Mix.Sum())
	}

	seen := make(map[string]struct{}, len(allocs))
	total := 0.0
	for _, a := range allocs {
		name := strings.TrimSpace(a.City)
		if name == "" {
			add("allocation city is required")
			continue
		}
		if _, dup := seen[name]; dup {
			add("city %q allocated more than once", name)
		}
		seen[name] = struct{}{}
		if a.Percentage < 0 {
			add("allocation for %q must be >= 0", name)
		}
		total += a.Percentage
	}
	if math.Abs(total-100) > percentTolerance {
		add("market allocations must sum to 100 (got %.2f)", total)
	}
	return problems
}
