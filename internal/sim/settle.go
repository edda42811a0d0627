package sim

import (
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Engine settles quarters. Workers bounds how many teams are computed at
// once; zero or one runs sequentially. Output does not depend on Workers.
type Engine struct {
	Workers int
}

// Settle runs a sequential Engine.
func Settle(in Input) (Result, error) {
	return Engine{}.Settle(in)
}

type teamOutcome struct {
	metric Metric
	update TeamUpdate
	gaps   []ReferenceGap
}

type carried struct {
	satisfaction float64
	productivity float64
}

func (e Engine) Settle(in Input) (Result, error) {
	if len(in.Teams) == 0 {
		return Result{}, ErrNoTeams
	}

	decisions := make(map[string]Decision, len(in.Decisions))
	for _, d := range in.Decisions {
		if d.Quarter != in.Quarter {
			continue
		}
		if _, dup := decisions[d.TeamID]; dup {
			continue
		}
		decisions[d.TeamID] = d
	}
	allocations := make(map[string][]Allocation, len(in.Decisions))
	for _, a := range in.Allocations {
		allocations[a.DecisionID] = append(allocations[a.DecisionID], a)
	}
	cities := make(map[string]City, len(in.Cities))
	for _, c := range in.Cities {
		cities[c.Name] = c
	}
	prior := make(map[string]carried, len(in.Prior))
	for _, m := range in.Prior {
		if m.Quarter != in.Quarter-1 {
			continue
		}
		prior[m.TeamID] = carried{satisfaction: m.CustomerSatisfaction, productivity: m.EmployeeProductivity}
	}

	outcomes := make([]teamOutcome, len(in.Teams))
	compute := func(i int) {
		team := in.Teams[i]
		prev, ok := prior[team.ID]
		if !ok {
			prev = carried{satisfaction: DefaultSatisfaction, productivity: DefaultProductivity}
		}
		d, submitted := decisions[team.ID]
		if !submitted {
			outcomes[i] = settleMissed(in.Quarter, team, prev)
			return
		}
		outcomes[i] = settleDecision(in.Quarter, team, d, allocations[d.ID], cities, prev)
	}

	if e.Workers > 1 {
		var g errgroup.Group
		g.SetLimit(e.Workers)
		for i := range in.Teams {
			i := i
			g.Go(func() error {
				compute(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range in.Teams {
			compute(i)
		}
	}

	out := Result{
		Metrics: make([]Metric, len(outcomes)),
		Updates: make([]TeamUpdate, len(outcomes)),
	}
	sold := make([]float64, len(outcomes))
	for i, o := range outcomes {
		out.Metrics[i] = o.metric
		out.Updates[i] = o.update
		out.Gaps = append(out.Gaps, o.gaps...)
		sold[i] = o.metric.UnitsSold
	}
	for i, share := range MarketShares(sold) {
		out.Metrics[i].MarketShare = share
		out.Updates[i].MarketShare = share
	}
	return out, nil
}

func settleMissed(quarter int, team Team, prev carried) teamOutcome {
	interest := team.TotalDebt * InterestRatePerQuarter
	return teamOutcome{
		metric: Metric{
			TeamID:               team.ID,
			Quarter:              quarter,
			CashFlow:             -interest,
			CustomerSatisfaction: clamp(0, 100, prev.satisfaction-MissedQuarterPenalty),
			EmployeeProductivity: clamp(0, 100, prev.productivity-MissedQuarterPenalty),
			MarketShare:          team.MarketShare,
		},
		update: TeamUpdate{
			TeamID:         team.ID,
			CurrentCapital: team.CurrentCapital - interest,
			TotalDebt:      team.TotalDebt,
			TotalProfit:    team.TotalProfit,
			MarketShare:    team.MarketShare,
			StockPrice:     math.Max(MinStockPrice, team.StockPrice*MissedQuarterStock),
		},
	}
}

func settleDecision(quarter int, team Team, d Decision, allocs []Allocation, cities map[string]City, prev carried) teamOutcome {
	var o teamOutcome

	var tierUnits [len(Tiers)]float64
	for _, t := range Tiers {
		tierUnits[t] = math.Floor(float64(d.UnitsProduced) * d.Mix.Get(t) / 100)
	}

	boost := 1 + math.Min(1, d.MarketingBudget/MarketingBoostSpend)*MarketingBoostCap

	var revenue, unitsSold, distribution float64
	var dsrSum float64
	var dsrCount int
	for _, a := range allocs {
		city, ok := cities[a.City]
		if !ok {
			o.gaps = append(o.gaps, ReferenceGap{TeamID: team.ID, DecisionID: d.ID, City: a.City})
			continue
		}
		share := a.Percentage / 100
		population := float64(city.Population)

		var citySold, citySupplied, cityDemand float64
		for _, t := range Tiers {
			demand := population * (city.DemandPct.Get(t) / 100) * boost
			supply := tierUnits[t] * share
			sold := math.Min(demand, supply)
			revenue += sold * d.Prices.Get(t)
			citySold += sold
			citySupplied += supply
			cityDemand += demand
		}
		unitsSold += citySold
		distribution += city.BaseDistributionCost * citySupplied
		if cityDemand > 0 {
			dsrSum += citySold / cityDemand * 100
			dsrCount++
		}
	}
	dsr := 0.0
	if dsrCount > 0 {
		dsr = dsrSum / float64(dsrCount)
	}

	produced := float64(d.UnitsProduced)
	productionCost := produced * d.CostPerUnit
	totalCosts := productionCost + d.MarketingBudget + d.RnDBudget + d.EmployeeBudget + distribution
	inventory := math.Max(0, produced-unitsSold)
	holding := inventory * d.CostPerUnit * HoldingCostRate
	profit := revenue - totalCosts - holding

	rndImpact := math.Min(20, d.RnDBudget/250_000)
	marketingImpact := math.Min(15, d.MarketingBudget/500_000)
	// Without any city demand there is no fulfilment signal to react to.
	demandImpact := 0.0
	if dsrCount > 0 {
		demandImpact = (dsr - 50) * 0.2
	}
	satisfaction := clamp(0, 100, prev.satisfaction+rndImpact*0.5+marketingImpact*0.7+demandImpact-SatisfactionDecay)

	employeeImpact := math.Min(20, d.EmployeeBudget/250_000)
	productivity := clamp(0, 100, prev.productivity+employeeImpact*0.5-ProductivityDecay)

	interest := (team.TotalDebt + d.NewDebt) * InterestRatePerQuarter
	cashFlow := profit + d.NewDebt - d.DebtRepayment - interest
	investment := d.MarketingBudget + d.RnDBudget + d.EmployeeBudget
	roi := 0.0
	if investment > 0 {
		roi = profit / investment * 100
	}

	o.metric = Metric{
		TeamID:                 team.ID,
		Quarter:                quarter,
		Revenue:                revenue,
		Profit:                 profit,
		CashFlow:               cashFlow,
		ROI:                    roi,
		CustomerSatisfaction:   satisfaction,
		EmployeeProductivity:   productivity,
		UnitsSold:              unitsSold,
		InventoryRemaining:     inventory,
		DistributionCost:       distribution,
		InventoryHoldingCost:   holding,
		DemandSatisfactionRate: dsr,
	}
	o.update = TeamUpdate{
		TeamID:         team.ID,
		CurrentCapital: team.CurrentCapital + cashFlow,
		TotalDebt:      math.Max(0, team.TotalDebt+d.NewDebt-d.DebtRepayment),
		TotalProfit:    team.TotalProfit + profit,
		StockPrice:     math.Max(MinStockPrice, team.StockPrice*(1+profit/StockProfitScale)*(satisfaction/100)),
	}
	return o
}

// MarketShares converts units sold into percentages with two decimals that
// add up to exactly 100 whenever anything was sold. Hundredths lost to
// rounding go to the largest remainders; teams that sold nothing stay at 0.
func MarketShares(sold []float64) []float64 {
	shares := make([]float64, len(sold))
	total := 0.0
	for _, s := range sold {
		if s > 0 {
			total += s
		}
	}
	if total <= 0 {
		return shares
	}

	type remainder struct {
		idx  int
		frac float64
	}
	hundredths := make([]int64, len(sold))
	rems := make([]remainder, 0, len(sold))
	var assigned int64
	for i, s := range sold {
		if s <= 0 {
			continue
		}
		exact := s / total * 10_000
		whole := math.Floor(exact)
		hundredths[i] = int64(whole)
		assigned += hundredths[i]
		rems = append(rems, remainder{idx: i, frac: exact - whole})
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for k := 0; assigned < 10_000 && k < len(rems); k++ {
		hundredths[rems[k].idx]++
		assigned++
	}
	for i, h := range hundredths {
		shares[i] = float64(h) / 100
	}
	return shares
}
