package sim

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
)

const eps = 1e-6

func approx(a, b float64) bool {
	return math.Abs(a-b) <= eps*math.Max(1, math.Abs(b))
}

func luxuryCity() City {
	return City{
		Name:                 "Mumbai",
		Population:           1_000_000,
		DemandPct:            TierValues{Luxury: 10},
		BaseDistributionCost: 0,
	}
}

func TestSettleNoTeams(t *testing.T) {
	_, err := Settle(Input{Quarter: 1})
	if !errors.Is(err, ErrNoTeams) {
		t.Fatalf("expected ErrNoTeams, got %v", err)
	}
}

func TestSettleTwoTeamsOneMissing(t *testing.T) {
	in := Input{
		Quarter: 1,
		Teams: []Team{
			{ID: "a", CurrentCapital: 50_000_000_000, StockPrice: 100},
			{ID: "b", CurrentCapital: 1_000_000, TotalDebt: 1_000_000, TotalProfit: 42, MarketShare: 50, StockPrice: 200},
		},
		Decisions: []Decision{{
			ID:            "d-a",
			TeamID:        "a",
			Quarter:       1,
			UnitsProduced: 200_000,
			Mix:           TierValues{Luxury: 100},
			Prices:        TierValues{Luxury: 100_000},
		}},
		Allocations: []Allocation{{DecisionID: "d-a", City: "Mumbai", Percentage: 100}},
		Cities:      []City{luxuryCity()},
	}
	res, err := Settle(in)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	a, b := res.Metrics[0], res.Metrics[1]
	if a.UnitsSold != 100_000 {
		t.Fatalf("a units sold = %v want 100000", a.UnitsSold)
	}
	if a.Revenue != 100_000*100_000 {
		t.Fatalf("a revenue = %v", a.Revenue)
	}
	if a.MarketShare != 100 || b.MarketShare != 0 {
		t.Fatalf("shares a=%v b=%v", a.MarketShare, b.MarketShare)
	}
	if res.Updates[0].MarketShare != 100 || res.Updates[1].MarketShare != 0 {
		t.Fatalf("update shares a=%v b=%v", res.Updates[0].MarketShare, res.Updates[1].MarketShare)
	}
	if a.InventoryRemaining != 100_000 {
		t.Fatalf("a inventory = %v", a.InventoryRemaining)
	}

	if b.UnitsSold != 0 || b.Revenue != 0 || b.Profit != 0 || b.DemandSatisfactionRate != 0 {
		t.Fatalf("missed team should report zeros: %+v", b)
	}
	if b.CashFlow != -20_000 {
		t.Fatalf("b cash flow = %v want -20000", b.CashFlow)
	}
	if b.CustomerSatisfaction != 90 || b.EmployeeProductivity != 90 {
		t.Fatalf("b carry-forward = %v/%v", b.CustomerSatisfaction, b.EmployeeProductivity)
	}
	ub := res.Updates[1]
	if ub.CurrentCapital != 980_000 || ub.TotalDebt != 1_000_000 || ub.TotalProfit != 42 {
		t.Fatalf("b update = %+v", ub)
	}
	if !approx(ub.StockPrice, 190) {
		t.Fatalf("b stock = %v want 190", ub.StockPrice)
	}
}

func TestSettleMissedStockFloor(t *testing.T) {
	res, err := Settle(Input{Quarter: 3, Teams: []Team{{ID: "x", StockPrice: 10}}})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Updates[0].StockPrice != MinStockPrice {
		t.Fatalf("stock = %v want floor %v", res.Updates[0].StockPrice, MinStockPrice)
	}
}

func TestSettleFullFinancials(t *testing.T) {
	city := City{
		Name:                 "Pune",
		Population:           1_000_000,
		DemandPct:            TierValues{Luxury: 5, Flagship: 10, Midtier: 20, Lowertier: 30},
		BaseDistributionCost: 100,
	}
	team := Team{ID: "t", CurrentCapital: 5_000_000_000, TotalDebt: 100_000_000, DebtCeiling: 500_000_000, StockPrice: 100}
	d := Decision{
		ID:              "d",
		TeamID:          "t",
		Quarter:         1,
		UnitsProduced:   100_000,
		CostPerUnit:     20_000,
		Mix:             TierValues{Luxury: 10, Flagship: 20, Midtier: 30, Lowertier: 40},
		Prices:          TierValues{Luxury: 90_000, Flagship: 40_000, Midtier: 20_000, Lowertier: 8_000},
		MarketingBudget: 2_500_000,
		RnDBudget:       1_000_000,
		EmployeeBudget:  500_000,
	}
	res, err := Settle(Input{
		Quarter:     1,
		Teams:       []Team{team},
		Decisions:   []Decision{d},
		Allocations: []Allocation{{DecisionID: "d", City: "Pune", Percentage: 100}},
		Cities:      []City{city},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	m, u := res.Metrics[0], res.Updates[0]

	wantDSR := 100_000.0 / 715_000 * 100
	wantRevenue := 2_620_000_000.0
	wantProfit := wantRevenue - (2_000_000_000 + 2_500_000 + 1_000_000 + 500_000 + 10_000_000)
	wantSat := 100 + 4*0.5 + 5*0.7 + (wantDSR-50)*0.2 - 2
	wantCash := wantProfit - 2_000_000

	checks := []struct {
		name      string
		got, want float64
	}{
		{"units sold", m.UnitsSold, 100_000},
		{"revenue", m.Revenue, wantRevenue},
		{"distribution", m.DistributionCost, 10_000_000},
		{"inventory", m.InventoryRemaining, 0},
		{"holding", m.InventoryHoldingCost, 0},
		{"profit", m.Profit, wantProfit},
		{"dsr", m.DemandSatisfactionRate, wantDSR},
		{"satisfaction", m.CustomerSatisfaction, wantSat},
		{"productivity", m.EmployeeProductivity, 100},
		{"cash flow", m.CashFlow, wantCash},
		{"roi", m.ROI, wantProfit / 4_000_000 * 100},
		{"share", m.MarketShare, 100},
		{"capital", u.CurrentCapital, team.CurrentCapital + wantCash},
		{"debt", u.TotalDebt, 100_000_000},
		{"total profit", u.TotalProfit, wantProfit},
		{"stock", u.StockPrice, 100 * (1 + wantProfit/StockProfitScale) * (wantSat / 100)},
	}
	for _, c := range checks {
		if !approx(c.got, c.want) {
			t.Fatalf("%s = %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestSettleRnDRaisesSatisfaction(t *testing.T) {
	res, err := Settle(Input{
		Quarter:   2,
		Teams:     []Team{{ID: "t", CurrentCapital: 10_000_000, StockPrice: 50}},
		Decisions: []Decision{{ID: "d", TeamID: "t", Quarter: 2, RnDBudget: 5_000_000}},
		Prior:     []Metric{{TeamID: "t", Quarter: 1, CustomerSatisfaction: 50, EmployeeProductivity: 70}},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := res.Metrics[0].CustomerSatisfaction; got != 58 {
		t.Fatalf("satisfaction = %v want 58", got)
	}
	if got := res.Metrics[0].EmployeeProductivity; got != 69 {
		t.Fatalf("productivity = %v want 69", got)
	}

	res, err = Settle(Input{
		Quarter:   1,
		Teams:     []Team{{ID: "t", StockPrice: 50}},
		Decisions: []Decision{{ID: "d", TeamID: "t", Quarter: 1, RnDBudget: 5_000_000}},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := res.Metrics[0].CustomerSatisfaction; got != 100 {
		t.Fatalf("satisfaction from default prior = %v want clamp 100", got)
	}
}

func TestSettleCarryForwardRoundTrip(t *testing.T) {
	team := Team{ID: "t", CurrentCapital: 1_000_000_000, StockPrice: 100}
	decide := Decision{ID: "q2", TeamID: "t", Quarter: 2, RnDBudget: 2_500_000, EmployeeBudget: 1_250_000}

	q1, err := Settle(Input{Quarter: 1, Teams: []Team{team}})
	if err != nil {
		t.Fatalf("q1: %v", err)
	}
	if q1.Metrics[0].CustomerSatisfaction != 90 || q1.Metrics[0].EmployeeProductivity != 90 {
		t.Fatalf("q1 carry = %+v", q1.Metrics[0])
	}

	team = q1.Updates[0].Apply(team)
	q2, err := Settle(Input{Quarter: 2, Teams: []Team{team}, Decisions: []Decision{decide}, Prior: q1.Metrics})
	if err != nil {
		t.Fatalf("q2: %v", err)
	}
	if got := q2.Metrics[0].CustomerSatisfaction; got != 93 {
		t.Fatalf("q2 satisfaction = %v want 93", got)
	}
	if got := q2.Metrics[0].EmployeeProductivity; got != 91.5 {
		t.Fatalf("q2 productivity = %v want 91.5", got)
	}

	team = q2.Updates[0].Apply(team)
	q3, err := Settle(Input{Quarter: 3, Teams: []Team{team}, Prior: q2.Metrics})
	if err != nil {
		t.Fatalf("q3: %v", err)
	}
	if q3.Metrics[0].CustomerSatisfaction != 83 || q3.Metrics[0].EmployeeProductivity != 81.5 {
		t.Fatalf("q3 carry = %+v", q3.Metrics[0])
	}

	// A prior row from the wrong quarter is not carried.
	stale, err := Settle(Input{Quarter: 3, Teams: []Team{team}, Prior: q1.Metrics})
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if stale.Metrics[0].CustomerSatisfaction != 90 {
		t.Fatalf("stale prior should fall back to default, got %v", stale.Metrics[0].CustomerSatisfaction)
	}
}

func TestSettleTierFlooringLoss(t *testing.T) {
	city := City{Name: "Delhi", Population: 1_000_000, DemandPct: TierValues{Luxury: 50, Flagship: 50, Midtier: 50, Lowertier: 50}}
	res, err := Settle(Input{
		Quarter: 1,
		Teams:   []Team{{ID: "t", StockPrice: 100}},
		Decisions: []Decision{{
			ID: "d", TeamID: "t", Quarter: 1, UnitsProduced: 10, CostPerUnit: 100,
			Mix: TierValues{Luxury: 33.3, Flagship: 33.3, Midtier: 33.4},
		}},
		Allocations: []Allocation{{DecisionID: "d", City: "Delhi", Percentage: 100}},
		Cities:      []City{city},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	m := res.Metrics[0]
	if m.UnitsSold != 9 {
		t.Fatalf("units sold = %v want 9 (flooring loss kept)", m.UnitsSold)
	}
	if m.InventoryRemaining != 1 || !approx(m.InventoryHoldingCost, 1*100*HoldingCostRate) {
		t.Fatalf("inventory = %v holding = %v", m.InventoryRemaining, m.InventoryHoldingCost)
	}
}

func TestSettleUnknownCityIsSkipped(t *testing.T) {
	res, err := Settle(Input{
		Quarter: 1,
		Teams:   []Team{{ID: "t", StockPrice: 100}},
		Decisions: []Decision{{
			ID: "d", TeamID: "t", Quarter: 1, UnitsProduced: 1_000,
			Mix: TierValues{Luxury: 100}, Prices: TierValues{Luxury: 10},
		}},
		Allocations: []Allocation{
			{DecisionID: "d", City: "Atlantis", Percentage: 50},
			{DecisionID: "d", City: "Mumbai", Percentage: 50},
		},
		Cities: []City{luxuryCity()},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(res.Gaps) != 1 || res.Gaps[0].City != "Atlantis" || res.Gaps[0].TeamID != "t" {
		t.Fatalf("gaps = %+v", res.Gaps)
	}
	if res.Metrics[0].UnitsSold != 500 {
		t.Fatalf("units sold = %v want 500", res.Metrics[0].UnitsSold)
	}
}

func TestSettleNothingSoldZeroShares(t *testing.T) {
	res, err := Settle(Input{
		Quarter: 1,
		Teams:   []Team{{ID: "a", MarketShare: 40, StockPrice: 20}, {ID: "b", MarketShare: 60, StockPrice: 20}},
		Decisions: []Decision{
			{ID: "da", TeamID: "a", Quarter: 1, UnitsProduced: 100, Mix: TierValues{Midtier: 100}},
		},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	for i, m := range res.Metrics {
		if m.MarketShare != 0 || res.Updates[i].MarketShare != 0 {
			t.Fatalf("team %s share = %v / %v", m.TeamID, m.MarketShare, res.Updates[i].MarketShare)
		}
	}
}

func TestMarketSharesSumToHundred(t *testing.T) {
	tests := []struct {
		sold []float64
		want []float64
	}{
		{sold: []float64{1, 1, 1}, want: []float64{33.34, 33.33, 33.33}},
		{sold: []float64{0, 5, 0}, want: []float64{0, 100, 0}},
		{sold: []float64{1, 2}, want: []float64{33.33, 66.67}},
		{sold: []float64{0, 0}, want: []float64{0, 0}},
		{sold: nil, want: []float64{}},
	}
	for _, tc := range tests {
		got := MarketShares(tc.sold)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("sold=%v got=%v want=%v", tc.sold, got, tc.want)
		}
	}

	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		sold := make([]float64, 1+r.Intn(12))
		for i := range sold {
			if r.Intn(4) > 0 {
				sold[i] = r.Float64() * 1e6
			}
		}
		shares := MarketShares(sold)
		total, anySold := 0.0, false
		for i, s := range shares {
			total += s
			if sold[i] > 0 {
				anySold = true
			} else if s != 0 {
				t.Fatalf("team with no sales got share %v", s)
			}
		}
		if anySold && math.Abs(total-100) > 0.01 {
			t.Fatalf("round %d: shares %v sum to %v", round, shares, total)
		}
	}
}

func randomInput(r *rand.Rand, teams int) Input {
	cities := []City{
		{Name: "Mumbai", Population: 2_000_000, DemandPct: TierValues{Luxury: 4, Flagship: 9, Midtier: 18, Lowertier: 25}, BaseDistributionCost: 150},
		{Name: "Delhi", Population: 1_500_000, DemandPct: TierValues{Luxury: 3, Flagship: 8, Midtier: 20, Lowertier: 30}, BaseDistributionCost: 120},
		{Name: "Chennai", Population: 800_000, DemandPct: TierValues{Luxury: 2, Flagship: 6, Midtier: 15, Lowertier: 35}, BaseDistributionCost: 90},
	}
	in := Input{Quarter: 4, Cities: cities}
	for i := 0; i < teams; i++ {
		id := string(rune('A'+i%26)) + string(rune('a'+i/26))
		in.Teams = append(in.Teams, Team{
			ID:             id,
			CurrentCapital: r.Float64()*1e10 - 1e9,
			TotalDebt:      r.Float64() * 1e8,
			TotalProfit:    r.Float64()*1e9 - 5e8,
			StockPrice:     10 + r.Float64()*500,
		})
		in.Prior = append(in.Prior, Metric{TeamID: id, Quarter: 3, CustomerSatisfaction: r.Float64() * 100, EmployeeProductivity: r.Float64() * 100})
		if r.Intn(5) == 0 {
			continue
		}
		lux := float64(r.Intn(40))
		flag := float64(r.Intn(30))
		mid := float64(r.Intn(20))
		did := "d-" + id
		in.Decisions = append(in.Decisions, Decision{
			ID: did, TeamID: id, Quarter: 4,
			UnitsProduced:   int64(r.Intn(2_000_000)),
			CostPerUnit:     1_000 + r.Float64()*50_000,
			Mix:             TierValues{Luxury: lux, Flagship: flag, Midtier: mid, Lowertier: 100 - lux - flag - mid},
			Prices:          TierValues{Luxury: 90_000, Flagship: 45_000, Midtier: 20_000, Lowertier: 9_000},
			MarketingBudget: r.Float64() * 1e8,
			RnDBudget:       r.Float64() * 1e8,
			EmployeeBudget:  r.Float64() * 1e8,
			NewDebt:         r.Float64() * 1e7,
			DebtRepayment:   r.Float64() * 1e7,
		})
		first := float64(r.Intn(101))
		in.Allocations = append(in.Allocations,
			Allocation{DecisionID: did, City: "Mumbai", Percentage: first},
			Allocation{DecisionID: did, City: "Delhi", Percentage: 100 - first},
		)
		if r.Intn(10) == 0 {
			in.Allocations = append(in.Allocations, Allocation{DecisionID: did, City: "Nowhere", Percentage: 10})
		}
	}
	return in
}

func TestSettleBoundsHoldForAnyInput(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		res, err := Settle(randomInput(r, 1+r.Intn(20)))
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		for i, m := range res.Metrics {
			if m.CustomerSatisfaction < 0 || m.CustomerSatisfaction > 100 {
				t.Fatalf("satisfaction out of range: %v", m.CustomerSatisfaction)
			}
			if m.EmployeeProductivity < 0 || m.EmployeeProductivity > 100 {
				t.Fatalf("productivity out of range: %v", m.EmployeeProductivity)
			}
			if res.Updates[i].StockPrice < MinStockPrice {
				t.Fatalf("stock below floor: %v", res.Updates[i].StockPrice)
			}
			if res.Updates[i].TotalDebt < 0 {
				t.Fatalf("negative debt: %v", res.Updates[i].TotalDebt)
			}
			if m.InventoryRemaining < 0 {
				t.Fatalf("negative inventory: %v", m.InventoryRemaining)
			}
		}
	}
}

func TestEngineWorkersMatchSequential(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	in := randomInput(r, 64)
	seq, err := Engine{}.Settle(in)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	par, err := Engine{Workers: 8}.Settle(in)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	if !reflect.DeepEqual(seq, par) {
		t.Fatalf("parallel result differs from sequential")
	}
}
