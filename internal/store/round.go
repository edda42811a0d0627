package store

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"bizsim/internal/sim"
)

// Values are rounded once, at the storage boundary: currency and unit
// counts to whole numbers, percentages and prices to two places.
const (
	wholePlaces   = 0
	percentPlaces = 2
)

func toDecimal(field string, v float64, places int32) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("%s: %w", field, ErrNonFinite)
	}
	return decimal.NewFromFloat(v).Round(places), nil
}

type field struct {
	name   string
	v      *float64
	places int32
}

func roundFields(fields []field) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		d, err := toDecimal(f.name, *f.v, f.places)
		if err != nil {
			return nil, err
		}
		*f.v = d.InexactFloat64()
		out[i] = d
	}
	return out, nil
}

func metricFields(m *sim.Metric) []field {
	return []field{
		{"revenue", &m.Revenue, wholePlaces},
		{"profit", &m.Profit, wholePlaces},
		{"cash_flow", &m.CashFlow, wholePlaces},
		{"roi", &m.ROI, percentPlaces},
		{"customer_satisfaction", &m.CustomerSatisfaction, percentPlaces},
		{"employee_productivity", &m.EmployeeProductivity, percentPlaces},
		{"market_share", &m.MarketShare, percentPlaces},
		{"units_sold", &m.UnitsSold, wholePlaces},
		{"inventory_remaining", &m.InventoryRemaining, wholePlaces},
		{"distribution_cost", &m.DistributionCost, wholePlaces},
		{"inventory_holding_cost", &m.InventoryHoldingCost, wholePlaces},
		{"demand_satisfaction_rate", &m.DemandSatisfactionRate, percentPlaces},
	}
}

func updateFields(u *sim.TeamUpdate) []field {
	return []field{
		{"current_capital", &u.CurrentCapital, wholePlaces},
		{"total_debt", &u.TotalDebt, wholePlaces},
		{"total_profit", &u.TotalProfit, wholePlaces},
		{"market_share", &u.MarketShare, percentPlaces},
		{"stock_price", &u.StockPrice, percentPlaces},
	}
}

// RoundMetric returns m as it will be stored.
func RoundMetric(m sim.Metric) (sim.Metric, error) {
	_, err := roundFields(metricFields(&m))
	return m, err
}

// RoundUpdate returns u as it will be stored.
func RoundUpdate(u sim.TeamUpdate) (sim.TeamUpdate, error) {
	_, err := roundFields(updateFields(&u))
	return u, err
}

// CheckFinite reports ErrNonFinite when any metric or team update in res
// holds NaN or an infinity, which no store can record.
func CheckFinite(res sim.Result) error {
	for _, m := range res.Metrics {
		if _, err := RoundMetric(m); err != nil {
			return fmt.Errorf("team %s metric: %w", m.TeamID, err)
		}
	}
	for _, u := range res.Updates {
		if _, err := RoundUpdate(u); err != nil {
			return fmt.Errorf("team %s update: %w", u.TeamID, err)
		}
	}
	return nil
}

func decimalArgs(ds []decimal.Decimal) []any {
	out := make([]any, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func parseNumeric(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// parseNumerics parses src[i] into *dst[i], stopping at the first bad value.
func parseNumerics(dst []*float64, src []string) error {
	if len(dst) != len(src) {
		return fmt.Errorf("parse numerics: %d targets for %d values", len(dst), len(src))
	}
	for i, s := range src {
		v, err := parseNumeric(s)
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	return nil
}
