package sim

// TierValues holds one number per product tier. It is used for tier mixes,
// prices and per-city demand penetration.
type TierValues struct {
	Luxury    float64 `json:"luxury" yaml:"luxury"`
	Flagship  float64 `json:"flagship" yaml:"flagship"`
	Midtier   float64 `json:"midtier" yaml:"midtier"`
	Lowertier float64 `json:"lowertier" yaml:"lowertier"`
}

func (v TierValues) Get(t Tier) float64 {
	switch t {
	case Luxury:
		return v.Luxury
	case Flagship:
		return v.Flagship
	case Midtier:
		return v.Midtier
	case Lowertier:
		return v.Lowertier
	}
	return 0
}

func (v TierValues) Sum() float64 {
	return v.Luxury + v.Flagship + v.Midtier + v.Lowertier
}

type City struct {
	Name                 string     `json:"name" yaml:"name"`
	Population           uint64     `json:"population" yaml:"population"`
	DemandPct            TierValues `json:"demand_pct" yaml:"demand_pct"`
	PurchasingPower      float64    `json:"purchasing_power" yaml:"purchasing_power"`
	BaseDistributionCost float64    `json:"base_distribution_cost" yaml:"base_distribution_cost"`
	BaseLaborCost        float64    `json:"base_labor_cost" yaml:"base_labor_cost"`
	BaseLandCost         float64    `json:"base_land_cost" yaml:"base_land_cost"`
}

type Team struct {
	ID             string  `json:"id" yaml:"id"`
	GameID         string  `json:"game_id" yaml:"game_id"`
	Name           string  `json:"name" yaml:"name"`
	CurrentCapital float64 `json:"current_capital" yaml:"current_capital"`
	TotalDebt      float64 `json:"total_debt" yaml:"total_debt"`
	DebtCeiling    float64 `json:"debt_ceiling" yaml:"debt_ceiling"`
	TotalProfit    float64 `json:"total_profit" yaml:"total_profit"`
	MarketShare    float64 `json:"market_share" yaml:"market_share"`
	StockPrice     float64 `json:"stock_price" yaml:"stock_price"`
}

// Decision is one team's submission for one quarter. Mix holds the tier
// production percentages, Prices the per-unit sale price of each tier.
type Decision struct {
	ID              string     `json:"id" yaml:"id"`
	TeamID          string     `json:"team_id" yaml:"team_id"`
	Quarter         int        `json:"quarter" yaml:"quarter"`
	UnitsProduced   int64      `json:"units_produced" yaml:"units_produced"`
	CostPerUnit     float64    `json:"cost_per_unit" yaml:"cost_per_unit"`
	Mix             TierValues `json:"mix" yaml:"mix"`
	Prices          TierValues `json:"prices" yaml:"prices"`
	MarketingBudget float64    `json:"marketing_budget" yaml:"marketing_budget"`
	RnDBudget       float64    `json:"rnd_budget" yaml:"rnd_budget"`
	EmployeeBudget  float64    `json:"employee_budget" yaml:"employee_budget"`
	NewDebt         float64    `json:"new_debt" yaml:"new_debt"`
	DebtRepayment   float64    `json:"debt_repayment" yaml:"debt_repayment"`
}

type Allocation struct {
	DecisionID string  `json:"decision_id" yaml:"decision_id"`
	City       string  `json:"city" yaml:"city"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

// Metric is the settled report for one team and quarter. Its satisfaction
// and productivity seed the following quarter.
type Metric struct {
	TeamID                 string  `json:"team_id" yaml:"team_id"`
	Quarter                int     `json:"quarter" yaml:"quarter"`
	Revenue                float64 `json:"revenue" yaml:"revenue"`
	Profit                 float64 `json:"profit" yaml:"profit"`
	CashFlow               float64 `json:"cash_flow" yaml:"cash_flow"`
	ROI                    float64 `json:"roi" yaml:"roi"`
	CustomerSatisfaction   float64 `json:"customer_satisfaction" yaml:"customer_satisfaction"`
	EmployeeProductivity   float64 `json:"employee_productivity" yaml:"employee_productivity"`
	MarketShare            float64 `json:"market_share" yaml:"market_share"`
	UnitsSold              float64 `json:"units_sold" yaml:"units_sold"`
	InventoryRemaining     float64 `json:"inventory_remaining" yaml:"inventory_remaining"`
	DistributionCost       float64 `json:"distribution_cost" yaml:"distribution_cost"`
	InventoryHoldingCost   float64 `json:"inventory_holding_cost" yaml:"inventory_holding_cost"`
	DemandSatisfactionRate float64 `json:"demand_satisfaction_rate" yaml:"demand_satisfaction_rate"`
}

// TeamUpdate replaces the mutable financial fields of one team.
type TeamUpdate struct {
	TeamID         string  `json:"team_id"`
	CurrentCapital float64 `json:"current_capital"`
	TotalDebt      float64 `json:"total_debt"`
	TotalProfit    float64 `json:"total_profit"`
	MarketShare    float64 `json:"market_share"`
	StockPrice     float64 `json:"stock_price"`
}

// Apply returns t with the update's fields copied over.
func (u TeamUpdate) Apply(t Team) Team {
	t.CurrentCapital = u.CurrentCapital
	t.TotalDebt = u.TotalDebt
	t.TotalProfit = u.TotalProfit
	t.MarketShare = u.MarketShare
	t.StockPrice = u.StockPrice
	return t
}

// Input carries everything one quarter's settlement reads. Prior holds the
// teams' metrics for Quarter-1; rows for any other quarter are ignored.
type Input struct {
	Quarter     int          `json:"quarter"`
	Teams       []Team       `json:"teams"`
	Decisions   []Decision   `json:"decisions"`
	Allocations []Allocation `json:"allocations"`
	Cities      []City       `json:"cities"`
	Prior       []Metric     `json:"prior"`
}

// Result lists metrics and updates in the order of Input.Teams.
type Result struct {
	Metrics []Metric       `json:"metrics"`
	Updates []TeamUpdate   `json:"updates"`
	Gaps    []ReferenceGap `json:"gaps,omitempty"`
}

// ReferenceGap records an allocation naming a city missing from the
// reference data. The allocation contributes nothing.
type ReferenceGap struct {
	TeamID     string `json:"team_id"`
	DecisionID string `json:"decision_id"`
	City       string `json:"city"`
}

// Submission is a decision as sent by a team, allocations included.
type Submission struct {
	Decision    `yaml:",inline"`
	Allocations []Allocation `json:"allocations" yaml:"allocations"`
}
