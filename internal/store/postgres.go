package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizsim/internal/sim"
)

// PostgresStore implements Store on PostgreSQL. Money and percentages are
// NUMERIC columns read and written as decimal text.
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

func NewPostgresStore(pool *pgxpool.Pool, maxAttempts int) *PostgresStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &PostgresStore{pool: pool, maxAttempts: maxAttempts}
}

const teamColumns = `
	id::TEXT, game_id::TEXT, name,
	current_capital::TEXT, total_debt::TEXT, debt_ceiling::TEXT,
	total_profit::TEXT, market_share::TEXT, stock_price::TEXT`

func scanTeam(row pgx.Row) (sim.Team, error) {
	var t sim.Team
	var capital, debt, ceiling, profit, share, price string
	if err := row.Scan(&t.ID, &t.GameID, &t.Name, &capital, &debt, &ceiling, &profit, &share, &price); err != nil {
		return t, err
	}
	if err := parseNumerics(
		[]*float64{&t.CurrentCapital, &t.TotalDebt, &t.DebtCeiling, &t.TotalProfit, &t.MarketShare, &t.StockPrice},
		[]string{capital, debt, ceiling, profit, share, price},
	); err != nil {
		return t, fmt.Errorf("team %s: %w", t.ID, err)
	}
	return t, nil
}

func (s *PostgresStore) Teams(ctx context.Context, gameID string) ([]sim.Team, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+teamColumns+` FROM teams WHERE game_id = $1 ORDER BY created_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var out []sim.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Team(ctx context.Context, teamID string) (sim.Team, error) {
	t, err := scanTeam(s.pool.QueryRow(ctx, `SELECT`+teamColumns+` FROM teams WHERE id = $1`, teamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("get team %s: %w", teamID, err)
	}
	return t, nil
}

func (s *PostgresStore) Decisions(ctx context.Context, teamIDs []string, quarter int) ([]sim.Decision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::TEXT, team_id::TEXT, quarter, units_produced, cost_per_unit::TEXT,
		       luxury_pct::TEXT, flagship_pct::TEXT, midtier_pct::TEXT, lowertier_pct::TEXT,
		       luxury_price::TEXT, flagship_price::TEXT, midtier_price::TEXT, lowertier_price::TEXT,
		       marketing_budget::TEXT, rnd_budget::TEXT, employee_budget::TEXT,
		       new_debt::TEXT, debt_repayment::TEXT
		FROM team_decisions
		WHERE team_id = ANY($1::uuid[]) AND quarter = $2
		ORDER BY team_id
	`, teamIDs, quarter)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []sim.Decision
	for rows.Next() {
		var d sim.Decision
		var cost, mL, mF, mM, mW, pL, pF, pM, pW, mkt, rnd, emp, debt, repay string
		if err := rows.Scan(&d.ID, &d.TeamID, &d.Quarter, &d.UnitsProduced, &cost,
			&mL, &mF, &mM, &mW,
			&pL, &pF, &pM, &pW,
			&mkt, &rnd, &emp,
			&debt, &repay); err != nil {
			return nil, err
		}
		if err := parseNumerics(
			[]*float64{
				&d.CostPerUnit,
				&d.Mix.Luxury, &d.Mix.Flagship, &d.Mix.Midtier, &d.Mix.Lowertier,
				&d.Prices.Luxury, &d.Prices.Flagship, &d.Prices.Midtier, &d.Prices.Lowertier,
				&d.MarketingBudget, &d.RnDBudget, &d.EmployeeBudget, &d.NewDebt, &d.DebtRepayment,
			},
			[]string{cost, mL, mF, mM, mW, pL, pF, pM, pW, mkt, rnd, emp, debt, repay},
		); err != nil {
			return nil, fmt.Errorf("decision %s: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Allocations(ctx context.Context, decisionIDs []string) ([]sim.Allocation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT decision_id::TEXT, city_name, percentage::TEXT
		FROM market_allocations
		WHERE decision_id = ANY($1::uuid[])
		ORDER BY decision_id, city_name
	`, decisionIDs)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []sim.Allocation
	for rows.Next() {
		var a sim.Allocation
		var pct string
		if err := rows.Scan(&a.DecisionID, &a.City, &pct); err != nil {
			return nil, err
		}
		v, err := parseNumeric(pct)
		if err != nil {
			return nil, fmt.Errorf("allocation %s/%s: %w", a.DecisionID, a.City, err)
		}
		a.Percentage = v
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Cities(ctx context.Context) ([]sim.City, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT city_name, population,
		       luxury_demand_pct::TEXT, flagship_demand_pct::TEXT, midtier_demand_pct::TEXT, lowertier_demand_pct::TEXT,
		       purchasing_power::TEXT, base_distribution_cost::TEXT, base_labor_cost::TEXT, base_land_cost::TEXT
		FROM city_data
		ORDER BY city_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	defer rows.Close()

	var out []sim.City
	for rows.Next() {
		var c sim.City
		var population int64
		var dL, dF, dM, dW, power, dist, labor, land string
		if err := rows.Scan(&c.Name, &population, &dL, &dF, &dM, &dW, &power, &dist, &labor, &land); err != nil {
			return nil, err
		}
		if population > 0 {
			c.Population = uint64(population)
		}
		if err := parseNumerics(
			[]*float64{
				&c.DemandPct.Luxury, &c.DemandPct.Flagship, &c.DemandPct.Midtier, &c.DemandPct.Lowertier,
				&c.PurchasingPower, &c.BaseDistributionCost, &c.BaseLaborCost, &c.BaseLandCost,
			},
			[]string{dL, dF, dM, dW, power, dist, labor, land},
		); err != nil {
			return nil, fmt.Errorf("city %s: %w", c.Name, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const metricColumns = `
	m.team_id::TEXT, m.quarter,
	m.revenue::TEXT, m.profit::TEXT, m.cash_flow::TEXT, m.roi::TEXT,
	m.customer_satisfaction::TEXT, m.employee_productivity::TEXT, m.market_share::TEXT,
	m.units_sold::TEXT, m.inventory_remaining::TEXT, m.distribution_cost::TEXT,
	m.inventory_holding_cost::TEXT, m.demand_satisfaction_rate::TEXT`

func scanMetrics(rows pgx.Rows) ([]sim.Metric, error) {
	defer rows.Close()
	var out []sim.Metric
	for rows.Next() {
		var m sim.Metric
		var n [12]string
		if err := rows.Scan(&m.TeamID, &m.Quarter,
			&n[0], &n[1], &n[2], &n[3], &n[4], &n[5],
			&n[6], &n[7], &n[8], &n[9], &n[10], &n[11]); err != nil {
			return nil, err
		}
		fields := metricFields(&m)
		dst := make([]*float64, len(fields))
		for i, f := range fields {
			dst[i] = f.v
		}
		if err := parseNumerics(dst, n[:]); err != nil {
			return nil, fmt.Errorf("metric %s/%d: %w", m.TeamID, m.Quarter, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PriorMetrics(ctx context.Context, teamIDs []string, quarter int) ([]sim.Metric, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+metricColumns+`
		FROM team_metrics m
		WHERE m.team_id = ANY($1::uuid[]) AND m.quarter = $2
	`, teamIDs, quarter)
	if err != nil {
		return nil, fmt.Errorf("list prior metrics: %w", err)
	}
	return scanMetrics(rows)
}

func (s *PostgresStore) Metrics(ctx context.Context, gameID string, quarter int) ([]sim.Metric, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+metricColumns+`
		FROM team_metrics m
		JOIN teams t ON t.id = m.team_id
		WHERE t.game_id = $1 AND m.quarter = $2
		ORDER BY t.created_at, t.id
	`, gameID, quarter)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return scanMetrics(rows)
}

func (s *PostgresStore) CommitSettlement(ctx context.Context, st Settlement) error {
	type row struct {
		teamID  string
		quarter int
		args    []any
	}
	metrics := make([]row, 0, len(st.Metrics))
	for _, m := range st.Metrics {
		ds, err := roundFields(metricFields(&m))
		if err != nil {
			return fmt.Errorf("team %s metric: %w", m.TeamID, err)
		}
		metrics = append(metrics, row{teamID: m.TeamID, quarter: m.Quarter, args: decimalArgs(ds)})
	}
	updates := make([]row, 0, len(st.Updates))
	for _, u := range st.Updates {
		ds, err := roundFields(updateFields(&u))
		if err != nil {
			return fmt.Errorf("team %s update: %w", u.TeamID, err)
		}
		updates = append(updates, row{teamID: u.TeamID, args: decimalArgs(ds)})
	}
	settledAt := st.SettledAt
	if settledAt.IsZero() {
		settledAt = time.Now().UTC()
	}

	return s.serializable(ctx, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `
			INSERT INTO settlement_runs (game_id, quarter, teams_processed, settled_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (game_id, quarter) DO NOTHING
		`, st.GameID, st.Quarter, len(st.Metrics), settledAt)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrAlreadySettled
		}

		for _, m := range metrics {
			args := append([]any{m.teamID, m.quarter}, m.args...)
			if _, err := tx.Exec(ctx, `
				INSERT INTO team_metrics (
					team_id, quarter, revenue, profit, cash_flow, roi,
					customer_satisfaction, employee_productivity, market_share,
					units_sold, inventory_remaining, distribution_cost,
					inventory_holding_cost, demand_satisfaction_rate
				) VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
					$7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
					$12::NUMERIC, $13::NUMERIC, $14::NUMERIC)
			`, args...); err != nil {
				return fmt.Errorf("insert metric for team %s: %w", m.teamID, err)
			}
		}

		for _, u := range updates {
			args := append([]any{u.teamID}, u.args...)
			cmd, err := tx.Exec(ctx, `
				UPDATE teams
				SET current_capital = $2::NUMERIC, total_debt = $3::NUMERIC, total_profit = $4::NUMERIC,
				    market_share = $5::NUMERIC, stock_price = $6::NUMERIC, updated_at = now()
				WHERE id = $1
			`, args...)
			if err != nil {
				return fmt.Errorf("update team %s: %w", u.teamID, err)
			}
			if cmd.RowsAffected() == 0 {
				return fmt.Errorf("team %s: %w", u.teamID, ErrNotFound)
			}
		}
		return nil
	})
}

func (s *PostgresStore) SubmitDecision(ctx context.Context, d sim.Decision, allocs []sim.Allocation) (string, error) {
	amounts := []field{
		{"cost_per_unit", &d.CostPerUnit, percentPlaces},
		{"luxury_pct", &d.Mix.Luxury, percentPlaces},
		{"flagship_pct", &d.Mix.Flagship, percentPlaces},
		{"midtier_pct", &d.Mix.Midtier, percentPlaces},
		{"lowertier_pct", &d.Mix.Lowertier, percentPlaces},
		{"luxury_price", &d.Prices.Luxury, percentPlaces},
		{"flagship_price", &d.Prices.Flagship, percentPlaces},
		{"midtier_price", &d.Prices.Midtier, percentPlaces},
		{"lowertier_price", &d.Prices.Lowertier, percentPlaces},
		{"marketing_budget", &d.MarketingBudget, wholePlaces},
		{"rnd_budget", &d.RnDBudget, wholePlaces},
		{"employee_budget", &d.EmployeeBudget, wholePlaces},
		{"new_debt", &d.NewDebt, wholePlaces},
		{"debt_repayment", &d.DebtRepayment, wholePlaces},
	}
	ds, err := roundFields(amounts)
	if err != nil {
		return "", err
	}
	pcts := make([]string, len(allocs))
	for i, a := range allocs {
		p, err := toDecimal("percentage", a.Percentage, percentPlaces)
		if err != nil {
			return "", err
		}
		pcts[i] = p.String()
	}

	var id string
	err = s.serializable(ctx, func(tx pgx.Tx) error {
		var gameID string
		if err := tx.QueryRow(ctx, `SELECT game_id::TEXT FROM teams WHERE id = $1`, d.TeamID).Scan(&gameID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("team %s: %w", d.TeamID, ErrNotFound)
			}
			return err
		}
		var locked bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM settlement_runs WHERE game_id = $1 AND quarter = $2)
		`, gameID, d.Quarter).Scan(&locked); err != nil {
			return err
		}
		if locked {
			return ErrQuarterLocked
		}

		args := append([]any{d.TeamID, d.Quarter, d.UnitsProduced}, decimalArgs(ds)...)
		if err := tx.QueryRow(ctx, `
			INSERT INTO team_decisions (
				team_id, quarter, units_produced, cost_per_unit,
				luxury_pct, flagship_pct, midtier_pct, lowertier_pct,
				luxury_price, flagship_price, midtier_price, lowertier_price,
				marketing_budget, rnd_budget, employee_budget, new_debt, debt_repayment
			) VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
				$9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC,
				$13::NUMERIC, $14::NUMERIC, $15::NUMERIC, $16::NUMERIC, $17::NUMERIC)
			ON CONFLICT (team_id, quarter) DO UPDATE SET
				units_produced = EXCLUDED.units_produced, cost_per_unit = EXCLUDED.cost_per_unit,
				luxury_pct = EXCLUDED.luxury_pct, flagship_pct = EXCLUDED.flagship_pct,
				midtier_pct = EXCLUDED.midtier_pct, lowertier_pct = EXCLUDED.lowertier_pct,
				luxury_price = EXCLUDED.luxury_price, flagship_price = EXCLUDED.flagship_price,
				midtier_price = EXCLUDED.midtier_price, lowertier_price = EXCLUDED.lowertier_price,
				marketing_budget = EXCLUDED.marketing_budget, rnd_budget = EXCLUDED.rnd_budget,
				employee_budget = EXCLUDED.employee_budget, new_debt = EXCLUDED.new_debt,
				debt_repayment = EXCLUDED.debt_repayment, submitted_at = now()
			RETURNING id::TEXT
		`, args...).Scan(&id); err != nil {
			return fmt.Errorf("upsert decision: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM market_allocations WHERE decision_id = $1`, id); err != nil {
			return err
		}
		for i, a := range allocs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO market_allocations (decision_id, city_name, percentage)
				VALUES ($1, $2, $3::NUMERIC)
			`, id, a.City, pcts[i]); err != nil {
				return fmt.Errorf("insert allocation %s: %w", a.City, err)
			}
		}
		return nil
	})
	return id, err
}

func (s *PostgresStore) SeedCities(ctx context.Context, cities []sim.City) (int, error) {
	var added int
	err := s.serializable(ctx, func(tx pgx.Tx) error {
		added = 0
		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM city_data`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		for _, c := range cities {
			cmd, err := tx.Exec(ctx, `
				INSERT INTO city_data (
					city_name, population,
					luxury_demand_pct, flagship_demand_pct, midtier_demand_pct, lowertier_demand_pct,
					purchasing_power, base_distribution_cost, base_labor_cost, base_land_cost
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (city_name) DO NOTHING
			`, c.Name, int64(c.Population),
				c.DemandPct.Luxury, c.DemandPct.Flagship, c.DemandPct.Midtier, c.DemandPct.Lowertier,
				c.PurchasingPower, c.BaseDistributionCost, c.BaseLaborCost, c.BaseLandCost)
			if err != nil {
				return fmt.Errorf("seed city %s: %w", c.Name, err)
			}
			added += int(cmd.RowsAffected())
		}
		return nil
	})
	return added, err
}

func (s *PostgresStore) DueQuarters(ctx context.Context, now time.Time) ([]Due, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id::TEXT, g.current_quarter
		FROM games g
		WHERE g.status = $1
		  AND g.quarter_start_time + make_interval(secs => g.quarter_duration_seconds) <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM settlement_runs r
			WHERE r.game_id = g.id AND r.quarter = g.current_quarter
		  )
		ORDER BY g.quarter_start_time
	`, GameActive, now)
	if err != nil {
		return nil, fmt.Errorf("list due quarters: %w", err)
	}
	defer rows.Close()

	var out []Due
	for rows.Next() {
		var d Due
		if err := rows.Scan(&d.GameID, &d.Quarter); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// serializable runs fn in a SERIALIZABLE transaction, retrying the whole
// transaction with backoff when Postgres reports a serialization failure.
func (s *PostgresStore) serializable(ctx context.Context, fn func(tx pgx.Tx) error) error {
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == s.maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
