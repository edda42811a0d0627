package main

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	cl "bizsim/internal/cli"
	"bizsim/internal/scenario"
	"bizsim/internal/sim"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt(label string, min int) (int, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderCities(cities []sim.City) error {
	accent.Println("\n== CITIES ==")
	if len(cities) == 0 {
		printInfo("No cities seeded yet.")
		return nil
	}
	fmt.Printf("%-14s %14s %8s %8s %8s %8s %10s\n", "CITY", "POPULATION", "LUX%", "FLAG%", "MID%", "LOW%", "DIST/UNIT")
	for _, c := range cities {
		fmt.Printf("%-14s %14s %8.2f %8.2f %8.2f %8.2f %10s\n",
			truncate(c.Name, 14),
			comma(int64(c.Population)),
			c.DemandPct.Luxury,
			c.DemandPct.Flagship,
			c.DemandPct.Midtier,
			c.DemandPct.Lowertier,
			formatMoney(c.BaseDistributionCost),
		)
	}
	fmt.Println()
	return nil
}

func renderTeams(teams []sim.Team) error {
	accent.Println("\n== TEAMS ==")
	if len(teams) == 0 {
		printInfo("No teams in this game.")
		return nil
	}
	fmt.Printf("%-36s %-16s %16s %14s %16s %8s %10s\n", "ID", "NAME", "CAPITAL", "DEBT", "TOTAL PROFIT", "SHARE", "STOCK")
	for _, t := range teams {
		fmt.Printf("%-36s %-16s %16s %14s %16s %8s %10.2f\n",
			t.ID,
			truncate(t.Name, 16),
			formatMoney(t.CurrentCapital),
			formatMoney(t.TotalDebt),
			colorizeMoney(t.TotalProfit),
			fmt.Sprintf("%.2f%%", t.MarketShare),
			t.StockPrice,
		)
	}
	fmt.Println()
	return nil
}

func renderMetrics(title string, metrics []sim.Metric, names map[string]string) error {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(metrics) == 0 {
		printInfo("No metrics recorded for this quarter.")
		return nil
	}
	fmt.Printf("%-16s %16s %16s %16s %10s %8s %8s %8s %12s %10s\n",
		"TEAM", "REVENUE", "PROFIT", "CASH FLOW", "ROI", "SAT", "PROD", "SHARE", "UNITS SOLD", "DSR")
	for _, m := range metrics {
		name := m.TeamID
		if n, ok := names[m.TeamID]; ok && n != "" {
			name = n
		}
		fmt.Printf("%-16s %16s %16s %16s %10s %8.2f %8.2f %8s %12s %10s\n",
			truncate(name, 16),
			formatMoney(m.Revenue),
			colorizeMoney(m.Profit),
			colorizeMoney(m.CashFlow),
			colorizePercent(m.ROI),
			m.CustomerSatisfaction,
			m.EmployeeProductivity,
			fmt.Sprintf("%.2f%%", m.MarketShare),
			comma(int64(math.Round(m.UnitsSold))),
			fmt.Sprintf("%.2f%%", m.DemandSatisfactionRate),
		)
	}
	fmt.Println()
	return nil
}

func renderGaps(gaps []sim.ReferenceGap) {
	for _, g := range gaps {
		printWarn(fmt.Sprintf("Team %s allocated to unknown city %q (decision %s); it sold nothing there.", g.TeamID, g.City, g.DecisionID))
	}
}

func renderReport(r cl.Report) error {
	printSuccess(fmt.Sprintf("Settled game %s quarter %d: %d teams processed.", r.GameID, r.Quarter, r.TeamsProcessed))
	renderGaps(r.Gaps)
	return nil
}

func renderScenario(name string, quarters []scenario.Quarter) error {
	if name == "" {
		name = "scenario"
	}
	accent.Printf("\n== %s ==\n", strings.ToUpper(name))
	for _, q := range quarters {
		names := make(map[string]string, len(q.Teams))
		for _, t := range q.Teams {
			names[t.ID] = t.Name
		}
		if err := renderMetrics(fmt.Sprintf("Quarter %d", q.Quarter), q.Result.Metrics, names); err != nil {
			return err
		}
		renderGaps(q.Result.Gaps)
	}
	if len(quarters) > 0 {
		return renderTeams(quarters[len(quarters)-1].Teams)
	}
	return nil
}

func colorizeMoney(v float64) string {
	text := formatMoney(v)
	if v > 0 {
		text = "+" + text
	}
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatMoney renders whole currency units with thousands separators.
func formatMoney(v float64) string {
	r := math.Round(v)
	if r < 0 {
		return "-" + comma(int64(-r))
	}
	return comma(int64(r))
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
