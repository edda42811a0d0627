package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cl "bizsim/internal/cli"
	"bizsim/internal/config"
	"bizsim/internal/scenario"
	"bizsim/internal/sim"
	"bizsim/internal/syncq"
)

func main() {
	apiBase := "http://localhost:8080"
	if cfg, err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	} else {
		apiBase = cfg.APIBaseURL
	}

	root := &cobra.Command{
		Use:          "bsim",
		Short:        "Business simulation CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newUseCmd(),
		newCitiesCmd(&apiBase),
		newTeamsCmd(&apiBase),
		newSettleCmd(&apiBase),
		newMetricsCmd(&apiBase),
		newDecideCmd(&apiBase),
		newSyncCmd(&apiBase),
		newSimulateCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newUseCmd() *cobra.Command {
	var gameID, teamID string
	var clear bool
	cmd := &cobra.Command{
		Use:   "use",
		Short: "Remember the game and team other commands default to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clear {
				if err := cl.ClearProfile(); err != nil {
					return err
				}
				printSuccess("Profile cleared.")
				return nil
			}
			p, err := cl.LoadProfile()
			if err != nil {
				return err
			}
			if gameID == "" && teamID == "" {
				if p.GameID == "" && p.TeamID == "" {
					printInfo("No profile saved. Use --game and --team to set one.")
					return nil
				}
				printInfo(fmt.Sprintf("game=%s team=%s", p.GameID, p.TeamID))
				return nil
			}
			if gameID != "" {
				p.GameID = strings.TrimSpace(gameID)
			}
			if teamID != "" {
				p.TeamID = strings.TrimSpace(teamID)
			}
			if err := cl.SaveProfile(p); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Using game=%s team=%s", p.GameID, p.TeamID))
			return nil
		},
	}
	cmd.Flags().StringVar(&gameID, "game", "", "game ID")
	cmd.Flags().StringVar(&teamID, "team", "", "team ID")
	cmd.Flags().BoolVar(&clear, "clear", false, "forget the saved profile")
	return cmd
}

func newCitiesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cities",
		Short: "List the reference cities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			cities, err := newClient(apiBase).Cities(ctx)
			if err != nil {
				return err
			}
			return renderCities(cities)
		},
	}
}

func newTeamsCmd(apiBase *string) *cobra.Command {
	var gameID string
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "List the teams of a game",
		RunE: func(cmd *cobra.Command, args []string) error {
			game, err := gameFromFlagOrProfile(gameID)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			teams, err := newClient(apiBase).Teams(ctx, game)
			if err != nil {
				return err
			}
			return renderTeams(teams)
		},
	}
	cmd.Flags().StringVar(&gameID, "game", "", "game ID (defaults to the saved profile)")
	return cmd
}

func newSettleCmd(apiBase *string) *cobra.Command {
	var gameID string
	cmd := &cobra.Command{
		Use:   "settle [quarter]",
		Short: "Settle one quarter of a game",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			game, err := gameFromFlagOrProfile(gameID)
			if err != nil {
				return err
			}
			quarter, err := quarterFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			report, err := newClient(apiBase).Settle(ctx, game, quarter)
			if err != nil {
				return err
			}
			return renderReport(report)
		},
	}
	cmd.Flags().StringVar(&gameID, "game", "", "game ID (defaults to the saved profile)")
	return cmd
}

func newMetricsCmd(apiBase *string) *cobra.Command {
	var gameID string
	cmd := &cobra.Command{
		Use:   "metrics [quarter]",
		Short: "Show the settled metrics of a quarter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			game, err := gameFromFlagOrProfile(gameID)
			if err != nil {
				return err
			}
			quarter, err := quarterFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			metrics, err := client.Metrics(ctx, game, quarter)
			if err != nil {
				return err
			}
			names := map[string]string{}
			if teams, err := client.Teams(ctx, game); err == nil {
				for _, t := range teams {
					names[t.ID] = t.Name
				}
			}
			return renderMetrics(fmt.Sprintf("Quarter %d", quarter), metrics, names)
		},
	}
	cmd.Flags().StringVar(&gameID, "game", "", "game ID (defaults to the saved profile)")
	return cmd
}

func newDecideCmd(apiBase *string) *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "decide <decision.yaml>",
		Short: "Submit a quarterly decision from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := teamFromFlagOrProfile(teamID)
			if err != nil {
				return err
			}
			sub, err := readSubmission(args[0])
			if err != nil {
				return err
			}
			sub.TeamID = team

			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SubmitDecision(ctx, team, sub, idem)
			if err != nil {
				if !cl.IsUnreachable(err) {
					return err
				}
				body, mErr := json.Marshal(sub)
				if mErr != nil {
					return mErr
				}
				if qErr := syncq.Push(syncq.Command{
					Method:         "POST",
					Path:           cl.DecisionPath(team),
					Body:           body,
					IdempotencyKey: idem,
				}); qErr != nil {
					return fmt.Errorf("request failed and could not be queued: %w", errors.Join(err, qErr))
				}
				printWarn(fmt.Sprintf("API unreachable (%v). Decision queued; run `bsim sync` later.", err))
				return nil
			}
			printSuccess(fmt.Sprintf("Decision %s recorded for quarter %d (cost per unit %s).", out.DecisionID, sub.Quarter, formatMoney(out.CostPerUnit)))
			return nil
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "team ID (defaults to the saved profile)")
	return cmd
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay decisions queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			sent, errs, err := syncq.Drain(func(q syncq.Command) (bool, error) {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				if err == nil {
					return false, nil
				}
				printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
				return cl.IsUnreachable(err), err
			})
			if err != nil {
				return err
			}
			remaining, err := syncq.Load()
			if err != nil {
				return err
			}
			rejected := len(errs)
			if len(remaining) > 0 {
				rejected--
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d", sent, rejected, len(remaining)))
			return nil
		},
	}
}

func newSimulateCmd(apiBase *string) *cobra.Command {
	var remote, asJSON bool
	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Play a whole scenario and print every quarter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			var quarters []scenario.Quarter
			if remote {
				client := newClient(apiBase)
				quarters, err = scenario.RunWith(sc, func(in sim.Input) (sim.Result, error) {
					ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
					defer cancel()
					return client.Simulate(ctx, in)
				})
			} else {
				quarters, err = scenario.Run(sc)
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(quarters)
			}
			return renderScenario(sc.Name, quarters)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "settle through the API instead of in process")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func readSubmission(path string) (sim.Submission, error) {
	var sub sim.Submission
	data, err := os.ReadFile(path)
	if err != nil {
		return sub, fmt.Errorf("reading decision file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sub); err != nil {
		return sub, fmt.Errorf("parsing decision YAML: %w", err)
	}
	if sub.Quarter < 1 {
		return sub, errors.New("decision file must set quarter >= 1")
	}
	return sub, nil
}

func gameFromFlagOrProfile(flag string) (string, error) {
	if v := strings.TrimSpace(flag); v != "" {
		return v, nil
	}
	p, err := cl.LoadProfile()
	if err != nil {
		return "", err
	}
	if p.GameID != "" {
		return p.GameID, nil
	}
	return promptRequired("Game ID")
}

func teamFromFlagOrProfile(flag string) (string, error) {
	if v := strings.TrimSpace(flag); v != "" {
		return v, nil
	}
	p, err := cl.LoadProfile()
	if err != nil {
		return "", err
	}
	if p.TeamID != "" {
		return p.TeamID, nil
	}
	return promptRequired("Team ID")
}

func quarterFromArgsOrPrompt(args []string) (int, error) {
	if len(args) > 0 {
		v, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil || v < 1 {
			return 0, fmt.Errorf("invalid quarter %q", args[0])
		}
		return v, nil
	}
	return promptInt("Quarter", 1)
}
