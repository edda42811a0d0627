package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bizsim/internal/sim"
)

func TestSubmitDecisionSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"decision_id":"d-1","cost_per_unit":15000}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	sub := sim.Submission{
		Decision:    sim.Decision{Quarter: 2, UnitsProduced: 10, Mix: sim.TierValues{Midtier: 100}},
		Allocations: []sim.Allocation{{City: "Pune", Percentage: 100}},
	}
	res, err := c.SubmitDecision(context.Background(), "team 1", sub, "key-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.DecisionID != "d-1" || res.CostPerUnit != 15_000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotKey != "key-1" || gotPath != "/v1/teams/team 1/decisions" {
		t.Fatalf("key=%q path=%q", gotKey, gotPath)
	}
	if gotBody["quarter"] != float64(2) || gotBody["allocations"] == nil {
		t.Fatalf("decision not flattened into body: %v", gotBody)
	}
}

func TestAPIErrorsAreNotUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid decision","problems":["tier percentages must sum to 100 (got 90.00)"]}`))
	}))
	c := NewClient(srv.URL)

	_, err := c.Settle(context.Background(), "g1", 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "invalid decision: tier percentages must sum to 100 (got 90.00)" {
		t.Fatalf("message = %q", apiErr.Message)
	}
	if IsUnreachable(err) {
		t.Fatalf("API rejection is not a network failure")
	}

	srv.Close()
	_, err = c.Cities(context.Background())
	if err == nil || !IsUnreachable(err) {
		t.Fatalf("closed server should be unreachable, got %v", err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	p, err := LoadProfile()
	if err != nil || p != (Profile{}) {
		t.Fatalf("fresh profile: %+v %v", p, err)
	}
	if err := SaveProfile(Profile{GameID: "g1", TeamID: "t1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err = LoadProfile()
	if err != nil || p.GameID != "g1" || p.TeamID != "t1" {
		t.Fatalf("loaded %+v %v", p, err)
	}
	if err := ClearProfile(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if p, _ := LoadProfile(); p != (Profile{}) {
		t.Fatalf("profile not cleared: %+v", p)
	}
}
