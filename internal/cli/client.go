package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bizsim/internal/sim"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a response the API answered with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsUnreachable reports whether err means the API could not be reached at
// all, as opposed to the API rejecting the request.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr) && !errors.Is(err, context.Canceled)
}

type Report struct {
	GameID         string             `json:"game_id"`
	Quarter        int                `json:"quarter"`
	TeamsProcessed int                `json:"teams_processed"`
	Gaps           []sim.ReferenceGap `json:"gaps"`
}

type SubmitResult struct {
	DecisionID  string  `json:"decision_id"`
	CostPerUnit float64 `json:"cost_per_unit"`
}

func (c *Client) Cities(ctx context.Context) ([]sim.City, error) {
	var out struct {
		Cities []sim.City `json:"cities"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/cities", nil, &out, "")
	return out.Cities, err
}

func (c *Client) Teams(ctx context.Context, gameID string) ([]sim.Team, error) {
	var out struct {
		Teams []sim.Team `json:"teams"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/games/"+url.PathEscape(gameID)+"/teams", nil, &out, "")
	return out.Teams, err
}

func (c *Client) Settle(ctx context.Context, gameID string, quarter int) (Report, error) {
	var out Report
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/games/%s/quarters/%d/settle", url.PathEscape(gameID), quarter), nil, &out, "")
	return out, err
}

func (c *Client) Metrics(ctx context.Context, gameID string, quarter int) ([]sim.Metric, error) {
	var out struct {
		Metrics []sim.Metric `json:"metrics"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/games/%s/quarters/%d/metrics", url.PathEscape(gameID), quarter), nil, &out, "")
	return out.Metrics, err
}

// DecisionPath is the endpoint a team's decisions are posted to.
func DecisionPath(teamID string) string {
	return "/v1/teams/" + url.PathEscape(teamID) + "/decisions"
}

func (c *Client) SubmitDecision(ctx context.Context, teamID string, sub sim.Submission, idem string) (SubmitResult, error) {
	var out SubmitResult
	err := c.jsonRequest(ctx, http.MethodPost, DecisionPath(teamID), sub, &out, idem)
	return out, err
}

func (c *Client) Simulate(ctx context.Context, in sim.Input) (sim.Result, error) {
	var out sim.Result
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/simulate", in, &out, "")
	return out, err
}

// Do sends a raw JSON body, as stored in the offline queue.
func (c *Client) Do(ctx context.Context, method, path string, body json.RawMessage, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if len(body) > 0 {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error    string   `json:"error"`
		Problems []string `json:"problems"`
	}
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		return strings.TrimSpace(string(raw))
	}
	if len(body.Problems) > 0 {
		return body.Error + ": " + strings.Join(body.Problems, "; ")
	}
	return body.Error
}
