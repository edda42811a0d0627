package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bizsim/internal/metrics"
	"bizsim/internal/settlement"
	"bizsim/internal/sim"
	"bizsim/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 4 << 20

type Server struct {
	log    *slog.Logger
	store  store.Store
	settle *settlement.Service
	engine sim.Engine
	mux    *chi.Mux
}

func New(logger *slog.Logger, st store.Store, svc *settlement.Service, engine sim.Engine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:    logger,
		store:  st,
		settle: svc,
		engine: engine,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cities", s.handleCities)
		r.Get("/games/{gameID}/teams", s.handleTeams)
		r.Post("/games/{gameID}/quarters/{quarter}/settle", s.handleSettle)
		r.Get("/games/{gameID}/quarters/{quarter}/metrics", s.handleMetrics)
		r.Post("/teams/{teamID}/decisions", s.handleSubmitDecision)
		r.Post("/simulate", s.handleSimulate)
	})
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.store.Cities(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cities": nonNil(cities)})
}

func (s *Server) handleTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.Teams(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": nonNil(teams)})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	quarter, ok := quarterParam(w, r)
	if !ok {
		return
	}
	report, err := s.settle.SettleQuarter(r.Context(), chi.URLParam(r, "gameID"), quarter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	quarter, ok := quarterParam(w, r)
	if !ok {
		return
	}
	rows, err := s.store.Metrics(r.Context(), chi.URLParam(r, "gameID"), quarter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quarter": quarter, "metrics": nonNil(rows)})
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	var in sim.Submission
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.TeamID = chi.URLParam(r, "teamID")
	in.ID = ""

	d, err := s.settle.SubmitDecision(r.Context(), in.Decision, in.Allocations)
	if err != nil {
		s.log.Info("decision rejected", "team_id", in.TeamID, "idempotency_key", idempotencyKey(r), "err", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decision_id":   d.ID,
		"cost_per_unit": d.CostPerUnit,
	})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var in sim.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.Settle(in)
	if err == nil {
		err = store.CheckFinite(res)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func quarterParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	quarter, err := strconv.Atoi(chi.URLParam(r, "quarter"))
	if err != nil || quarter < 1 {
		writeError(w, http.StatusBadRequest, "quarter must be a positive integer")
		return 0, false
	}
	return quarter, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	var verr *sim.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": sim.ErrInvalidDecision.Error(), "problems": verr.Problems})
	case errors.Is(err, sim.ErrNoTeams), errors.Is(err, store.ErrNonFinite):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadySettled), errors.Is(err, store.ErrQuarterLocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// idempotencyKey is the client's Idempotency-Key header, for logs only.
// Replays are safe because decisions are upserts on (team, quarter).
func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
