// Package api serves the ops HTTP surface: Prometheus metrics, engine stats,
// read-only rating lookups and the OpenAPI document describing them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/typerace/internal/adapters/repository"
	"github.com/okian/typerace/internal/domain/model"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	StatsProvider
	RatingDependencies
	MatchmakingDependencies
}

// Server wires HTTP routes.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	ratingHandler      *RatingHandler
	matchmakingHandler *MatchmakingHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps the
// size of matchmaking pools.
func NewServer(deps Dependencies, maxLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		ratingHandler:      NewRatingHandler(deps),
		matchmakingHandler: NewMatchmakingHandler(deps, maxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", instrument("healthz", s.healthHandler.HandleHealth))
	mux.HandleFunc("/stats", instrument("stats", s.statsHandler.HandleStats))
	mux.HandleFunc("/ratings/", instrument("ratings", s.ratingHandler.HandleGetRating))
	mux.HandleFunc("/matchmaking/", instrument("matchmaking", s.matchmakingHandler.HandleGetPool))
	mux.HandleFunc("/openapi.yaml", instrument("openapi", HandleOpenAPI))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ratingResponse is a rating with its tier name.
type ratingResponse struct {
	UserID      string `json:"userId"`
	Rating      int    `json:"rating"`
	Peak        int    `json:"peak"`
	Tier        string `json:"tier"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
	WinStreak   int    `json:"winStreak"`
	BestStreak  int    `json:"bestStreak"`
	Provisional bool   `json:"provisional"`
}

func toRatingResponse(r *model.UserRating) ratingResponse {
	return ratingResponse{
		UserID:      r.UserID,
		Rating:      r.Rating,
		Peak:        r.PeakRating,
		Tier:        r.Tier,
		Wins:        r.Wins,
		Losses:      r.Losses,
		Draws:       r.Draws,
		WinStreak:   r.WinStreak,
		BestStreak:  r.BestStreak,
		Provisional: r.Provisional,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
