package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/typerace/internal/domain/model"
)

const defaultTolerance = 200

// MatchmakingDependencies defines the interface for matchmaking pools.
type MatchmakingDependencies interface {
	MatchmakingPool(ctx context.Context, userID string, tolerance, limit int) ([]model.UserRating, error)
}

// MatchmakingHandler handles matchmaking pool requests.
type MatchmakingHandler struct {
	deps     MatchmakingDependencies
	maxLimit int
}

// NewMatchmakingHandler creates a new matchmaking handler.
func NewMatchmakingHandler(deps MatchmakingDependencies, maxLimit int) *MatchmakingHandler {
	return &MatchmakingHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetPool handles GET /matchmaking/{user_id}?limit=N&tolerance=T
// requests. Tolerance defaults to 200 rating points.
func (h *MatchmakingHandler) HandleGetPool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/matchmaking/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	q := r.URL.Query()
	n, err := strconv.Atoi(q.Get("limit"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("limit: %w", ErrBadRequest))
		return
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", fmt.Errorf("limit over %d: %w", h.maxLimit, ErrBadRequest))
		return
	}
	tolerance := defaultTolerance
	if t := q.Get("tolerance"); t != "" {
		tolerance, err = strconv.Atoi(t)
		if err != nil || tolerance < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("tolerance: %w", ErrBadRequest))
			return
		}
	}

	pool, err := h.deps.MatchmakingPool(r.Context(), userID, tolerance, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	out := make([]ratingResponse, len(pool))
	for i := range pool {
		out[i] = toRatingResponse(&pool[i])
	}
	writeJSON(w, http.StatusOK, out)
}
