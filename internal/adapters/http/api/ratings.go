package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/typerace/internal/domain/model"
)

// RatingDependencies defines the interface for rating lookups.
type RatingDependencies interface {
	Rating(ctx context.Context, userID string) (model.UserRating, error)
}

// RatingHandler handles rating requests.
type RatingHandler struct {
	deps RatingDependencies
}

// NewRatingHandler creates a new rating handler.
func NewRatingHandler(deps RatingDependencies) *RatingHandler {
	return &RatingHandler{deps: deps}
}

// HandleGetRating handles GET /ratings/{user_id} requests.
func (h *RatingHandler) HandleGetRating(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/ratings/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	rating, err := h.deps.Rating(r.Context(), userID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, toRatingResponse(&rating))
}
