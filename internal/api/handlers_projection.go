package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pick-aggregator/internal/types"
)

// handleGetLeaderboard handles GET /v1/leaderboards/{timeframe}/{metric}
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tf, err := types.ParseTimeframe(vars["timeframe"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	metric, err := types.ParseMetric(vars["metric"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	snap, err := s.projections.GetLeaderboard(r.Context(), tf, metric)
	if err != nil {
		status, code, msg := mapError(err)
		respondError(w, status, code, msg, nil)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleGetProfileStats handles GET /v1/profiles/{userId}/stats
func (s *Server) handleGetProfileStats(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	stats, err := s.projections.GetProfileStats(r.Context(), userID)
	if err != nil {
		status, code, msg := mapError(err)
		respondError(w, status, code, msg, nil)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleGetGroupBoard handles GET /v1/groups/{groupId}/leaderboard/{timeframe}
func (s *Server) handleGetGroupBoard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	groupID, err := strconv.ParseInt(vars["groupId"], 10, 64)
	if err != nil || groupID <= 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "groupId must be a positive integer", nil)
		return
	}
	tf, err := types.ParseTimeframe(vars["timeframe"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	board, err := s.projections.GetGroupBoard(r.Context(), groupID, tf)
	if err != nil {
		status, code, msg := mapError(err)
		respondError(w, status, code, msg, nil)
		return
	}
	respondJSON(w, http.StatusOK, board)
}
