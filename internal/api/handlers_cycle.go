package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/pick-aggregator/internal/logging"
)

// healthResponse is returned by /healthz
type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Breaker string            `json:"providerCircuit,omitempty"`
	Running bool              `json:"cycleRunning"`
}

// handleHealth handles GET /healthz. Any failed dependency makes it 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names)), Running: s.runner.Running()}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}
	if s.breaker != nil {
		resp.Breaker = string(s.breaker())
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// handleLockStatus handles GET /v1/lock
func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.runner.LockStatus(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		respondError(w, status, code, msg, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"key":          st.Key,
		"held":         st.Held,
		"owner":        st.Owner,
		"acquiredAt":   st.AcquiredAt,
		"ttlMs":        st.TTL.Milliseconds(),
		"ttlRemaining": st.TTLRemaining.Milliseconds(),
	})
}

// handleLastCycle handles GET /v1/cycles/last
func (s *Server) handleLastCycle(w http.ResponseWriter, r *http.Request) {
	last := s.runner.LastResult()
	if last == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No cycle has run in this process", nil)
		return
	}
	respondJSON(w, http.StatusOK, last)
}

// handleRunCycle handles POST /v1/cycles/run. The cycle runs in the background
// unless wait=true is given.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "wait must be a boolean", nil)
			return
		}
		wait = parsed
	}

	if s.runner.Running() {
		respondError(w, http.StatusConflict, ErrCodeConflict, "A cycle is already running in this process", nil)
		return
	}

	ctx := logging.WithLogger(s.runCtx, s.logger)
	if !wait {
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			if _, err := s.runner.RunCycle(ctx); err != nil {
				s.logger.WithError(err).Warn("Triggered cycle aborted")
			}
		}()
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	var deadline time.Time
	if s.config.CycleWriteTimeout > 0 {
		deadline = time.Now().Add(s.config.CycleWriteTimeout)
	}
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil {
		s.logger.WithError(err).Debug("Cannot extend write deadline for synchronous cycle")
	}

	s.runs.Add(1)
	defer s.runs.Done()

	// The cycle may still abort; its summary carries the reason.
	summary, _ := s.runner.RunCycle(ctx)
	respondJSON(w, http.StatusOK, summary)
}
