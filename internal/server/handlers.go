package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"solana-token-analytics/internal/analytics"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/gateway"
)

// Error codes returned in error bodies and live channel error frames.
const (
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeTokenNotFound    = "TOKEN_NOT_FOUND"
	CodeUnavailable      = "UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

const maxBatchBodyBytes = 64 << 10

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// BatchRequest is the body of a batch analytics request.
type BatchRequest struct {
	Tokens  []string `json:"tokens"`
	Metrics []string `json:"metrics,omitempty"`
}

// BatchResponse holds per-token batch results.
type BatchResponse struct {
	Results   map[string]domain.BatchResult `json:"results"`
	Timestamp time.Time                     `json:"timestamp"`
}

// HealthResponse reports service and upstream health.
type HealthResponse struct {
	Status   string                          `json:"status"`
	Error    string                          `json:"error,omitempty"`
	Breakers map[string]gateway.BreakerState `json:"breakers,omitempty"`
}

// StatsResponse reports live channel and cache counters.
type StatsResponse struct {
	Sessions     int `json:"sessions"`
	Tokens       int `json:"tokens"`
	Watches      int `json:"upstream_watches"`
	CacheEntries int `json:"cache_entries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	status := http.StatusOK

	if s.upstream != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.upstream.Health(ctx); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		resp.Breakers = s.upstream.BreakerStates()
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	req := analytics.Request{Token: chi.URLParam(r, "address")}

	q := r.URL.Query()
	if v := q.Get("include_real_time"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: include_real_time must be a boolean", domain.ErrValidation))
			return
		}
		req.IncludeRealTime = b
	}
	if v := q.Get("max_accounts_to_monitor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: max_accounts_to_monitor must be an integer", domain.ErrValidation))
			return
		}
		req.MaxAccounts = n
	}

	report, err := s.analytics.Analyze(r.Context(), req)
	if err != nil {
		s.log.Debugw("analytics request failed", "token", req.Token, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err))
		return
	}

	kinds := make([]domain.MetricKind, 0, len(body.Metrics))
	for _, m := range body.Metrics {
		kinds = append(kinds, domain.MetricKind(m))
	}

	results, err := s.analytics.AnalyzeBatch(r.Context(), body.Tokens, kinds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{Results: results, Timestamp: time.Now().UTC()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if s.live != nil {
		st := s.live.Stats()
		resp.Sessions = st.Sessions
		resp.Tokens = st.Tokens
		resp.Watches = st.Watches
	}
	if s.cache != nil {
		resp.CacheEntries = s.cache.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// errorStatus maps a request error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, CodeInvalidParameter
	case errors.Is(err, domain.ErrTokenNotFound):
		return http.StatusNotFound, CodeTokenNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
