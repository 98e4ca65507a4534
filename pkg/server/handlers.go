package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"mercator-hq/sextant/pkg/cache"
	"mercator-hq/sextant/pkg/router"
	"mercator-hq/sextant/pkg/workflow"
)

const maxRequestBodySize = 1 << 20

// Error codes returned in the JSON error body.
const (
	codeInvalidRequest = "invalid_request"
	codeRateLimited    = "rate_limited"
	codeUnavailable    = "temporarily_unavailable"
	codeNotFound       = "not_found"
	codeInternal       = "internal_error"
)

// ResearchRequest is the body of POST /v1/research.
type ResearchRequest struct {
	Question     string          `json:"question"`
	Mode         string          `json:"mode,omitempty"`
	Jurisdiction string          `json:"jurisdiction,omitempty"`
	History      []workflow.Turn `json:"history,omitempty"`
}

// InvalidateRequest is the body of POST /v1/cache/invalidate. An empty mode
// invalidates the entry for the mode the question classifies to.
type InvalidateRequest struct {
	Question     string `json:"question"`
	Mode         string `json:"mode,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	Resource          string `json:"resource,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req ResearchRequest
	if !decode(w, r, &req) {
		return
	}

	q, err := router.NewQuery(req.Question, req.Mode, req.Jurisdiction, req.History)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	resp, err := s.router.Route(r.Context(), q)
	if err != nil {
		s.writeRouteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if !decode(w, r, &req) {
		return
	}

	q, err := router.NewQuery(req.Question, req.Mode, req.Jurisdiction, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	mode := q.Mode()
	if mode == "" {
		mode = router.Classify(q.Text())
	}

	key := cache.NewKey(q.Text(), mode, q.Jurisdiction())
	s.invalidator.Invalidate(r.Context(), key)
	s.logger.InfoContext(r.Context(), "cache entry invalidated", "key", key.Short(), "mode", mode)
	w.WriteHeader(http.StatusNoContent)
}

// writeRouteError maps router errors onto status codes: denial is 429 with
// Retry-After, a failed run is 503, anything else is 500.
func (s *Server) writeRouteError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *router.DeniedError
	switch {
	case errors.As(err, &denied):
		secs := int(math.Ceil(denied.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: ErrorBody{
			Code:              codeRateLimited,
			Message:           "quota exhausted for " + denied.Mode + " mode",
			Resource:          denied.Resource,
			RetryAfterSeconds: secs,
		}})
	case errors.Is(err, router.ErrWorkflowFailed):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "research is temporarily unavailable, try again later")
	case errors.Is(err, router.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "route failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "an internal error occurred")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
