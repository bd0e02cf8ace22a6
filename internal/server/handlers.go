package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/health"
	"github.com/denwal/poolgate/internal/logger"
)

// HealthChecker produces health snapshots. It never fails; broken
// dependencies are part of the snapshot.
type HealthChecker interface {
	Check(ctx context.Context) health.Snapshot
}

// QueryExecutor runs one parameterized query.
type QueryExecutor interface {
	Execute(ctx context.Context, text string, params []any) (*database.Result, error)
}

type handlers struct {
	reporter HealthChecker
	executor QueryExecutor
	log      *logger.Logger
}

type queryRequest struct {
	Text   string `json:"text"`
	Params []any  `json:"params"`
}

type errorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// health always answers 200. The payload carries the bad news.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reporter.Check(r.Context()))
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON with a text field")
		return
	}

	res, err := h.executor.Execute(r.Context(), req.Text, req.Params)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errs.IsInvalidInput(err):
		return http.StatusBadRequest
	case errs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsPermissionDenied(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: true, Message: msg})
}
