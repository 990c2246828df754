/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes the credit engine and account service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth (public):
    POST   /api/auth/register      Create a user
    POST   /api/auth/login         Exchange credentials for a bearer token

  Operations (bearer token):
    POST   /operation/calculate    Spend credits on one operation
    GET    /operation              Paginated history (?page=0&size=10)
    GET    /operation/user-stats   Current balance and operation count
    DELETE /operation/{id}         Soft-delete one of the caller's records

  Health:
    GET    /healthz

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input shape
  3. Call domain logic (engine, accounts)
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors and rejected operations (message verbatim)
  - 401: Missing/invalid token, bad credentials
  - 403: Touching another user's record
  - 404: Record not found
  - 408: Request cancelled before the write was committed
  - 409: Username already exists
  - 503: Store unavailable (retriable)
  - 500: Internal errors

SEE ALSO:
  - dto.go:    Request/response data structures
  - auth.go:   Bearer middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/credit-ledger/account"
	"github.com/warp/credit-ledger/credit"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *credit.Engine
	Accounts *account.Service

	// Health is checked by /healthz when set.
	Health Pinger
}

func NewHandler(engine *credit.Engine, accounts *account.Service) *Handler {
	return &Handler{Engine: engine, Accounts: accounts}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates a user.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	if _, err := h.Accounts.Register(r.Context(), req.Username, req.Password); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "User registered successfully!")
}

// Login returns a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	token, err := h.Accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// =============================================================================
// OPERATION HANDLERS
// =============================================================================

// Calculate executes one operation for the current user.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	kind, err := credit.ParseKind(req.OperationType)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.Value1 == nil && kind != credit.RandomString {
		writeError(w, http.StatusBadRequest, "value1 is required for "+kind.String(), nil)
		return
	}

	var operand1 float64
	if req.Value1 != nil {
		operand1 = *req.Value1
	}
	res, err := h.Engine.Execute(r.Context(), user.ID, credit.Request{
		Kind:     req.OperationType,
		Operand1: operand1,
		Operand2: req.Value2,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{OperationResult: res.Payload, Amount: res.BalanceAfter})
}

// ListOperations returns one page of the current user's history.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	page, err := intParam(r, "page", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	size, err := intParam(r, "size", credit.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid size", err)
		return
	}

	result, err := h.Engine.History(r.Context(), user.ID, credit.PageRequest{Page: page, Size: size})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordPage(result))
}

// UserStats returns the current user's balance and operation count.
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	stats, err := h.Engine.Stats(r.Context(), user.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserStatsResponse{
		CurrentBalance:  stats.Balance,
		TotalOperations: stats.OperationCount,
	})
}

// DeleteOperation soft-deletes a record owned by the current user.
func (h *Handler) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid record id", err)
		return
	}

	if err := h.Engine.Delete(r.Context(), user.ID, id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Healthz reports liveness and, when configured, store reachability.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// respondError maps domain errors to HTTP responses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case credit.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, credit.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Error: Username already exists", nil)
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
	case errors.Is(err, account.ErrInvalidToken), errors.Is(err, account.ErrUserInactive):
		writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
	case errors.Is(err, credit.ErrActionNotAllowed):
		writeError(w, http.StatusForbidden, "Action not allowed", nil)
	case credit.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Record not found", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "Request cancelled", nil)
	case credit.IsRetryable(err):
		hlog.FromRequest(r).Warn().Err(err).Msg("retriable failure")
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry", nil)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
