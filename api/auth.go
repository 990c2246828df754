package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/credit-ledger/credit"
)

type ctxKey int

const userKey ctxKey = iota

// RequireUser resolves the Bearer token to an active user and stores it in
// the request context. Requests without a valid token get 401.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		user, err := h.Accounts.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			h.respondError(w, r, err)
			return
		}

		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", string(user.ID))
		})
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// currentUser returns the user set by RequireUser.
func currentUser(r *http.Request) *credit.User {
	u, _ := r.Context().Value(userKey).(*credit.User)
	return u
}
