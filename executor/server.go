package executor

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/credit-ledger/credit"
)

// NewHandler serves a Local executor at POST /invoke, speaking the same wire
// format the HTTP executor sends. Faults answer 422 so callers record
// credit.ProviderFailure.
func NewHandler(local *Local, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/invoke", func(w http.ResponseWriter, req *http.Request) {
		var p Payload
		dec := json.NewDecoder(io.LimitReader(req.Body, maxResponseBytes))
		dec.UseNumber()
		if err := dec.Decode(&p); err != nil {
			http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
			return
		}
		kind, v1, v2, err := p.Operands()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		out := local.Invoke(req.Context(), kind, v1, v2)
		if out == credit.ProviderFailure {
			hlog.FromRequest(req).Warn().Str("kind", kind.String()).Msg("operation could not be computed")
			http.Error(w, out, http.StatusUnprocessableEntity)
			return
		}
		hlog.FromRequest(req).Debug().Str("kind", kind.String()).Msg("operation computed")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, out)
	})
	return r
}
