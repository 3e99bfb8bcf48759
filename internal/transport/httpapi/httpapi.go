// Package httpapi exposes the operator-facing admin/health HTTP surface:
// liveness/readiness probes and a couple of debug endpoints, kept
// separate from the websocket/grpc data plane.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/sync-engine/internal/domain/syncstore"
	"github.com/webitel/sync-engine/internal/server/broadcast"
)

// Deps bundles the admin surface's read-only collaborators.
type Deps struct {
	Logger   *slog.Logger
	Store    syncstore.Store
	Registry *broadcast.Registry
}

// NewRouter builds the chi router serving /healthz, /readyz, and a small
// set of /debug introspection endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := deps.Store.MaxCommittedID(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "store_unavailable", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	r.Route("/debug", func(r chi.Router) {
		r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]int{"active_sessions": deps.Registry.Count()})
		})
		r.Get("/commits/latest", func(w http.ResponseWriter, r *http.Request) {
			id, err := deps.Store.MaxCommittedID(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]uint64{"last_committed_id": id})
		})
	})

	return r
}
