package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oggyb/cinematch/internal/quota"
)

// Pinger is a dependency the readiness probe checks.
type Pinger func(ctx context.Context) error

// QuotaStatusFunc resolves a user's quota status for operators.
type QuotaStatusFunc func(ctx context.Context, userID string) (quota.Status, error)

// AdminRouter serves liveness/readiness probes, Prometheus metrics and a
// read-only quota lookup.
func AdminRouter(status QuotaStatusFunc, pingers map[string]Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/healthz/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]string, len(pingers))
		code := http.StatusOK
		for name, ping := range pingers {
			if err := ping(ctx); err != nil {
				checks[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		writeJSON(w, code, checks)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/admin/quota/{userID}", func(w http.ResponseWriter, req *http.Request) {
		st, err := status(req.Context(), chi.URLParam(req, "userID"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tier":                       st.Tier,
			"remaining_changes":          st.RemainingChanges,
			"remaining_matches":          st.RemainingMatches,
			"cooldown_remaining_seconds": int64(st.CooldownRemaining.Seconds()),
			"cooldown_ends_at":           st.CooldownEndsAt,
		})
	})
	return r
}

// StartAdminServer serves the admin router on addr until ctx is cancelled.
func StartAdminServer(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
