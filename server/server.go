package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/stream-herald/schedule"
)

// NewMux returns the HTTP handler with all routes. Admin routes sit behind
// adminAuth when credentials are configured.
func NewMux(ctx context.Context, db *sql.DB, engine *schedule.Engine) http.Handler {
	authCfg := loadAuthConfig()
	handlers := NewHandlers(ctx, db, engine)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Status endpoint
	mux.HandleFunc("/status", handlers.HandleStatus)

	// Admin endpoints
	mux.HandleFunc("/admin/sync", handlers.HandleAdminSync)
	mux.HandleFunc("/admin/dryrun", handlers.HandleAdminDryRun)
	mux.HandleFunc("/admin/test", handlers.HandleAdminTest)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/admin/") {
			adminAuth(mux, authCfg).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, db *sql.DB, engine *schedule.Engine, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, db, engine),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
