package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckmesh/querypilot/internal/agent"
	"github.com/duckmesh/querypilot/internal/config"
	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/export"
	"github.com/duckmesh/querypilot/internal/history"
	"github.com/duckmesh/querypilot/internal/observability"
	"github.com/duckmesh/querypilot/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type ConnectionCatalog interface {
	List() []executor.ConnectionInfo
}

type ArchiveReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
	Preview(ctx context.Context, key string, limit int) (export.Preview, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Agent             agent.Runner
	Connections       ConnectionCatalog
	Schemas           agent.SchemaSource
	History           history.Store
	Archive           ArchiveReader
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, observability.Route(pattern, handler))
	}

	handle("GET /v1/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	}))

	handle("GET /v1/ready", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))

	handle("GET /v1/metrics", promhttp.Handler())

	routes := map[string]http.HandlerFunc{
		"POST /v1/ask": func(w http.ResponseWriter, r *http.Request) {
			handleAsk(cfg, deps, w, r)
		},
		"POST /v1/sanitize": func(w http.ResponseWriter, r *http.Request) {
			handleSanitize(w, r)
		},
		"GET /v1/connections": func(w http.ResponseWriter, r *http.Request) {
			handleListConnections(deps, w, r)
		},
		"GET /v1/connections/{id}/schema": func(w http.ResponseWriter, r *http.Request) {
			handleConnectionSchema(deps, w, r)
		},
		"GET /v1/history": func(w http.ResponseWriter, r *http.Request) {
			handleListHistory(deps, w, r)
		},
		"DELETE /v1/history/{id}": func(w http.ResponseWriter, r *http.Request) {
			handleDeleteHistory(deps, w, r)
		},
		"DELETE /v1/history": func(w http.ResponseWriter, r *http.Request) {
			handleClearHistory(deps, w, r)
		},
		"GET /v1/archives/{key...}": func(w http.ResponseWriter, r *http.Request) {
			handleGetArchive(deps, w, r)
		},
	}

	protected := http.NewServeMux()
	for pattern, route := range routes {
		protected.HandleFunc(pattern, route)
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckHistoryDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.History.Enabled && cfg.History.DSN == "" {
			return errors.New("history dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Export.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

// CheckMigrations fails while the history schema is behind the embedded migrations.
func CheckMigrations(pending func(ctx context.Context) ([]int64, error)) ReadinessCheck {
	return func(ctx context.Context) error {
		versions, err := pending(ctx)
		if err != nil {
			return fmt.Errorf("check history migrations: %w", err)
		}
		if len(versions) > 0 {
			return fmt.Errorf("history migrations pending: %v", versions)
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
