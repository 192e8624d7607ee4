package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlchat/sqlchat/internal/auth"
	"github.com/sqlchat/sqlchat/internal/chat"
	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/feedback"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/query"
	"github.com/sqlchat/sqlchat/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type ChatService interface {
	NewSession() *chat.Session
	DefaultMode() string
	Messages(sessionID string) ([]chat.Message, error)
	Submit(ctx context.Context, sessionID, text, mode string, observe chat.Observer) (chat.Message, error)
	RunQuery(ctx context.Context, sessionID, messageID string) (chat.Message, error)
	Feedback(ctx context.Context, sessionID, messageID string, reaction feedback.Reaction, subject string) (feedback.Record, error)
	Export(ctx context.Context, sessionID, messageID string) (chat.Message, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Chat              ChatService
	Schema            query.SchemaReader
	Exports           storage.ObjectStore
	// CheckOrigin overrides the websocket same-origin check.
	CheckOrigin func(r *http.Request) bool
	UI          http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
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
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	streams := newStreamHandler(deps)
	runner := auth.RequireRole(auth.RoleQueryRunner)
	chatUser := auth.RequireRole(auth.RoleChatUser)

	protected := http.NewServeMux()
	routes := map[string]http.Handler{
		"POST /v1/chat/sessions":                                      chatUser(handlerFunc(deps, handleCreateSession)),
		"GET /v1/chat/sessions/{session}":                             chatUser(handlerFunc(deps, handleGetSession)),
		"POST /v1/chat/sessions/{session}/messages":                   chatUser(handlerFunc(deps, handlePostMessage)),
		"GET /v1/chat/sessions/{session}/stream":                      chatUser(streams),
		"POST /v1/chat/sessions/{session}/messages/{message}/feedback": chatUser(handlerFunc(deps, handleFeedback)),
		"POST /v1/chat/sessions/{session}/messages/{message}/run":      runner(handlerFunc(deps, handleRunQuery)),
		"POST /v1/chat/sessions/{session}/messages/{message}/export":   runner(handlerFunc(deps, handleExport)),
		"GET /v1/chat/sessions/{session}/messages/{message}/export":    runner(handlerFunc(deps, handleDownloadExport)),
		"GET /v1/schema":                                              chatUser(handlerFunc(deps, handleSchema)),
	}
	for pattern, handler := range routes {
		protected.Handle(pattern, handler)
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
		mux.Handle(pattern, protectedHandler)
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
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

func handlerFunc(deps Dependencies, fn func(Dependencies, http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(deps, w, r)
	})
}

func CheckDatabase(db *sql.DB) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("database is not configured")
		}
		return db.PingContext(ctx)
	}
}

func CheckExportConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Export.Enabled {
			return nil
		}
		if cfg.Export.Endpoint == "" {
			return errors.New("export endpoint is not configured")
		}
		if cfg.Export.Bucket == "" {
			return errors.New("export bucket is not configured")
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
