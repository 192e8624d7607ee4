package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sqlchat/sqlchat/internal/auth"
	"github.com/sqlchat/sqlchat/internal/chat"
	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/export"
	"github.com/sqlchat/sqlchat/internal/llm"
	"github.com/sqlchat/sqlchat/internal/llm/llmtest"
	"github.com/sqlchat/sqlchat/internal/query"
	"github.com/sqlchat/sqlchat/internal/sqlcheck"
	"github.com/sqlchat/sqlchat/internal/storage"
	"github.com/sqlchat/sqlchat/internal/textsql"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body["service"] != "sqlchat-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "NOT_READY" {
		t.Fatalf("error_code = %q", code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{"SQLCHAT_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:chat_user")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Chat:           newTestChatService(t, &llmtest.Client{}, &stubEngine{}),
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodPost, "/v1/chat/sessions", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodPost, "/v1/chat/sessions", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusCreated {
		t.Fatalf("auth status = %d body=%s", authResp.Code, authResp.Body.String())
	}
	var session sessionResponse
	if err := json.Unmarshal(authResp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	runReq := httptest.NewRequest(http.MethodPost, "/v1/chat/sessions/"+session.SessionID+"/messages/m1/run", nil)
	runReq.Header.Set("X-API-Key", "k1")
	runResp := httptest.NewRecorder()
	h.ServeHTTP(runResp, runReq)
	if runResp.Code != http.StatusForbidden {
		t.Fatalf("run status = %d, want 403", runResp.Code)
	}

	healthResp := httptest.NewRecorder()
	h.ServeHTTP(healthResp, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if healthResp.Code != http.StatusOK {
		t.Fatalf("health status = %d", healthResp.Code)
	}
}

func TestProtectedRouteFailsClosedWithoutMiddleware(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{"SQLCHAT_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "AUTH_MIDDLEWARE_MISSING" {
		t.Fatalf("error_code = %q", code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	calls := 0
	check := CombineReadinessChecks(
		func(context.Context) error {
			calls++
			return nil
		},
		nil,
		func(context.Context) error {
			calls++
			return errors.New("storage down")
		},
		func(context.Context) error {
			calls++
			return nil
		},
	)
	err := check(context.Background())
	if err == nil || err.Error() != "storage down" {
		t.Fatalf("CombineReadinessChecks() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestCheckExportConfig(t *testing.T) {
	disabled := loadTestConfig(t, nil)
	if err := CheckExportConfig(disabled)(context.Background()); err != nil {
		t.Fatalf("CheckExportConfig() disabled error = %v", err)
	}

	enabled := disabled
	enabled.Export.Enabled = true
	enabled.Export.Endpoint = ""
	if err := CheckExportConfig(enabled)(context.Background()); err == nil {
		t.Fatal("CheckExportConfig() expected error for missing endpoint")
	}
	enabled.Export.Endpoint = "localhost:9000"
	enabled.Export.Bucket = "exports"
	if err := CheckExportConfig(enabled)(context.Background()); err != nil {
		t.Fatalf("CheckExportConfig() error = %v", err)
	}
}

func TestCheckDatabase(t *testing.T) {
	if err := CheckDatabase(nil)(context.Background()); err == nil {
		t.Fatal("CheckDatabase(nil) expected error")
	}

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	mock.ExpectPing()
	if err := CheckDatabase(db)(context.Background()); err != nil {
		t.Fatalf("CheckDatabase() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	ui := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "chat ui")
	})
	h := NewHandler(loadTestConfig(t, nil), Dependencies{UI: ui})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "chat ui" {
		t.Fatalf("ui status = %d body = %q", rr.Code, rr.Body.String())
	}

	apiResp := httptest.NewRecorder()
	h.ServeHTTP(apiResp, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if strings.Contains(apiResp.Body.String(), "chat ui") {
		t.Fatal("api route was served by the ui handler")
	}
}

type stubEngine struct {
	result   query.Result
	err      error
	requests []query.Request
}

func (s *stubEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	s.requests = append(s.requests, request)
	return s.result, s.err
}

type stubSchema struct {
	columns []query.Column
	err     error
}

func (s stubSchema) Columns(context.Context) ([]query.Column, error) {
	return s.columns, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	if env == nil {
		env = map[string]string{}
	}
	cfg, err := config.Load("sqlchat-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

// newTestChatService wires a chat service over scripted model output, the
// heuristic classifier and an in-memory export bucket.
func newTestChatService(t *testing.T, client *llmtest.Client, engine query.Engine) *chat.Service {
	t.Helper()
	service, _ := newTestChatServiceWithExports(t, client, engine)
	return service
}

func newTestChatServiceWithExports(t *testing.T, client *llmtest.Client, engine query.Engine) (*chat.Service, *storage.MemoryStore) {
	t.Helper()
	streamer, err := textsql.NewChatStreamer(client, llm.ChatOptions{MaxTokens: 256})
	if err != nil {
		t.Fatalf("NewChatStreamer() error = %v", err)
	}
	exports := storage.NewMemoryStore()
	exporter, err := export.NewExporter(exports, discardLogger())
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}
	service, err := chat.NewService(chat.Config{
		SystemPrompt: "You write SQL for sales_db.",
		RowLimit:     100,
	}, chat.Dependencies{
		Streamer:   streamer,
		Classifier: sqlcheck.Heuristic{},
		Engine:     engine,
		Exporter:   exporter,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return service, exports
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error response: %v body=%s", err, rr.Body.String())
	}
	code, _ := body["error_code"].(string)
	return code
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
