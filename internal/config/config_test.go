package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("sqlchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.AI.ChatMaxTokens != 256 || cfg.AI.ChatTemperature != 0.75 || cfg.AI.ChatTopP != 1.0 {
		t.Fatalf("AI chat defaults = %d/%f/%f", cfg.AI.ChatMaxTokens, cfg.AI.ChatTemperature, cfg.AI.ChatTopP)
	}
	if cfg.AI.ClassifierMaxTokens != 2 {
		t.Fatalf("AI.ClassifierMaxTokens = %d", cfg.AI.ClassifierMaxTokens)
	}
	if cfg.Chat.ContextLength != 3 {
		t.Fatalf("Chat.ContextLength = %d", cfg.Chat.ContextLength)
	}
	if cfg.Chat.DefaultMode != ModeChat {
		t.Fatalf("Chat.DefaultMode = %q", cfg.Chat.DefaultMode)
	}
	if cfg.Embedding.Model != "nomic-embed-text:latest" {
		t.Fatalf("Embedding.Model = %q", cfg.Embedding.Model)
	}
	if cfg.VectorStore.Collection != "sales_db" {
		t.Fatalf("VectorStore.Collection = %q", cfg.VectorStore.Collection)
	}
	if cfg.Database.AdminDatabase != "postgres" {
		t.Fatalf("Database.AdminDatabase = %q", cfg.Database.AdminDatabase)
	}
	if cfg.Export.Enabled {
		t.Fatal("Export.Enabled should default to false")
	}
	if cfg.Query.RowLimit != 200 {
		t.Fatalf("Query.RowLimit = %d, want 200", cfg.Query.RowLimit)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("sqlchat-api", mapLookup(map[string]string{"SQLCHAT_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Export.UseSSL {
		t.Fatal("Export.UseSSL should default to true in prod")
	}
}

func TestLoadTestProfileUsesMemoryVectors(t *testing.T) {
	cfg, err := Load("sqlchat-api", mapLookup(map[string]string{"SQLCHAT_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VectorStore.Backend != VectorBackendMemory {
		t.Fatalf("VectorStore.Backend = %q", cfg.VectorStore.Backend)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLCHAT_HTTP_ADDR":             ":9999",
		"SQLCHAT_HTTP_READ_TIMEOUT":     "2s",
		"SQLCHAT_LOG_LEVEL":             "error",
		"SQLCHAT_DB_DSN":                "postgres://example",
		"SQLCHAT_DB_MAX_OPEN_CONNS":     "42",
		"SQLCHAT_AI_ENABLED":            "true",
		"SQLCHAT_AI_PROVIDER":           "Azure",
		"SQLCHAT_AI_BASE_URL":           "https://example.openai.azure.com",
		"SQLCHAT_AI_API_VERSION":        "2024-02-01",
		"SQLCHAT_AI_MODEL":              "gpt-35-turbo",
		"SQLCHAT_AI_CHAT_TEMPERATURE":   "0.2",
		"SQLCHAT_AI_TIMEOUT":            "21s",
		"SQLCHAT_CHAT_DEFAULT_MODE":     "LIBRARY",
		"SQLCHAT_CHAT_LIBRARY_BACKEND":  "chain",
		"SQLCHAT_CHAT_CONTEXT_LENGTH":   "5",
		"SQLCHAT_QUERY_ENGINE":          "duckdb",
		"SQLCHAT_QUERY_ROW_LIMIT":       "50",
		"SQLCHAT_VECTOR_TOP_K":          "8",
		"SQLCHAT_EXPORT_ENABLED":        "true",
		"SQLCHAT_EXPORT_BUCKET":         "exports",
		"SQLCHAT_AUTH_STATIC_KEYS":      "k1:alice:chat_user",
		"SQLCHAT_EMBEDDING_BASE_URL":    "http://ollama:11434/v1/",
		"SQLCHAT_VECTOR_COLLECTION":     "schema_docs",
		"SQLCHAT_AI_CLASSIFIER_ENABLED": "false",
	})
	cfg, err := Load("sqlchat-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.DSN != "postgres://example" || cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database = %#v", cfg.Database)
	}
	if cfg.AI.Provider != ProviderAzure {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.ChatTemperature != 0.2 {
		t.Fatalf("AI.ChatTemperature = %f", cfg.AI.ChatTemperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.ClassifierEnabled {
		t.Fatal("AI.ClassifierEnabled = true, want false")
	}
	if cfg.Chat.DefaultMode != ModeLibrary || cfg.Chat.LibraryBackend != LibraryChain {
		t.Fatalf("Chat = %#v", cfg.Chat)
	}
	if cfg.Chat.ContextLength != 5 {
		t.Fatalf("Chat.ContextLength = %d", cfg.Chat.ContextLength)
	}
	if cfg.Query.Engine != QueryEngineDuckDB || cfg.Query.RowLimit != 50 {
		t.Fatalf("Query = %#v", cfg.Query)
	}
	if cfg.VectorStore.TopK != 8 || cfg.VectorStore.Collection != "schema_docs" {
		t.Fatalf("VectorStore = %#v", cfg.VectorStore)
	}
	if !cfg.Export.Enabled || cfg.Export.Bucket != "exports" {
		t.Fatalf("Export = %#v", cfg.Export)
	}
	if cfg.Auth.StaticKeys != "k1:alice:chat_user" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Embedding.BaseURL != "http://ollama:11434/v1/" {
		t.Fatalf("Embedding.BaseURL = %q", cfg.Embedding.BaseURL)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SQLCHAT_PROFILE": "oops"},
		{"SQLCHAT_HTTP_READ_TIMEOUT": "NaN"},
		{"SQLCHAT_DB_MAX_OPEN_CONNS": "oops"},
		{"SQLCHAT_AI_CHAT_TEMPERATURE": "bad"},
		{"SQLCHAT_AI_PROVIDER": "anthropic"},
		{"SQLCHAT_AI_ENABLED": "true", "SQLCHAT_AI_PROVIDER": "azure"},
		{"SQLCHAT_CHAT_DEFAULT_MODE": "shell"},
		{"SQLCHAT_CHAT_CONTEXT_LENGTH": "0"},
		{"SQLCHAT_QUERY_ENGINE": "sqlite"},
		{"SQLCHAT_VECTOR_BACKEND": "qdrant"},
		{"SQLCHAT_EXPORT_ENABLED": "true", "SQLCHAT_EXPORT_BUCKET": ""},
		{"SQLCHAT_AUTH_REQUIRED": "not-bool"},
		{"SQLCHAT_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("sqlchat-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "SQLCHAT_TEST_DOTENV_A=from-file\nSQLCHAT_TEST_DOTENV_B=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("SQLCHAT_TEST_DOTENV_A", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("SQLCHAT_TEST_DOTENV_B") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("SQLCHAT_TEST_DOTENV_A"); got != "from-env" {
		t.Fatalf("A = %q, want from-env", got)
	}
	if got := os.Getenv("SQLCHAT_TEST_DOTENV_B"); got != "from-file" {
		t.Fatalf("B = %q, want from-file", got)
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
