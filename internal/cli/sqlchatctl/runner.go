package sqlchatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Mode       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type runner struct {
	client  *http.Client
	baseURL string
	apiKey  string
	stdout  io.Writer
	stderr  io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqlchatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqlchat API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	mode := fs.String("mode", defaults.Mode, "answer mode for ask: chat|library (empty uses the server default)")
	runQuery := fs.Bool("run", false, "ask: execute the reply when it is a SQL statement")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	r := &runner{
		client:  client,
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  strings.TrimSpace(*apiKey),
		stdout:  stdout,
		stderr:  stderr,
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch command {
	case "health":
		return r.simple(ctx, http.MethodGet, "/v1/health", nil)
	case "ready":
		return r.simple(ctx, http.MethodGet, "/v1/ready", nil)
	case "schema":
		return r.simple(ctx, http.MethodGet, "/v1/schema", nil)
	case "ask":
		if len(rest) == 0 {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		return r.ask(ctx, strings.Join(rest, " "), *mode, *runQuery)
	case "run", "export":
		if len(rest) != 2 {
			_, _ = fmt.Fprintf(stderr, "%s requires <session> <message>\n", command)
			return 2
		}
		return r.simple(ctx, http.MethodPost, messagePath(rest[0], rest[1], command), nil)
	case "feedback":
		if len(rest) != 3 {
			_, _ = fmt.Fprintln(stderr, "feedback requires <session> <message> like|dislike")
			return 2
		}
		return r.simple(ctx, http.MethodPost, messagePath(rest[0], rest[1], "feedback"), map[string]string{"reaction": rest[2]})
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func (r *runner) simple(ctx context.Context, method, path string, body any) int {
	responseBody, ok := r.call(ctx, method, path, body)
	if !ok {
		return 1
	}
	r.print(responseBody)
	return 0
}

// ask opens a session, submits the question and prints the final reply,
// followed by its result table when -run is set.
func (r *runner) ask(ctx context.Context, question, mode string, runQuery bool) int {
	raw, ok := r.call(ctx, http.MethodPost, "/v1/chat/sessions", nil)
	if !ok {
		return 1
	}
	var session struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &session); err != nil || session.SessionID == "" {
		_, _ = fmt.Fprintf(r.stderr, "unexpected session response: %s\n", strings.TrimSpace(string(raw)))
		return 1
	}

	raw, ok = r.call(ctx, http.MethodPost, "/v1/chat/sessions/"+url.PathEscape(session.SessionID)+"/messages", map[string]string{
		"text": question,
		"mode": mode,
	})
	if !ok {
		return 1
	}
	var reply struct {
		ID             string `json:"id"`
		Content        string `json:"content"`
		IsSQLStatement bool   `json:"is_sql_statement"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "unexpected reply: %s\n", strings.TrimSpace(string(raw)))
		return 1
	}
	_, _ = fmt.Fprintln(r.stdout, reply.Content)
	_, _ = fmt.Fprintf(r.stderr, "session=%s message=%s\n", session.SessionID, reply.ID)

	if !runQuery || !reply.IsSQLStatement {
		return 0
	}
	return r.simple(ctx, http.MethodPost, messagePath(session.SessionID, reply.ID, "run"), nil)
}

func (r *runner) call(ctx context.Context, method, path string, body any) ([]byte, bool) {
	code, responseBody, err := doRequest(ctx, r.client, method, r.baseURL+path, r.apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return nil, false
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(r.stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return nil, false
	}
	return responseBody, true
}

func (r *runner) print(responseBody []byte) {
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(r.stdout, string(responseBody))
	}
}

func messagePath(sessionID, messageID, action string) string {
	return "/v1/chat/sessions/" + url.PathEscape(sessionID) + "/messages/" + url.PathEscape(messageID) + "/" + action
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlchatctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                               GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                               GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  ask <question...>                    new session, submit, print reply")
	_, _ = fmt.Fprintln(w, "  run <session> <message>              execute the reply's SQL")
	_, _ = fmt.Fprintln(w, "  export <session> <message>           write the result table to the export bucket")
	_, _ = fmt.Fprintln(w, "  feedback <session> <message> <like|dislike>")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
