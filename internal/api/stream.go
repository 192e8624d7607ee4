package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sqlchat/sqlchat/internal/chat"
	"github.com/sqlchat/sqlchat/internal/observability"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingEvery    = 25 * time.Second
	streamReadLimit    = 64 << 10
)

type streamClientFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Mode string `json:"mode"`
}

type streamServerFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Message   *chat.Message  `json:"message,omitempty"`
	Messages  []chat.Message `json:"messages,omitempty"`
	Code      string         `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type streamConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (s *streamConn) writeFrame(frame streamServerFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.c.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.c.WriteMessage(websocket.TextMessage, payload)
}

func (s *streamConn) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout))
}

type streamHandler struct {
	deps      Dependencies
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	pingEvery time.Duration
	ping      func(*streamConn) error
}

func newStreamHandler(deps Dependencies) *streamHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &streamHandler{
		deps:      deps,
		upgrader:  websocket.Upgrader{CheckOrigin: deps.CheckOrigin},
		logger:    logger,
		pingEvery: streamPingEvery,
		ping:      (*streamConn).ping,
	}
}

// ServeHTTP upgrades to a websocket that accepts prompt frames and pushes a
// snapshot frame after every change of the session's conversation.
func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireChat(h.deps, w, r) {
		return
	}
	sessionID := r.PathValue("session")
	history, err := h.deps.Chat.Messages(sessionID)
	if err != nil {
		writeChatError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response.
		return
	}
	defer func() { _ = conn.Close() }()
	observability.StreamOpened()
	defer observability.StreamClosed()

	sc := &streamConn{c: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := sc.writeFrame(streamServerFrame{Type: "history", SessionID: sessionID, Messages: history}); err != nil {
		return
	}

	var tasks sync.WaitGroup
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(streamReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame streamClientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				_ = sc.writeFrame(streamServerFrame{Type: "error", SessionID: sessionID, Code: "INVALID_JSON", Error: "invalid json"})
				continue
			}
			switch strings.ToLower(frame.Type) {
			case "prompt":
				tasks.Add(1)
				go func() {
					defer tasks.Done()
					h.runPrompt(ctx, sc, sessionID, frame)
				}()
			case "ping":
				_ = sc.writeFrame(streamServerFrame{Type: "pong", SessionID: sessionID})
			default:
				_ = sc.writeFrame(streamServerFrame{Type: "error", SessionID: sessionID, Code: "INVALID_ARGUMENT", Error: "unknown message type"})
			}
		}
	}()

	// Only the reader starts prompt tasks, so it has to be gone before Wait.
	shutdown := func() {
		cancel()
		_ = conn.Close()
		<-readDone
		tasks.Wait()
	}

	ticker := time.NewTicker(h.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			shutdown()
			return
		case <-ticker.C:
			if err := h.ping(sc); err != nil {
				h.logger.Debug("stream ping failed", "session_id", sessionID, "error", err)
				shutdown()
				return
			}
		}
	}
}

func (h *streamHandler) runPrompt(ctx context.Context, sc *streamConn, sessionID string, frame streamClientFrame) {
	var reported bool
	observe := func(event chat.Event) {
		if event.Type == chat.EventError {
			reported = true
		}
		out := streamServerFrame{
			Type:      string(event.Type),
			SessionID: event.SessionID,
			Message:   event.Message,
			Error:     event.Error,
		}
		if event.Type == chat.EventError {
			out.Code = "UPSTREAM_ERROR"
		}
		_ = sc.writeFrame(out)
	}

	_, err := h.deps.Chat.Submit(ctx, sessionID, frame.Text, frame.Mode, observe)
	if err == nil || reported {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	code := "PROMPT_REJECTED"
	for _, mapping := range chatErrorMappings {
		if errors.Is(err, mapping.target) {
			code = mapping.code
			break
		}
	}
	h.logger.Debug("stream prompt rejected", "session_id", sessionID, "code", code, "error", err)
	_ = sc.writeFrame(streamServerFrame{Type: "error", SessionID: sessionID, Code: code, Error: err.Error()})
}
