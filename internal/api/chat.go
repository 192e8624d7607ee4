package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sqlchat/sqlchat/internal/auth"
	"github.com/sqlchat/sqlchat/internal/chat"
	"github.com/sqlchat/sqlchat/internal/export"
	"github.com/sqlchat/sqlchat/internal/feedback"
	"github.com/sqlchat/sqlchat/internal/query"
	"github.com/sqlchat/sqlchat/internal/storage"
)

type sessionResponse struct {
	SessionID   string         `json:"session_id"`
	DefaultMode string         `json:"default_mode"`
	Messages    []chat.Message `json:"messages"`
}

type postMessageRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

type feedbackRequest struct {
	Reaction string `json:"reaction"`
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireChat(deps, w, r) {
		return
	}
	session := deps.Chat.NewSession()
	messages, err := deps.Chat.Messages(session.ID)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:   session.ID,
		DefaultMode: deps.Chat.DefaultMode(),
		Messages:    messages,
	})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireChat(deps, w, r) {
		return
	}
	sessionID := r.PathValue("session")
	messages, err := deps.Chat.Messages(sessionID)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:   sessionID,
		DefaultMode: deps.Chat.DefaultMode(),
		Messages:    messages,
	})
}

// handlePostMessage runs a prompt task to completion and returns the final
// assistant message. Use the stream endpoint for incremental updates.
func handlePostMessage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireChat(deps, w, r) {
		return
	}
	var request postMessageRequest
	if !decodeBody(w, r, &request) {
		return
	}
	reply, err := deps.Chat.Submit(r.Context(), r.PathValue("session"), request.Text, request.Mode, nil)
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func handleRunQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireChat(deps, w, r) {
		return
	}
	message, err := deps.Chat.RunQuery(r.Context(), r.PathValue("session"), r.PathValue("message"))
	if err != nil {
		if errors.Is(err, chat.ErrQueryFailed) {
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{
				"details": err.Error(),
				"message": message,
			})
			return
		}
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message)
}

func handleFeedback(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireChat(deps, w, r) {
		return
	}
	var request feedbackRequest
	if !decodeBody(w, r, &request) {
		return
	}
	reaction, err := feedback.ParseReaction(request.Reaction)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REACTION", err.Error(), false, nil)
		return
	}
	record, err := deps.Chat.Feedback(r.Context(), r.PathValue("session"), r.PathValue("message"), reaction, auth.SubjectFromContext(r.Context()))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireChat(deps, w, r) {
		return
	}
	message, err := deps.Chat.Export(r.Context(), r.PathValue("session"), r.PathValue("message"))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":     message.Result.ExportKey,
		"message": message,
	})
}

func handleDownloadExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", chat.ErrExportDisabled.Error(), false, nil)
		return
	}
	key, err := storage.ExportKey(r.PathValue("session"), r.PathValue("message"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_KEY", err.Error(), false, nil)
		return
	}
	info, err := deps.Exports.Stat(r.Context(), key)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	body, err := deps.Exports.Get(r.Context(), key)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+r.PathValue("message")+`.parquet"`)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export was not found", false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusBadGateway, "STORAGE_ERROR", "failed to read export", true, map[string]any{"details": err.Error()})
}

func requireChat(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

type chatErrorMapping struct {
	target    error
	status    int
	code      string
	retryable bool
}

var chatErrorMappings = []chatErrorMapping{
	{chat.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", false},
	{chat.ErrMessageNotFound, http.StatusNotFound, "MESSAGE_NOT_FOUND", false},
	{chat.ErrNotAssistant, http.StatusBadRequest, "NOT_ASSISTANT_MESSAGE", false},
	{chat.ErrEmptyPrompt, http.StatusBadRequest, "TEXT_REQUIRED", false},
	{chat.ErrInvalidMode, http.StatusBadRequest, "INVALID_MODE", false},
	{chat.ErrBusy, http.StatusConflict, "PROMPT_PENDING", true},
	{chat.ErrNoSQL, http.StatusBadRequest, "NO_SQL_STATEMENT", false},
	{chat.ErrNoResult, http.StatusConflict, "NO_QUERY_RESULT", false},
	{query.ErrNotAllowed, http.StatusBadRequest, "SQL_NOT_ALLOWED", false},
	{feedback.ErrInvalidReaction, http.StatusBadRequest, "INVALID_REACTION", false},
	{chat.ErrStreamerDisabled, http.StatusNotImplemented, "CHAT_MODE_NOT_CONFIGURED", false},
	{chat.ErrAskerDisabled, http.StatusNotImplemented, "LIBRARY_MODE_NOT_CONFIGURED", false},
	{chat.ErrEngineDisabled, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", false},
	{chat.ErrExportDisabled, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", false},
}

func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	for _, mapping := range chatErrorMappings {
		if errors.Is(err, mapping.target) {
			writeError(r.Context(), w, mapping.status, mapping.code, err.Error(), mapping.retryable, nil)
			return
		}
	}
	writeError(r.Context(), w, http.StatusBadGateway, "UPSTREAM_ERROR", "prompt task failed", true, map[string]any{"details": err.Error()})
}
