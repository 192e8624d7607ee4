// Package chat holds per-session conversation state and runs the prompt
// tasks that grow it: streamed chat completions, library answers, query runs
// and feedback.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlchat/sqlchat/internal/feedback"
	"github.com/sqlchat/sqlchat/internal/llm"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/query"
	"github.com/sqlchat/sqlchat/internal/sqlcheck"
	"github.com/sqlchat/sqlchat/internal/textsql"
)

const (
	ModeChat    = "chat"
	ModeLibrary = "library"
)

var (
	ErrBusy             = errors.New("a prompt is already pending for this session")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotAssistant     = errors.New("message is not an assistant reply")
	ErrEmptyPrompt      = errors.New("prompt text is required")
	ErrInvalidMode      = errors.New("mode must be chat or library")
	ErrNoSQL            = errors.New("message does not contain an sql statement")
	ErrNoResult         = errors.New("message has no query result")
	ErrQueryFailed      = errors.New("query failed")
	ErrStreamerDisabled = errors.New("chat completions are not configured")
	ErrAskerDisabled    = errors.New("text-to-sql library is not configured")
	ErrEngineDisabled   = errors.New("query engine is not configured")
	ErrExportDisabled   = errors.New("export is not configured")
)

// Streamer opens a completion stream for the turn window.
type Streamer interface {
	Stream(ctx context.Context, turn []llm.Message) (llm.Stream, error)
}

// Exporter stores a result table and returns the object key.
type Exporter interface {
	Export(ctx context.Context, sessionID, messageID string, columns []string, rows [][]any) (string, error)
}

type EventType string

const (
	EventMessage EventType = "message"
	EventPending EventType = "pending"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Message   *Message  `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Observer receives a snapshot after every mutation of a conversation. It is
// called outside the session lock and may be nil.
type Observer func(Event)

type Config struct {
	SystemPrompt  string
	ContextLength int
	RowLimit      int
	DefaultMode   string
}

type Dependencies struct {
	Streamer   Streamer
	Asker      textsql.Asker
	Classifier sqlcheck.Classifier
	Engine     query.Engine
	Recorder   feedback.Recorder
	Exporter   Exporter
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

type Service struct {
	cfg   Config
	deps  Dependencies
	store *Store
}

func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return nil, fmt.Errorf("system prompt is required")
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = DefaultContextLength
	}
	switch cfg.DefaultMode {
	case "":
		cfg.DefaultMode = ModeChat
	case ModeChat, ModeLibrary:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.DefaultMode)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		cfg:   cfg,
		deps:  deps,
		store: NewStore(cfg.SystemPrompt, deps.NewID, deps.Now),
	}, nil
}

func (s *Service) DefaultMode() string {
	return s.cfg.DefaultMode
}

func (s *Service) NewSession() *Session {
	session := s.store.Create()
	observability.SetChatSessions(s.store.Len())
	s.deps.Logger.Debug("chat session created", "session_id", session.ID)
	return session
}

// Messages returns the visible history of a session.
func (s *Service) Messages(sessionID string) ([]Message, error) {
	session, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Messages(), nil
}

func (s *Service) Pending(sessionID string) (bool, error) {
	session, err := s.store.Get(sessionID)
	if err != nil {
		return false, err
	}
	return session.Pending(), nil
}

// Submit dispatches text to Prompt or Ask. An empty mode selects the
// configured default.
func (s *Service) Submit(ctx context.Context, sessionID, text, mode string, observe Observer) (Message, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "":
		if s.cfg.DefaultMode == ModeLibrary {
			return s.Ask(ctx, sessionID, text, observe)
		}
		return s.Prompt(ctx, sessionID, text, observe)
	case ModeChat:
		return s.Prompt(ctx, sessionID, text, observe)
	case ModeLibrary:
		return s.Ask(ctx, sessionID, text, observe)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// Prompt appends the user text and streams the assistant reply into the
// conversation delta by delta.
func (s *Service) Prompt(ctx context.Context, sessionID, text string, observe Observer) (reply Message, err error) {
	session, err := s.startTask(sessionID, text, s.deps.Streamer != nil, ErrStreamerDisabled)
	if err != nil {
		return Message{}, err
	}
	defer session.finish()
	started := s.deps.Now()
	defer func() {
		observability.ObserveChatTask(ModeChat, err, s.deps.Now().Sub(started))
	}()
	emit := s.emitter(session.ID, observe)
	emit(Event{Type: EventPending})

	var turn []Message
	user := session.update(func(c *Conversation) Message {
		msg := c.AppendUser(text)
		turn = c.TurnMessages(s.cfg.ContextLength)
		return msg
	})
	emit(Event{Type: EventMessage, Message: &user})

	stream, err := s.deps.Streamer.Stream(ctx, toLLM(turn))
	if err != nil {
		return Message{}, s.fail(session.ID, emit, "open completion stream", err)
	}
	defer stream.Close()

	reply = session.update(func(c *Conversation) Message { return c.BeginAssistant() })
	emit(Event{Type: EventMessage, Message: &reply})

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return reply, s.fail(session.ID, emit, "receive completion chunk", recvErr)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason == llm.FinishReasonStop {
			reply = session.update(func(c *Conversation) Message { return c.MarkEndOfStream() })
			emit(Event{Type: EventMessage, Message: &reply})
			break
		}
		if choice.Delta == "" {
			continue
		}
		reply = session.update(func(c *Conversation) Message { return c.AppendDelta(choice.Delta) })
		observability.IncrementStreamDeltas()
		emit(Event{Type: EventMessage, Message: &reply})
	}

	reply = s.classify(ctx, session, reply, emit)
	emit(Event{Type: EventDone, Message: &reply})
	return reply, nil
}

// Ask appends the user text and answers it through the text-to-SQL library.
// When the library ran the query the reply is a fenced sql block with the
// result attached, otherwise it is the library's raw text.
func (s *Service) Ask(ctx context.Context, sessionID, text string, observe Observer) (reply Message, err error) {
	session, err := s.startTask(sessionID, text, s.deps.Asker != nil, ErrAskerDisabled)
	if err != nil {
		return Message{}, err
	}
	defer session.finish()
	started := s.deps.Now()
	defer func() {
		observability.ObserveChatTask(ModeLibrary, err, s.deps.Now().Sub(started))
	}()
	emit := s.emitter(session.ID, observe)
	emit(Event{Type: EventPending})

	user := session.update(func(c *Conversation) Message { return c.AppendUser(text) })
	emit(Event{Type: EventMessage, Message: &user})

	answer, err := s.deps.Asker.Ask(ctx, text)
	if err != nil {
		return Message{}, s.fail(session.ID, emit, "ask text-to-sql library", err)
	}

	content := answer.Text
	var result *QueryResult
	if answer.Result != nil {
		content = textsql.FenceSQL(answer.SQL)
		result = toQueryResult(*answer.Result)
	}
	reply = session.update(func(c *Conversation) Message { return c.AppendAssistant(content, result) })
	emit(Event{Type: EventMessage, Message: &reply})
	if answer.Result != nil {
		s.audit(ctx, feedback.QueryRun{
			SessionID: session.ID,
			MessageID: reply.ID,
			Source:    feedback.SourceLibrary,
			SQL:       answer.SQL,
			RowCount:  len(answer.Result.Rows),
			Duration:  answer.Result.Duration,
			CreatedAt: s.deps.Now().UTC(),
		})
	}

	reply = s.classify(ctx, session, reply, emit)
	emit(Event{Type: EventDone, Message: &reply})
	return reply, nil
}

// RunQuery executes the statement of an assistant message and attaches the
// result table to it. A failed run attaches the error text instead.
func (s *Service) RunQuery(ctx context.Context, sessionID, messageID string) (Message, error) {
	if s.deps.Engine == nil {
		return Message{}, ErrEngineDisabled
	}
	session, index, msg, _, err := s.lookup(sessionID, messageID)
	if err != nil {
		return Message{}, err
	}
	if !msg.IsSQLStatement {
		return Message{}, ErrNoSQL
	}
	sqlText := textsql.ExtractSQL(msg.Content)

	started := s.deps.Now()
	result, execErr := s.deps.Engine.Execute(ctx, query.Request{SQL: sqlText, RowLimit: s.cfg.RowLimit})
	elapsed := s.deps.Now().Sub(started)
	observability.ObserveQueryRun(execErr, elapsed)

	run := feedback.QueryRun{
		SessionID: sessionID,
		MessageID: messageID,
		Source:    feedback.SourceRun,
		SQL:       sqlText,
		Duration:  elapsed,
		CreatedAt: s.deps.Now().UTC(),
	}
	var attached *QueryResult
	if execErr != nil {
		run.Error = execErr.Error()
		attached = &QueryResult{Error: execErr.Error(), DurationMs: elapsed.Milliseconds()}
		s.deps.Logger.Warn("generated query failed",
			"session_id", sessionID,
			"message_id", messageID,
			"error", execErr,
		)
	} else {
		run.RowCount = len(result.Rows)
		attached = toQueryResult(result)
	}
	s.audit(ctx, run)

	session.mu.Lock()
	updated := session.conversation.setResult(index, attached)
	session.mu.Unlock()
	if execErr != nil {
		return updated, fmt.Errorf("%w: %w", ErrQueryFailed, execErr)
	}
	return updated, nil
}

// Feedback records a reaction to an assistant message together with the user
// message that precedes it.
func (s *Service) Feedback(ctx context.Context, sessionID, messageID string, reaction feedback.Reaction, subject string) (feedback.Record, error) {
	if _, err := feedback.ParseReaction(string(reaction)); err != nil {
		return feedback.Record{}, err
	}
	_, _, msg, question, err := s.lookup(sessionID, messageID)
	if err != nil {
		return feedback.Record{}, err
	}
	record := feedback.Record{
		ID:        s.newID(),
		SessionID: sessionID,
		MessageID: messageID,
		Reaction:  reaction,
		Question:  question,
		Answer:    msg.Content,
		Subject:   subject,
		CreatedAt: s.deps.Now().UTC(),
	}
	observability.IncrementFeedback(string(reaction))
	s.deps.Logger.Info("answer feedback",
		"session_id", sessionID,
		"message_id", messageID,
		"reaction", string(reaction),
		"question", question,
		"answer", msg.Content,
	)
	if s.deps.Recorder == nil {
		return record, nil
	}
	if err := s.deps.Recorder.SaveFeedback(ctx, record); err != nil {
		return feedback.Record{}, fmt.Errorf("save feedback: %w", err)
	}
	return record, nil
}

// Export writes the result table of a message to object storage and records
// the object key on the message.
func (s *Service) Export(ctx context.Context, sessionID, messageID string) (Message, error) {
	if s.deps.Exporter == nil {
		return Message{}, ErrExportDisabled
	}
	session, index, msg, _, err := s.lookup(sessionID, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.Result == nil || msg.Result.Error != "" {
		return Message{}, ErrNoResult
	}
	key, err := s.deps.Exporter.Export(ctx, sessionID, messageID, msg.Result.Columns, msg.Result.Rows)
	if err != nil {
		return Message{}, fmt.Errorf("export result: %w", err)
	}
	msg.Result.ExportKey = key

	session.mu.Lock()
	updated := session.conversation.setResult(index, msg.Result)
	session.mu.Unlock()
	s.deps.Logger.Info("query result exported", "session_id", sessionID, "message_id", messageID, "key", key)
	return updated, nil
}

func (s *Service) startTask(sessionID, text string, configured bool, disabled error) (*Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPrompt
	}
	if !configured {
		return nil, disabled
	}
	session, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !session.begin() {
		return nil, ErrBusy
	}
	return session, nil
}

// lookup finds an assistant message and the content of the user message
// right before it.
func (s *Service) lookup(sessionID, messageID string) (*Session, int, Message, string, error) {
	session, err := s.store.Get(sessionID)
	if err != nil {
		return nil, 0, Message{}, "", err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	index := session.conversation.indexOf(messageID)
	if index < 0 {
		return nil, 0, Message{}, "", ErrMessageNotFound
	}
	msg := session.conversation.messages[index].clone()
	if msg.Role != RoleAssistant {
		return nil, 0, Message{}, "", ErrNotAssistant
	}
	question := ""
	if index > 0 && session.conversation.messages[index-1].Role == RoleUser {
		question = session.conversation.messages[index-1].Content
	}
	return session, index, msg, question, nil
}

func (s *Service) classify(ctx context.Context, session *Session, reply Message, emit func(Event)) Message {
	if s.deps.Classifier == nil {
		return reply
	}
	isSQL, err := s.deps.Classifier.ContainsSQL(ctx, reply.Content)
	observability.ObserveSQLVerdict(isSQL, err)
	if err != nil {
		s.deps.Logger.Warn("sql classifier failed", "session_id", session.ID, "message_id", reply.ID, "error", err)
		return reply
	}
	reply = session.update(func(c *Conversation) Message { return c.MarkSQL(isSQL) })
	emit(Event{Type: EventMessage, Message: &reply})
	return reply
}

func (s *Service) fail(sessionID string, emit func(Event), action string, err error) error {
	s.deps.Logger.Error("prompt task failed", "session_id", sessionID, "action", action, "error", err)
	emit(Event{Type: EventError, Error: err.Error()})
	return fmt.Errorf("%s: %w", action, err)
}

func (s *Service) audit(ctx context.Context, run feedback.QueryRun) {
	if s.deps.Recorder == nil {
		return
	}
	if err := s.deps.Recorder.SaveQueryRun(ctx, run); err != nil {
		s.deps.Logger.Warn("save query audit failed", "session_id", run.SessionID, "message_id", run.MessageID, "error", err)
	}
}

func (s *Service) emitter(sessionID string, observe Observer) func(Event) {
	return func(event Event) {
		if observe == nil {
			return
		}
		event.SessionID = sessionID
		if event.Message != nil {
			snapshot := event.Message.clone()
			event.Message = &snapshot
		}
		observe(event)
	}
}

func (s *Service) newID() string {
	if s.deps.NewID != nil {
		return s.deps.NewID()
	}
	return s.store.newID()
}

func toQueryResult(result query.Result) *QueryResult {
	return &QueryResult{
		Columns:    result.Columns,
		Rows:       result.Rows,
		RowCount:   len(result.Rows),
		DurationMs: result.Duration.Milliseconds(),
	}
}
