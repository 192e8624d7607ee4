package chat

import (
	"time"

	"github.com/sqlchat/sqlchat/internal/llm"
)

type Role string

const (
	RoleSystem    Role = llm.RoleSystem
	RoleUser      Role = llm.RoleUser
	RoleAssistant Role = llm.RoleAssistant
)

const DefaultContextLength = 3

type QueryResult struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	DurationMs int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
	ExportKey  string   `json:"export_key,omitempty"`
}

func (r *QueryResult) clone() *QueryResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Columns = append([]string(nil), r.Columns...)
	out.Rows = make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return &out
}

type Message struct {
	ID             string       `json:"id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	IsSQLStatement bool         `json:"is_sql_statement"`
	IsEndOfStream  bool         `json:"is_end_of_stream"`
	Result         *QueryResult `json:"result,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (m Message) clone() Message {
	m.Result = m.Result.clone()
	return m
}

// Conversation is the ordered message history of one session. Element 0 is
// always the system message. It is not safe for concurrent use.
type Conversation struct {
	messages []Message
	newID    func() string
	now      func() time.Time
}

func NewConversation(systemPrompt string, newID func() string, now func() time.Time) *Conversation {
	c := &Conversation{newID: newID, now: now}
	c.messages = []Message{c.message(RoleSystem, systemPrompt)}
	return c
}

func (c *Conversation) message(role Role, content string) Message {
	return Message{ID: c.newID(), Role: role, Content: content, CreatedAt: c.now().UTC()}
}

func (c *Conversation) Len() int {
	return len(c.messages)
}

func (c *Conversation) AppendUser(text string) Message {
	msg := c.message(RoleUser, text)
	c.messages = append(c.messages, msg)
	return msg
}

// TurnMessages returns the request window: everything while the history fits
// in contextLength, otherwise the system message plus the latest
// contextLength-1 messages. The result shares no memory with the history.
func (c *Conversation) TurnMessages(contextLength int) []Message {
	if contextLength < 1 {
		contextLength = DefaultContextLength
	}
	var window []Message
	if len(c.messages) <= contextLength {
		window = c.messages
	} else {
		window = append([]Message{c.messages[0]}, c.messages[len(c.messages)-(contextLength-1):]...)
	}
	out := make([]Message, len(window))
	for i, msg := range window {
		out[i] = msg.clone()
	}
	return out
}

func (c *Conversation) BeginAssistant() Message {
	msg := c.message(RoleAssistant, "")
	c.messages = append(c.messages, msg)
	return msg
}

// AppendAssistant adds a complete assistant reply.
func (c *Conversation) AppendAssistant(content string, result *QueryResult) Message {
	msg := c.message(RoleAssistant, content)
	msg.IsEndOfStream = true
	msg.Result = result.clone()
	c.messages = append(c.messages, msg)
	return msg.clone()
}

// AppendDelta replaces the last message with a copy whose content has delta
// appended.
func (c *Conversation) AppendDelta(delta string) Message {
	last := c.messages[len(c.messages)-1]
	updated := Message{
		ID:        last.ID,
		Role:      last.Role,
		Content:   last.Content + delta,
		CreatedAt: last.CreatedAt,
	}
	c.messages[len(c.messages)-1] = updated
	return updated
}

func (c *Conversation) MarkEndOfStream() Message {
	c.messages[len(c.messages)-1].IsEndOfStream = true
	return c.Last()
}

func (c *Conversation) MarkSQL(isSQL bool) Message {
	c.messages[len(c.messages)-1].IsSQLStatement = isSQL
	return c.Last()
}

func (c *Conversation) Last() Message {
	return c.messages[len(c.messages)-1].clone()
}

// Messages returns a copy of the full history, system message included.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	for i, msg := range c.messages {
		out[i] = msg.clone()
	}
	return out
}

// Visible returns the history without the system message.
func (c *Conversation) Visible() []Message {
	out := make([]Message, 0, len(c.messages))
	for _, msg := range c.messages {
		if msg.Role == RoleSystem {
			continue
		}
		out = append(out, msg.clone())
	}
	return out
}

func (c *Conversation) indexOf(messageID string) int {
	for i, msg := range c.messages {
		if msg.ID == messageID {
			return i
		}
	}
	return -1
}

func (c *Conversation) setResult(index int, result *QueryResult) Message {
	c.messages[index].Result = result.clone()
	return c.messages[index].clone()
}

func toLLM(messages []Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, msg := range messages {
		out[i] = llm.Message{Role: string(msg.Role), Content: msg.Content}
	}
	return out
}
