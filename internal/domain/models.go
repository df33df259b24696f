package domain

import (
	"strings"
	"sync"
	"time"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// ChatRequest represents an inbound OpenAI-shaped chat completion request.
type ChatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Stream         bool      `json:"stream,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
}

// Prompt builds the upstream query text for one turn. On a continued
// thread only the latest user message is sent; the upstream thread carries
// the earlier context. On a fresh thread the full history is flattened so
// clients that resend their transcript keep their context.
func (r *ChatRequest) Prompt(continuation bool) string {
	if continuation {
		for i := len(r.Messages) - 1; i >= 0; i-- {
			if r.Messages[i].Role == RoleUser {
				return r.Messages[i].Content
			}
		}
	}

	if len(r.Messages) == 1 {
		return r.Messages[0].Content
	}

	var sb strings.Builder
	for i, msg := range r.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
	}
	return sb.String()
}

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReason is the normalized reason a completion ended.
type FinishReason string

// Normalized finish reasons.
const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// ChatCompletion represents a whole (non-streaming) completion response.
type ChatCompletion struct {
	ID             string             `json:"id"`
	Object         string             `json:"object"`
	Created        int64              `json:"created"`
	Model          string             `json:"model"`
	Choices        []CompletionChoice `json:"choices"`
	Usage          Usage              `json:"usage"`
	ConversationID string             `json:"conversation_id,omitempty"`
}

// CompletionChoice is one choice in a whole completion.
type CompletionChoice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// ChatCompletionChunk represents one streamed completion chunk.
type ChatCompletionChunk struct {
	ID             string        `json:"id"`
	Object         string        `json:"object"`
	Created        int64         `json:"created"`
	Model          string        `json:"model"`
	Choices        []ChunkChoice `json:"choices"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

// ChunkChoice is one choice in a streamed chunk.
type ChunkChoice struct {
	Index        int           `json:"index"`
	Delta        Delta         `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason"`
}

// Delta carries the incremental payload of a streamed chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Usage tracks estimated token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response object type identifiers.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
)

// ModelDescriptor describes one upstream model.
// Descriptors are immutable once fetched; the catalog is replaced
// wholesale on refresh.
type ModelDescriptor struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasCapability reports whether the model carries the given capability tag.
func (m ModelDescriptor) HasCapability(tag string) bool {
	for _, c := range m.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Capability tags.
const (
	CapabilityPro       = "pro"
	CapabilityReasoning = "reasoning"
)

// Session is one conversation's state: the upstream thread handle plus
// activity timestamps. ThreadRef is bound after the first turn reveals the
// upstream handle and is treated as opaque.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	threadRef  string
	lastActive time.Time
}

// NewSession creates a session with the given identifier.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		lastActive: now,
	}
}

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// LastActiveAt returns the time of the most recent activity.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// BindThread records the upstream thread handle for this session.
func (s *Session) BindThread(ref string) {
	if ref == "" {
		return
	}
	s.mu.Lock()
	s.threadRef = ref
	s.mu.Unlock()
}

// ThreadRef returns the upstream thread handle, or "" before the first turn.
func (s *Session) ThreadRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadRef
}

// SessionInfo is the introspection view of a session (no message content).
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}
