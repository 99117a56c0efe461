package chat

import (
	"context"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Messages are immutable once created
// and their ordering within a conversation is significant.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HistoryEntry records one side of a completed call: either the messages the
// caller supplied or the model's reply. Entries are appended, never mutated.
type HistoryEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Conversation []Message `json:"conversation"`
}

// SQLGeneration is the structured output shape the model is constrained to:
// short reasoning steps followed by a single SQL query.
type SQLGeneration struct {
	Steps    []string `json:"steps"`
	SQLQuery string   `json:"sql_query"`
}

// Schema names the JSON schema a structured completion must parse into.
type Schema struct {
	Name       string
	Definition json.RawMessage
}

var SQLGenerationSchema = Schema{
	Name: "sql_generation",
	Definition: json.RawMessage(`{
  "type": "object",
  "properties": {
    "steps": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Short reasoning steps explaining the logic"
    },
    "sql_query": {
      "type": "string",
      "description": "The final SQL query to answer the user request"
    }
  },
  "required": ["steps", "sql_query"],
  "additionalProperties": false
}`),
}

// Usage is the token accounting reported by the model service for one call.
// CachedPromptTokens counts the prompt tokens served from the provider-side
// prompt cache, when the provider reports them.
type Usage struct {
	PromptTokens       int
	CompletionTokens   int
	TotalTokens        int
	CachedPromptTokens int
}

type Completion struct {
	Reply Message
	Usage Usage
}

// Completer is the model service boundary: one structured-output completion
// call. Errors are opaque to callers.
type Completer interface {
	RequestStructuredCompletion(ctx context.Context, messages []Message, schema Schema) (Completion, error)
}
