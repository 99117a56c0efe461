package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Client issues structured completion requests and keeps the ordered
// conversation history so multi-turn context survives without the caller
// re-supplying it. A Client serves a single conversation: it holds no lock
// over its history, so concurrent calls on one instance must be serialized
// by the caller.
type Client struct {
	completer Completer
	logger    *slog.Logger
	history   []HistoryEntry
	now       func() time.Time
}

func NewClient(completer Completer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		completer: completer,
		logger:    logger,
		now:       time.Now,
	}
}

// Complete sends messages to the model and parses the reply into a
// SQLGeneration. When includeHistory is set and history is non-empty, the
// replayed history is prepended to messages before sending. On success the
// caller's messages and the model reply are appended to history, in that
// order. On any failure the history is left untouched and the error is
// returned after logging.
func (c *Client) Complete(ctx context.Context, messages []Message, schema Schema, includeHistory bool) (SQLGeneration, Usage, error) {
	send := messages
	if includeHistory {
		if replayed := c.ReplayHistory(); len(replayed) > 0 {
			send = make([]Message, 0, len(replayed)+len(messages))
			send = append(send, replayed...)
			send = append(send, messages...)
		}
	}

	c.logger.Debug("requesting structured completion",
		slog.Int("messages", len(send)),
		slog.String("schema", schema.Name),
	)

	completion, err := c.completer.RequestStructuredCompletion(ctx, send, schema)
	if err != nil {
		c.logger.Error("completion request failed", slog.Any("error", err))
		return SQLGeneration{}, Usage{}, err
	}

	var generation SQLGeneration
	if err := json.Unmarshal([]byte(completion.Reply.Content), &generation); err != nil {
		c.logger.Error("completion reply did not match schema",
			slog.String("schema", schema.Name),
			slog.String("content", completion.Reply.Content),
			slog.Any("error", err),
		)
		return SQLGeneration{}, Usage{}, fmt.Errorf("parse structured completion: %w", err)
	}
	if strings.TrimSpace(generation.SQLQuery) == "" {
		c.logger.Error("completion reply contained no SQL", slog.String("content", completion.Reply.Content))
		return SQLGeneration{}, Usage{}, fmt.Errorf("model returned empty sql_query")
	}

	for _, step := range generation.Steps {
		c.logger.Info("reasoning step", slog.String("step", step))
	}

	timestamp := c.now()
	c.history = append(c.history,
		HistoryEntry{Timestamp: timestamp, Conversation: messages},
		HistoryEntry{Timestamp: timestamp, Conversation: []Message{completion.Reply}},
	)

	return generation, completion.Usage, nil
}

// ReplayHistory walks every history entry in insertion order and returns the
// messages suitable for re-sending. System messages are excluded: the caller
// supplies fresh system content on every call, and replaying stale system
// prompts would waste context budget and risk contradicting the current
// instructions.
func (c *Client) ReplayHistory() []Message {
	var replayed []Message
	for _, entry := range c.history {
		for _, message := range entry.Conversation {
			if message.Role == RoleSystem {
				continue
			}
			replayed = append(replayed, message)
		}
	}
	return replayed
}

// History returns the recorded entries in insertion order. The returned slice
// shares backing storage with the client and must not be mutated.
func (c *Client) History() []HistoryEntry {
	return c.history
}
