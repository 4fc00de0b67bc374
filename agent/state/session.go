package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// History is the persisted conversation of one counterparty.
// - Messages are append-only and ordered by arrival.
// - Every tool message answers a tool call of an earlier assistant message.
type History struct {
	CounterpartyID string    `json:"counterparty_id"`
	Messages       []Message `json:"messages"`
	Version        int       `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var (
	ErrInvalidRole     = errors.New("invalid message role")
	ErrOrphanToolReply = errors.New("tool message has no matching call")
)

func NewHistory(counterpartyID string, now time.Time) *History {
	return &History{
		CounterpartyID: counterpartyID,
		Messages:       make([]Message, 0, 8),
		Version:        1,
		UpdatedAt:      now.UTC(),
	}
}

func (h *History) Touch(now time.Time) {
	h.UpdatedAt = now.UTC()
}

func (h *History) Append(now time.Time, msgs ...Message) {
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.UTC()
		}
		h.Messages = append(h.Messages, m)
	}
	h.Touch(now)
}

/* ------------------------------ Windowing ------------------------------- */

// Window returns at most the last n messages, never starting on a tool message
// whose call was cut off. n <= 0 returns everything.
func (h *History) Window(n int) []Message {
	if h == nil || len(h.Messages) == 0 {
		return nil
	}
	if n <= 0 || n >= len(h.Messages) {
		return append([]Message(nil), h.Messages...)
	}

	start := len(h.Messages) - n
	for start < len(h.Messages) && h.Messages[start].Role == RoleTool {
		start++
	}
	return append([]Message(nil), h.Messages[start:]...)
}

func (h *History) Validate() error {
	if strings.TrimSpace(h.CounterpartyID) == "" {
		return ErrInvalidCounterparty
	}

	pending := make(map[string]struct{}, 2)
	for i, m := range h.Messages {
		switch m.Role {
		case RoleSystem, RoleUser:
		case RoleAssistant:
			for _, c := range m.ToolCalls {
				pending[c.ID] = struct{}{}
			}
		case RoleTool:
			if _, ok := pending[m.ToolCallID]; !ok {
				return fmt.Errorf("%w: message %d call_id=%q", ErrOrphanToolReply, i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
		default:
			return fmt.Errorf("%w: message %d role=%q", ErrInvalidRole, i, m.Role)
		}
	}
	return nil
}
