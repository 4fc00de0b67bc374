package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/despensero/agent/contract"
	statex "github.com/tanpawarit/despensero/agent/state"
	toolx "github.com/tanpawarit/despensero/agent/tool"
)

type GraphInput struct {
	Event contractx.Event
}

type GraphOutput struct {
	Result contractx.TurnResult
}

// GraphState travels through every node of one turn.
type GraphState struct {
	Event contractx.Event
	Now   time.Time
	Menu  toolx.Menu

	History *statex.History
	// Turn holds the messages produced during this turn, appended to History on save.
	Turn []statex.Message

	Pending         *statex.ToolCall
	ToolResults     []contractx.ToolResult
	Iterations      int
	BudgetExhausted bool

	Reply  string
	Update *contractx.UpdateResult
}

func ValidateEvent(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	ev := in.Event
	ev.CounterpartyID = strings.TrimSpace(ev.CounterpartyID)
	if ev.CounterpartyID == "" {
		return nil, fmt.Errorf("%w: counterparty id is empty", contractx.ErrInvalidEvent)
	}

	ev.Text = strings.TrimSpace(ev.Text)
	switch ev.Kind {
	case contractx.EventText:
		if ev.Text == "" {
			return nil, fmt.Errorf("%w: text event without text", contractx.ErrInvalidEvent)
		}
		ev.Media = nil
	case contractx.EventAudio, contractx.EventImage:
		if ev.Media == nil || strings.TrimSpace(ev.Media.Path) == "" {
			return nil, fmt.Errorf("%w: %s event without media", contractx.ErrInvalidEvent, strings.ToLower(string(ev.Kind)))
		}
	default:
		return nil, fmt.Errorf("%w: kind=%q", contractx.ErrInvalidEvent, ev.Kind)
	}

	return &GraphState{
		Event: ev,
		Now:   nowFn().UTC(),
		Menu:  toolx.MenuFor(ev.Kind),
	}, nil
}

// userContent is what the reasoner sees as the user's words for this turn.
func userContent(ev contractx.Event) string {
	if ev.Text != "" {
		return ev.Text
	}
	switch ev.Kind {
	case contractx.EventAudio:
		return "[nota de voz adjunta]"
	case contractx.EventImage:
		return "[foto adjunta]"
	default:
		return ""
	}
}
