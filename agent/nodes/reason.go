package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	statex "github.com/tanpawarit/despensero/agent/state"
	toolx "github.com/tanpawarit/despensero/agent/tool"
)

const FallbackReply = "No estoy seguro de haber entendido, ¿me lo puedes decir de otra forma?"

// Reasoner decides the next step from the conversation so far, offering the
// tools of the menu that matches kind.
type Reasoner interface {
	Reason(ctx context.Context, kind contractx.EventKind, history []*schema.Message) (*schema.Message, error)
}

// Reason runs one reasoning step. A tool call leaves Pending set; anything else
// settles the reply. Once budget tool dispatches have happened a further tool
// call ends the turn with FallbackReply.
func Reason(
	ctx context.Context,
	in *GraphState,
	reasoner Reasoner,
	window int,
	budget int,
) (*GraphState, error) {
	if in == nil || in.History == nil {
		return nil, fmt.Errorf("%w: graph history is nil", contractx.ErrValidation)
	}

	msgs := append(in.History.Window(window), in.Turn...)
	out, err := reasoner.Reason(ctx, in.Event.Kind, toSchemaMessages(msgs))
	if err != nil {
		if errors.Is(err, contractx.ErrModelInvoke) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reason: %v", contractx.ErrModelInvoke, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: reasoner returned no message", contractx.ErrSchemaViolation)
	}

	if len(out.ToolCalls) == 0 {
		reply := strings.TrimSpace(out.Content)
		if reply == "" {
			reply = FallbackReply
		}
		settle(in, reply)
		return in, nil
	}

	if in.Iterations >= budget {
		log.Warn().
			Str("counterparty", in.Event.CounterpartyID).
			Int("iterations", in.Iterations).
			Str("tool", out.ToolCalls[0].Function.Name).
			Msg("tool budget exhausted")
		in.BudgetExhausted = true
		settle(in, FallbackReply)
		return in, nil
	}

	calls := fromToolCalls(out.ToolCalls)
	in.Turn = append(in.Turn, statex.Message{
		Role:      statex.RoleAssistant,
		Content:   out.Content,
		ToolCalls: calls,
		CreatedAt: in.Now,
	})

	first := calls[0]
	in.Pending = &first
	for _, extra := range calls[1:] {
		res := toolx.Skipped(contractx.ToolRequest{CallID: extra.ID, Tool: contractx.ToolName(extra.Name)})
		in.ToolResults = append(in.ToolResults, res)
		in.Turn = append(in.Turn, toolMessage(res, in.Now))
	}
	return in, nil
}

func settle(in *GraphState, reply string) {
	in.Pending = nil
	in.Reply = reply
	in.Turn = append(in.Turn, statex.Message{
		Role:      statex.RoleAssistant,
		Content:   reply,
		CreatedAt: in.Now,
	})
}

// NextAfterReason is the branch condition following a reasoning step.
func NextAfterReason(in *GraphState, dispatchNode, respondNode string) string {
	if in != nil && in.Pending != nil {
		return dispatchNode
	}
	return respondNode
}
