package orchestratornode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/despensero/agent/contract"
	statex "github.com/tanpawarit/despensero/agent/state"
	toolx "github.com/tanpawarit/despensero/agent/tool"
)

// ToolExecutor is satisfied by *tool.Executor.
type ToolExecutor interface {
	Execute(ctx context.Context, menu toolx.Menu, call toolx.Call) contractx.ToolResult
}

// NormalizeMedia runs the media tool for the attached payload before the first
// reasoning step and records it in the turn as an ordinary tool exchange. Text
// turns pass through untouched.
func NormalizeMedia(
	ctx context.Context,
	in *GraphState,
	exec ToolExecutor,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	var name contractx.ToolName
	switch in.Event.Kind {
	case contractx.EventAudio:
		name = contractx.ToolTranscribeAudio
	case contractx.EventImage:
		name = contractx.ToolCaptionImage
	default:
		return in, nil
	}

	req := contractx.ToolRequest{
		CallID: normalizeCallID(in),
		Tool:   name,
		Args:   map[string]any{"media_ref": in.Event.Media.Path},
	}
	res := exec.Execute(ctx, in.Menu, toolx.Call{Request: req, Media: in.Event.Media})

	in.ToolResults = append(in.ToolResults, res)
	in.Turn = append(in.Turn,
		statex.Message{
			Role:      statex.RoleAssistant,
			ToolCalls: []statex.ToolCall{{ID: req.CallID, Name: string(name), Arguments: `{"media_ref":"attached"}`}},
			CreatedAt: in.Now,
		},
		toolMessage(res, in.Now),
	)
	return in, nil
}

func normalizeCallID(in *GraphState) string {
	return fmt.Sprintf("call_media_%d", in.Now.UnixNano())
}

func toolMessage(res contractx.ToolResult, now time.Time) statex.Message {
	return statex.Message{
		Role:       statex.RoleTool,
		Content:    toolx.Content(res),
		ToolCallID: res.CallID,
		Name:       string(res.Tool),
		CreatedAt:  now,
	}
}
