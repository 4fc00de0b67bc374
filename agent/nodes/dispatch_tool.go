package orchestratornode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/despensero/agent/contract"
	toolx "github.com/tanpawarit/despensero/agent/tool"
)

// DispatchTool executes the pending tool call and records its result. Failures
// stay inside the result so the next reasoning step can explain them.
func DispatchTool(
	ctx context.Context,
	in *GraphState,
	exec ToolExecutor,
) (*GraphState, error) {
	if in == nil || in.Pending == nil {
		return nil, fmt.Errorf("%w: no pending tool call", contractx.ErrValidation)
	}

	call := *in.Pending
	in.Pending = nil
	in.Iterations++

	req := contractx.ToolRequest{CallID: call.ID, Tool: contractx.ToolName(call.Name)}

	var res contractx.ToolResult
	args, err := decodeArgs(call.Arguments)
	if err != nil {
		res = toolx.Failure(req, contractx.ToolErrInvalidArgs, err.Error())
	} else {
		req.Args = args
		res = exec.Execute(ctx, in.Menu, toolx.Call{Request: req, Media: in.Event.Media})
	}

	in.ToolResults = append(in.ToolResults, res)
	in.Turn = append(in.Turn, toolMessage(res, in.Now))
	return in, nil
}

func decodeArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
