package orchestratornode

import (
	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/despensero/agent/state"
)

func toSchemaMessages(msgs []statex.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case statex.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case statex.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case statex.RoleAssistant:
			var calls []schema.ToolCall
			for _, c := range m.ToolCalls {
				calls = append(calls, schema.ToolCall{
					ID:   c.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      c.Name,
						Arguments: c.Arguments,
					},
				})
			}
			out = append(out, schema.AssistantMessage(m.Content, calls))
		case statex.RoleTool:
			out = append(out, schema.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func fromToolCalls(calls []schema.ToolCall) []statex.ToolCall {
	out := make([]statex.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, statex.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: c.Function.Arguments,
		})
	}
	return out
}
