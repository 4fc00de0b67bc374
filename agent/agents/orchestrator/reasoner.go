package orchestrator

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	toolx "github.com/tanpawarit/despensero/agent/tool"
)

// toolReasoner keeps one compiled prompt->model graph per menu, with the menu's
// tools bound to the model.
type toolReasoner struct {
	runners map[contractx.EventKind]compose.Runnable[map[string]any, *schema.Message]
}

func newToolReasoner(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
) (*toolReasoner, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: reasoner model is nil", contractx.ErrValidation)
	}
	if systemPrompt == "" {
		return nil, fmt.Errorf("%w: reasoner", contractx.ErrPromptMissing)
	}

	r := &toolReasoner{runners: make(map[contractx.EventKind]compose.Runnable[map[string]any, *schema.Message], 3)}
	for _, kind := range []contractx.EventKind{contractx.EventText, contractx.EventAudio, contractx.EventImage} {
		toolModel, err := chatModel.WithTools(toolx.MenuFor(kind).Infos())
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for kind=%s: %v", contractx.ErrModelInvoke, kind, err)
		}
		runner, err := compileReasonerGraph(ctx, toolModel, systemPrompt, kind)
		if err != nil {
			return nil, err
		}
		r.runners[kind] = runner
	}
	return r, nil
}

func (r *toolReasoner) Reason(ctx context.Context, kind contractx.EventKind, history []*schema.Message) (*schema.Message, error) {
	runner, ok := r.runners[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no reasoner for kind=%q", contractx.ErrValidation, kind)
	}
	out, err := runner.Invoke(ctx, map[string]any{"history": history})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return out, nil
}

func compileReasonerGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	kind contractx.EventKind,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder("history", false),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add reasoner prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add reasoner model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add reasoner edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add reasoner edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add reasoner edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.reasoner_"+strings.ToLower(string(kind))))
	if err != nil {
		return nil, fmt.Errorf("compile reasoner graph: %w", err)
	}
	return runner, nil
}
