package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
)

var _ contractx.Extractor = (*Engine)(nil)

// Engine turns free text into an ExtractedIntent using one model call.
type Engine struct {
	runner compose.Runnable[map[string]any, contractx.ExtractedIntent]
}

func New(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*Engine, error) {
	if chatModel == nil {
		return nil, errors.New("extraction chat model is required")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: extractor prompt", contractx.ErrPromptMissing)
	}

	runner, err := compileExtractionGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile extraction graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Engine{runner: runner}, nil
}

func (e *Engine) Extract(ctx context.Context, utterance string) (contractx.ExtractedIntent, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return contractx.ExtractedIntent{}, fmt.Errorf("%w: utterance is empty", contractx.ErrValidation)
	}

	intent, err := e.runner.Invoke(ctx, map[string]any{
		"input": text,
	})
	if err != nil {
		return contractx.ExtractedIntent{}, fmt.Errorf("%w: extraction invoke: %v", contractx.ErrModelInvoke, err)
	}

	if intent.Failed() {
		log.Warn().Str("utterance", text).Msg("extraction output did not conform, using default intent")
	}
	return intent, nil
}

func compileExtractionGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, contractx.ExtractedIntent], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, contractx.ExtractedIntent]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add extraction prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add extraction model node: %w", err)
	}
	if err := graph.AddLambdaNode("decode_intent",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (contractx.ExtractedIntent, error) {
			if msg == nil {
				return contractx.DefaultIntent(), nil
			}
			return DecodeIntent(msg.Content), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add extraction decode node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prompt"},
		{"prompt", "model"},
		{"model", "decode_intent"},
		{"decode_intent", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add extraction edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("extraction.intent_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile extraction graph: %w", err)
	}
	return runner, nil
}
