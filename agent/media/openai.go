package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/despensero/agent/contract"
)

var (
	_ Transcriber = (*WhisperTranscriber)(nil)
	_ Captioner   = (*VisionCaptioner)(nil)
)

type WhisperTranscriber struct {
	client   *openaisdk.Client
	model    string
	language string
}

func NewWhisperTranscriber(client *openaisdk.Client, model string, language string) (*WhisperTranscriber, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(model) == "" {
		model = string(openaisdk.AudioModelWhisper1)
	}
	return &WhisperTranscriber{
		client:   client,
		model:    strings.TrimSpace(model),
		language: strings.TrimSpace(language),
	}, nil
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, path string, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrMediaNotFound, err)
	}
	defer f.Close()

	params := openaisdk.AudioTranscriptionNewParams{
		File:  openaisdk.File(f, filepath.Base(path), mimeType),
		Model: openaisdk.AudioModel(w.model),
	}
	if w.language != "" {
		params.Language = openaisdk.String(w.language)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if formatRejected(err) {
			return "", fmt.Errorf("%w: %v", contractx.ErrFormatRejected, err)
		}
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

type VisionCaptioner struct {
	client    *openaisdk.Client
	model     string
	prompt    string
	maxTokens int64
}

func NewVisionCaptioner(client *openaisdk.Client, model string, prompt string, maxTokens int) (*VisionCaptioner, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("vision model is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: caption prompt", contractx.ErrPromptMissing)
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &VisionCaptioner{
		client:    client,
		model:     strings.TrimSpace(model),
		prompt:    strings.TrimSpace(prompt),
		maxTokens: int64(maxTokens),
	}, nil
}

func (v *VisionCaptioner) Caption(ctx context.Context, path string, mimeType string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrMediaNotFound, err)
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)

	resp, err := v.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:               openaisdk.ChatModel(v.model),
		MaxCompletionTokens: openaisdk.Int(v.maxTokens),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.TextContentPart(v.prompt),
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
	})
	if err != nil {
		if formatRejected(err) {
			return "", fmt.Errorf("%w: %v", contractx.ErrFormatRejected, err)
		}
		return "", fmt.Errorf("caption image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: vision response has no choices", ErrNoContent)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func formatRejected(err error) bool {
	var apiErr *openaisdk.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != http.StatusBadRequest && apiErr.StatusCode != http.StatusUnsupportedMediaType {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return apiErr.StatusCode == http.StatusUnsupportedMediaType ||
		strings.Contains(msg, "format") ||
		strings.Contains(msg, "could not be decoded") ||
		strings.Contains(msg, "unsupported")
}
