package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/despensero/agent/contract"
	openaix "github.com/tanpawarit/despensero/pkg/openai"
)

// Role selects which per-role overrides apply on top of the shared defaults.
type Role string

const (
	RoleReasoner      Role = "reasoner"
	RoleExtractor     Role = "extractor"
	RoleVision        Role = "vision"
	RoleTranscription Role = "transcription"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"gpt-4o-mini"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"1000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	Organization       string        `envconfig:"ORGANIZATION" split_words:"true"`

	ReasonerModel         string  `envconfig:"REASONER_MODEL" split_words:"true"`
	ExtractorModel        string  `envconfig:"EXTRACTOR_MODEL" split_words:"true"`
	VisionModel           string  `envconfig:"VISION_MODEL" split_words:"true"`
	TranscriptionModel    string  `envconfig:"TRANSCRIPTION_MODEL" split_words:"true" default:"whisper-1"`
	ReasonerTemperature   float32 `envconfig:"REASONER_TEMPERATURE" split_words:"true" default:"-1"`
	ExtractorTemperature  float32 `envconfig:"EXTRACTOR_TEMPERATURE" split_words:"true" default:"0"`
	VisionMaxTokens       int     `envconfig:"VISION_MAX_TOKENS" split_words:"true" default:"300"`
	TranscriptionLanguage string  `envconfig:"TRANSCRIPTION_LANGUAGE" split_words:"true" default:"es"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenAIFor(role Role) openaix.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature
	maxTokens := c.MaxCompletionToken

	switch role {
	case RoleReasoner:
		if v := strings.TrimSpace(c.ReasonerModel); v != "" {
			modelName = v
		}
		if c.ReasonerTemperature >= 0 {
			temp = c.ReasonerTemperature
		}
	case RoleExtractor:
		if v := strings.TrimSpace(c.ExtractorModel); v != "" {
			modelName = v
		}
		if c.ExtractorTemperature >= 0 {
			temp = c.ExtractorTemperature
		}
	case RoleVision:
		if v := strings.TrimSpace(c.VisionModel); v != "" {
			modelName = v
		}
		if c.VisionMaxTokens > 0 {
			maxTokens = c.VisionMaxTokens
		}
	case RoleTranscription:
		if v := strings.TrimSpace(c.TranscriptionModel); v != "" {
			modelName = v
		}
	}

	return openaix.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxTokens,
		Temperature:        temp,
		Timeout:            c.Timeout,
		Organization:       strings.TrimSpace(c.Organization),
	}
}
