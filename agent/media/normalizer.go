package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
)

const DefaultMaxBytes int64 = 25 << 20

var ErrNoContent = errors.New("capability returned no content")

// SoftError tags a failure the user should hear about in plain words rather
// than as a tool error.
type SoftError string

const SoftErrorTranscoderUnavailable SoftError = "transcoder_unavailable"

// StockedHeader prefixes caption output so extraction treats it as a purchase.
const StockedHeader = "Productos recién agregados a la despensa:"

type Transcriber interface {
	Transcribe(ctx context.Context, path string, mimeType string) (string, error)
}

type Captioner interface {
	Caption(ctx context.Context, path string, mimeType string) (string, error)
}

// Transcoder converts audio into mono 16 kHz WAV and returns the new file path.
type Transcoder interface {
	ToWAV(ctx context.Context, src string) (string, error)
}

// Normalized is media reduced to text, with the extraction already run on it.
type Normalized struct {
	Kind      Kind                       `json:"kind"`
	Text      string                     `json:"text"`
	Intent    *contractx.ExtractedIntent `json:"intent,omitempty"`
	SoftError SoftError                  `json:"soft_error,omitempty"`
}

type Normalizer struct {
	transcriber Transcriber
	captioner   Captioner
	transcoder  Transcoder
	extractor   contractx.Extractor
	maxBytes    int64
}

type Option func(*Normalizer)

func WithTranscoder(t Transcoder) Option {
	return func(n *Normalizer) {
		n.transcoder = t
	}
}

func WithMaxBytes(limit int64) Option {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxBytes = limit
		}
	}
}

func NewNormalizer(
	transcriber Transcriber,
	captioner Captioner,
	extractor contractx.Extractor,
	opts ...Option,
) (*Normalizer, error) {
	if transcriber == nil {
		return nil, errors.New("transcriber is required")
	}
	if captioner == nil {
		return nil, errors.New("captioner is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}

	n := &Normalizer{
		transcriber: transcriber,
		captioner:   captioner,
		extractor:   extractor,
		maxBytes:    DefaultMaxBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n, nil
}

func (n *Normalizer) Transcribe(ctx context.Context, ref contractx.MediaRef) (Normalized, error) {
	mimeType, err := validate(KindAudio, ref.Path, n.maxBytes)
	if err != nil {
		return Normalized{}, err
	}

	text, err := n.transcriber.Transcribe(ctx, ref.Path, mimeType)
	if errors.Is(err, contractx.ErrFormatRejected) {
		log.Info().Str("mime", mimeType).Msg("transcription rejected format, transcoding")

		var soft bool
		text, soft, err = n.transcribeTranscoded(ctx, ref.Path)
		if soft {
			return Normalized{Kind: KindAudio, SoftError: SoftErrorTranscoderUnavailable}, nil
		}
	}
	if err != nil {
		return Normalized{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Normalized{}, fmt.Errorf("%w: empty transcription", ErrNoContent)
	}

	return n.withIntent(ctx, Normalized{Kind: KindAudio, Text: text}, text), nil
}

func (n *Normalizer) transcribeTranscoded(ctx context.Context, path string) (string, bool, error) {
	if n.transcoder == nil {
		return "", true, nil
	}

	wav, err := n.transcoder.ToWAV(ctx, path)
	if errors.Is(err, contractx.ErrTranscoderUnavailable) {
		log.Warn().Err(err).Msg("audio transcoder unavailable")
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	defer func() {
		if rmErr := os.Remove(wav); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn().Err(rmErr).Str("path", wav).Msg("remove transcoded audio")
		}
	}()

	text, err := n.transcriber.Transcribe(ctx, wav, "audio/wav")
	return text, false, err
}

func (n *Normalizer) CaptionImage(ctx context.Context, ref contractx.MediaRef) (Normalized, error) {
	mimeType, err := validate(KindImage, ref.Path, n.maxBytes)
	if err != nil {
		return Normalized{}, err
	}

	raw, err := n.captioner.Caption(ctx, ref.Path, mimeType)
	if err != nil {
		return Normalized{}, err
	}

	block := StockedBlock(raw)
	if block == "" {
		return Normalized{}, fmt.Errorf("%w: no products recognised", ErrNoContent)
	}

	return n.withIntent(ctx, Normalized{Kind: KindImage, Text: block}, "operation: in\n"+block), nil
}

// withIntent attaches the extraction. A failed extraction keeps the text so the
// reasoning step can still work with it.
func (n *Normalizer) withIntent(ctx context.Context, out Normalized, utterance string) Normalized {
	intent, err := n.extractor.Extract(ctx, utterance)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(out.Kind)).Msg("extraction after normalization failed")
		return out
	}
	out.Intent = &intent
	return out
}

// StockedBlock turns free-form caption output into one product per line under
// StockedHeader. It returns "" when no product lines remain.
func StockedBlock(caption string) string {
	lines := strings.Split(strings.ReplaceAll(caption, "\r\n", "\n"), "\n")
	products := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•· \t")
		line = trimOrdinal(line)
		if line == "" {
			continue
		}
		products = append(products, "- "+line)
	}
	if len(products) == 0 {
		return ""
	}
	return StockedHeader + "\n" + strings.Join(products, "\n")
}

// trimOrdinal drops list prefixes like "1." or "2)".
func trimOrdinal(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(s) && (s[i] == '.' || s[i] == ')') && s[i+1] == ' ' {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
