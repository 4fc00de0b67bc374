package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	metricsx "github.com/tanpawarit/despensero/pkg/metrics"
	whatsappx "github.com/tanpawarit/despensero/pkg/whatsapp"
)

const DefaultDedupSize = 4096

// Canned replies sent when a turn cannot produce its own.
const (
	ReplyUnsupported   = "Lo siento, solo puedo procesar mensajes de texto, audio e imágenes."
	ReplyAudioDownload = "Lo siento, no pude descargar el archivo de audio. Por favor, intenta de nuevo."
	ReplyAudioEmpty    = "Lo siento, el archivo de audio está vacío. Por favor, intenta de nuevo."
	ReplyImageDownload = "Lo siento, no pude descargar la imagen. Por favor, intenta de nuevo."
	ReplyTurnFailed    = "Lo siento, hubo un error procesando tu mensaje. Por favor, intenta de nuevo."
)

type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string, mimeType string) (string, error)
}

// Dispatcher turns WhatsApp messages into orchestrator events and sends exactly
// one reply per accepted message.
type Dispatcher struct {
	turns      contractx.TurnHandler
	sender     contractx.Sender
	downloader MediaDownloader
	seen       *lru.Cache
	stats      *Stats
}

type Option func(*Dispatcher)

func WithDedupSize(size int) Option {
	return func(d *Dispatcher) {
		if size <= 0 {
			return
		}
		if cache, err := lru.New(size); err == nil {
			d.seen = cache
		}
	}
}

func NewDispatcher(turns contractx.TurnHandler, sender contractx.Sender, downloader MediaDownloader, opts ...Option) (*Dispatcher, error) {
	if turns == nil {
		return nil, errors.New("turn handler is required")
	}
	if sender == nil {
		return nil, errors.New("reply sender is required")
	}

	seen, err := lru.New(DefaultDedupSize)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}

	d := &Dispatcher{
		turns:      turns,
		sender:     sender,
		downloader: downloader,
		seen:       seen,
		stats:      NewStats(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dispatcher) Stats() *Stats {
	return d.stats
}

// HandlePayload processes every message of a webhook payload in order and
// returns how many were handled.
func (d *Dispatcher) HandlePayload(ctx context.Context, payload whatsappx.Payload) int {
	msgs := payload.Messages()
	if len(msgs) == 0 {
		summary := payload.Summary()
		log.Debug().Int("statuses", summary.Statuses).Msg("webhook without messages")
		metricsx.WebhookRequests.WithLabelValues("status_only").Inc()
		return 0
	}
	d.stats.withMessages.Add(1)

	handled := 0
	for _, msg := range msgs {
		if err := d.HandleMessage(ctx, msg); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("handle whatsapp message")
			continue
		}
		handled++
	}
	return handled
}

// HandleMessage is idempotent per message id: redeliveries of an id already
// handled are acknowledged without a second turn. An id whose turn or reply
// failed is forgotten so a redelivery runs again.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg whatsappx.Message) (err error) {
	from := whatsappx.NormalizePhone(msg.From)
	if from == "" {
		return fmt.Errorf("%w: message %s has no sender", contractx.ErrInvalidEvent, msg.ID)
	}
	turnFailed := false
	if id := strings.TrimSpace(msg.ID); id != "" {
		if seen, _ := d.seen.ContainsOrAdd(id, struct{}{}); seen {
			metricsx.WebhookRequests.WithLabelValues("duplicate").Inc()
			log.Debug().Str("message_id", id).Msg("duplicate message ignored")
			return nil
		}
		defer func() {
			if err != nil || turnFailed {
				d.seen.Remove(id)
			}
		}()
	}

	if whatsappx.IsTestMessage(msg) {
		d.stats.testMessages.Add(1)
	} else {
		d.stats.realMessages.Add(1)
	}

	ev := contractx.Event{CounterpartyID: from, MessageID: msg.ID}
	switch msg.Type {
	case "text":
		ev.Kind = contractx.EventText
		if msg.Text != nil {
			ev.Text = msg.Text.Body
		}
	case "audio", "voice":
		ev.Kind = contractx.EventAudio
		media := msg.AudioMedia()
		ref, reply := d.fetch(ctx, media, "audio/ogg", ReplyAudioDownload)
		if ref == nil {
			return d.reply(ctx, from, reply)
		}
		defer removeMedia(ref.Path)
		ev.Media = ref
	case "image":
		ev.Kind = contractx.EventImage
		ref, reply := d.fetch(ctx, msg.Image, "image/jpeg", ReplyImageDownload)
		if ref == nil {
			return d.reply(ctx, from, reply)
		}
		defer removeMedia(ref.Path)
		ev.Media = ref
		ev.Text = msg.Image.Caption
	default:
		log.Warn().Str("type", msg.Type).Str("message_id", msg.ID).Msg("unsupported message type")
		metricsx.WebhookRequests.WithLabelValues("unsupported").Inc()
		return d.reply(ctx, from, ReplyUnsupported)
	}

	res, err := d.turns.HandleTurn(ctx, ev)
	if err != nil {
		if errors.Is(err, contractx.ErrInvalidEvent) {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("invalid event dropped")
			return nil
		}
		log.Error().Err(err).Str("counterparty", from).Msg("turn failed")
		turnFailed = true
		return d.reply(ctx, from, ReplyTurnFailed)
	}
	return d.reply(ctx, from, res.Reply.Text)
}

// fetch downloads media and returns its reference, or the reply explaining
// why it could not.
func (d *Dispatcher) fetch(ctx context.Context, media *whatsappx.Media, defaultMIME string, failReply string) (*contractx.MediaRef, string) {
	if media == nil || strings.TrimSpace(media.ID) == "" || d.downloader == nil {
		return nil, failReply
	}
	mimeType := media.MIMEType
	if mimeType == "" {
		mimeType = defaultMIME
	}

	path, err := d.downloader.DownloadMedia(ctx, media.ID, mimeType)
	if err != nil {
		log.Warn().Err(err).Str("media_id", media.ID).Msg("media download failed")
		metricsx.WebhookRequests.WithLabelValues("download_failed").Inc()
		if errors.Is(err, whatsappx.ErrEmptyMedia) && strings.HasPrefix(mimeType, "audio/") {
			return nil, ReplyAudioEmpty
		}
		return nil, failReply
	}
	return &contractx.MediaRef{Path: path, MIMEType: mimeType}, ""
}

func (d *Dispatcher) reply(ctx context.Context, to string, text string) error {
	if err := d.sender.Send(ctx, contractx.Reply{CounterpartyID: to, Text: text}); err != nil {
		return fmt.Errorf("send reply to %s: %w", to, err)
	}
	return nil
}

func removeMedia(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("remove media file")
	}
}
