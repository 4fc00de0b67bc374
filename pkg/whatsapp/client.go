package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	"resty.dev/v3"
)

var (
	ErrSendFailed     = errors.New("whatsapp send failed")
	ErrDownloadFailed = errors.New("whatsapp media download failed")
	ErrEmptyMedia     = errors.New("whatsapp media is empty")
)

var _ contractx.Sender = (*Client)(nil)

type Client struct {
	http          *resty.Client
	phoneNumberID string
	mediaTimeout  time.Duration
	mediaDir      string
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type mediaInfo struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	ID       string `json:"id"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("whatsapp token is required")
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("whatsapp phone number id is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = "v22.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	mediaTimeout := cfg.MediaTimeout
	if mediaTimeout <= 0 {
		mediaTimeout = 60 * time.Second
	}

	http := resty.New().
		SetBaseURL(baseURL+"/"+version).
		SetAuthToken(strings.TrimSpace(cfg.Token)).
		SetTimeout(timeout)

	return &Client{
		http:          http,
		phoneNumberID: strings.TrimSpace(cfg.PhoneNumberID),
		mediaTimeout:  mediaTimeout,
		mediaDir:      strings.TrimSpace(cfg.MediaDir),
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

func (c *Client) Close() error {
	return c.http.Close()
}

// Send delivers a reply as a plain text message.
func (c *Client) Send(ctx context.Context, reply contractx.Reply) error {
	return c.SendText(ctx, reply.CounterpartyID, reply.Text)
}

func (c *Client) SendText(ctx context.Context, to string, text string) error {
	phone := NormalizePhone(to)
	if phone == "" {
		return fmt.Errorf("%w: recipient is empty", ErrSendFailed)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(textMessage{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               phone,
			Type:             "text",
			Text:             textBody{Body: text},
		}).
		Post("/" + c.phoneNumberID + "/messages")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status=%d %s", ErrSendFailed, resp.StatusCode(), errorMessage(resp.Bytes()))
	}

	log.Debug().Str("to", phone).Int("chars", len(text)).Msg("whatsapp message sent")
	return nil
}

// DownloadMedia resolves mediaID to its download URL, fetches the payload and
// stores it in a temp file named after mimeType. The caller removes the file.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string, mimeType string) (string, error) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return "", fmt.Errorf("%w: media id is empty", ErrDownloadFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, c.mediaTimeout)
	defer cancel()

	var info mediaInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/" + mediaID)
	if err != nil {
		return "", fmt.Errorf("%w: lookup %s: %v", ErrDownloadFailed, mediaID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: lookup status=%d %s", ErrDownloadFailed, resp.StatusCode(), errorMessage(resp.Bytes()))
	}
	if strings.TrimSpace(info.URL) == "" {
		return "", fmt.Errorf("%w: no download url for %s", ErrDownloadFailed, mediaID)
	}

	// The media URL is absolute and still needs the bearer token.
	resp, err = c.http.R().
		SetContext(ctx).
		Get(info.URL)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrDownloadFailed, mediaID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: fetch status=%d", ErrDownloadFailed, resp.StatusCode())
	}

	body := resp.Bytes()
	if len(body) == 0 {
		return "", ErrEmptyMedia
	}

	if mimeType == "" {
		mimeType = info.MIMEType
	}
	f, err := os.CreateTemp(c.mediaDir, "wa-*"+ExtensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}

	log.Debug().Str("media_id", mediaID).Str("mime", mimeType).Int("bytes", len(body)).Msg("whatsapp media downloaded")
	return f.Name(), nil
}

var extensions = map[string]string{
	"audio/ogg":              ".ogg",
	"audio/ogg; codecs=opus": ".ogg",
	"audio/opus":             ".opus",
	"audio/mpeg":             ".mp3",
	"audio/mp4":              ".m4a",
	"audio/x-m4a":            ".m4a",
	"audio/aac":              ".aac",
	"audio/wav":              ".wav",
	"audio/x-wav":            ".wav",
	"audio/webm":             ".webm",
	"image/jpeg":             ".jpg",
	"image/png":              ".png",
	"image/webp":             ".webp",
	"image/gif":              ".gif",
}

// ExtensionFor maps a WhatsApp mime type to a file extension; unknown types get
// ".tmp", which the media validator later rejects.
func ExtensionFor(mimeType string) string {
	key := strings.ToLower(strings.TrimSpace(mimeType))
	if ext, ok := extensions[key]; ok {
		return ext
	}
	if base, _, ok := strings.Cut(key, ";"); ok {
		if ext, ok := extensions[strings.TrimSpace(base)]; ok {
			return ext
		}
	}
	return ".tmp"
}

// NormalizePhone strips "+", spaces and dashes; the Cloud API wants bare digits
// with the country code.
func NormalizePhone(raw string) string {
	return strings.NewReplacer("+", "", " ", "", "-", "").Replace(strings.TrimSpace(raw))
}

func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
