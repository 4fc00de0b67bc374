package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
	metricsx "github.com/tanpawarit/despensero/pkg/metrics"
	qstashx "github.com/tanpawarit/despensero/pkg/qstash"
	whatsappx "github.com/tanpawarit/despensero/pkg/whatsapp"
)

const maxWebhookBody = 1 << 20

type ledgerRow struct {
	Quantity *int           `json:"quantity"`
	Unit     string         `json:"unit"`
	Status   ledgerx.Status `json:"status"`
	// Mismatch marks an explicit status that contradicts the quantity.
	Mismatch bool `json:"mismatch,omitempty"`
}

// verifyWebhook answers Meta's subscription handshake.
func (s *Server) verifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == s.cfg.VerifyToken {
		log.Info().Msg("webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}
	log.Warn().Str("mode", mode).Msg("webhook verification rejected")
	c.String(http.StatusForbidden, "Forbidden")
}

func (s *Server) receiveWebhook(c *gin.Context) {
	s.deps.Handler.Stats().ObserveRequest(whatsappx.FromMeta(c.GetHeader("User-Agent")))

	body, payload, ok := readPayload(c)
	if !ok {
		return
	}

	if s.deps.Queue != nil {
		dest := s.cfg.PublicURL + EventsPath
		opts := qstashx.PublishOptions{DeduplicationID: dedupID(payload)}
		id, err := s.deps.Queue.Publish(c.Request.Context(), dest, body, opts)
		if err == nil {
			metricsx.WebhookRequests.WithLabelValues("queued").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "queued", "message_id": id})
			return
		}
		log.Error().Err(err).Msg("queue publish failed, handling inline")
	}

	metricsx.WebhookRequests.WithLabelValues("inline").Inc()
	n := s.deps.Handler.HandlePayload(c.Request.Context(), payload)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "messages_processed": n})
}

// receiveQueued handles a payload delivered back by the queue.
func (s *Server) receiveQueued(c *gin.Context) {
	if s.deps.Queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue is disabled"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	sig := c.GetHeader(qstashx.SignatureHeader)
	if err := s.deps.Queue.Verify(sig, body, s.cfg.PublicURL+EventsPath); err != nil {
		log.Warn().Err(err).Msg("queued delivery rejected")
		metricsx.WebhookRequests.WithLabelValues("bad_signature").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload whatsappx.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		// A malformed body will never succeed; acknowledge so it is not retried.
		log.Error().Err(err).Msg("queued payload is not valid json")
		c.JSON(http.StatusOK, gin.H{"status": "dropped"})
		return
	}

	metricsx.WebhookRequests.WithLabelValues("delivered").Inc()
	n := s.deps.Handler.HandlePayload(c.Request.Context(), payload)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "messages_processed": n})
}

func (s *Server) stats(c *gin.Context) {
	histories := 0
	if s.deps.Histories != nil {
		n, err := s.deps.Histories.Count(c.Request.Context())
		if err != nil {
			log.Warn().Err(err).Msg("count chat histories")
		}
		histories = n
	}
	c.JSON(http.StatusOK, gin.H{
		"webhook_stats":        s.deps.Handler.Stats().Snapshot(),
		"chat_histories_count": histories,
		"message":              "Estas son las estadísticas de webhooks recibidos. Si 'from_meta' es 0 cuando envías mensajes reales, Meta no está enviando webhooks.",
	})
}

func (s *Server) debug(c *gin.Context) {
	body, _ := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	c.JSON(http.StatusOK, gin.H{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"query":   c.Request.URL.Query(),
		"headers": c.Request.Header,
		"body":    string(body),
	})
}

func (s *Server) ledger(c *gin.Context) {
	out := make(map[string]ledgerRow, s.deps.Ledger.Len())
	for _, e := range s.deps.Ledger.ListAll() {
		out[e.Name] = ledgerRow{Quantity: e.Quantity, Unit: e.Unit, Status: e.Status, Mismatch: e.StatusMismatch()}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) ledgerMismatches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": s.deps.Ledger.Mismatches()})
}

func readPayload(c *gin.Context) ([]byte, whatsappx.Payload, bool) {
	var payload whatsappx.Payload

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return nil, payload, false
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "empty body"})
		return nil, payload, false
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("webhook body is not json")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid json"})
		return nil, payload, false
	}
	return body, payload, true
}

// dedupID keys a payload by its first message id so redelivered webhooks are
// collapsed by the queue too.
func dedupID(p whatsappx.Payload) string {
	msgs := p.Messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[0].ID
}
