package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	channelx "github.com/tanpawarit/despensero/agent/channel"
	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
	statex "github.com/tanpawarit/despensero/agent/state"
	qstashx "github.com/tanpawarit/despensero/pkg/qstash"
	whatsappx "github.com/tanpawarit/despensero/pkg/whatsapp"
)

const (
	EventsPath      = "/internal/events"
	shutdownTimeout = 10 * time.Second
)

type PayloadHandler interface {
	HandlePayload(ctx context.Context, payload whatsappx.Payload) int
	Stats() *channelx.Stats
}

// Queue defers webhook payloads to an at-least-once delivery service that
// calls EventsPath back with a signed request.
type Queue interface {
	Publish(ctx context.Context, destination string, body []byte, opts qstashx.PublishOptions) (string, error)
	Verify(signature string, body []byte, destination string) error
}

type Config struct {
	Addr        string
	PublicURL   string
	VerifyToken string
}

type Deps struct {
	Handler   PayloadHandler
	Ledger    *ledgerx.Ledger
	Histories statex.Store
	// Queue is optional; without it payloads are handled inline.
	Queue     Queue
}

type Server struct {
	router *gin.Engine
	cfg    Config
	deps   Deps
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Handler == nil {
		return nil, errors.New("payload handler is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if strings.TrimSpace(cfg.VerifyToken) == "" {
		return nil, errors.New("webhook verify token is required")
	}
	cfg.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	if deps.Queue != nil && cfg.PublicURL == "" {
		return nil, errors.New("public url is required when the queue is enabled")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())

	s := &Server{router: router, cfg: cfg, deps: deps}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "despensero"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/webhook", s.verifyWebhook)
	s.router.POST("/webhook", s.receiveWebhook)
	s.router.POST(EventsPath, s.receiveQueued)

	s.router.GET("/stats", s.stats)
	s.router.Any("/debug", s.debug)

	admin := s.router.Group("/admin")
	admin.GET("/ledger", s.ledger)
	admin.GET("/ledger/mismatches", s.ledgerMismatches)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}
