package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	channelx "github.com/tanpawarit/despensero/agent/channel"
	configx "github.com/tanpawarit/despensero/pkg/config"
	qstashx "github.com/tanpawarit/despensero/pkg/qstash"
	whatsappx "github.com/tanpawarit/despensero/pkg/whatsapp"
	"github.com/tanpawarit/despensero/server"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the WhatsApp webhook and the admin endpoints",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("close ledger store")
		}
	}()

	waCfg, err := configx.New[whatsappx.Config]("WHATSAPP")
	if err != nil {
		return err
	}
	wa, err := whatsappx.NewClient(*waCfg)
	if err != nil {
		return err
	}
	defer wa.Close()

	dispatcher, err := channelx.NewDispatcher(a.orchestrator, wa, wa, channelx.WithDedupSize(a.cfg.DedupSize))
	if err != nil {
		return err
	}

	deps := server.Deps{
		Handler:   dispatcher,
		Ledger:    a.ledger,
		Histories: a.histories,
	}
	qCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return err
	}
	if qCfg.Enabled() {
		queue, err := qstashx.NewClient(*qCfg)
		if err != nil {
			return err
		}
		deps.Queue = queue
		log.Info().Msg("webhook payloads go through qstash")
	}

	srv, err := server.New(server.Config{
		Addr:        a.cfg.Addr,
		PublicURL:   a.cfg.PublicURL,
		VerifyToken: waCfg.VerifyToken,
	}, deps)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if a.syncer != nil {
		g.Go(func() error {
			return a.syncer.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
