package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Syncer restores the ledger from a Store at start-up and snapshots it back on a
// cron schedule and once more on shutdown.
type Syncer struct {
	ledger *Ledger
	store  Store
	spec   string

	mu   sync.Mutex
	cron *rcron.Cron
}

func NewSyncer(l *Ledger, store Store, spec string) (*Syncer, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "0 */5 * * * *"
	}
	return &Syncer{ledger: l, store: store, spec: spec}, nil
}

// Restore loads the stored snapshot into the ledger. An empty store leaves the
// ledger untouched so seeded entries survive a first run.
func (s *Syncer) Restore(ctx context.Context) error {
	entries, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	s.ledger.Restore(entries)
	log.Info().Int("entries", len(entries)).Msg("ledger restored")
	return nil
}

func (s *Syncer) Flush(ctx context.Context) error {
	snap := s.ledger.Snapshot()
	if err := s.store.SaveAll(ctx, snap); err != nil {
		return err
	}
	log.Debug().Int("entries", len(snap)).Msg("ledger snapshot saved")
	return nil
}

// Run blocks until ctx is done, then stops the schedule and flushes.
func (s *Syncer) Run(ctx context.Context) error {
	c := rcron.New(rcron.WithSeconds())
	if _, err := c.AddFunc(s.spec, func() {
		if err := s.Flush(ctx); err != nil {
			log.Error().Err(err).Msg("ledger snapshot failed")
		}
	}); err != nil {
		return fmt.Errorf("register ledger snapshot %q: %w", s.spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	log.Info().Str("spec", s.spec).Msg("ledger snapshot scheduled")

	<-ctx.Done()
	<-c.Stop().Done()

	if err := s.Flush(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("final ledger snapshot: %w", err)
	}
	return nil
}
