package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/despensero/agent/agents/orchestrator"
	extractionx "github.com/tanpawarit/despensero/agent/extraction"
	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
	llmx "github.com/tanpawarit/despensero/agent/llm"
	mediax "github.com/tanpawarit/despensero/agent/media"
	promptx "github.com/tanpawarit/despensero/agent/prompt"
	statex "github.com/tanpawarit/despensero/agent/state"
	toolx "github.com/tanpawarit/despensero/agent/tool"
	updaterx "github.com/tanpawarit/despensero/agent/updater"
	configx "github.com/tanpawarit/despensero/pkg/config"
	openaix "github.com/tanpawarit/despensero/pkg/openai"
)

type AppConfig struct {
	Addr              string        `envconfig:"ADDR" default:":8080"`
	PublicURL         string        `envconfig:"PUBLIC_URL"`
	TurnTimeout       time.Duration `envconfig:"TURN_TIMEOUT" default:"60s"`
	MaxToolIterations int           `envconfig:"MAX_TOOL_ITERATIONS" default:"6"`
	HistoryWindow     int           `envconfig:"HISTORY_WINDOW" default:"40"`
	MaxMediaBytes     int64         `envconfig:"MAX_MEDIA_BYTES" default:"26214400"`
	FFmpegPath        string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	SeedLedger        bool          `envconfig:"SEED_LEDGER" default:"true"`
	DedupSize         int           `envconfig:"DEDUP_SIZE" default:"4096"`
}

// app holds the components shared by the serve and chat commands.
type app struct {
	cfg          *AppConfig
	ledger       *ledgerx.Ledger
	histories    statex.Store
	syncer       *ledgerx.Syncer
	pg           *ledgerx.PostgresStore
	orchestrator *orchestratorx.Orchestrator
}

func buildApp(ctx context.Context) (*app, error) {
	appCfg, err := configx.New[AppConfig]("APP")
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}
	llmCfg, err := configx.New[llmx.Config]("LLM")
	if err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}
	if err := llmCfg.Validate(); err != nil {
		return nil, err
	}
	prompts := promptx.LoadPromptSet()

	a := &app{cfg: appCfg, ledger: ledgerx.New()}
	if appCfg.SeedLedger {
		a.ledger.Restore(ledgerx.DefaultSeed())
	}
	if err := a.attachLedgerStore(ctx); err != nil {
		return nil, err
	}
	a.histories = newHistoryStore()

	reasonerCfg := llmCfg.OpenAIFor(llmx.RoleReasoner)
	reasonerModel, err := reasonerCfg.New(ctx)
	if err != nil {
		return nil, err
	}
	extractorCfg := llmCfg.OpenAIFor(llmx.RoleExtractor)
	extractorModel, err := extractorCfg.New(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := extractionx.New(ctx, extractorModel, prompts.Extractor)
	if err != nil {
		return nil, err
	}

	normalizer, err := newNormalizer(llmCfg, prompts, engine, appCfg)
	if err != nil {
		return nil, err
	}

	updater := updaterx.New(a.ledger)
	executor, err := toolx.NewExecutor(a.ledger, updater, engine, normalizer)
	if err != nil {
		return nil, err
	}

	orch, err := orchestratorx.New(ctx, orchestratorx.Deps{
		Store:        a.histories,
		Applier:      updater,
		Tools:        executor,
		Model:        reasonerModel,
		SystemPrompt: prompts.Reasoner,
	}, orchestratorx.Config{
		MaxToolIterations: appCfg.MaxToolIterations,
		TurnTimeout:       appCfg.TurnTimeout,
		HistoryWindow:     appCfg.HistoryWindow,
	})
	if err != nil {
		return nil, err
	}
	a.orchestrator = orch
	return a, nil
}

// attachLedgerStore restores the ledger from Postgres when DATABASE_DSN is set.
func (a *app) attachLedgerStore(ctx context.Context) error {
	pgCfg, err := configx.New[ledgerx.PostgresConfig]("DATABASE")
	if err != nil {
		return fmt.Errorf("load database config: %w", err)
	}
	if !pgCfg.Enabled() {
		log.Info().Msg("ledger persistence disabled, keeping it in memory")
		return nil
	}

	pg, err := ledgerx.NewPostgresStore(ctx, *pgCfg)
	if err != nil {
		return err
	}
	syncer, err := ledgerx.NewSyncer(a.ledger, pg, pgCfg.SnapshotSpec)
	if err != nil {
		return errors.Join(err, pg.Close())
	}
	if err := syncer.Restore(ctx); err != nil {
		return errors.Join(fmt.Errorf("restore ledger: %w", err), pg.Close())
	}
	a.pg = pg
	a.syncer = syncer
	return nil
}

func newHistoryStore() statex.Store {
	redisCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	if err != nil || !redisCfg.Enabled() {
		log.Info().Msg("history store: in memory")
		return statex.NewMemoryStore()
	}
	store, err := statex.NewUpstashRedisStore(*redisCfg, statex.WithKeyPrefix(redisCfg.KeyPrefix))
	if err != nil {
		log.Warn().Err(err).Msg("upstash redis unavailable, history kept in memory")
		return statex.NewMemoryStore()
	}
	log.Info().Msg("history store: upstash redis")
	return store
}

func newNormalizer(cfg *llmx.Config, prompts promptx.PromptSet, engine *extractionx.Engine, appCfg *AppConfig) (*mediax.Normalizer, error) {
	transcriptionCfg := cfg.OpenAIFor(llmx.RoleTranscription)
	transcriber, err := mediax.NewWhisperTranscriber(openaix.NewClient(transcriptionCfg), transcriptionCfg.Model, cfg.TranscriptionLanguage)
	if err != nil {
		return nil, err
	}

	visionCfg := cfg.OpenAIFor(llmx.RoleVision)
	captioner, err := mediax.NewVisionCaptioner(openaix.NewClient(visionCfg), visionCfg.Model, prompts.Caption, cfg.VisionMaxTokens)
	if err != nil {
		return nil, err
	}

	ffmpeg := mediax.NewFFmpeg(appCfg.FFmpegPath)
	if !ffmpeg.Available() {
		log.Warn().Str("binary", appCfg.FFmpegPath).Msg("ffmpeg not found, voice notes in unsupported codecs will be refused")
	}

	return mediax.NewNormalizer(transcriber, captioner, engine,
		mediax.WithTranscoder(ffmpeg),
		mediax.WithMaxBytes(appCfg.MaxMediaBytes),
	)
}

func (a *app) Close() error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Close()
}
