package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	nodex "github.com/tanpawarit/despensero/agent/nodes"
	statex "github.com/tanpawarit/despensero/agent/state"
	metricsx "github.com/tanpawarit/despensero/pkg/metrics"
)

const (
	DefaultMaxToolIterations = 6
	DefaultTurnTimeout       = 60 * time.Second
	DefaultHistoryWindow     = 40
)

var _ contractx.TurnHandler = (*Orchestrator)(nil)

// Config tunes one orchestrator. A negative HistoryWindow sends the whole
// history to the reasoner.
type Config struct {
	MaxToolIterations int
	TurnTimeout       time.Duration
	HistoryWindow     int
}

// Deps are the collaborators owned by the caller and shared across turns.
type Deps struct {
	Store        statex.Store
	Applier      contractx.IntentApplier
	Tools        nodex.ToolExecutor
	Model        einomodel.ToolCallingChatModel
	SystemPrompt string
}

type Orchestrator struct {
	store    statex.Store
	applier  contractx.IntentApplier
	tools    nodex.ToolExecutor
	reasoner nodex.Reasoner
	locks    *statex.KeyedMutex

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	budget  int
	timeout time.Duration
	window  int

	now func() time.Time
}

func New(ctx context.Context, deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Model == nil {
		return nil, errors.New("reasoner model is required")
	}
	reasoner, err := newToolReasoner(ctx, deps.Model, strings.TrimSpace(deps.SystemPrompt))
	if err != nil {
		return nil, err
	}
	return newWithReasoner(ctx, deps, reasoner, cfg)
}

func newWithReasoner(ctx context.Context, deps Deps, reasoner nodex.Reasoner, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("history store is required")
	}
	if deps.Applier == nil {
		return nil, errors.New("intent applier is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool executor is required")
	}
	if reasoner == nil {
		return nil, errors.New("reasoner is required")
	}

	budget := cfg.MaxToolIterations
	if budget <= 0 {
		budget = DefaultMaxToolIterations
	}
	timeout := cfg.TurnTimeout
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	window := cfg.HistoryWindow
	switch {
	case window == 0:
		window = DefaultHistoryWindow
	case window < 0:
		window = 0
	}

	o := &Orchestrator{
		store:    deps.Store,
		applier:  deps.Applier,
		tools:    deps.Tools,
		reasoner: reasoner,
		locks:    statex.NewKeyedMutex(),
		budget:   budget,
		timeout:  timeout,
		window:   window,
		now:      time.Now,
	}

	graphRunner, err := o.compileHandleTurnGraph(ctx)
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn runs one full turn. Turns of the same counterparty are serialized
// for their whole duration, including every tool dispatch.
func (o *Orchestrator) HandleTurn(ctx context.Context, ev contractx.Event) (contractx.TurnResult, error) {
	key := strings.TrimSpace(ev.CounterpartyID)
	if key == "" {
		metricsx.Turns.WithLabelValues("invalid").Inc()
		return contractx.TurnResult{}, fmt.Errorf("%w: counterparty id is empty", contractx.ErrInvalidEvent)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	unlock, err := o.locks.Lock(ctx, key)
	if err != nil {
		metricsx.Turns.WithLabelValues("timeout").Inc()
		return contractx.TurnResult{}, fmt.Errorf("wait for counterparty lock: %w", err)
	}
	defer unlock()

	started := o.now()
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{Event: ev})
	metricsx.TurnDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, contractx.ErrInvalidEvent) {
			outcome = "invalid"
		}
		metricsx.Turns.WithLabelValues(outcome).Inc()
		return contractx.TurnResult{}, err
	}

	res := out.Result
	metricsx.ToolIterations.Observe(float64(res.Iterations))
	outcome := "replied"
	if res.BudgetExhausted {
		outcome = "budget_exhausted"
	}
	metricsx.Turns.WithLabelValues(outcome).Inc()

	log.Info().
		Str("counterparty", key).
		Str("kind", string(ev.Kind)).
		Int("iterations", res.Iterations).
		Bool("updated", res.Update != nil).
		Msg("turn handled")
	return res, nil
}
