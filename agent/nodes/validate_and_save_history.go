package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	statex "github.com/tanpawarit/despensero/agent/state"
)

// ValidateAndSaveHistory appends the turn to the history and persists it. The
// ledger has already changed at this point, so a failed save is logged and the
// reply still goes out.
func ValidateAndSaveHistory(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil || in.History == nil {
		return nil, fmt.Errorf("%w: graph history is nil", contractx.ErrValidation)
	}

	in.History.Append(in.Now, in.Turn...)
	if err := in.History.Validate(); err != nil {
		return nil, fmt.Errorf("history validation failed: %w", err)
	}
	if err := store.Save(ctx, in.History); err != nil {
		log.Error().Err(err).Str("counterparty", in.Event.CounterpartyID).Msg("save history failed")
	}
	return in, nil
}
