package orchestratornode

import (
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
)

// ReconcileExtraction makes sure the latest ledger-writing extraction of the
// turn reaches the ledger. Results are scanned newest first; read-only intents
// (QUERY, SHOPPING_LIST) never hide an earlier write. An extraction already
// applied by its tool is reused, otherwise it is applied here. A turn without
// any write reports the newest read-only outcome.
func ReconcileExtraction(
	in *GraphState,
	applier contractx.IntentApplier,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	if i := newestIntent(in.ToolResults, true); i >= 0 {
		res := &in.ToolResults[i]
		if res.Update == nil {
			update := applier.Apply(*res.Intent)
			res.Update = &update
			log.Info().
				Str("counterparty", in.Event.CounterpartyID).
				Str("tool", string(res.Tool)).
				Str("action", string(res.Intent.Action)).
				Int("count", update.Count).
				Msg("applied pending extraction")
		}
		in.Update = res.Update
		return in, nil
	}

	if i := newestIntent(in.ToolResults, false); i >= 0 {
		in.Update = in.ToolResults[i].Update
	}
	return in, nil
}

func newestIntent(results []contractx.ToolResult, mutating bool) int {
	for i := len(results) - 1; i >= 0; i-- {
		if it := results[i].Intent; it != nil && it.Action.Mutates() == mutating {
			return i
		}
	}
	return -1
}
