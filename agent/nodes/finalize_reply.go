package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/despensero/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = FallbackReply
	}
	return GraphOutput{Result: contractx.TurnResult{
		Reply: contractx.Reply{
			CounterpartyID: in.Event.CounterpartyID,
			Text:           reply,
		},
		Update:          in.Update,
		ToolResults:     in.ToolResults,
		Iterations:      in.Iterations,
		BudgetExhausted: in.BudgetExhausted,
	}}, nil
}
