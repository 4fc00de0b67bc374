package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/despensero/agent/contract"
	statex "github.com/tanpawarit/despensero/agent/state"
)

func LoadOrCreateHistory(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	h, err := loadOrCreateHistory(ctx, store, in.Event.CounterpartyID, in.Now)
	if err != nil {
		return nil, err
	}
	in.History = h
	in.Turn = append(in.Turn, statex.Message{
		Role:      statex.RoleUser,
		Content:   userContent(in.Event),
		CreatedAt: in.Now,
	})
	return in, nil
}

func loadOrCreateHistory(
	ctx context.Context,
	store statex.Store,
	counterpartyID string,
	now time.Time,
) (*statex.History, error) {
	h, err := store.Load(ctx, counterpartyID)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, statex.ErrHistoryNotFound) {
		return nil, err
	}

	return statex.NewHistory(counterpartyID, now), nil
}
