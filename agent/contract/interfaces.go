package contract

import "context"

// Extractor turns one utterance into a structured intent.
type Extractor interface {
	Extract(ctx context.Context, utterance string) (ExtractedIntent, error)
}

// IntentApplier writes (or reads) the ledger according to an intent.
type IntentApplier interface {
	Apply(intent ExtractedIntent) UpdateResult
}

type Sender interface {
	Send(ctx context.Context, reply Reply) error
}

type TurnHandler interface {
	HandleTurn(ctx context.Context, ev Event) (TurnResult, error)
}
