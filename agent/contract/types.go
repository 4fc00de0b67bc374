package contract

import (
	"strings"

	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
)

type Action string

const (
	ActionUpdate       Action = "UPDATE"
	ActionCreate       Action = "CREATE"
	ActionQuery        Action = "QUERY"
	ActionShoppingList Action = "SHOPPING_LIST"
)

func (a Action) Valid() bool {
	switch a {
	case ActionUpdate, ActionCreate, ActionQuery, ActionShoppingList:
		return true
	default:
		return false
	}
}

// Mutates reports whether applying the action writes to the ledger.
func (a Action) Mutates() bool {
	return a == ActionUpdate || a == ActionCreate
}

func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(raw)))
	return a, a.Valid()
}

const ExtractionFailedRationale = "extraction failed"

type Item struct {
	Name     string `json:"name"`
	Quantity *int   `json:"quantity"`
	Unit     string `json:"unit"`
}

type ExtractedIntent struct {
	Action    Action `json:"action"`
	Items     []Item `json:"items"`
	Rationale string `json:"rationale"`
}

// DefaultIntent is returned whenever extraction output cannot be trusted.
func DefaultIntent() ExtractedIntent {
	return ExtractedIntent{
		Action:    ActionQuery,
		Items:     []Item{},
		Rationale: ExtractionFailedRationale,
	}
}

func (i ExtractedIntent) Failed() bool {
	return i.Action == ActionQuery && len(i.Items) == 0 && i.Rationale == ExtractionFailedRationale
}

type EventKind string

const (
	EventText  EventKind = "TEXT"
	EventAudio EventKind = "AUDIO"
	EventImage EventKind = "IMAGE"
)

// MediaRef points at a media payload already fetched by the channel adapter.
type MediaRef struct {
	Path     string `json:"path"`
	MIMEType string `json:"mime_type,omitempty"`
}

type Event struct {
	CounterpartyID string    `json:"counterparty_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Kind           EventKind `json:"kind"`
	Text           string    `json:"text,omitempty"`
	Media          *MediaRef `json:"media_ref,omitempty"`
}

type Reply struct {
	CounterpartyID string `json:"counterparty_id"`
	Text           string `json:"text"`
}

type ToolName string

const (
	ToolQueryPantry     ToolName = "query_pantry"
	ToolUpdatePantry    ToolName = "update_pantry"
	ToolApplyExtraction ToolName = "apply_extraction"
	ToolShoppingList    ToolName = "shopping_list"
	ToolTranscribeAudio ToolName = "transcribe_audio"
	ToolCaptionImage    ToolName = "caption_image"
)

type ToolRequest struct {
	CallID string         `json:"call_id,omitempty"`
	Tool   ToolName       `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
}

type ToolErrorCode string

const (
	ToolErrInvalidArgs       ToolErrorCode = "invalid_args"
	ToolErrUnknownTool       ToolErrorCode = "unknown_tool"
	ToolErrUnsupportedFormat ToolErrorCode = "unsupported_format"
	ToolErrTooLarge          ToolErrorCode = "too_large"
	ToolErrNotFound          ToolErrorCode = "not_found"
	ToolErrTranscoder        ToolErrorCode = "transcoder_unavailable"
	ToolErrCapability        ToolErrorCode = "capability_error"
	ToolErrSkipped           ToolErrorCode = "skipped"
)

// ToolResult is either a Result or an Error, never both. Intent is set when the
// tool produced a structured extraction; Update is set once that extraction has
// been applied to the ledger.
type ToolResult struct {
	CallID string           `json:"call_id,omitempty"`
	Tool   ToolName         `json:"tool"`
	Result any              `json:"result,omitempty"`
	Code   ToolErrorCode    `json:"code,omitempty"`
	Error  string           `json:"error,omitempty"`
	Intent *ExtractedIntent `json:"intent,omitempty"`
	Update *UpdateResult    `json:"update,omitempty"`
}

func (r ToolResult) Failed() bool {
	return r.Error != ""
}

type Outcome struct {
	Name    string         `json:"name"`
	Found   bool           `json:"found"`
	Created bool           `json:"created,omitempty"`
	Entry   *ledgerx.Entry `json:"entry,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type UpdateResult struct {
	OriginalAction Action    `json:"original_action"`
	Outcomes       []Outcome `json:"outcomes"`
	Count          int       `json:"count"`
}

type TurnResult struct {
	Reply           Reply         `json:"reply"`
	Update          *UpdateResult `json:"update,omitempty"`
	ToolResults     []ToolResult  `json:"tool_results,omitempty"`
	Iterations      int           `json:"iterations"`
	BudgetExhausted bool          `json:"budget_exhausted,omitempty"`
}
