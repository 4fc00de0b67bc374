package orchestratornode

import (
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	statex "github.com/tanpawarit/despensero/agent/state"
)

type recordingApplier struct {
	applied []contractx.ExtractedIntent
}

func (r *recordingApplier) Apply(intent contractx.ExtractedIntent) contractx.UpdateResult {
	r.applied = append(r.applied, intent)
	return contractx.UpdateResult{OriginalAction: intent.Action, Count: len(intent.Items)}
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestValidateEventNormalizesInput(t *testing.T) {
	t.Parallel()

	st, err := ValidateEvent(GraphInput{Event: contractx.Event{
		CounterpartyID: " 56911111111 ",
		Kind:           contractx.EventText,
		Text:           "  hola ",
		Media:          &contractx.MediaRef{Path: "/tmp/ignored.ogg"},
	}}, fixedNow)
	if err != nil {
		t.Fatalf("ValidateEvent() error = %v", err)
	}
	if st.Event.CounterpartyID != "56911111111" || st.Event.Text != "hola" || st.Event.Media != nil {
		t.Fatalf("unexpected event: %#v", st.Event)
	}
	if st.Menu.Allows(contractx.ToolTranscribeAudio) {
		t.Fatalf("text turn must not offer media tools")
	}

	_, err = ValidateEvent(GraphInput{Event: contractx.Event{CounterpartyID: "cp", Kind: contractx.EventImage}}, fixedNow)
	if !errors.Is(err, contractx.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestReconcileAppliesLatestUnappliedExtraction(t *testing.T) {
	t.Parallel()

	older := contractx.ExtractedIntent{Action: contractx.ActionCreate, Items: []contractx.Item{{Name: "pan"}}}
	newer := contractx.ExtractedIntent{Action: contractx.ActionUpdate, Items: []contractx.Item{{Name: "leche"}}}
	app := &recordingApplier{}

	st := &GraphState{ToolResults: []contractx.ToolResult{
		{Tool: contractx.ToolCaptionImage, Intent: &older},
		{Tool: contractx.ToolTranscribeAudio, Intent: &newer},
		{Tool: contractx.ToolQueryPantry, Result: "x"},
	}}
	if _, err := ReconcileExtraction(st, app); err != nil {
		t.Fatalf("ReconcileExtraction() error = %v", err)
	}
	if len(app.applied) != 1 || app.applied[0].Items[0].Name != "leche" {
		t.Fatalf("expected only the newest extraction applied, got %#v", app.applied)
	}
	if st.Update == nil || st.Update.OriginalAction != contractx.ActionUpdate || st.ToolResults[1].Update == nil {
		t.Fatalf("update must be recorded on state and result: %#v", st)
	}
}

func TestReconcileReusesAppliedUpdate(t *testing.T) {
	t.Parallel()

	intent := contractx.ExtractedIntent{Action: contractx.ActionUpdate, Items: []contractx.Item{{Name: "arroz"}}}
	done := contractx.UpdateResult{OriginalAction: contractx.ActionUpdate, Count: 1}
	app := &recordingApplier{}

	st := &GraphState{ToolResults: []contractx.ToolResult{{Tool: contractx.ToolUpdatePantry, Intent: &intent, Update: &done}}}
	if _, err := ReconcileExtraction(st, app); err != nil {
		t.Fatalf("ReconcileExtraction() error = %v", err)
	}
	if len(app.applied) != 0 || st.Update != &done {
		t.Fatalf("applied extraction must be reused, applied=%d", len(app.applied))
	}

	empty := &GraphState{}
	if _, err := ReconcileExtraction(empty, app); err != nil || empty.Update != nil {
		t.Fatalf("no extraction means no update, err=%v", err)
	}
}

func TestReconcileReadOnlyResultDoesNotHideWrite(t *testing.T) {
	t.Parallel()

	media := contractx.ExtractedIntent{Action: contractx.ActionCreate, Items: []contractx.Item{{Name: "arroz"}}}
	list := contractx.ExtractedIntent{Action: contractx.ActionShoppingList, Items: []contractx.Item{}}
	listed := contractx.UpdateResult{OriginalAction: contractx.ActionShoppingList}
	app := &recordingApplier{}

	st := &GraphState{ToolResults: []contractx.ToolResult{
		{Tool: contractx.ToolCaptionImage, Intent: &media},
		{Tool: contractx.ToolShoppingList, Intent: &list, Update: &listed},
	}}
	if _, err := ReconcileExtraction(st, app); err != nil {
		t.Fatalf("ReconcileExtraction() error = %v", err)
	}
	if len(app.applied) != 1 || app.applied[0].Action != contractx.ActionCreate {
		t.Fatalf("media extraction must be applied, got %#v", app.applied)
	}
	if st.Update == nil || st.Update.OriginalAction != contractx.ActionCreate {
		t.Fatalf("turn update must be the write, got %#v", st.Update)
	}
}

func TestReconcileReadOnlyTurnReportsQuery(t *testing.T) {
	t.Parallel()

	query := contractx.ExtractedIntent{Action: contractx.ActionQuery, Items: []contractx.Item{{Name: "leche"}}}
	done := contractx.UpdateResult{OriginalAction: contractx.ActionQuery, Count: 1}
	app := &recordingApplier{}

	st := &GraphState{ToolResults: []contractx.ToolResult{{Tool: contractx.ToolApplyExtraction, Intent: &query, Update: &done}}}
	if _, err := ReconcileExtraction(st, app); err != nil {
		t.Fatalf("ReconcileExtraction() error = %v", err)
	}
	if len(app.applied) != 0 || st.Update != &done {
		t.Fatalf("read-only outcome must be reported without reapplying, applied=%d", len(app.applied))
	}
}

func TestToSchemaMessagesKeepsToolPairs(t *testing.T) {
	t.Parallel()

	msgs := toSchemaMessages([]statex.Message{
		{Role: statex.RoleUser, Content: "hola"},
		{Role: statex.RoleAssistant, ToolCalls: []statex.ToolCall{{ID: "c1", Name: "shopping_list", Arguments: "{}"}}},
		{Role: statex.RoleTool, ToolCallID: "c1", Content: `{"ok":true}`},
	})
	if len(msgs) != 3 {
		t.Fatalf("unexpected messages: %d", len(msgs))
	}
	if msgs[1].Role != schema.Assistant || len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Function.Name != "shopping_list" {
		t.Fatalf("unexpected assistant message: %#v", msgs[1])
	}
	if msgs[2].Role != schema.Tool || msgs[2].ToolCallID != "c1" {
		t.Fatalf("unexpected tool message: %#v", msgs[2])
	}
}

func TestDecodeArgs(t *testing.T) {
	t.Parallel()

	if args, err := decodeArgs(""); err != nil || len(args) != 0 {
		t.Fatalf("empty arguments must decode to an empty object, err=%v", err)
	}
	if _, err := decodeArgs("[1,2]"); err == nil {
		t.Fatalf("expected error for non-object arguments")
	}
	args, err := decodeArgs(`{"item_name":"leche"}`)
	if err != nil || args["item_name"] != "leche" {
		t.Fatalf("unexpected args %v err=%v", args, err)
	}
}
