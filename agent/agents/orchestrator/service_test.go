package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
	"github.com/tanpawarit/despensero/agent/media"
	nodex "github.com/tanpawarit/despensero/agent/nodes"
	promptx "github.com/tanpawarit/despensero/agent/prompt"
	statex "github.com/tanpawarit/despensero/agent/state"
	toolx "github.com/tanpawarit/despensero/agent/tool"
	"github.com/tanpawarit/despensero/agent/updater"
)

type scriptedModel struct {
	mu         sync.Mutex
	responses  []*schema.Message
	repeatLast bool
	err        error
	calls      int
	inputs     [][]*schema.Message
	bound      [][]string
	delay      time.Duration
}

func (f *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		if !f.repeatLast || len(f.responses) == 0 {
			return nil, errors.New("no scripted response left")
		}
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *scriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	f.bound = append(f.bound, names)
	return f, nil
}

type fakeExtractor struct {
	intent contractx.ExtractedIntent
	err    error
}

func (f *fakeExtractor) Extract(context.Context, string) (contractx.ExtractedIntent, error) {
	return f.intent, f.err
}

type fakeNormalizer struct {
	out media.Normalized
	err error
}

func (f *fakeNormalizer) Transcribe(context.Context, contractx.MediaRef) (media.Normalized, error) {
	return f.out, f.err
}

func (f *fakeNormalizer) CaptionImage(context.Context, contractx.MediaRef) (media.Normalized, error) {
	return f.out, f.err
}

type countingApplier struct {
	inner contractx.IntentApplier
	mu    sync.Mutex
	calls int
}

func (c *countingApplier) Apply(intent contractx.ExtractedIntent) contractx.UpdateResult {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Apply(intent)
}

type harness struct {
	orch    *Orchestrator
	ledger  *ledgerx.Ledger
	store   *statex.MemoryStore
	applier *countingApplier
}

func newHarness(
	t *testing.T,
	model *scriptedModel,
	ex *fakeExtractor,
	norm *fakeNormalizer,
	cfg Config,
) harness {
	t.Helper()

	l := ledgerx.New()
	applier := &countingApplier{inner: updater.New(l)}
	if ex == nil {
		ex = &fakeExtractor{intent: contractx.DefaultIntent()}
	}
	if norm == nil {
		norm = &fakeNormalizer{}
	}
	exec, err := toolx.NewExecutor(l, applier, ex, norm)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	store := statex.NewMemoryStore()

	o, err := New(context.Background(), Deps{
		Store:        store,
		Applier:      applier,
		Tools:        exec,
		Model:        model,
		SystemPrompt: promptx.LoadPromptSet().Reasoner,
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return harness{orch: o, ledger: l, store: store, applier: applier}
}

func toolCallMsg(calls ...schema.ToolCall) *schema.Message {
	return schema.AssistantMessage("", calls)
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}
}

func textEvent(text string) contractx.Event {
	return contractx.Event{CounterpartyID: "56911111111", Kind: contractx.EventText, Text: text}
}

func intPtr(v int) *int { return &v }

func TestNewBindsOneMenuPerKind(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{}
	newHarness(t, model, nil, nil, Config{})

	if len(model.bound) != 3 {
		t.Fatalf("expected three tool bindings, got %d", len(model.bound))
	}
	for _, names := range model.bound {
		joined := strings.Join(names, ",")
		if strings.Contains(joined, "transcribe_audio") && strings.Contains(joined, "caption_image") {
			t.Fatalf("no menu may offer both media tools: %s", joined)
		}
	}
}

func TestHandleTurnQueryThenReply(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{responses: []*schema.Message{
		toolCallMsg(call("c1", "query_pantry", `{"item_name":"leche"}`)),
		schema.AssistantMessage("Te quedan 2 litros de leche, al tiro te aviso si falta.", nil),
	}}
	h := newHarness(t, model, nil, nil, Config{})
	if _, _, err := h.ledger.Upsert("leche", intPtr(2), "liters", nil); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	res, err := h.orch.HandleTurn(context.Background(), textEvent("¿me queda leche?"))
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Reply.CounterpartyID != "56911111111" || !strings.HasPrefix(res.Reply.Text, "Te quedan 2 litros") {
		t.Fatalf("unexpected reply: %#v", res.Reply)
	}
	if res.Iterations != 1 || len(res.ToolResults) != 1 || res.ToolResults[0].Failed() {
		t.Fatalf("unexpected tool results: %#v", res)
	}
	if res.Update != nil {
		t.Fatalf("query must not produce a ledger update: %#v", res.Update)
	}

	if model.calls != 2 {
		t.Fatalf("expected two reasoning steps, got %d", model.calls)
	}
	if model.inputs[0][0].Role != schema.System {
		t.Fatalf("first message must be the system prompt, got %s", model.inputs[0][0].Role)
	}
	second := model.inputs[1]
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.ToolCallID != "c1" || !strings.Contains(last.Content, "leche") {
		t.Fatalf("tool result must be fed back, got %#v", last)
	}

	hist, err := h.store.Load(context.Background(), "56911111111")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(hist.Messages) != 4 {
		t.Fatalf("expected user, tool call, tool result and reply; got %d", len(hist.Messages))
	}
}

func TestHandleTurnUpdateAppliedOnce(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{intent: contractx.ExtractedIntent{
		Action:    contractx.ActionUpdate,
		Items:     []contractx.Item{{Name: "leche", Quantity: intPtr(3), Unit: "liters"}},
		Rationale: "bought milk",
	}}
	model := &scriptedModel{responses: []*schema.Message{
		toolCallMsg(call("c1", "update_pantry", `{"description":"compré 3 litros de leche","operation_type":"in"}`)),
		schema.AssistantMessage("¡Listo! Ya anoté la leche.", nil),
	}}
	h := newHarness(t, model, ex, nil, Config{})

	res, err := h.orch.HandleTurn(context.Background(), textEvent("compré 3 litros de leche"))
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Update == nil || res.Update.Count != 1 || !res.Update.Outcomes[0].Created {
		t.Fatalf("unexpected update: %#v", res.Update)
	}
	if h.applier.calls != 1 {
		t.Fatalf("extraction must be applied once, got %d", h.applier.calls)
	}

	got, err := h.ledger.Get("leche")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != ledgerx.StatusHigh || got.Unit != "liters" || *got.Quantity != 3 {
		t.Fatalf("unexpected entry: %#v", got)
	}
}

func TestHandleTurnBudgetFallback(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{
		responses:  []*schema.Message{toolCallMsg(call("loop", "shopping_list", `{}`))},
		repeatLast: true,
	}
	h := newHarness(t, model, nil, nil, Config{MaxToolIterations: 2})

	res, err := h.orch.HandleTurn(context.Background(), textEvent("¿qué me falta?"))
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if !res.BudgetExhausted || res.Iterations != 2 {
		t.Fatalf("expected budget exhaustion after 2 iterations, got %#v", res)
	}
	if res.Reply.Text != nodex.FallbackReply {
		t.Fatalf("unexpected reply: %q", res.Reply.Text)
	}
	if model.calls != 3 {
		t.Fatalf("expected 3 reasoning steps, got %d", model.calls)
	}

	hist, err := h.store.Load(context.Background(), "56911111111")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := hist.Validate(); err != nil {
		t.Fatalf("saved history must stay consistent: %v", err)
	}
	if last := hist.Messages[len(hist.Messages)-1]; last.Role != statex.RoleAssistant || len(last.ToolCalls) != 0 {
		t.Fatalf("history must end on the fallback reply, got %#v", last)
	}
}

func TestHandleTurnOneToolPerStep(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{responses: []*schema.Message{
		toolCallMsg(
			call("c1", "delete_everything", `{}`),
			call("c2", "shopping_list", `{}`),
		),
		toolCallMsg(call("c3", "query_pantry", `not json`)),
		schema.AssistantMessage("Uy, no pude hacer eso.", nil),
	}}
	h := newHarness(t, model, nil, nil, Config{})

	res, err := h.orch.HandleTurn(context.Background(), textEvent("borra todo"))
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Iterations != 2 {
		t.Fatalf("expected two dispatches, got %d", res.Iterations)
	}

	codes := map[string]contractx.ToolErrorCode{}
	for _, tr := range res.ToolResults {
		codes[tr.CallID] = tr.Code
	}
	want := map[string]contractx.ToolErrorCode{
		"c1": contractx.ToolErrUnknownTool,
		"c2": contractx.ToolErrSkipped,
		"c3": contractx.ToolErrInvalidArgs,
	}
	for id, code := range want {
		if codes[id] != code {
			t.Fatalf("call %s: expected %s, got %q", id, code, codes[id])
		}
	}
	if h.applier.calls != 0 {
		t.Fatalf("skipped shopping_list must not run, applier calls=%d", h.applier.calls)
	}
}

func TestHandleTurnImageExtractionReconciled(t *testing.T) {
	t.Parallel()

	intent := contractx.ExtractedIntent{
		Action: contractx.ActionCreate,
		Items:  []contractx.Item{{Name: "arroz", Quantity: intPtr(2), Unit: "kg"}},
	}
	norm := &fakeNormalizer{out: media.Normalized{Kind: media.KindImage, Text: "2 kg de arroz", Intent: &intent}}
	model := &scriptedModel{responses: []*schema.Message{
		schema.AssistantMessage("¡Bacán! Anoté el arroz.", nil),
	}}
	h := newHarness(t, model, nil, norm, Config{})

	res, err := h.orch.HandleTurn(context.Background(), contractx.Event{
		CounterpartyID: "56922222222",
		Kind:           contractx.EventImage,
		Media:          &contractx.MediaRef{Path: "/tmp/boleta.jpg"},
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Iterations != 0 || len(res.ToolResults) != 1 || res.ToolResults[0].Tool != contractx.ToolCaptionImage {
		t.Fatalf("unexpected results: %#v", res)
	}
	if res.Update == nil || res.Update.OriginalAction != contractx.ActionCreate {
		t.Fatalf("media extraction must be applied at the end of the turn: %#v", res.Update)
	}
	if got, err := h.ledger.Get("arroz"); err != nil || got.Status != ledgerx.StatusMedium {
		t.Fatalf("unexpected entry %#v err=%v", got, err)
	}

	first := model.inputs[0]
	if last := first[len(first)-1]; last.Role != schema.Tool || !strings.Contains(last.Content, "arroz") {
		t.Fatalf("normalized text must reach the reasoner, got %#v", last)
	}
}

func TestHandleTurnImageExtractionSurvivesReadOnlyTool(t *testing.T) {
	t.Parallel()

	intent := contractx.ExtractedIntent{
		Action: contractx.ActionCreate,
		Items:  []contractx.Item{{Name: "arroz", Quantity: intPtr(2), Unit: "kg"}},
	}
	norm := &fakeNormalizer{out: media.Normalized{Kind: media.KindImage, Text: "2 kg de arroz", Intent: &intent}}
	model := &scriptedModel{responses: []*schema.Message{
		toolCallMsg(call("c1", "shopping_list", `{}`)),
		schema.AssistantMessage("Anoté el arroz y no te falta nada.", nil),
	}}
	h := newHarness(t, model, nil, norm, Config{})

	res, err := h.orch.HandleTurn(context.Background(), contractx.Event{
		CounterpartyID: "56922222222",
		Kind:           contractx.EventImage,
		Media:          &contractx.MediaRef{Path: "/tmp/despensa.jpg"},
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Update == nil || res.Update.OriginalAction != contractx.ActionCreate {
		t.Fatalf("turn update must be the photo extraction, got %#v", res.Update)
	}
	got, err := h.ledger.Get("arroz")
	if err != nil || got.Quantity == nil || *got.Quantity != 2 || got.Unit != "kg" {
		t.Fatalf("photo extraction must reach the ledger, got %#v err=%v", got, err)
	}
	if h.applier.calls != 2 {
		t.Fatalf("expected shopping_list and the extraction applied once each, got %d", h.applier.calls)
	}
}

func TestHandleTurnSerializesSameCounterparty(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{
		responses: []*schema.Message{
			toolCallMsg(call("c1", "shopping_list", `{}`)),
			schema.AssistantMessage("Primera.", nil),
			toolCallMsg(call("c2", "shopping_list", `{}`)),
			schema.AssistantMessage("Segunda.", nil),
		},
		delay: 20 * time.Millisecond,
	}
	h := newHarness(t, model, nil, nil, Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, text := range []string{"¿qué me falta?", "¿y ahora?"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			if _, err := h.orch.HandleTurn(context.Background(), textEvent(text)); err != nil {
				errs <- err
			}
		}(text)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	hist, err := h.store.Load(context.Background(), "56911111111")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := hist.Validate(); err != nil {
		t.Fatalf("history must stay consistent: %v", err)
	}
	if len(hist.Messages) != 8 {
		t.Fatalf("both turns must be kept, got %d messages", len(hist.Messages))
	}
	wantRoles := []statex.Role{
		statex.RoleUser, statex.RoleAssistant, statex.RoleTool, statex.RoleAssistant,
		statex.RoleUser, statex.RoleAssistant, statex.RoleTool, statex.RoleAssistant,
	}
	for i, role := range wantRoles {
		if hist.Messages[i].Role != role {
			t.Fatalf("message %d: expected %s, got %s", i, role, hist.Messages[i].Role)
		}
	}
	if hist.Messages[1].ToolCalls[0].ID != "c1" || hist.Messages[5].ToolCalls[0].ID != "c2" {
		t.Fatalf("turns interleaved: %#v", hist.Messages)
	}
}

func TestHandleTurnInvalidEvent(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{}
	h := newHarness(t, model, nil, nil, Config{})

	events := []contractx.Event{
		{Kind: contractx.EventText, Text: "hola"},
		{CounterpartyID: "cp", Kind: contractx.EventText, Text: "   "},
		{CounterpartyID: "cp", Kind: contractx.EventAudio},
		{CounterpartyID: "cp", Kind: "VIDEO", Text: "x"},
	}
	for _, ev := range events {
		if _, err := h.orch.HandleTurn(context.Background(), ev); !errors.Is(err, contractx.ErrInvalidEvent) {
			t.Fatalf("event %#v: expected ErrInvalidEvent, got %v", ev, err)
		}
	}
	if model.calls != 0 {
		t.Fatalf("invalid events must never reach the reasoner")
	}
}

func TestHandleTurnModelFailure(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{err: errors.New("connection reset")}
	h := newHarness(t, model, nil, nil, Config{})

	_, err := h.orch.HandleTurn(context.Background(), textEvent("hola"))
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
	if _, err := h.store.Load(context.Background(), "56911111111"); !errors.Is(err, statex.ErrHistoryNotFound) {
		t.Fatalf("failed turn must not persist history, got %v", err)
	}
}

func TestHandleTurnKeepsHistoryAcrossTurns(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{responses: []*schema.Message{
		schema.AssistantMessage("¡Hola! ¿Qué compraste?", nil),
		schema.AssistantMessage("Dale.", nil),
	}}
	h := newHarness(t, model, nil, nil, Config{})

	for _, text := range []string{"hola", "nada todavía"} {
		if _, err := h.orch.HandleTurn(context.Background(), textEvent(text)); err != nil {
			t.Fatalf("HandleTurn(%q) error = %v", text, err)
		}
	}

	second := model.inputs[1]
	if len(second) != 4 {
		t.Fatalf("expected system + 3 history messages, got %d", len(second))
	}
	if second[1].Content != "hola" || second[3].Content != "nada todavía" {
		t.Fatalf("unexpected history order: %q / %q", second[1].Content, second[3].Content)
	}
}
