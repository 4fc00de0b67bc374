package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	"github.com/tanpawarit/despensero/agent/extraction"
	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
	"github.com/tanpawarit/despensero/agent/media"
	"github.com/tanpawarit/despensero/agent/updater"
	metricsx "github.com/tanpawarit/despensero/pkg/metrics"
)

const (
	OperationIn     = "in"
	OperationOut    = "out"
	OperationUpdate = "update"
)

// MediaNormalizer is satisfied by *media.Normalizer.
type MediaNormalizer interface {
	Transcribe(ctx context.Context, ref contractx.MediaRef) (media.Normalized, error)
	CaptionImage(ctx context.Context, ref contractx.MediaRef) (media.Normalized, error)
}

// Call is one tool request plus the turn context it may need.
type Call struct {
	Request contractx.ToolRequest
	Media   *contractx.MediaRef
}

type handler func(ctx context.Context, call Call) contractx.ToolResult

type QueryOutput struct {
	Query   string          `json:"query,omitempty"`
	Entries []ledgerx.Entry `json:"entries"`
	Summary string          `json:"summary"`
}

type MediaOutput struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Executor dispatches tool requests through a fixed table. It never returns a
// Go error: every failure is a ToolResult with a code.
type Executor struct {
	ledger     *ledgerx.Ledger
	applier    contractx.IntentApplier
	extractor  contractx.Extractor
	normalizer MediaNormalizer
	handlers   map[contractx.ToolName]handler
}

func NewExecutor(
	l *ledgerx.Ledger,
	applier contractx.IntentApplier,
	extractor contractx.Extractor,
	normalizer MediaNormalizer,
) (*Executor, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if applier == nil {
		return nil, errors.New("intent applier is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}

	e := &Executor{
		ledger:     l,
		applier:    applier,
		extractor:  extractor,
		normalizer: normalizer,
	}
	e.handlers = map[contractx.ToolName]handler{
		contractx.ToolQueryPantry:     e.queryPantry,
		contractx.ToolUpdatePantry:    e.updatePantry,
		contractx.ToolApplyExtraction: e.applyExtraction,
		contractx.ToolShoppingList:    e.shoppingList,
		contractx.ToolTranscribeAudio: e.transcribeAudio,
		contractx.ToolCaptionImage:    e.captionImage,
	}
	return e, nil
}

// Execute validates the tool against menu before dispatching.
func (e *Executor) Execute(ctx context.Context, menu Menu, call Call) contractx.ToolResult {
	req := call.Request
	var res contractx.ToolResult

	h, known := e.handlers[req.Tool]
	switch {
	case !known || !menu.Allows(req.Tool):
		res = Failure(req, contractx.ToolErrUnknownTool, fmt.Sprintf("%v: %q (available: %s)", contractx.ErrUnknownTool, req.Tool, joinNames(menu.Names())))
	default:
		res = h(ctx, call)
		res.CallID = req.CallID
		res.Tool = req.Tool
	}

	code := string(res.Code)
	if code == "" {
		code = "ok"
	}
	metricsx.ToolCalls.WithLabelValues(string(req.Tool), code).Inc()
	if res.Failed() {
		log.Warn().Str("tool", string(req.Tool)).Str("code", code).Str("error", res.Error).Msg("tool call failed")
	}
	return res
}

func (e *Executor) queryPantry(_ context.Context, call Call) contractx.ToolResult {
	query, _, err := stringArg(call.Request.Args, "item_name")
	if err != nil {
		return Failure(call.Request, contractx.ToolErrInvalidArgs, err.Error())
	}

	out := QueryOutput{Query: ledgerx.CanonicalName(query)}
	if out.Query == "" {
		out.Entries = e.ledger.ListAll()
	} else {
		out.Entries = e.ledger.Find(out.Query)
	}

	switch {
	case len(out.Entries) > 0:
		lines := make([]string, 0, len(out.Entries))
		for _, entry := range out.Entries {
			lines = append(lines, updater.DescribeEntry(entry))
		}
		out.Summary = strings.Join(lines, "\n")
	case out.Query != "":
		out.Summary = fmt.Sprintf("No tengo registrado \"%s\" en la despensa.", out.Query)
	default:
		out.Summary = "La despensa está vacía."
	}
	return contractx.ToolResult{Result: out}
}

func (e *Executor) updatePantry(ctx context.Context, call Call) contractx.ToolResult {
	desc, ok, err := stringArg(call.Request.Args, "description")
	if err != nil || !ok || strings.TrimSpace(desc) == "" {
		return Failure(call.Request, contractx.ToolErrInvalidArgs, "description is required")
	}
	op, _, err := stringArg(call.Request.Args, "operation_type")
	if err != nil {
		return Failure(call.Request, contractx.ToolErrInvalidArgs, err.Error())
	}
	op = strings.ToLower(strings.TrimSpace(op))
	switch op {
	case "":
		op = OperationUpdate
	case OperationIn, OperationOut, OperationUpdate:
	default:
		return Failure(call.Request, contractx.ToolErrInvalidArgs, fmt.Sprintf("operation_type must be in, out or update, got %q", op))
	}

	intent, err := e.extractor.Extract(ctx, "operation: "+op+"\n"+strings.TrimSpace(desc))
	if err != nil {
		return Failure(call.Request, CodeFor(err), err.Error())
	}
	if intent.Failed() {
		return contractx.ToolResult{
			Result: "No pude identificar productos en la descripción; pide al usuario que lo diga de otra forma.",
		}
	}
	return e.apply(intent)
}

func (e *Executor) applyExtraction(_ context.Context, call Call) contractx.ToolResult {
	raw, err := json.Marshal(call.Request.Args)
	if err != nil {
		return Failure(call.Request, contractx.ToolErrInvalidArgs, err.Error())
	}
	intent := extraction.DecodeIntent(string(raw))
	if intent.Failed() {
		return Failure(call.Request, contractx.ToolErrInvalidArgs, "extraction does not match the schema")
	}
	return e.apply(intent)
}

func (e *Executor) shoppingList(_ context.Context, _ Call) contractx.ToolResult {
	return e.apply(contractx.ExtractedIntent{
		Action: contractx.ActionShoppingList,
		Items:  []contractx.Item{},
	})
}

func (e *Executor) apply(intent contractx.ExtractedIntent) contractx.ToolResult {
	res := e.applier.Apply(intent)
	in := intent
	return contractx.ToolResult{
		Result: updater.Summary(res),
		Intent: &in,
		Update: &res,
	}
}

func (e *Executor) transcribeAudio(ctx context.Context, call Call) contractx.ToolResult {
	return e.normalize(ctx, call, contractx.EventAudio)
}

func (e *Executor) captionImage(ctx context.Context, call Call) contractx.ToolResult {
	return e.normalize(ctx, call, contractx.EventImage)
}

func (e *Executor) normalize(ctx context.Context, call Call, kind contractx.EventKind) contractx.ToolResult {
	if e.normalizer == nil {
		return Failure(call.Request, contractx.ToolErrCapability, "media normalization is not configured")
	}
	if call.Media == nil || strings.TrimSpace(call.Media.Path) == "" {
		return Failure(call.Request, contractx.ToolErrNotFound, contractx.ErrMediaNotFound.Error())
	}

	var (
		out media.Normalized
		err error
	)
	if kind == contractx.EventAudio {
		out, err = e.normalizer.Transcribe(ctx, *call.Media)
	} else {
		out, err = e.normalizer.CaptionImage(ctx, *call.Media)
	}
	return NormalizedResult(call.Request, out, err)
}

// NormalizedResult converts a normalization outcome into a tool result. The
// proposed intent is attached but not applied.
func NormalizedResult(req contractx.ToolRequest, out media.Normalized, err error) contractx.ToolResult {
	if err != nil {
		return Failure(req, CodeFor(err), err.Error())
	}
	if out.SoftError == media.SoftErrorTranscoderUnavailable {
		return Failure(req, contractx.ToolErrTranscoder,
			"No pude convertir el formato de este audio. Pide al usuario que lo escriba o mande otro audio.")
	}

	res := contractx.ToolResult{
		CallID: req.CallID,
		Tool:   req.Tool,
		Result: MediaOutput{Kind: string(out.Kind), Text: out.Text},
	}
	if out.Intent != nil && !out.Intent.Failed() {
		in := *out.Intent
		res.Intent = &in
	}
	return res
}

func Failure(req contractx.ToolRequest, code contractx.ToolErrorCode, msg string) contractx.ToolResult {
	return contractx.ToolResult{
		CallID: req.CallID,
		Tool:   req.Tool,
		Code:   code,
		Error:  msg,
	}
}

// Skipped answers a tool call that arrived after the first one in a single step.
func Skipped(req contractx.ToolRequest) contractx.ToolResult {
	return Failure(req, contractx.ToolErrSkipped, "one tool per step: call it again in the next step if still needed")
}

func CodeFor(err error) contractx.ToolErrorCode {
	switch {
	case errors.Is(err, contractx.ErrUnsupportedFormat):
		return contractx.ToolErrUnsupportedFormat
	case errors.Is(err, contractx.ErrTooLarge):
		return contractx.ToolErrTooLarge
	case errors.Is(err, contractx.ErrMediaNotFound):
		return contractx.ToolErrNotFound
	case errors.Is(err, contractx.ErrTranscoderUnavailable):
		return contractx.ToolErrTranscoder
	case errors.Is(err, contractx.ErrValidation), errors.Is(err, ledgerx.ErrInvalidStatus):
		return contractx.ToolErrInvalidArgs
	default:
		return contractx.ToolErrCapability
	}
}

// Content renders a result as the text of a tool message.
func Content(res contractx.ToolResult) string {
	payload := map[string]any{"ok": !res.Failed()}
	if res.Failed() {
		payload["code"] = res.Code
		payload["error"] = res.Error
	} else {
		payload["result"] = res.Result
	}
	if res.Intent != nil {
		payload["extraction"] = res.Intent
		payload["applied"] = res.Update != nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())
	}
	return string(raw)
}

func stringArg(args map[string]any, key string) (string, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("%s must be a string", key)
	}
	return s, true, nil
}

func joinNames(names []contractx.ToolName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
