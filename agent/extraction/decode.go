package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	contractx "github.com/tanpawarit/despensero/agent/contract"
	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
)

type rawIntent struct {
	Action    string    `json:"action"`
	Items     []rawItem `json:"items"`
	Rationale string    `json:"rationale"`
}

type rawItem struct {
	Name     string       `json:"name"`
	Quantity *json.Number `json:"quantity"`
	Unit     string       `json:"unit"`
}

// DecodeIntent parses model output into an intent. Anything that does not
// conform yields DefaultIntent.
func DecodeIntent(raw string) contractx.ExtractedIntent {
	intent, err := decodeIntent(raw)
	if err != nil {
		return contractx.DefaultIntent()
	}
	return intent
}

func decodeIntent(raw string) (contractx.ExtractedIntent, error) {
	body := stripFences(raw)
	if body == "" {
		return contractx.ExtractedIntent{}, fmt.Errorf("%w: empty response", contractx.ErrSchemaViolation)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()

	var in rawIntent
	if err := dec.Decode(&in); err != nil {
		return contractx.ExtractedIntent{}, fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return contractx.ExtractedIntent{}, fmt.Errorf("%w: trailing data after the object", contractx.ErrSchemaViolation)
	}

	action, ok := contractx.ParseAction(in.Action)
	if !ok {
		return contractx.ExtractedIntent{}, fmt.Errorf("%w: unknown action %q", contractx.ErrSchemaViolation, in.Action)
	}

	out := contractx.ExtractedIntent{
		Action:    action,
		Items:     make([]contractx.Item, 0, len(in.Items)),
		Rationale: strings.TrimSpace(in.Rationale),
	}
	if action == contractx.ActionShoppingList {
		return out, nil
	}

	for i, it := range in.Items {
		item, err := decodeItem(it)
		if err != nil {
			return contractx.ExtractedIntent{}, fmt.Errorf("item %d: %w", i, err)
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func decodeItem(it rawItem) (contractx.Item, error) {
	name := ledgerx.CanonicalName(it.Name)
	if name == "" {
		return contractx.Item{}, fmt.Errorf("%w: item name is empty", contractx.ErrSchemaViolation)
	}

	item := contractx.Item{
		Name: name,
		Unit: strings.TrimSpace(it.Unit),
	}
	if item.Unit == "" {
		item.Unit = ledgerx.DefaultUnit
	}

	if it.Quantity != nil {
		q, err := quantity(*it.Quantity)
		if err != nil {
			return contractx.Item{}, err
		}
		item.Quantity = &q
	}
	return item, nil
}

// quantity accepts integers and floats in [0, MaxInt32]; fractions round to
// nearest.
func quantity(n json.Number) (int, error) {
	if v, err := n.Int64(); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("%w: negative quantity %d", contractx.ErrSchemaViolation, v)
		}
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("%w: quantity %d out of range", contractx.ErrSchemaViolation, v)
		}
		return int(v), nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: quantity %q is not a number", contractx.ErrSchemaViolation, n.String())
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: negative quantity %v", contractx.ErrSchemaViolation, f)
	}
	r := math.Round(f)
	if r > math.MaxInt32 {
		return 0, fmt.Errorf("%w: quantity %v out of range", contractx.ErrSchemaViolation, f)
	}
	return int(r), nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
