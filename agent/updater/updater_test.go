package updater

import (
	"reflect"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/despensero/agent/contract"
	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
)

func intPtr(v int) *int { return &v }

func TestApplyPurchaseCreatesEntry(t *testing.T) {
	t.Parallel()

	l := ledgerx.New()
	res := New(l).Apply(contractx.ExtractedIntent{
		Action: contractx.ActionUpdate,
		Items:  []contractx.Item{{Name: "milk", Quantity: intPtr(3), Unit: "liter"}},
	})

	if res.OriginalAction != contractx.ActionUpdate || res.Count != 1 {
		t.Fatalf("unexpected result: %#v", res)
	}
	o := res.Outcomes[0]
	if !o.Created || !o.Found || o.Entry == nil {
		t.Fatalf("unexpected outcome: %#v", o)
	}

	got, err := l.Get("milk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got.Quantity != 3 || got.Unit != "liter" || got.Status != ledgerx.StatusHigh {
		t.Fatalf("unexpected entry: %#v", got)
	}
}

func TestApplyDerivesStatusFromQuantity(t *testing.T) {
	t.Parallel()

	l := ledgerx.New()
	New(l).Apply(contractx.ExtractedIntent{
		Action: contractx.ActionCreate,
		Items: []contractx.Item{
			{Name: "milk", Quantity: intPtr(2), Unit: "liter"},
			{Name: "gas", Quantity: intPtr(0), Unit: "unit"},
		},
	})

	milk, _ := l.Get("milk")
	gas, _ := l.Get("gas")
	if milk.Status != ledgerx.StatusMedium || gas.Status != ledgerx.StatusLow {
		t.Fatalf("unexpected statuses: milk=%s gas=%s", milk.Status, gas.Status)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	l := ledgerx.New()
	u := New(l)
	intent := contractx.ExtractedIntent{
		Action: contractx.ActionUpdate,
		Items:  []contractx.Item{{Name: "huevos", Quantity: intPtr(12), Unit: "unit"}},
	}

	u.Apply(intent)
	first := stripTimes(l.Snapshot())
	second := u.Apply(intent)
	if second.Outcomes[0].Created {
		t.Fatalf("second application must not create")
	}
	if !reflect.DeepEqual(first, stripTimes(l.Snapshot())) {
		t.Fatalf("ledger changed on re-application")
	}
}

func TestApplyShoppingList(t *testing.T) {
	t.Parallel()

	l := ledgerx.New()
	u := New(l)
	u.Apply(contractx.ExtractedIntent{
		Action: contractx.ActionUpdate,
		Items: []contractx.Item{
			{Name: "rice", Quantity: intPtr(0), Unit: "kg"},
			{Name: "eggs", Quantity: intPtr(12), Unit: "unit"},
		},
	})

	res := u.Apply(contractx.ExtractedIntent{Action: contractx.ActionShoppingList, Items: []contractx.Item{}})
	if res.Count != 1 || res.Outcomes[0].Name != "rice" {
		t.Fatalf("expected exactly [rice], got %#v", res.Outcomes)
	}
}

func TestApplyQuery(t *testing.T) {
	t.Parallel()

	l := ledgerx.New()
	if _, _, err := l.Upsert("leche descremada", intPtr(1), "liter", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := l.Upsert("pan", nil, "", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	u := New(l)

	res := u.Apply(contractx.ExtractedIntent{
		Action: contractx.ActionQuery,
		Items:  []contractx.Item{{Name: "leche"}, {Name: "unicorn milk"}, {Name: "PAN"}},
	})
	if res.Count != 3 {
		t.Fatalf("unexpected count: %d", res.Count)
	}
	if !res.Outcomes[0].Found || res.Outcomes[0].Name != "leche descremada" {
		t.Fatalf("substring lookup failed: %#v", res.Outcomes[0])
	}
	if res.Outcomes[1].Found || !strings.Contains(res.Outcomes[1].Message, "unicorn milk") {
		t.Fatalf("expected not found outcome: %#v", res.Outcomes[1])
	}
	if !res.Outcomes[2].Found || !strings.Contains(res.Outcomes[2].Message, "sin registrar") {
		t.Fatalf("found-without-quantity must be distinguishable: %#v", res.Outcomes[2])
	}

	all := u.Apply(contractx.ExtractedIntent{Action: contractx.ActionQuery})
	if all.Count != 2 {
		t.Fatalf("empty query must list everything, got %d", all.Count)
	}
	if l.Len() != 2 {
		t.Fatalf("queries must not write")
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	if got := Summary(contractx.UpdateResult{OriginalAction: contractx.ActionShoppingList}); !strings.Contains(got, "No falta nada") {
		t.Fatalf("unexpected empty shopping summary: %q", got)
	}

	got := Summary(contractx.UpdateResult{
		OriginalAction: contractx.ActionUpdate,
		Outcomes: []contractx.Outcome{
			{Name: "leche", Message: "Agregué leche: 3 liter (HIGH)"},
			{Name: "x", Error: "boom"},
		},
	})
	if !strings.Contains(got, "Agregué leche") || !strings.Contains(got, "no se pudo guardar") {
		t.Fatalf("unexpected summary: %q", got)
	}
}

func stripTimes(entries []ledgerx.Entry) []ledgerx.Entry {
	for i := range entries {
		entries[i].UpdatedAt = time.Time{}
	}
	return entries
}
