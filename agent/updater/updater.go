package updater

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	ledgerx "github.com/tanpawarit/despensero/agent/ledger"
	metricsx "github.com/tanpawarit/despensero/pkg/metrics"
)

var _ contractx.IntentApplier = (*Updater)(nil)

// Updater applies extracted intents to the ledger. Items are independent: a failed
// upsert is recorded on its outcome and the rest still apply.
type Updater struct {
	ledger *ledgerx.Ledger
}

func New(l *ledgerx.Ledger) *Updater {
	return &Updater{ledger: l}
}

func (u *Updater) Apply(intent contractx.ExtractedIntent) contractx.UpdateResult {
	var outcomes []contractx.Outcome

	switch intent.Action {
	case contractx.ActionUpdate, contractx.ActionCreate:
		outcomes = u.upsertAll(intent.Items)
	case contractx.ActionQuery:
		if len(intent.Items) == 0 {
			outcomes = listing(u.ledger.ListAll())
		} else {
			outcomes = u.lookupAll(intent.Items)
		}
	case contractx.ActionShoppingList:
		outcomes = listing(u.ledger.ListLowStock())
	default:
		log.Warn().Str("action", string(intent.Action)).Msg("updater: unknown action, nothing applied")
		outcomes = []contractx.Outcome{}
	}

	return contractx.UpdateResult{
		OriginalAction: intent.Action,
		Outcomes:       outcomes,
		Count:          len(outcomes),
	}
}

func (u *Updater) upsertAll(items []contractx.Item) []contractx.Outcome {
	out := make([]contractx.Outcome, 0, len(items))
	for _, it := range items {
		name := ledgerx.CanonicalName(it.Name)
		entry, created, err := u.ledger.Upsert(name, it.Quantity, it.Unit, nil)
		if err != nil {
			metricsx.LedgerMutations.WithLabelValues("error").Inc()
			out = append(out, contractx.Outcome{
				Name:  name,
				Error: err.Error(),
			})
			continue
		}

		op := "updated"
		if created {
			op = "created"
		}
		metricsx.LedgerMutations.WithLabelValues(op).Inc()

		e := entry
		out = append(out, contractx.Outcome{
			Name:    entry.Name,
			Found:   true,
			Created: created,
			Entry:   &e,
			Message: describeWrite(entry, created),
		})
	}
	return out
}

func (u *Updater) lookupAll(items []contractx.Item) []contractx.Outcome {
	out := make([]contractx.Outcome, 0, len(items))
	for _, it := range items {
		name := ledgerx.CanonicalName(it.Name)
		entry, err := u.ledger.Get(name)
		if err != nil {
			// Fall back to the first substring match, e.g. "leche" finds "leche descremada".
			if matches := u.ledger.Find(name); len(matches) > 0 {
				entry, err = matches[0], nil
			}
		}
		if err != nil {
			out = append(out, contractx.Outcome{
				Name:    name,
				Found:   false,
				Message: fmt.Sprintf("No tengo registrado \"%s\" en la despensa.", name),
			})
			continue
		}

		e := entry
		out = append(out, contractx.Outcome{
			Name:    entry.Name,
			Found:   true,
			Entry:   &e,
			Message: DescribeEntry(entry),
		})
	}
	return out
}

func listing(entries []ledgerx.Entry) []contractx.Outcome {
	out := make([]contractx.Outcome, 0, len(entries))
	for _, entry := range entries {
		e := entry
		out = append(out, contractx.Outcome{
			Name:    entry.Name,
			Found:   true,
			Entry:   &e,
			Message: DescribeEntry(entry),
		})
	}
	return out
}

func describeWrite(e ledgerx.Entry, created bool) string {
	verb := "Actualicé"
	if created {
		verb = "Agregué"
	}
	return fmt.Sprintf("%s %s", verb, DescribeEntry(e))
}

// DescribeEntry renders an entry in one line, distinguishing a known zero from an
// unknown quantity.
func DescribeEntry(e ledgerx.Entry) string {
	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteString(": ")
	if e.Quantity == nil {
		b.WriteString("cantidad sin registrar")
	} else {
		fmt.Fprintf(&b, "%d %s", *e.Quantity, e.Unit)
	}
	fmt.Fprintf(&b, " (%s)", e.Status)
	if e.StatusMismatch() {
		b.WriteString(" [estado asignado a mano]")
	}
	return b.String()
}

// Summary is a short user-facing recap of an update result.
func Summary(res contractx.UpdateResult) string {
	if len(res.Outcomes) == 0 {
		switch res.OriginalAction {
		case contractx.ActionShoppingList:
			return "No falta nada, la despensa está al día."
		case contractx.ActionQuery:
			return "La despensa está vacía."
		default:
			return "No hubo cambios en la despensa."
		}
	}

	lines := make([]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		switch {
		case o.Error != "":
			lines = append(lines, fmt.Sprintf("%s: no se pudo guardar (%s)", o.Name, o.Error))
		default:
			lines = append(lines, o.Message)
		}
	}
	return strings.Join(lines, "\n")
}
