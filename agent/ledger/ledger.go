package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("ledger entry not found")
	ErrInvalidStatus = errors.New("invalid status")
	ErrEmptyName     = errors.New("entry name is empty")
	ErrNegativeQty   = errors.New("quantity must be >= 0")
)

const DefaultUnit = "unit"

type Status string

const (
	StatusLow    Status = "LOW"
	StatusMedium Status = "MEDIUM"
	StatusHigh   Status = "HIGH"
)

func (s Status) Valid() bool {
	switch s {
	case StatusLow, StatusMedium, StatusHigh:
		return true
	default:
		return false
	}
}

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// DeriveStatus maps a quantity to LOW (0), MEDIUM (1-2) or HIGH (>2).
func DeriveStatus(quantity int) Status {
	switch {
	case quantity <= 0:
		return StatusLow
	case quantity <= 2:
		return StatusMedium
	default:
		return StatusHigh
	}
}

type Entry struct {
	Name      string    `json:"name"`
	Quantity  *int      `json:"quantity,omitempty"`
	Unit      string    `json:"unit"`
	Status    Status    `json:"status"`
	Override  bool      `json:"override,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusMismatch reports an explicit status that contradicts the quantity.
func (e Entry) StatusMismatch() bool {
	if !e.Override || e.Quantity == nil {
		return false
	}
	return DeriveStatus(*e.Quantity) != e.Status
}

func (e Entry) clone() Entry {
	if e.Quantity != nil {
		q := *e.Quantity
		e.Quantity = &q
	}
	return e
}

// CanonicalName is the storage key for a user-facing item name.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Ledger is the in-process pantry inventory. Same-key writes are last-write-wins.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	now     func() time.Time
}

func New() *Ledger {
	return &Ledger{
		entries: make(map[string]*Entry, 16),
		now:     time.Now,
	}
}

func (l *Ledger) Get(name string) (Entry, error) {
	key := CanonicalName(name)
	if key == "" {
		return Entry{}, ErrEmptyName
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return e.clone(), nil
}

// Find lists entries whose key contains query, case-insensitively, in insertion order.
func (l *Ledger) Find(query string) []Entry {
	q := CanonicalName(query)

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, 4)
	for _, key := range l.order {
		if q == "" || strings.Contains(key, q) {
			out = append(out, l.entries[key].clone())
		}
	}
	return out
}

// Upsert creates or updates an entry. A nil quantity keeps the stored one, an empty
// unit keeps the stored unit, and a nil status derives from the quantity.
func (l *Ledger) Upsert(name string, quantity *int, unit string, status *Status) (Entry, bool, error) {
	key := CanonicalName(name)
	if key == "" {
		return Entry{}, false, ErrEmptyName
	}
	if quantity != nil && *quantity < 0 {
		return Entry{}, false, fmt.Errorf("%w: %s=%d", ErrNegativeQty, key, *quantity)
	}
	if status != nil && !status.Valid() {
		return Entry{}, false, fmt.Errorf("%w: %q", ErrInvalidStatus, string(*status))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.entries[key]
	if !exists {
		e = &Entry{Name: key, Unit: DefaultUnit, Status: StatusMedium}
		l.entries[key] = e
		l.order = append(l.order, key)
	}

	if quantity != nil {
		q := *quantity
		e.Quantity = &q
	}
	if u := strings.TrimSpace(unit); u != "" {
		e.Unit = u
	}

	switch {
	case status != nil:
		e.Status = *status
		e.Override = true
	case quantity != nil:
		e.Status = DeriveStatus(*quantity)
		e.Override = false
	}
	e.UpdatedAt = l.now().UTC()

	return e.clone(), !exists, nil
}

func (l *Ledger) ListAll() []Entry {
	return l.Find("")
}

func (l *Ledger) ListLowStock() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, 4)
	for _, key := range l.order {
		if e := l.entries[key]; e.Status == StatusLow {
			out = append(out, e.clone())
		}
	}
	return out
}

// Mismatches lists entries whose explicit status contradicts their quantity.
func (l *Ledger) Mismatches() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0)
	for _, key := range l.order {
		if e := l.entries[key]; e.StatusMismatch() {
			out = append(out, e.clone())
		}
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Snapshot returns a copy of every entry in insertion order.
func (l *Ledger) Snapshot() []Entry {
	return l.ListAll()
}

// Restore replaces the ledger content. Entries with an empty name are skipped.
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*Entry, len(entries))
	l.order = l.order[:0]
	for _, in := range entries {
		key := CanonicalName(in.Name)
		if key == "" {
			continue
		}
		e := in.clone()
		e.Name = key
		if strings.TrimSpace(e.Unit) == "" {
			e.Unit = DefaultUnit
		}
		if !e.Status.Valid() {
			if e.Quantity != nil {
				e.Status = DeriveStatus(*e.Quantity)
			} else {
				e.Status = StatusMedium
			}
		}
		if _, dup := l.entries[key]; !dup {
			l.order = append(l.order, key)
		}
		l.entries[key] = &e
	}
}
