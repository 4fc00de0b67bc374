package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu    sync.Mutex
	saved []Entry
	saves int
	err   error
}

func (m *memStore) SaveAll(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append([]Entry(nil), entries...)
	m.saves++
	return nil
}

func (m *memStore) LoadAll(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]Entry(nil), m.saved...), nil
}

func TestSyncerRestoreEmptyStoreKeepsSeed(t *testing.T) {
	t.Parallel()

	l := New()
	if _, _, err := l.Upsert("leche", intPtr(0), "", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, err := NewSyncer(l, &memStore{}, "")
	if err != nil {
		t.Fatalf("new syncer: %v", err)
	}
	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("seed was dropped")
	}
}

func TestSyncerFlushAndRestore(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	src := New()
	if _, _, err := src.Upsert("pan", intPtr(2), "loaf", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, _ := NewSyncer(src, store, "")
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	dst := New()
	s2, _ := NewSyncer(dst, store, "")
	if err := s2.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := dst.Get("pan")
	if err != nil || got.Unit != "loaf" || *got.Quantity != 2 {
		t.Fatalf("unexpected restored entry: %+v err=%v", got, err)
	}
}

func TestSyncerRunFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	l := New()
	if _, _, err := l.Upsert("arroz", intPtr(0), "", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Yearly spec so only the shutdown flush fires.
	s, _ := NewSyncer(l, store, "0 0 0 1 1 *")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
	if store.saves != 1 || len(store.saved) != 1 {
		t.Fatalf("expected one shutdown flush, saves=%d", store.saves)
	}
}

func TestSyncerRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s, _ := NewSyncer(New(), &memStore{}, "not a spec")
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected spec error")
	}
}

func TestSyncerPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s, _ := NewSyncer(New(), &memStore{err: boom}, "")
	if err := s.Restore(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
