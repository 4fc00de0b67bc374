package channel

import "sync/atomic"

// Stats are process-local webhook counters served on /stats.
type Stats struct {
	total        atomic.Int64
	fromMeta     atomic.Int64
	notFromMeta  atomic.Int64
	withMessages atomic.Int64
	testMessages atomic.Int64
	realMessages atomic.Int64
}

type StatsSnapshot struct {
	TotalRequests int64 `json:"total_requests"`
	FromMeta      int64 `json:"from_meta"`
	NotFromMeta   int64 `json:"not_from_meta"`
	WithMessages  int64 `json:"with_messages"`
	TestMessages  int64 `json:"test_messages"`
	RealMessages  int64 `json:"real_messages"`
}

func NewStats() *Stats {
	return &Stats{}
}

// ObserveRequest counts one inbound webhook POST.
func (s *Stats) ObserveRequest(fromMeta bool) {
	s.total.Add(1)
	if fromMeta {
		s.fromMeta.Add(1)
		return
	}
	s.notFromMeta.Add(1)
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalRequests: s.total.Load(),
		FromMeta:      s.fromMeta.Load(),
		NotFromMeta:   s.notFromMeta.Load(),
		WithMessages:  s.withMessages.Load(),
		TestMessages:  s.testMessages.Load(),
		RealMessages:  s.realMessages.Load(),
	}
}
