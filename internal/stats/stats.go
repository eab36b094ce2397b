package stats

import (
	"sort"
	"sync"
	"time"
)

const (
	PositionsIngested      = "positions_ingested"
	PositionsProcessed     = "positions_processed"
	PositionsDropped       = "positions_dropped"
	PositionsInvalid       = "positions_invalid"
	PositionsUnknownDevice = "positions_unknown_device"
	DeliveriesOK           = "deliveries_ok"
	DeliveriesFailed       = "deliveries_failed"
	ForwardsOK             = "forwards_ok"
	ForwardsFailed         = "forwards_failed"
	SummaryRuns            = "summary_runs"
	DedupeRuns             = "dedupe_runs"
)

type Store struct {
	mu       sync.RWMutex
	counters map[string]int64
	started  time.Time
}

func NewStore() *Store {
	return &Store{
		counters: make(map[string]int64),
		started:  time.Now().UTC(),
	}
}

func (s *Store) Inc(name string) {
	s.Add(name, 1)
}

func (s *Store) Add(name string, delta int64) {
	if name == "" || delta == 0 {
		return
	}
	s.mu.Lock()
	s.counters[name] += delta
	s.mu.Unlock()
}

func (s *Store) IncEvent(eventType string) {
	if eventType == "" {
		return
	}
	s.Add("events_"+eventType, 1)
}

func (s *Store) Get(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}

func (s *Store) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.counters))
	for name, value := range s.counters {
		out[name] = value
	}
	return out
}

func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.counters))
	for name := range s.counters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Started() time.Time {
	return s.started
}

func (s *Store) Uptime() time.Duration {
	return time.Since(s.started)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]int64)
}
