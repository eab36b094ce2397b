package events

import (
	"sync"

	"fleetguard/internal/model"
)

type Entry struct {
	Seq   uint64      `json:"seq"`
	Event model.Event `json:"event"`
}

type Ring struct {
	mu    sync.RWMutex
	buf   []Entry
	limit int
	seq   uint64
}

func NewRing(limit int) *Ring {
	if limit <= 0 {
		limit = 1000
	}
	return &Ring{limit: limit}
}

func (r *Ring) Add(event model.Event) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	entry := Entry{Seq: r.seq, Event: event}
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, entry)
		return entry.Seq
	}
	copy(r.buf, r.buf[1:])
	r.buf[len(r.buf)-1] = entry
	return entry.Seq
}

func (r *Ring) List(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.buf) {
		limit = len(r.buf)
	}
	out := make([]Entry, 0, limit)
	start := len(r.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(r.buf); i++ {
		out = append(out, r.buf[i])
	}
	return out
}

func (r *Ring) Since(seq uint64) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0)
	for _, entry := range r.buf {
		if entry.Seq > seq {
			out = append(out, entry)
		}
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
}
