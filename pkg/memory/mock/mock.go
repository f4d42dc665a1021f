// Package mock provides in-memory implementations of the memory storage
// interfaces for tests and database-free development runs.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-assistant/cortex/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.Index            = (*Index)(nil)
	_ memory.Queue            = (*Queue)(nil)
	_ memory.InteractionStore = (*InteractionStore)(nil)
)

// Index is an in-memory [memory.Index]. Dense search ranks by cosine
// similarity, sparse search by naive token overlap. Good enough to exercise
// fusion and access-filter logic in tests; not a retrieval-quality stand-in.
type Index struct {
	mu      sync.RWMutex
	records map[string]memory.Record
	// dedup maps owner\x00type\x00hash to the record ID holding that content.
	dedup map[string]string
}

// NewIndex constructs an empty Index.
func NewIndex() *Index {
	return &Index{
		records: make(map[string]memory.Record),
		dedup:   make(map[string]string),
	}
}

func dedupKey(rec memory.Record) string {
	return rec.OwnerID + "\x00" + string(rec.Type) + "\x00" + rec.ContentHash
}

// Upsert implements [memory.Index].
func (x *Index) Upsert(_ context.Context, rec memory.Record) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if existingID, ok := x.dedup[dedupKey(rec)]; ok {
		existing := x.records[existingID]
		if rec.LastSeen.After(existing.LastSeen) {
			existing.LastSeen = rec.LastSeen
			x.records[existingID] = existing
		}
		return false, nil
	}
	x.records[rec.ID] = rec
	x.dedup[dedupKey(rec)] = rec.ID
	return true, nil
}

// Get implements [memory.Index].
func (x *Index) Get(_ context.Context, id string) (*memory.Record, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// DenseSearch implements [memory.Index].
func (x *Index) DenseSearch(_ context.Context, embedding []float32, topN int, filter memory.AccessFilter) ([]memory.RankedRecord, error) {
	return x.search(topN, filter, func(rec memory.Record) float64 {
		if len(rec.Embedding) == 0 {
			return 0
		}
		return memory.CosineSimilarity(embedding, rec.Embedding)
	})
}

// SparseSearch implements [memory.Index].
func (x *Index) SparseSearch(_ context.Context, query string, topN int, filter memory.AccessFilter) ([]memory.RankedRecord, error) {
	qtoks := map[string]bool{}
	for _, t := range strings.Fields(strings.ToLower(query)) {
		qtoks[t] = true
	}
	return x.search(topN, filter, func(rec memory.Record) float64 {
		var overlap float64
		for _, t := range strings.Fields(strings.ToLower(rec.Text)) {
			if qtoks[t] {
				overlap++
			}
		}
		return overlap
	})
}

func (x *Index) search(topN int, filter memory.AccessFilter, score func(memory.Record) float64) ([]memory.RankedRecord, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	superseded := map[string]bool{}
	for _, rec := range x.records {
		if rec.Supersedes != "" {
			superseded[rec.Supersedes] = true
		}
	}

	type scored struct {
		rec memory.Record
		s   float64
	}
	var candidates []scored
	now := time.Now()
	for _, rec := range x.records {
		if superseded[rec.ID] {
			continue
		}
		if rec.TTL > 0 && now.After(rec.CreatedAt.Add(rec.TTL)) {
			continue
		}
		if !visible(rec, filter) {
			continue
		}
		s := score(rec)
		if s <= 0 {
			continue
		}
		candidates = append(candidates, scored{rec, s})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].s != candidates[j].s {
			return candidates[i].s > candidates[j].s
		}
		return candidates[i].rec.ID < candidates[j].rec.ID
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	out := make([]memory.RankedRecord, len(candidates))
	for i, c := range candidates {
		out[i] = memory.RankedRecord{Record: c.rec, Rank: i + 1}
	}
	return out, nil
}

func visible(rec memory.Record, filter memory.AccessFilter) bool {
	switch rec.Scope {
	case memory.ScopePublic, memory.ScopeHousehold:
		return true
	case memory.ScopePrivate:
		return !filter.HouseholdOnly && filter.OwnerID != "" && rec.OwnerID == filter.OwnerID
	}
	return false
}

// Queue is an in-memory [memory.Queue].
type Queue struct {
	mu     sync.Mutex
	nextID int64
	events []memory.Event
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue implements [memory.Queue].
func (q *Queue) Enqueue(_ context.Context, ev memory.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	ev.ID = q.nextID
	if ev.EnqueuedAt.IsZero() {
		ev.EnqueuedAt = time.Now()
	}
	q.events = append(q.events, ev)
	return nil
}

// Dequeue implements [memory.Queue].
func (q *Queue) Dequeue(_ context.Context, limit int) ([]memory.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := limit
	if n > len(q.events) {
		n = len(q.events)
	}
	out := make([]memory.Event, n)
	copy(out, q.events[:n])
	return out, nil
}

// Ack implements [memory.Queue].
func (q *Queue) Ack(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, ev := range q.events {
		if ev.ID == id {
			q.events = append(q.events[:i], q.events[i+1:]...)
			return nil
		}
	}
	return nil
}

// Nack implements [memory.Queue].
func (q *Queue) Nack(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.events {
		if q.events[i].ID == id {
			q.events[i].Attempts++
			return nil
		}
	}
	return nil
}

// Len reports the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// InteractionStore is an in-memory [memory.InteractionStore].
type InteractionStore struct {
	mu  sync.Mutex
	log []memory.Interaction
}

// NewInteractionStore constructs an empty InteractionStore.
func NewInteractionStore() *InteractionStore {
	return &InteractionStore{}
}

// Append implements [memory.InteractionStore].
func (s *InteractionStore) Append(_ context.Context, in memory.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, in)
	return nil
}

// Recent implements [memory.InteractionStore]. Results are newest first.
func (s *InteractionStore) Recent(_ context.Context, sessionID string, limit int) ([]memory.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.Interaction
	for i := len(s.log) - 1; i >= 0 && len(out) < limit; i-- {
		if s.log[i].SessionID == sessionID {
			out = append(out, s.log[i])
		}
	}
	return out, nil
}

// All returns a copy of the full log, oldest first.
func (s *InteractionStore) All() []memory.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Interaction, len(s.log))
	copy(out, s.log)
	return out
}
