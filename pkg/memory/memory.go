// Package memory defines the hybrid retrieval memory used by the Atlas Cortex
// pipeline.
//
// The subsystem is split into two halves over one shared index:
//
//   - HOT path ([Searcher]): synchronous, read-only retrieval combining dense
//     (vector) and sparse (full-text) search with reciprocal rank fusion.
//     The HOT path never writes and never fails a request — on error it
//     degrades to an empty hit list.
//   - COLD path ([Consumer]): an asynchronous queue consumer that redacts,
//     classifies, deduplicates, embeds, and upserts memory records extracted
//     from completed interactions.
//
// All interfaces are public so that external packages can supply alternative
// storage backends (Postgres/pgvector, in-memory, …) without depending on
// cortex internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// Type classifies what kind of information a memory record holds.
type Type string

const (
	TypePreference  Type = "preference"
	TypeFact        Type = "fact"
	TypeDecision    Type = "decision"
	TypeCorrection  Type = "correction"
	TypeMood        Type = "mood"
	TypeInteraction Type = "interaction"
)

// IsValid reports whether t is a recognised memory type.
func (t Type) IsValid() bool {
	switch t {
	case TypePreference, TypeFact, TypeDecision, TypeCorrection, TypeMood, TypeInteraction:
		return true
	}
	return false
}

// Scope controls who may retrieve a record.
type Scope string

const (
	// ScopePrivate records are visible only to their owner.
	ScopePrivate Scope = "private"

	// ScopeHousehold records are visible to every resolved household member,
	// including low-confidence and anonymous identities.
	ScopeHousehold Scope = "household"

	// ScopePublic records are visible to everyone.
	ScopePublic Scope = "public"
)

// IsValid reports whether s is a recognised access scope.
func (s Scope) IsValid() bool {
	switch s {
	case ScopePrivate, ScopeHousehold, ScopePublic:
		return true
	}
	return false
}

// Source records how a memory entered the store.
type Source string

const (
	SourceConversation Source = "conversation"
	SourceOnboarding   Source = "onboarding"
	SourceEvolution    Source = "evolution"
	SourceSystem       Source = "system"
)

// Record is a single memory entry. Records are append-only: corrections do
// not modify an existing record, they add a new one whose Supersedes field
// references the replaced record's ID. The supersedes chain forms a DAG that
// is resolved at query time — retrieval returns only the newest entry in a
// chain.
type Record struct {
	// ID is content-addressed: hash(owner ‖ type ‖ content hash ‖ timestamp).
	// Replaying the same extraction event therefore produces the same ID.
	ID string

	// OwnerID is the user this memory belongs to.
	OwnerID string

	// Type classifies the record.
	Type Type

	// Text is the (PII-redacted) memory content. Raw pre-redaction text is
	// never stored.
	Text string

	// Tags are free-form topical labels.
	Tags []string

	// Supersedes is the ID of the record this one corrects, or empty.
	Supersedes string

	// TTL is an optional expiry window. Zero means the record does not expire.
	TTL time.Duration

	// Confidence is the extraction confidence in [0, 1].
	Confidence float64

	// Source records how the memory entered the store.
	Source Source

	// Scope controls retrieval visibility.
	Scope Scope

	// ContentHash is the normalised-text hash used for deduplication.
	ContentHash string

	// Embedding is the dense vector for similarity search.
	Embedding []float32

	// CreatedAt is when the record was first written.
	CreatedAt time.Time

	// LastSeen is bumped when a duplicate of this record is re-observed.
	LastSeen time.Time
}

// Hit is a single HOT-path retrieval result with its scoring breakdown.
type Hit struct {
	// Record is the retrieved memory.
	Record Record

	// DenseRank is the 1-based rank in the dense result list, 0 if unranked.
	DenseRank int

	// SparseRank is the 1-based rank in the sparse result list, 0 if unranked.
	SparseRank int

	// Score is the fused (and possibly reranked) relevance score.
	Score float64
}

// Event is one COLD-path extraction request, enqueued after an interaction
// completes. The queue persists events so uncommitted work can be replayed
// after a restart.
type Event struct {
	// ID is the queue entry identifier (assigned by the queue).
	ID int64

	// InteractionID links back to the interaction this event came from.
	InteractionID string

	// UserID is the owner of any records extracted from this event.
	UserID string

	// SessionID groups the event into its conversation.
	SessionID string

	// Text is the raw user utterance. It is redacted before any record is
	// written; the queue row is deleted once the event is committed.
	Text string

	// Attempts counts delivery attempts for bounded retry.
	Attempts int

	// EnqueuedAt is when the event entered the queue.
	EnqueuedAt time.Time
}

// AccessFilter narrows a retrieval to the records a requester may see.
type AccessFilter struct {
	// OwnerID is the requesting user. Empty means anonymous.
	OwnerID string

	// HouseholdOnly drops private records even for the owner. Set for
	// low-confidence and anonymous identities.
	HouseholdOnly bool
}

// RankedRecord pairs a record with its 1-based rank in one search list.
type RankedRecord struct {
	Record Record
	Rank   int
}

// Index is the shared dense+sparse record index. The COLD consumer is the
// only writer; HOT readers run concurrently.
type Index interface {
	// DenseSearch returns the topN records closest to embedding, most similar
	// first, restricted by filter. Superseded records are excluded.
	DenseSearch(ctx context.Context, embedding []float32, topN int, filter AccessFilter) ([]RankedRecord, error)

	// SparseSearch returns the topN records matching the full-text query,
	// most relevant first, restricted by filter. Superseded records are excluded.
	SparseSearch(ctx context.Context, query string, topN int, filter AccessFilter) ([]RankedRecord, error)

	// Upsert atomically writes rec to both the dense and sparse sides of the
	// index. A record with the same (owner, type, content hash) only bumps
	// LastSeen; created reports whether a new row was written.
	Upsert(ctx context.Context, rec Record) (created bool, err error)

	// Get returns the record with the given ID, or (nil, nil) if absent.
	Get(ctx context.Context, id string) (*Record, error)
}

// Queue is the persisted COLD-path work queue. Events for one user are
// delivered FIFO; events for different users may be processed in parallel.
type Queue interface {
	// Enqueue appends an event. Returns an error only on storage failure.
	Enqueue(ctx context.Context, ev Event) error

	// Dequeue returns up to limit pending events, oldest first.
	Dequeue(ctx context.Context, limit int) ([]Event, error)

	// Ack removes a committed event from the queue.
	Ack(ctx context.Context, id int64) error

	// Nack records a failed attempt. Events past the retry bound are dropped.
	Nack(ctx context.Context, id int64) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Content addressing
// ─────────────────────────────────────────────────────────────────────────────

// ContentHash returns the deduplication hash of text: lower-cased, with all
// whitespace runs collapsed, SHA-256, hex-encoded.
func ContentHash(text string) string {
	norm := strings.Join(strings.FieldsFunc(strings.ToLower(text), unicode.IsSpace), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// RecordID derives the deterministic record identifier from its addressing
// components. Two extractions of the same content at the same instant yield
// the same ID, which makes queue replay idempotent.
func RecordID(ownerID string, t Type, contentHash string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(ownerID))
	h.Write([]byte{0})
	h.Write([]byte(t))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	h.Write([]byte{0})
	h.Write([]byte(ts.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
