package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-assistant/cortex/pkg/memory"
	"github.com/atlas-assistant/cortex/pkg/memory/mock"
	"github.com/atlas-assistant/cortex/pkg/provider/embeddings/hashed"
)

func seedRecord(t *testing.T, idx *mock.Index, emb *hashed.Provider, owner, text string, scope memory.Scope) memory.Record {
	t.Helper()
	ctx := context.Background()
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	hash := memory.ContentHash(text)
	now := time.Now()
	rec := memory.Record{
		ID:          memory.RecordID(owner, memory.TypeFact, hash, now),
		OwnerID:     owner,
		Type:        memory.TypeFact,
		Text:        text,
		Scope:       scope,
		ContentHash: hash,
		Embedding:   vec,
		CreatedAt:   now,
		LastSeen:    now,
	}
	if _, err := idx.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return rec
}

func TestSearcherFindsRelevantRecord(t *testing.T) {
	idx := mock.NewIndex()
	emb := hashed.New(0)
	seedRecord(t, idx, emb, "u1", "the espresso machine needs descaling every month", memory.ScopePrivate)
	seedRecord(t, idx, emb, "u1", "the garden sprinkler runs at six in the morning", memory.ScopePrivate)

	s := memory.NewSearcher(idx, emb)
	hits := s.Search(context.Background(), "espresso machine descaling", memory.AccessFilter{OwnerID: "u1"})

	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if got := hits[0].Record.Text; got != "the espresso machine needs descaling every month" {
		t.Errorf("top hit = %q", got)
	}
}

func TestSearcherAccessFilter(t *testing.T) {
	idx := mock.NewIndex()
	emb := hashed.New(0)
	seedRecord(t, idx, emb, "owner", "the wifi password is stored in the hallway drawer", memory.ScopePrivate)
	seedRecord(t, idx, emb, "owner", "the wifi router lives in the hallway closet", memory.ScopeHousehold)

	s := memory.NewSearcher(idx, emb)

	t.Run("stranger sees only household", func(t *testing.T) {
		hits := s.Search(context.Background(), "wifi hallway", memory.AccessFilter{OwnerID: "guest"})
		for _, h := range hits {
			if h.Record.Scope == memory.ScopePrivate {
				t.Errorf("private record leaked to guest: %q", h.Record.Text)
			}
		}
		if len(hits) == 0 {
			t.Error("household record should be visible")
		}
	})

	t.Run("low confidence owner loses private", func(t *testing.T) {
		hits := s.Search(context.Background(), "wifi hallway",
			memory.AccessFilter{OwnerID: "owner", HouseholdOnly: true})
		for _, h := range hits {
			if h.Record.Scope == memory.ScopePrivate {
				t.Errorf("private record leaked under household-only filter")
			}
		}
	})

	t.Run("owner sees both", func(t *testing.T) {
		hits := s.Search(context.Background(), "wifi hallway", memory.AccessFilter{OwnerID: "owner"})
		var sawPrivate bool
		for _, h := range hits {
			if h.Record.Scope == memory.ScopePrivate {
				sawPrivate = true
			}
		}
		if !sawPrivate {
			t.Error("owner should see their private record")
		}
	})
}

func TestSearcherNeverFails(t *testing.T) {
	// A searcher over an empty index with a working embedder must return an
	// empty result, not an error or panic.
	s := memory.NewSearcher(mock.NewIndex(), hashed.New(0))
	hits := s.Search(context.Background(), "anything at all", memory.AccessFilter{OwnerID: "u1"})
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestSearcherTopK(t *testing.T) {
	idx := mock.NewIndex()
	emb := hashed.New(0)
	texts := []string{
		"coffee beans live in the pantry",
		"coffee grinder setting is number eight",
		"coffee mugs are in the upper cabinet",
		"coffee filter subscription renews monthly",
	}
	for _, txt := range texts {
		seedRecord(t, idx, emb, "u1", txt, memory.ScopeHousehold)
	}

	s := memory.NewSearcher(idx, emb, memory.WithTopK(2))
	hits := s.Search(context.Background(), "coffee", memory.AccessFilter{OwnerID: "u1"})
	if len(hits) > 2 {
		t.Errorf("expected at most 2 hits, got %d", len(hits))
	}
}

func TestSearcherExcludesSuperseded(t *testing.T) {
	idx := mock.NewIndex()
	emb := hashed.New(0)
	old := seedRecord(t, idx, emb, "u1", "the thermostat target is nineteen degrees", memory.ScopePrivate)

	ctx := context.Background()
	text := "the thermostat target is twenty one degrees"
	vec, _ := emb.Embed(ctx, text)
	hash := memory.ContentHash(text)
	now := time.Now()
	newer := memory.Record{
		ID:          memory.RecordID("u1", memory.TypeCorrection, hash, now),
		OwnerID:     "u1",
		Type:        memory.TypeCorrection,
		Text:        text,
		Supersedes:  old.ID,
		Scope:       memory.ScopePrivate,
		ContentHash: hash,
		Embedding:   vec,
		CreatedAt:   now,
		LastSeen:    now,
	}
	if _, err := idx.Upsert(ctx, newer); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	s := memory.NewSearcher(idx, emb)
	hits := s.Search(ctx, "thermostat target degrees", memory.AccessFilter{OwnerID: "u1"})
	for _, h := range hits {
		if h.Record.ID == old.ID {
			t.Error("superseded record returned")
		}
	}
	var sawNew bool
	for _, h := range hits {
		if h.Record.ID == newer.ID {
			sawNew = true
		}
	}
	if !sawNew {
		t.Error("superseding record missing from results")
	}
}
