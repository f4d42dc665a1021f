package orchestrator

import "testing"

func TestClassifyTurn(t *testing.T) {
	tests := []struct {
		text string
		want TurnKind
	}{
		{"turn on the kitchen lights", TurnCommand},
		{"Set a timer for ten minutes.", TurnCommand},
		{"ok", TurnCasual},
		{"Thanks!", TurnCasual},
		{"good morning", TurnCasual},
		{"yes please", TurnCasual}, // two words, no command verb
		{"and what about tomorrow?", TurnFollowUp},
		{"also add milk to the list", TurnFollowUp},
		{"tell me a story about dragons", TurnConversational},
		{"what's a good recipe for four people?", TurnConversational},
		{"", TurnCasual},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := ClassifyTurn(tt.text); got != tt.want {
				t.Fatalf("ClassifyTurn(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSelectSkipsNonConversationalTurns(t *testing.T) {
	p := NewFillerPool()
	for _, kind := range []TurnKind{TurnCommand, TurnCasual, TurnFollowUp} {
		if _, ok := p.Select("s1", "u1", kind, 0.9); ok {
			t.Fatalf("kind %v: expected no filler", kind)
		}
	}
}

func TestSelectExcludesRecentlyUsed(t *testing.T) {
	p := NewFillerPool()
	p.SetFillers([]Filler{
		{ID: "a", Text: "A. ", Category: "general"},
		{ID: "b", Text: "B. ", Category: "general"},
		{ID: "c", Text: "C. ", Category: "general"},
	})

	first, ok := p.Select("s1", "u1", TurnConversational, 0.9)
	if !ok {
		t.Fatal("expected a filler")
	}
	second, ok := p.Select("s1", "u1", TurnConversational, 0.9)
	if !ok {
		t.Fatal("expected a filler")
	}
	if second.ID == first.ID {
		t.Fatalf("second selection repeated %q", first.ID)
	}
	// Two of three are excluded now, so the third pick is forced.
	third, ok := p.Select("s1", "u1", TurnConversational, 0.9)
	if !ok {
		t.Fatal("expected a filler")
	}
	if third.ID == first.ID || third.ID == second.ID {
		t.Fatalf("third selection %q repeats a recent filler", third.ID)
	}
}

func TestSelectAppendsConfidencePhraseBelowFloor(t *testing.T) {
	p := NewFillerPool()
	p.SetFillers([]Filler{
		{ID: "g", Text: "Hmm — ", Category: "general"},
		{ID: "c", Text: "Let me think about that for a moment. ", Category: "confidence"},
	})

	f, ok := p.Select("s1", "u1", TurnConversational, 0.5)
	if !ok {
		t.Fatal("expected a filler")
	}
	if f.Text != "Hmm — Let me think about that for a moment. " {
		t.Fatalf("text = %q, want the general phrase with the confidence phrase appended", f.Text)
	}
	if f.Category != "general" {
		t.Fatalf("category = %q, want general", f.Category)
	}
}

func TestSelectConfidenceAloneWhenNoGeneralEligible(t *testing.T) {
	p := NewFillerPool()
	p.SetFillers([]Filler{
		{ID: "c", Text: "Give me a second to check. ", Category: "confidence"},
	})

	f, ok := p.Select("s1", "u1", TurnConversational, 0.5)
	if !ok {
		t.Fatal("expected a filler")
	}
	if f.ID != "c" {
		t.Fatalf("filler = %+v, want the confidence phrase", f)
	}
}

func TestSelectNeverPicksConfidenceInNormalMode(t *testing.T) {
	p := NewFillerPool()
	p.SetFillers([]Filler{
		{ID: "g", Text: "Sure. ", Category: "general"},
		{ID: "c", Text: "Let me think. ", Category: "confidence"},
	})
	for i := 0; i < 10; i++ {
		f, ok := p.Select("s1", "u1", TurnConversational, 0.95)
		if !ok {
			t.Fatal("expected a filler")
		}
		if f.Category == "confidence" {
			t.Fatal("confidence filler selected at high predicted confidence")
		}
		// Reset the recency window so the general phrase stays eligible.
		p.recent["s1"] = nil
	}
}

func TestSelectPersonalFillerScopedToOwner(t *testing.T) {
	p := NewFillerPool()
	p.SetFillers([]Filler{
		{ID: "p1", Text: "On it, boss. ", Category: "personal", OwnerID: "u1"},
	})

	if _, ok := p.Select("s1", "u2", TurnConversational, 0.9); ok {
		t.Fatal("personal filler leaked to a different user")
	}
	f, ok := p.Select("s1", "u1", TurnConversational, 0.9)
	if !ok || f.ID != "p1" {
		t.Fatalf("owner selection = %+v, %v", f, ok)
	}
}

func TestSetFillersEmptyRestoresDefaults(t *testing.T) {
	p := NewFillerPool()
	p.SetFillers([]Filler{{ID: "x", Text: "X. ", Category: "general"}})
	p.SetFillers(nil)
	if got := len(p.Fillers()); got != len(defaultFillers) {
		t.Fatalf("pool size = %d, want %d", got, len(defaultFillers))
	}
}
