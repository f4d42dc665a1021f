package action

import (
	"regexp"
	"testing"
	"time"
)

func testActions() []*Action {
	return []*Action{
		{
			ID: "lights.toggle",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`^turn (?P<state>on|off) the (?P<room>\w+( \w+)?) lights?$`),
				regexp.MustCompile(`^(?P<room>\w+( \w+)?) lights? (?P<state>on|off)$`),
			},
			HandlerName:    "homeassistant.light",
			Domain:         "lights",
			Template:       "Done — {room} lights {state}.",
			ConfidenceBase: 0.9,
		},
		{
			ID: "media.play",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`^play (?P<what>.+?)( in the (?P<room>\w+( \w+)?))?$`),
			},
			HandlerName:    "homeassistant.media",
			Domain:         "media",
			Template:       "Playing {what}.",
			ConfidenceBase: 0.7,
		},
	}
}

func TestMatchExtractsParams(t *testing.T) {
	r := NewRegistry()
	r.SetActions(testActions())

	m, ok := r.Match("Turn off the bedroom lights!")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Action.ID != "lights.toggle" {
		t.Fatalf("matched %s", m.Action.ID)
	}
	if m.Params["state"] != "off" || m.Params["room"] != "bedroom" {
		t.Fatalf("params = %v", m.Params)
	}
	if m.Confidence < matchThreshold {
		t.Fatalf("confidence %v below threshold", m.Confidence)
	}
}

func TestMatchNormalizesInput(t *testing.T) {
	r := NewRegistry()
	r.SetActions(testActions())

	if _, ok := r.Match("  TURN ON THE Winter Garden LIGHTS.  "); !ok {
		t.Fatal("normalized input did not match")
	}
}

func TestMatchNoMatchFallsThrough(t *testing.T) {
	r := NewRegistry()
	r.SetActions(testActions())

	if _, ok := r.Match("what do you think about the weather"); ok {
		t.Fatal("conversational turn should not match an action")
	}
}

func TestMatchBelowThresholdRejected(t *testing.T) {
	r := NewRegistry()
	r.SetActions([]*Action{{
		ID:             "weak",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`^do the thing$`)},
		HandlerName:    "h",
		ConfidenceBase: 0.5,
	}})
	if _, ok := r.Match("do the thing"); ok {
		t.Fatal("confidence 0.5 should not clear the 0.6 threshold")
	}
}

func TestHitCountRaisesPriority(t *testing.T) {
	popular := &Action{
		ID:             "popular",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`^lights out$`)},
		HandlerName:    "h",
		ConfidenceBase: 0.7,
		HitCount:       50,
	}
	fresh := &Action{
		ID:             "fresh",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`^lights out$`)},
		HandlerName:    "h",
		ConfidenceBase: 0.7,
	}
	r := NewRegistry()
	r.SetActions([]*Action{fresh, popular})

	m, ok := r.Match("lights out")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Action.ID != "popular" {
		t.Fatalf("matched %s, want the higher-hit action", m.Action.ID)
	}
}

func TestTieBreakByRecency(t *testing.T) {
	older := &Action{
		ID:             "older",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`^lights out$`)},
		HandlerName:    "h",
		ConfidenceBase: 0.8,
		LastHit:        time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &Action{
		ID:             "newer",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`^lights out$`)},
		HandlerName:    "h",
		ConfidenceBase: 0.8,
		LastHit:        time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}
	r := NewRegistry()
	r.SetActions([]*Action{older, newer})

	m, _ := r.Match("lights out")
	if m.Action.ID != "newer" {
		t.Fatalf("matched %s, want the most recently hit action", m.Action.ID)
	}
}

func TestRenderTemplate(t *testing.T) {
	got := RenderTemplate("Done — {room} lights {state}. {result}",
		map[string]string{"room": "bedroom", "state": "off"}, "ok")
	want := "Done — bedroom lights off. ok"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCompilePatternsRejectsInvalid(t *testing.T) {
	if _, err := CompilePatterns([]string{`[`}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Turn OFF the lights!", "turn off the lights"},
		{"  what's   up?  ", "whats up"},
		{"set it to 40%", "set it to 40%"},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
