package instant

import (
	"strings"
	"testing"
	"time"

	"github.com/atlas-assistant/cortex/pkg/types"
)

// fixedClock returns a deterministic clock for matcher tests:
// Tuesday, March 10 2026, 14:30 local time.
func fixedClock() func() time.Time {
	at := time.Date(2026, time.March, 10, 14, 30, 0, 0, time.Local)
	return func() time.Time { return at }
}

type stubRecall struct {
	messages []types.Message
}

func (s *stubRecall) RecentMessages(string, int) []types.Message {
	return s.messages
}

func turn(text string) types.Turn {
	return types.Turn{ID: "t1", SessionID: "s1", Text: text, Channel: types.ChannelAPI}
}

func TestResolve_Time(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()))

	tests := []string{
		"what time is it?",
		"What time is it",
		"hey, what's the time?",
	}
	for _, text := range tests {
		ans, ok := r.Resolve(turn(text))
		if !ok {
			t.Fatalf("Resolve(%q): no match", text)
		}
		if ans.Kind != KindDateTime {
			t.Errorf("Resolve(%q): kind = %q, want datetime", text, ans.Kind)
		}
		if !strings.Contains(ans.Text, "2:30 PM") {
			t.Errorf("Resolve(%q): text = %q, want clock time", text, ans.Text)
		}
	}
}

func TestResolve_DateIncludesDayOfWeek(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()))

	ans, ok := r.Resolve(turn("what day is it?"))
	if !ok {
		t.Fatal("no match")
	}
	if ans.Kind != KindDateTime {
		t.Fatalf("kind = %q, want datetime", ans.Kind)
	}
	if !strings.Contains(ans.Text, "Tuesday") {
		t.Errorf("text = %q, want day of week", ans.Text)
	}
	if !strings.Contains(ans.Text, "March 10, 2026") {
		t.Errorf("text = %q, want full date", ans.Text)
	}
}

func TestResolve_Arithmetic(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()))

	tests := []struct {
		text string
		want string
	}{
		{"2+2", "4"},
		{"what is 12 * 12?", "144"},
		{"calculate (3 + 4) * 2", "14"},
		{"what's 10 / 4", "2.5"},
		{"17 % 5", "2"},
		{"-3 + 5", "2"},
	}
	for _, tt := range tests {
		ans, ok := r.Resolve(turn(tt.text))
		if !ok {
			t.Fatalf("Resolve(%q): no match", tt.text)
		}
		if ans.Kind != KindArith {
			t.Errorf("Resolve(%q): kind = %q, want arithmetic", tt.text, ans.Kind)
		}
		if !strings.HasSuffix(ans.Text, "= "+tt.want) {
			t.Errorf("Resolve(%q): text = %q, want result %q", tt.text, ans.Text, tt.want)
		}
	}
}

func TestResolve_ArithmeticFallsThrough(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()))

	tests := []struct {
		name string
		text string
	}{
		{"division by zero", "10 / 0"},
		{"identifiers", "x + 2"},
		{"call syntax", "sqrt(4)"},
		{"too long", strings.Repeat("1+", 100) + "1"},
		{"too deep", strings.Repeat("(", 13) + "1" + strings.Repeat(")", 13)},
		{"plain number no operator", "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if ans, ok := r.Resolve(turn(tt.text)); ok && ans.Kind == KindArith {
				t.Errorf("Resolve(%q) matched arithmetic with %q, want fall-through", tt.text, ans.Text)
			}
		})
	}
}

func TestResolve_Identity(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()), WithAssistantName("Atlas"))

	ans, ok := r.Resolve(turn("Who are you?"))
	if !ok || ans.Kind != KindIdentity {
		t.Fatalf("Resolve: ok=%v kind=%q, want identity", ok, ans.Kind)
	}
	if !strings.Contains(ans.Text, "Atlas") {
		t.Errorf("identity reply should name the assistant, got %q", ans.Text)
	}

	ans, ok = r.Resolve(turn("what can you do"))
	if !ok || ans.Kind != KindIdentity {
		t.Fatalf("help query: ok=%v kind=%q, want identity", ok, ans.Kind)
	}
}

func TestResolve_GreetingTimeOfDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hour int
		want string
	}{
		{8, "Good morning"},
		{14, "Good afternoon"},
		{20, "Good evening"},
	}
	for _, tt := range tests {
		at := time.Date(2026, time.March, 10, tt.hour, 0, 0, 0, time.Local)
		r := New(WithClock(func() time.Time { return at }))

		ans, ok := r.Resolve(turn("hello"))
		if !ok || ans.Kind != KindGreeting {
			t.Fatalf("hour %d: ok=%v kind=%q, want greeting", tt.hour, ok, ans.Kind)
		}
		if !strings.Contains(ans.Text, tt.want) {
			t.Errorf("hour %d: reply = %q, want %q prefix", tt.hour, ans.Text, tt.want)
		}
	}
}

func TestResolve_GreetingWithRequestFallsThrough(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()))

	if ans, ok := r.Resolve(turn("hello, can you turn off the kitchen lights please")); ok {
		t.Errorf("greeting-plus-request must fall through, matched %q: %q", ans.Kind, ans.Text)
	}
}

func TestResolve_RecallUsesSessionMessages(t *testing.T) {
	t.Parallel()

	recall := &stubRecall{messages: []types.Message{
		{Role: "user", Content: "set a timer for ten minutes"},
		{Role: "assistant", Content: "Timer set."},
	}}
	r := New(WithClock(fixedClock()), WithSessionRecall(recall))

	ans, ok := r.Resolve(turn("what did I just say?"))
	if !ok || ans.Kind != KindRecall {
		t.Fatalf("ok=%v kind=%q, want recall", ok, ans.Kind)
	}
	if !strings.Contains(ans.Text, "set a timer for ten minutes") {
		t.Errorf("recall reply = %q, want last user message", ans.Text)
	}
}

func TestResolve_RecallEmptySession(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()), WithSessionRecall(&stubRecall{}))

	ans, ok := r.Resolve(turn("what did we talk about?"))
	if !ok || ans.Kind != KindRecall {
		t.Fatalf("ok=%v kind=%q, want recall", ok, ans.Kind)
	}
	if !strings.Contains(ans.Text, "haven't talked") {
		t.Errorf("empty-session recall reply = %q", ans.Text)
	}
}

func TestResolve_NoMatchFallsThrough(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()))

	for _, text := range []string{
		"turn on the living room lights",
		"tell me a story about dragons",
	} {
		if ans, ok := r.Resolve(turn(text)); ok {
			t.Errorf("Resolve(%q) matched %q, want fall-through", text, ans.Kind)
		}
	}
}

func TestResolve_EmptyTextAsksForInput(t *testing.T) {
	t.Parallel()

	r := New(WithClock(fixedClock()))

	// Nothing usable survives normalization; later layers would have
	// nothing to work with, so the resolver asks for input instead.
	for _, text := range []string{"", "   ", "?!"} {
		ans, ok := r.Resolve(turn(text))
		if !ok || ans.Kind != KindReprompt {
			t.Fatalf("Resolve(%q) = %+v, %v; want a reprompt", text, ans, ok)
		}
		if ans.Text == "" {
			t.Fatalf("Resolve(%q) returned an empty prompt", text)
		}
	}
}

func TestEvalArithmetic_Precedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 - 2 - 3", 5},
		{"20 / 2 / 2", 5},
		{"2 * -3", -6},
		{"1.5 + 2.25", 3.75},
	}
	for _, tt := range tests {
		got, err := evalArithmetic(tt.expr)
		if err != nil {
			t.Fatalf("evalArithmetic(%q): %v", tt.expr, err)
		}
		if got != tt.want {
			t.Errorf("evalArithmetic(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestFormatResult(t *testing.T) {
	t.Parallel()

	if got := formatResult(4); got != "4" {
		t.Errorf("formatResult(4) = %q, want 4", got)
	}
	if got := formatResult(2.5); got != "2.5" {
		t.Errorf("formatResult(2.5) = %q, want 2.5", got)
	}
}
