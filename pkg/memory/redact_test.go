package memory

import (
	"strings"
	"testing"
	"time"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestRedact(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name       string
		in         string
		want       string
		categories []string
	}{
		{
			name:       "email",
			in:         "reach me at jane.doe@example.com please",
			want:       "reach me at [email] please",
			categories: []string{"email"},
		},
		{
			name:       "ssn",
			in:         "my number is 123-45-6789",
			want:       "my number is [ssn]",
			categories: []string{"ssn"},
		},
		{
			name:       "card",
			in:         "pay with 4111 1111 1111 1111 today",
			want:       "pay with [card] today",
			categories: []string{"card"},
		},
		{
			name:       "phone",
			in:         "call +1 555-123-4567 tomorrow",
			want:       "call [phone] tomorrow",
			categories: []string{"phone"},
		},
		{
			name: "clean text untouched",
			in:   "I prefer oat milk in my coffee",
			want: "I prefer oat milk in my coffee",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cats := r.Redact(tt.in)
			if got != tt.want {
				t.Errorf("Redact = %q, want %q", got, tt.want)
			}
			if len(cats) != len(tt.categories) {
				t.Fatalf("categories = %v, want %v", cats, tt.categories)
			}
			for i := range cats {
				if cats[i] != tt.categories[i] {
					t.Errorf("categories = %v, want %v", cats, tt.categories)
				}
			}
		})
	}
}

func TestRedactIdempotent(t *testing.T) {
	r := NewRedactor()

	once, _ := r.Redact("email jane@example.com, ssn 123-45-6789")
	twice, cats := r.Redact(once)

	if once != twice {
		t.Errorf("second pass changed text: %q -> %q", once, twice)
	}
	if len(cats) != 0 {
		t.Errorf("second pass reported categories %v", cats)
	}
}

func TestContentHashNormalises(t *testing.T) {
	a := ContentHash("I prefer   Oat Milk")
	b := ContentHash("i prefer oat\tmilk")
	if a != b {
		t.Errorf("hashes differ for equivalent content")
	}
	if c := ContentHash("i prefer soy milk"); c == a {
		t.Errorf("distinct content collided")
	}
}

func TestRecordIDDeterministic(t *testing.T) {
	ts := mustParseTime(t, "2026-01-02T15:04:05Z")
	a := RecordID("u1", TypePreference, "abc", ts)
	b := RecordID("u1", TypePreference, "abc", ts)
	if a != b {
		t.Errorf("same inputs produced different IDs")
	}
	if c := RecordID("u2", TypePreference, "abc", ts); c == a {
		t.Errorf("different owner produced same ID")
	}
	if !strings.ContainsAny(a, "0123456789abcdef") || len(a) != 32 {
		t.Errorf("unexpected ID shape: %q", a)
	}
}
