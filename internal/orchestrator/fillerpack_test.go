package orchestrator

import (
	"strings"
	"testing"
)

func TestParseFillerPack(t *testing.T) {
	raw := []byte(`fillers:
  - id: f-peek
    text: "Let me take a peek. "
    category: general
  - id: f-mine
    text: "One sec, love. "
    category: personal
    owner_id: user-dana
  - id: f-default-cat
    text: "Right then. "
`)
	fillers, err := ParseFillerPack(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fillers) != 3 {
		t.Fatalf("got %d fillers, want 3", len(fillers))
	}
	if fillers[1].OwnerID != "user-dana" || fillers[1].Category != "personal" {
		t.Errorf("personal filler = %+v", fillers[1])
	}
	if fillers[2].Category != "general" {
		t.Errorf("default category = %q, want general", fillers[2].Category)
	}
}

func TestParseFillerPackRejectsMissingFields(t *testing.T) {
	_, err := ParseFillerPack([]byte("fillers:\n  - id: f-1\n"))
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("err = %v, want required-fields error", err)
	}
}

func TestParseFillerPackRejectsUnknownFields(t *testing.T) {
	_, err := ParseFillerPack([]byte("phrases:\n  - nope\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseFillerPackEmptyFile(t *testing.T) {
	fillers, err := ParseFillerPack(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fillers) != 0 {
		t.Fatalf("got %d fillers, want 0", len(fillers))
	}
}
