package orchestrator

import "testing"

func TestClassifyInterrupt(t *testing.T) {
	tests := []struct {
		text string
		want InterruptKind
	}{
		{"stop", InterruptStop},
		{"Stop!", InterruptStop},
		{"never mind", InterruptStop},
		{"thanks, that's enough", InterruptStop},
		{"stop talking", InterruptStop},
		{"actually, make it for four people", InterruptRedirect},
		{"forget that, what's the weather", InterruptRedirect},
		{"hold on, I need to answer the door", InterruptRedirect},
		{"wait, what does that mean", InterruptClarify},
		{"sorry, who is Marco again", InterruptClarify},
		{"what do you mean by resting the dough?", InterruptClarify},
		{"make it shorter", InterruptRefine},
		{"shorter please", InterruptRefine},
		{"skip the history part", InterruptRefine},
		{"play some jazz", InterruptNone},
		{"", InterruptNone},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := ClassifyInterrupt(tt.text); got != tt.want {
				t.Fatalf("ClassifyInterrupt(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
