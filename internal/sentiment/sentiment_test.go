package sentiment

import "testing"

func TestAnalyze_Labels(t *testing.T) {
	t.Parallel()

	a := New()

	tests := []struct {
		name      string
		text      string
		wantLabel string
	}{
		{"positive", "thanks, that was great!", "positive"},
		{"negative", "this is terrible, I hate it", "negative"},
		{"neutral", "turn on the kitchen lights", "neutral"},
		{"negated positive", "I don't like this at all", "negative"},
		{"negated negative", "that's not bad actually", "positive"},
		{"empty", "", "neutral"},
		{"mixed leans positive", "the weather is bad but dinner was amazing and wonderful", "positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := a.Analyze(tt.text)
			if got.Label != tt.wantLabel {
				t.Errorf("Analyze(%q).Label = %q (polarity %.2f), want %q",
					tt.text, got.Label, got.Polarity, tt.wantLabel)
			}
		})
	}
}

func TestAnalyze_Arousal(t *testing.T) {
	t.Parallel()

	a := New()

	calm := a.Analyze("please dim the bedroom lights")
	urgent := a.Analyze("HELP! There is a fire, hurry!")

	if calm.Arousal > 0.3 {
		t.Errorf("calm request arousal = %.2f, want <= 0.3", calm.Arousal)
	}
	if urgent.Arousal < 0.7 {
		t.Errorf("urgent request arousal = %.2f, want >= 0.7", urgent.Arousal)
	}
	if urgent.Arousal > 1 {
		t.Errorf("arousal must be clamped to 1, got %.2f", urgent.Arousal)
	}
}

func TestAnalyze_ExclamationRaisesArousal(t *testing.T) {
	t.Parallel()

	a := New()

	plain := a.Analyze("turn off the radio")
	excited := a.Analyze("turn off the radio!!")

	if excited.Arousal <= plain.Arousal {
		t.Errorf("exclamation marks should raise arousal: plain=%.2f excited=%.2f",
			plain.Arousal, excited.Arousal)
	}
}

func TestAnalyze_PolarityBounds(t *testing.T) {
	t.Parallel()

	a := New()

	got := a.Analyze("love love love amazing wonderful perfect excellent")
	if got.Polarity > 1 || got.Polarity < -1 {
		t.Errorf("polarity out of bounds: %.2f", got.Polarity)
	}
	if got.Label != "positive" {
		t.Errorf("Label = %q, want positive", got.Label)
	}
}
