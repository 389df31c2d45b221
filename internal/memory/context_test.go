package memory

import "testing"

func TestScoreTone(t *testing.T) {
	cases := []struct {
		text string
		want emotionalTone
	}{
		{"I'm so happy about the new job!", tonePositive},
		{"This is frustrating and I'm worried", toneNegative},
		{"I love it but I'm also anxious about the cost", toneMixed},
		{"what's the capital of France", toneNeutral},
	}
	for _, c := range cases {
		if got := scoreTone(c.text); got != c.want {
			t.Errorf("scoreTone(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestDominantTone(t *testing.T) {
	got := dominantTone([]emotionalTone{tonePositive, toneNegative, tonePositive, toneNeutral})
	if got != tonePositive {
		t.Fatalf("dominantTone = %v, want positive", got)
	}
}

func TestNormalizeWeight(t *testing.T) {
	cases := []struct {
		in   string
		want EmotionalWeight
	}{
		{"heavy", WeightHeavy},
		{"Moderate", WeightModerate},
		{"light", WeightLight},
		{"", WeightLight},
		{"unknown", WeightLight},
	}
	for _, c := range cases {
		if got := normalizeWeight(c.in); got != c.want {
			t.Errorf("normalizeWeight(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestModalWeight(t *testing.T) {
	got := modalWeight([]EmotionalWeight{WeightLight, WeightHeavy, WeightHeavy, WeightLight, WeightHeavy})
	if got != WeightHeavy {
		t.Fatalf("modalWeight = %v, want heavy", got)
	}
	// Ties break toward the heavier category.
	if got := modalWeight([]EmotionalWeight{WeightLight, WeightModerate}); got != WeightModerate {
		t.Fatalf("modalWeight tie = %v, want moderate", got)
	}
	if got := modalWeight(nil); got != WeightLight {
		t.Fatalf("modalWeight(nil) = %v, want light", got)
	}
}

func TestEmotionalTrackerObserveAccumulates(t *testing.T) {
	tracker := NewEmotionalTracker(nil, nil)
	tracker.Observe("u1", "c1", "I'm so happy today")
	tracker.Observe("u1", "c1", "still great")
	tracker.Observe("u1", "c2", "terrible news")

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if got := len(tracker.sessions[sessionKey("u1", "c1")].samples); got != 2 {
		t.Fatalf("c1 samples = %d, want 2", got)
	}
	if got := len(tracker.sessions[sessionKey("u1", "c2")].samples); got != 1 {
		t.Fatalf("c2 samples = %d, want 1", got)
	}
}
