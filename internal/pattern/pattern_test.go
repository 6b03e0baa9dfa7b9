package pattern

import (
	"testing"

	"mailreach/internal/models"
)

func TestScoreShapes(t *testing.T) {
	tests := []struct {
		local string
		shape Shape
		conf  float64
	}{
		{"jane.doe", ShapeFirstDotLast, 0.90},
		{"john.q.public", ShapeFirstDotLast, 0.90},
		{"jane_doe", ShapeFirstDotLast, 0.90},
		{"jane-doe", ShapeFirstDotLast, 0.90},
		{"janedoe123456", ShapeFirstDigits, 0.50},
		{"j.doe", ShapeInitialLast, 0.80},
		{"jane", ShapeFirst, 0.75},
		{"christopher", ShapeFirstLast, 0.85},
		{"jane2024", ShapeFirstDigits, 0.50},
		{"jane.doe99", ShapeFirstDigits, 0.50},
		{"x7k9q2m4w1", ShapeRandom, 0.10},
		{"bcdfghjk", ShapeRandom, 0.10},
		{"9a3f0c77e1b2", ShapeRandom, 0.10},
		{"a", ShapeRandom, 0.10},
		{"aaaaaaaaaaaaaaaaaaaaaaaa", ShapeRandom, 0.10},
	}
	for _, tt := range tests {
		t.Run(tt.local, func(t *testing.T) {
			got := Score(tt.local, models.PersonHint{})
			if got.Shape != tt.shape {
				t.Errorf("shape = %q, want %q", got.Shape, tt.shape)
			}
			if got.Confidence != tt.conf {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.conf)
			}
			if got.HintMatch != HintNone {
				t.Errorf("hint match = %q without hints", got.HintMatch)
			}
		})
	}
}

func TestScoreWithHints(t *testing.T) {
	jane := models.PersonHint{First: "Jane", Last: "Doe"}
	tests := []struct {
		name  string
		local string
		hint  models.PersonHint
		match string
		conf  float64
	}{
		{"exact dotted", "jane.doe", jane, HintExact, 0.95},
		{"exact concatenated", "janedoe", jane, HintExact, 0.95},
		{"exact initial", "j.doe", jane, HintExact, 0.95},
		{"exact reversed", "doe.jane", jane, HintExact, 0.95},
		{"partial initial concat", "jdoe", jane, HintPartial, 0.80},
		{"partial first only", "jane", jane, HintPartial, 0.80},
		{"partial with digits", "jane2024", jane, HintPartial, 0.80},
		{"contradiction", "bob.king", jane, HintContradiction, 0.20},
		{"contradiction strong shape", "mark.twain", jane, HintContradiction, 0.20},
		{"last name only hint", "doe.accounts", models.PersonHint{Last: "Doe"}, HintPartial, 0.90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.local, tt.hint)
			if got.HintMatch != tt.match {
				t.Errorf("hint match = %q, want %q", got.HintMatch, tt.match)
			}
			if got.Confidence != tt.conf {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.conf)
			}
		})
	}
}

func TestScoreHintNeverLowersExact(t *testing.T) {
	// A shape already above the exact floor keeps its own score.
	got := Score("jane.doe", models.PersonHint{First: "Jane", Last: "Doe"})
	if got.Confidence < 0.90 {
		t.Errorf("confidence = %v, want >= 0.90", got.Confidence)
	}
}

func TestScoreSingleNameHintNoContradiction(t *testing.T) {
	// Only a first name known; an unrelated local is no contradiction since
	// the last name might match.
	got := Score("smith.j", models.PersonHint{First: "Jane"})
	if got.HintMatch == HintContradiction {
		t.Errorf("single-name hint must not contradict, got %q", got.HintMatch)
	}
}
