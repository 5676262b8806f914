package processors

import (
	"testing"
)

func TestCandidateTimestamps(t *testing.T) {
	const duration = 100.0

	cases := []struct {
		name      string
		requested float64
	}{
		{"normal", 30},
		{"at end of file", 100},
		{"past end of file", 250},
		{"zero", 0},
		{"negative", -7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			candidates := candidateTimestamps(tc.requested, duration)
			if len(candidates) == 0 {
				t.Fatalf("ladder empty for requested=%v", tc.requested)
			}
			for _, c := range candidates {
				if !(c > 0 && c < duration) {
					t.Errorf("candidate %v outside (0, %v)", c, duration)
				}
			}
		})
	}
}

func TestCandidateTimestampsNeverPassThroughPastEnd(t *testing.T) {
	const duration = 60.0
	for _, c := range candidateTimestamps(60, duration) {
		if c >= duration {
			t.Errorf("timestamp at end-of-file passed through: %v", c)
		}
	}
	for _, c := range candidateTimestamps(1e6, duration) {
		if c >= duration {
			t.Errorf("absurd timestamp passed through: %v", c)
		}
	}
}

func TestCandidateTimestampsOrderAndDedupe(t *testing.T) {
	candidates := candidateTimestamps(30, 100)
	// Exact timestamp must be attempted first.
	if candidates[0] != 30 {
		t.Errorf("exact timestamp not first: %v", candidates)
	}
	seen := map[float64]bool{}
	for _, c := range candidates {
		for prev := range seen {
			if diff := prev - c; diff > -0.25 && diff < 0.25 {
				t.Errorf("near-duplicate candidates %v and %v", prev, c)
			}
		}
		seen[c] = true
	}
	// The fraction strategies must appear after the neighborhood.
	want := []float64{30, 28, 32, 10, 50}
	if len(candidates) != len(want) {
		t.Fatalf("candidates = %v, want %v", candidates, want)
	}
	for i := range want {
		if candidates[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", candidates, want)
		}
	}
}
