package processors

import "testing"

func TestResolveVideoFile(t *testing.T) {
	available := []string{"Lecture01.mp4", "lab_session.mkv", "intro.webm"}

	cases := []struct {
		name string
		uri  string
		want string
	}{
		{"suffix stripped", "lecture01_sentences.json", "Lecture01.mp4"},
		{"double suffix", "lecture01_transcript_timestamped.json", "Lecture01.mp4"},
		{"path prefix ignored", "/data/transcripts/lab_session_transcript.json", "lab_session.mkv"},
		{"containment either way", "intro_extended_cut_sentences.json", "intro.webm"},
		{"no match fails closed", "completely_unrelated.json", ""},
		{"empty uri", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveVideoFile(tc.uri, available)
			if got != tc.want {
				t.Errorf("ResolveVideoFile(%q) = %q, want %q", tc.uri, got, tc.want)
			}
		})
	}
}

func TestResolveApproximate(t *testing.T) {
	available := []string{"b.mp4", "a.mp4", "c.mp4"}

	first := ResolveApproximate("unmatched_thing.json", available)
	if first == "" {
		t.Fatalf("approximate resolution returned nothing with files available")
	}
	// Stable for the same identifier regardless of input order.
	reordered := []string{"c.mp4", "a.mp4", "b.mp4"}
	if got := ResolveApproximate("unmatched_thing.json", reordered); got != first {
		t.Errorf("approximate resolution unstable: %q vs %q", got, first)
	}
	if got := ResolveApproximate("x", nil); got != "" {
		t.Errorf("expected empty result with no files, got %q", got)
	}
}

func TestNormalizeMediaName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Video_sentences.json", "video"},
		{"video_transcript_sentences.txt", "video"},
		{"plain.mp4", "plain"},
		{"UPPER_TIMESTAMPED.JSON", "upper"},
	}
	for _, tc := range cases {
		if got := normalizeMediaName(tc.in); got != tc.want {
			t.Errorf("normalizeMediaName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
