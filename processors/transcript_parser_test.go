package processors

import (
	"testing"
)

func TestParseTimeString(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  float64
	}{
		{"plain seconds", "42", 42},
		{"fractional seconds", "12.5", 12.5},
		{"minutes seconds", "01:30", 90},
		{"hours minutes seconds", "01:02:03", 3723},
		{"timedelta with fraction", "0:01:23.456000", 83.456},
		{"zero", "0:00:00", 0},
		{"negative clamps", "-5", 0},
		{"garbage", "abc", 0},
		{"empty", "", 0},
		{"mixed garbage colons", "aa:bb", 0},
		{"too many colon groups", "1:2:3:4", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTimeString(tc.input)
			if got != tc.want {
				t.Errorf("ParseTimeString(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestParseTranscriptStructured(t *testing.T) {
	content := `[
		{"text": "welcome to the lecture", "start": 0.0, "end": 4.5, "confidence": 0.9},
		{"text": "today we cover indexing", "start": "0:00:04.500000", "end": "0:00:12.000000"},
		{"nested": {"text": "deep entry", "start": 12, "end": 20}},
		{"text": "", "start": 20, "end": 25},
		{"text": "inverted", "start": 30, "end": 25}
	]`
	entries := ParseTranscript(content)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	for i, e := range entries {
		if !(e.End > e.Start && e.Start >= 0) {
			t.Errorf("entry %d violates end > start >= 0: %+v", i, e)
		}
		if i > 0 && entries[i-1].Start > e.Start {
			t.Errorf("entries not sorted ascending at %d", i)
		}
	}
	if entries[0].Confidence != 0.9 {
		t.Errorf("confidence not carried: %v", entries[0].Confidence)
	}
}

func TestParseTranscriptLineRecovery(t *testing.T) {
	// Broken framing: no valid enclosing JSON, but each record on its own line.
	content := `garbage header {{{
"text": "first sentence", "start": "00:05", "end": "00:12"},
{"text": "second sentence", "start": "00:12", "end": "00:30"},
trailer`
	entries := ParseTranscript(content)
	if len(entries) != 2 {
		t.Fatalf("expected 2 recovered entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Start != 5 || entries[0].End != 12 {
		t.Errorf("colon timestamps mishandled: %+v", entries[0])
	}
}

func TestParseTranscriptGlobalFallback(t *testing.T) {
	// Fields split across lines with unbalanced brackets: neither the block
	// walk nor line recovery applies, only the global pattern.
	content := "[[[noise \"text\": \"only entry\",\n\"start\": \"1:00\", \"end\": \"1:30\" noise"
	entries := ParseTranscript(content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry from global fallback, got %d", len(entries))
	}
	if entries[0].Start != 60 || entries[0].End != 90 {
		t.Errorf("unexpected span: %+v", entries[0])
	}
}

func TestParseTranscriptTotalFailure(t *testing.T) {
	for _, content := range []string{"", "no timestamps here", "{\"other\": 1}"} {
		if got := ParseTranscript(content); len(got) != 0 {
			t.Errorf("expected empty result for %q, got %+v", content, got)
		}
	}
}
