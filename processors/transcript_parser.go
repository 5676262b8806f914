package processors

import (
	"encoding/json"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"clipCurator/core"
)

// ParseTranscript recovers {text, start, end} entries from a reference
// payload of unknown encoding. It never fails: strategies run in order and
// the first non-empty result wins, with an empty slice on total failure.
//
//  1. structured: locate JSON-like blocks and walk the parsed values
//  2. line recovery: per-line JSON objects, then per-line field regexes
//  3. global regex over the whole payload
func ParseTranscript(content string) []core.TranscriptEntry {
	entries := parseStructured(content)
	if len(entries) == 0 {
		entries = parseLines(content)
	}
	if len(entries) == 0 {
		entries = parseGlobalPattern(content)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start < entries[j].Start
	})
	return entries
}

// parseStructured extracts balanced JSON blocks from the payload and walks
// each parsed value recursively, collecting objects that carry text, start
// and end keys at any depth.
func parseStructured(content string) []core.TranscriptEntry {
	var entries []core.TranscriptEntry
	for _, candidate := range jsonBlocks(content) {
		var v any
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			continue
		}
		walkTranscriptValue(v, &entries)
	}
	return entries
}

// jsonBlocks scans for top-level balanced '{...}' or '[...]' regions,
// tolerating brackets inside JSON strings.
func jsonBlocks(content string) []string {
	var blocks []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if inString {
				continue
			}
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if inString || depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				blocks = append(blocks, content[start:i+1])
				start = -1
			}
		}
	}
	return blocks
}

func walkTranscriptValue(v any, out *[]core.TranscriptEntry) {
	switch val := v.(type) {
	case map[string]any:
		if entry, ok := entryFromMap(val); ok {
			*out = append(*out, entry)
		}
		for _, child := range val {
			walkTranscriptValue(child, out)
		}
	case []any:
		for _, child := range val {
			walkTranscriptValue(child, out)
		}
	}
}

// entryFromMap accepts an object only when it holds a non-empty text and a
// valid start/end pair. Invalid spans are rejected, never coerced.
func entryFromMap(m map[string]any) (core.TranscriptEntry, bool) {
	textVal, ok := m["text"]
	if !ok {
		return core.TranscriptEntry{}, false
	}
	text, ok := textVal.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return core.TranscriptEntry{}, false
	}
	startVal, hasStart := m["start"]
	endVal, hasEnd := m["end"]
	if !hasStart || !hasEnd {
		return core.TranscriptEntry{}, false
	}
	start := parseTimeValue(startVal)
	end := parseTimeValue(endVal)
	if end <= start || start < 0 {
		return core.TranscriptEntry{}, false
	}
	confidence := 1.0
	if c, ok := m["confidence"].(float64); ok && c >= 0 && c <= 1 {
		confidence = c
	}
	return core.TranscriptEntry{
		Text:       strings.TrimSpace(text),
		Start:      start,
		End:        end,
		Confidence: confidence,
	}, true
}

// parseLines recovers entries from payloads where each record sits on its own
// line. Lines mentioning both text and start are first retried as standalone
// JSON objects, then mined with field-level regexes.
func parseLines(content string) []core.TranscriptEntry {
	var entries []core.TranscriptEntry
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, `"text"`) || !strings.Contains(line, `"start"`) {
			continue
		}
		trimmed := strings.TrimSuffix(line, ",")
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			if entry, ok := entryFromMap(m); ok {
				entries = append(entries, entry)
			}
			continue
		}
		if entry, ok := entryFromPattern(line); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func parseGlobalPattern(content string) []core.TranscriptEntry {
	var entries []core.TranscriptEntry
	for _, match := range entryPattern.FindAllStringSubmatch(content, -1) {
		if entry, ok := entryFromMatch(match); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func entryFromPattern(line string) (core.TranscriptEntry, bool) {
	match := entryPattern.FindStringSubmatch(line)
	if match == nil {
		return core.TranscriptEntry{}, false
	}
	return entryFromMatch(match)
}

func entryFromMatch(match []string) (core.TranscriptEntry, bool) {
	text := unescapeJSONString(match[1])
	if strings.TrimSpace(text) == "" {
		return core.TranscriptEntry{}, false
	}
	start := ParseTimeString(match[2])
	end := ParseTimeString(match[3])
	if end <= start {
		return core.TranscriptEntry{}, false
	}
	return core.TranscriptEntry{
		Text:       strings.TrimSpace(text),
		Start:      start,
		End:        end,
		Confidence: 1.0,
	}, true
}

func unescapeJSONString(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &s); err != nil {
		return raw
	}
	return s
}

// parseTimeValue normalizes a JSON value (number or string) into seconds.
func parseTimeValue(v any) float64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			log.Printf("negative timestamp %v clamped to 0", t)
			return 0
		}
		return t
	case string:
		return ParseTimeString(t)
	default:
		return 0
	}
}

// ParseTimeString converts a timestamp string into seconds. Plain numeric
// strings are seconds; colon-separated forms (MM:SS, HH:MM:SS, and the
// fractional H:MM:SS.ffffff the transcription stage emits) are decomposed
// positionally with seconds in the rightmost group. Malformed or negative
// values clamp to 0 and are logged, never returned as errors.
func ParseTimeString(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if !strings.Contains(s, ":") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			log.Printf("unparseable timestamp %q, using 0", s)
			return 0
		}
		if f < 0 {
			log.Printf("negative timestamp %q clamped to 0", s)
			return 0
		}
		return f
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		// Nothing past hours:minutes:seconds has a defined meaning.
		log.Printf("unparseable timestamp %q, using 0", s)
		return 0
	}
	total := 0.0
	multiplier := 1.0
	for i := len(parts) - 1; i >= 0; i-- {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil || f < 0 {
			log.Printf("unparseable timestamp %q, using 0", s)
			return 0
		}
		total += f * multiplier
		multiplier *= 60
	}
	return total
}

// entryPattern matches text/start/end fields appearing in order, with start
// and end either quoted strings or bare numbers.
var entryPattern = regexp.MustCompile(`"text"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"start"\s*:\s*"?([0-9:.\-]+)"?\s*,\s*"end"\s*:\s*"?([0-9:.\-]+)"?`)
