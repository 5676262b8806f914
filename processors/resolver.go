package processors

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// transcriptSuffixes are the naming decorations the transcription stage
// appends to a video's basename when writing its transcript artifacts.
var transcriptSuffixes = []string{"_sentences", "_transcript", "_timestamped"}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true, ".webm": true, ".m4v": true,
}

// ResolveVideoFile maps a transcript storage identifier to one of the
// available video filenames by structural match. It fails closed: when no
// candidate matches it returns "", never a guess.
func ResolveVideoFile(storageURI string, availableFiles []string) string {
	want := normalizeMediaName(storageURI)
	if want == "" {
		return ""
	}
	for _, candidate := range availableFiles {
		have := normalizeMediaName(candidate)
		if have == "" {
			continue
		}
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return candidate
		}
	}
	return ""
}

// ResolveApproximate distributes an unmatched identifier across the available
// files by hash. Only the last-resort fallback clip synthesis uses this; the
// result is stable for a given identifier but is a guess, not a match.
func ResolveApproximate(storageURI string, availableFiles []string) string {
	if len(availableFiles) == 0 {
		return ""
	}
	sorted := make([]string, len(availableFiles))
	copy(sorted, availableFiles)
	sort.Strings(sorted)
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(storageURI)))
	return sorted[int(h.Sum32())%len(sorted)]
}

// normalizeMediaName strips the path, extension and transcript suffixes from
// an identifier and lowercases the remainder for comparison.
func normalizeMediaName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)
	for changed := true; changed; {
		changed = false
		for _, suffix := range transcriptSuffixes {
			if strings.HasSuffix(base, suffix) {
				base = strings.TrimSuffix(base, suffix)
				changed = true
			}
		}
	}
	return base
}

// ListVideoFiles returns the video filenames present in dir, sorted.
func ListVideoFiles(dir string) []string {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, item := range items {
		if item.IsDir() {
			continue
		}
		if videoExtensions[strings.ToLower(filepath.Ext(item.Name()))] {
			files = append(files, item.Name())
		}
	}
	sort.Strings(files)
	return files
}
