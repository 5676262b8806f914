package core

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DataRoot returns the working directory for generated artifacts (extracted
// segments, frames, assembled outputs), creating it on first use.
func DataRoot() string {
	root := os.Getenv("DATA_DIR")
	if root == "" {
		root = filepath.Join(".", "data")
	}
	_ = os.MkdirAll(root, 0o755)
	return root
}

// NewID returns a fresh request/job identifier.
func NewID() string {
	return uuid.NewString()
}

// WriteJSON writes v as a JSON response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// FormatTime renders seconds as MM:SS for logs and captions.
func FormatTime(sec float64) string {
	sec = math.Max(sec, 0)
	m := int(sec) / 60
	s := int(sec) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ClampFloat bounds x to [lo, hi].
func ClampFloat(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
