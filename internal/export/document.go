// ABOUTME: Atomic full-document export of the assembled story graph
// ABOUTME: Pretty-printed JSON written to a temp file and renamed into place

package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/phoenix-cmd/StoryMaker/internal/story"
)

// DocumentWriter persists the assembled story document as
// <dir>/<storyID>.json, fully rewritten on every call. The write is
// atomic: a complete temp file is renamed over the previous version, so a
// reader never observes a torn document.
type DocumentWriter struct {
	mu   sync.Mutex
	path string
}

// NewDocumentWriter creates a writer for the given output directory and
// story identifier. The directory is created if needed.
func NewDocumentWriter(dir, storyID string) (*DocumentWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &DocumentWriter{path: filepath.Join(dir, storyID+".json")}, nil
}

// Path returns the document's destination path.
func (w *DocumentWriter) Path() string {
	return w.path
}

// Write replaces the persisted document with g.
func (w *DocumentWriter) Write(g story.Graph) error {
	data, err := MarshalGraph(g)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing story document: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing story document: %w", err)
	}
	return nil
}

// MarshalGraph renders the document bytes: pretty-printed UTF-8 JSON with
// two-space indentation and a trailing newline. Identical graphs always
// yield identical bytes.
func MarshalGraph(g story.Graph) ([]byte, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding story document: %w", err)
	}
	return append(data, '\n'), nil
}
