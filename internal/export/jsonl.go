// ABOUTME: Append-only JSONL export of finalized panels
// ABOUTME: One UTF-8 JSON record per line, in panel store order

package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/phoenix-cmd/StoryMaker/internal/story"
)

// JSONLSink appends one JSON record per finalized panel to a log file.
// Writes are serialized so records never interleave.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONLSink opens (or creates) the panel log at the given path for
// appending. Parent directories are created if needed.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating panel log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening panel log: %w", err)
	}
	return &JSONLSink{file: f}, nil
}

// Append writes one panel record followed by a newline.
func (s *JSONLSink) Append(p story.Panel) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding panel %d: %w", p.Seq, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("writing panel %d: %w", p.Seq, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
