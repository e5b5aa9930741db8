// ABOUTME: SQLite implementation of the panel store using modernc.org/sqlite
// ABOUTME: Panels reload on startup so the sequence counter survives restarts

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/phoenix-cmd/StoryMaker/internal/story"
)

// SQLiteStore implements Store. The in-memory slice is authoritative for
// ordering; every append also inserts a durable row, and opening the store
// reloads existing rows to reseed the sequence counter.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	panels []story.Panel
	closed bool
}

// NewSQLiteStore opens (or creates) the panel database at the given path
// and loads any previously captured panels. Parent directories are created
// if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.loadPanels(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading panels: %w", err)
	}

	logger.Info("panel store initialized", "path", path, "panels", len(s.panels))
	return s, nil
}

// createSchema creates the panels table if it doesn't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS panels (
			id        TEXT PRIMARY KEY,
			seq       INTEGER NOT NULL UNIQUE,
			ts        TEXT NOT NULL,
			room_id   TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			speaker   TEXT,
			text      TEXT NOT NULL,
			photo_url TEXT,

			CHECK (seq > 0)
		);

		CREATE INDEX IF NOT EXISTS idx_panels_room ON panels(room_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// loadPanels reads all rows in sequence order into memory.
func (s *SQLiteStore) loadPanels() error {
	rows, err := s.db.Query(`
		SELECT id, seq, ts, room_id, user_id, speaker, text, photo_url
		FROM panels ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("querying panels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p story.Panel
		var ts string
		var speakerCol, photoCol sql.NullString
		if err := rows.Scan(&p.ID, &p.Seq, &ts, &p.RoomID, &p.UserID, &speakerCol, &p.Text, &photoCol); err != nil {
			return fmt.Errorf("scanning panel row: %w", err)
		}
		p.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("parsing panel %d timestamp: %w", p.Seq, err)
		}
		p.Speaker = speakerCol.String
		p.PhotoURL = photoCol.String
		s.panels = append(s.panels, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating panel rows: %w", err)
	}

	// Sequence numbers must be dense and 1-based; a gap means the database
	// was edited out-of-band and positional node ids would shift.
	for i, p := range s.panels {
		if p.Seq != i+1 {
			return fmt.Errorf("panel sequence gap: row %d has seq %d", i, p.Seq)
		}
	}
	return nil
}

// Append assigns the next global sequence number and a record id to p,
// inserts the row, and adds it to the in-memory sequence. The insert
// happens inside the lock so the database row order matches seq order.
func (s *SQLiteStore) Append(ctx context.Context, p *story.Panel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	p.Seq = len(s.panels) + 1
	p.ID = uuid.NewString()

	var speakerCol, photoCol any
	if p.Speaker != "" {
		speakerCol = p.Speaker
	}
	if p.PhotoURL != "" {
		photoCol = p.PhotoURL
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO panels (id, seq, ts, room_id, user_id, speaker, text, photo_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Seq, p.Timestamp.UTC().Format(time.RFC3339Nano),
		p.RoomID, p.UserID, speakerCol, p.Text, photoCol)
	if err != nil {
		p.Seq = 0
		p.ID = ""
		return fmt.Errorf("inserting panel: %w", err)
	}

	s.panels = append(s.panels, *p)
	return nil
}

// Panels returns a copy of the full panel sequence in append order.
func (s *SQLiteStore) Panels() []story.Panel {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]story.Panel, len(s.panels))
	copy(out, s.panels)
	return out
}

// Count returns the number of appended panels.
func (s *SQLiteStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.panels)
}

// Close closes the underlying database. Further appends return ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
