// ABOUTME: Store interface for the globally ordered panel sequence
// ABOUTME: Append assigns dense 1-based sequence numbers; order defines assembly order

package store

import (
	"context"
	"errors"

	"github.com/phoenix-cmd/StoryMaker/internal/story"
)

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is the append-only, globally ordered panel sequence. Appends are
// linearizable: no two panels receive the same sequence number, and append
// order is the order Panels returns.
type Store interface {
	// Append assigns the next sequence number and record id to p and
	// persists it. p is mutated in place.
	Append(ctx context.Context, p *story.Panel) error

	// Panels returns a snapshot copy of the full sequence in order.
	Panels() []story.Panel

	// Count returns the number of appended panels.
	Count() int

	Close() error
}
