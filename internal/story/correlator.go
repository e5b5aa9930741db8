// ABOUTME: Correlator turns photo and text events into finalized panels
// ABOUTME: Pairs each text with a recent pending image, appends, and rebuilds the story document

package story

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phoenix-cmd/StoryMaker/internal/pending"
	"github.com/phoenix-cmd/StoryMaker/internal/speaker"
)

// PhotoEvent signals that an image arrived from a user in a room. The media
// reference is transport-specific and is only dereferenced if the image ends
// up paired with a text message.
type PhotoEvent struct {
	RoomID    string
	UserID    string
	Timestamp time.Time
	MediaRef  string
}

// TextEvent signals that a text message arrived from a user in a room.
type TextEvent struct {
	RoomID    string
	UserID    string
	Timestamp time.Time
	Text      string
}

// MediaFetcher retrieves the raw bytes behind a transport media reference.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaRef string) ([]byte, error)
}

// Uploader pushes image bytes to the asset host and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

// PanelStore assigns sequence numbers and holds the ordered panel sequence.
type PanelStore interface {
	Append(ctx context.Context, p *Panel) error
	Panels() []Panel
}

// PanelSink receives one record per finalized panel, in append order.
type PanelSink interface {
	Append(p Panel) error
}

// DocumentSink persists the assembled story document, replacing the
// previous version wholesale.
type DocumentSink interface {
	Write(g Graph) error
}

// Config holds the correlator's story identity and pairing window.
type Config struct {
	StoryID  string
	Title    string
	PanelGap time.Duration
}

// Deps are the correlator's collaborators. Fetcher, Uploader, Log and
// Documents may be nil, degrading the corresponding path.
type Deps struct {
	Parser    *speaker.Parser
	Registry  *pending.Registry
	Fetcher   MediaFetcher
	Uploader  Uploader
	Store     PanelStore
	Log       PanelSink
	Documents DocumentSink
}

// Capture summarizes one finalized panel and the document state after it.
type Capture struct {
	Panel     Panel
	NodeCount int
}

// Correlator consumes photo and text events and produces panels. Photo
// events only park a pending image; a following text event from the same
// room and user finalizes a panel, claiming the image if it is recent
// enough. Fetch and upload failures degrade to a text-only panel and never
// discard the event.
type Correlator struct {
	cfg    Config
	parser *speaker.Parser
	reg    *pending.Registry
	deps   Deps
	logger *slog.Logger

	// mu guards tail, the completion channel of the most recently begun
	// claim. Claims append in BeginText order by waiting on their
	// predecessor before touching the store.
	mu   sync.Mutex
	tail chan struct{}
}

// New creates a correlator. A nil parser gets the default rule set and a
// nil registry gets a fresh one.
func New(cfg Config, deps Deps, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	parser := deps.Parser
	if parser == nil {
		parser, _ = speaker.NewParser(nil, 0)
	}
	reg := deps.Registry
	if reg == nil {
		reg = pending.New()
	}
	return &Correlator{
		cfg:    cfg,
		parser: parser,
		reg:    reg,
		deps:   deps,
		logger: logger.With("component", "correlator"),
	}
}

// HandlePhoto parks the image reference for pairing with a following text
// message. No panel is produced.
func (c *Correlator) HandlePhoto(ev PhotoEvent) {
	c.reg.Record(ev.RoomID, ev.UserID, ev.Timestamp, ev.MediaRef)
	c.logger.Info("photo captured for pairing",
		"room", ev.RoomID,
		"user", ev.UserID,
	)
}

// Claim is the order-sensitive half of a text event: the speaker split and
// any pending image claimed for the event's key. Claims are produced by
// BeginText and must each be completed with exactly one FinishText call, or
// later claims stall waiting for their predecessor.
type Claim struct {
	ev       TextEvent
	speaker  string
	text     string
	mediaRef string
	hasMedia bool

	prev <-chan struct{}
	done chan struct{}
}

// BeginText runs the steps of text handling that must observe events in
// arrival order: the empty-text check, the speaker parse, and claiming any
// pending image for the (room, user) key. A photo pairs with the first
// following text from its key, so callers dispatching work concurrently
// must call BeginText inline from their event loop; the returned claim can
// then be finished on any goroutine. A nil claim means the event carries no
// text content and produces no panel.
func (c *Correlator) BeginText(ev TextEvent) *Claim {
	if strings.TrimSpace(ev.Text) == "" {
		return nil
	}

	label, body, ok := c.parser.Parse(ev.Text)

	// Speaker-tagged text is split; untagged text is preserved whole.
	text := ev.Text
	if ok {
		text = body
	}

	cl := &Claim{
		ev:      ev,
		speaker: label,
		text:    text,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	cl.mediaRef, cl.hasMedia = c.reg.Take(ev.RoomID, ev.UserID, ev.Timestamp, c.cfg.PanelGap)
	cl.prev = c.tail
	c.tail = cl.done
	c.mu.Unlock()

	return cl
}

// FinishText completes a claim: the claimed image (if any) is fetched and
// uploaded, the panel is appended, and the story document is rebuilt.
// Media resolution for several claims runs concurrently; the append waits
// for the preceding claim so sequence numbers follow arrival order.
func (c *Correlator) FinishText(ctx context.Context, cl *Claim) (*Capture, error) {
	defer close(cl.done)

	photoURL := c.resolveMedia(ctx, cl)

	if cl.prev != nil {
		select {
		case <-cl.prev:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	panel := &Panel{
		Timestamp: cl.ev.Timestamp,
		RoomID:    cl.ev.RoomID,
		UserID:    cl.ev.UserID,
		Speaker:   cl.speaker,
		Text:      cl.text,
		PhotoURL:  photoURL,
	}

	if err := c.deps.Store.Append(ctx, panel); err != nil {
		return nil, fmt.Errorf("appending panel: %w", err)
	}

	if c.deps.Log != nil {
		if err := c.deps.Log.Append(*panel); err != nil {
			c.logger.Error("writing panel log record", "seq", panel.Seq, "error", err)
		}
	}

	graph := c.Rebuild()

	c.logger.Info("panel captured",
		"seq", panel.Seq,
		"room", cl.ev.RoomID,
		"user", cl.ev.UserID,
		"speaker", cl.speaker,
		"has_photo", photoURL != "",
	)

	return &Capture{Panel: *panel, NodeCount: len(graph.Nodes)}, nil
}

// HandleText processes one text event start to finish. Callers that
// background the slow media path use BeginText and FinishText directly.
func (c *Correlator) HandleText(ctx context.Context, ev TextEvent) (*Capture, error) {
	cl := c.BeginText(ev)
	if cl == nil {
		return nil, nil
	}
	return c.FinishText(ctx, cl)
}

// resolveMedia turns a claimed image reference into a hosted URL. Any
// failure on the fetch or upload path logs a warning and yields an empty
// URL; the pending entry was already consumed at claim time.
func (c *Correlator) resolveMedia(ctx context.Context, cl *Claim) string {
	if !cl.hasMedia {
		return ""
	}

	if c.deps.Fetcher == nil || c.deps.Uploader == nil {
		c.logger.Warn("pending image dropped: no media pipeline configured",
			"room", cl.ev.RoomID, "user", cl.ev.UserID)
		return ""
	}

	data, err := c.deps.Fetcher.Fetch(ctx, cl.mediaRef)
	if err != nil {
		c.logger.Warn("fetching paired image failed",
			"room", cl.ev.RoomID, "user", cl.ev.UserID, "error", err)
		return ""
	}

	url, err := c.deps.Uploader.Upload(ctx, data)
	if err != nil {
		c.logger.Warn("uploading paired image failed",
			"room", cl.ev.RoomID, "user", cl.ev.UserID, "error", err)
		return ""
	}

	c.logger.Info("image uploaded", "url", url)
	return url
}

// Rebuild assembles the story document from the current panel snapshot and
// persists it. Persistence failures are logged, not returned: any
// successfully written version is a consistent snapshot, and the next
// rebuild overwrites it.
func (c *Correlator) Rebuild() Graph {
	graph := Assemble(c.cfg.StoryID, c.cfg.Title, c.deps.Store.Panels())
	if c.deps.Documents != nil {
		if err := c.deps.Documents.Write(graph); err != nil {
			c.logger.Error("writing story document", "error", err)
		}
	}
	return graph
}

// RunPeriodicRebuild rebuilds and persists the document at the given
// interval until the context is cancelled. Concurrent event-triggered
// rebuilds are safe: each writes a complete snapshot atomically.
func (c *Correlator) RunPeriodicRebuild(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			graph := c.Rebuild()
			c.logger.Debug("periodic rebuild",
				"nodes", len(graph.Nodes),
				"pending_images", c.reg.Len(),
			)
		case <-ctx.Done():
			return
		}
	}
}
