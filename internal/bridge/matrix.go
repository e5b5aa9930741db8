// ABOUTME: Matrix transport for storymaker
// ABOUTME: Turns room messages into photo and text events for the correlator

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/phoenix-cmd/StoryMaker/internal/config"
	"github.com/phoenix-cmd/StoryMaker/internal/story"
)

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// pingReply answers the /ping operator command.
const pingReply = "Bot alive. Send photos + text; I'll build a story JSON."

// NewClient creates a Matrix client from the transport config.
func NewClient(cfg config.MatrixConfig) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return client, nil
}

// Bridge connects Matrix rooms to the story correlator. Image messages park
// a pending photo; text messages finalize panels.
type Bridge struct {
	cfg        *config.Config
	matrix     *mautrix.Client
	correlator *story.Correlator
	logger     *slog.Logger

	// Messages delivered by the initial sync predate this; they were
	// already captured (or deliberately missed) in a previous run.
	startedAt time.Time

	// ctx is the parent context for per-event processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a bridge over an existing Matrix client.
func New(client *mautrix.Client, cfg *config.Config, correlator *story.Correlator, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:        cfg,
		matrix:     client,
		correlator: correlator,
		logger:     logger.With("component", "bridge"),
	}
}

// Run starts the sync loop and blocks until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Matrix.Homeserver,
		"user_id", b.cfg.Matrix.UserID,
	)

	b.startedAt = time.Now()

	// Store context for per-event processing goroutines
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent routes incoming Matrix messages to the correlator.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == id.UserID(b.cfg.Matrix.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	ts := time.UnixMilli(evt.Timestamp)
	if ts.Before(b.startedAt) {
		b.logger.Debug("ignoring historical message", "room", roomID, "ts", ts)
		return
	}

	sender := evt.Sender.String()

	switch content.MsgType {
	case event.MsgImage:
		b.handleImage(roomID, sender, ts, content)
	case event.MsgText, event.MsgNotice:
		b.handleText(roomID, sender, ts, content.Body)
	}
}

// handleImage parks the image for pairing. An image sent with a caption
// also finalizes a panel immediately, caption acting as the text message.
func (b *Bridge) handleImage(roomID, sender string, ts time.Time, content *event.MessageEventContent) {
	if content.URL == "" {
		return
	}

	b.correlator.HandlePhoto(story.PhotoEvent{
		RoomID:    roomID,
		UserID:    sender,
		Timestamp: ts,
		MediaRef:  string(content.URL),
	})

	if caption := imageCaption(content); caption != "" {
		b.handleText(roomID, sender, ts, caption)
	}
}

// handleText forwards a text message to the correlator. The claim runs
// inline so pending images go to the first text from their key in arrival
// order; the slow fetch/upload path runs in a goroutine so it never blocks
// the sync loop or other rooms' events.
func (b *Bridge) handleText(roomID, sender string, ts time.Time, body string) {
	trimmed := strings.TrimSpace(body)

	if trimmed == "/ping" {
		b.reply(roomID, pingReply)
		return
	}
	// Other operator commands are not narrative content
	if strings.HasPrefix(trimmed, "/") {
		return
	}

	b.logger.Info("received message",
		"room", roomID,
		"sender", sender,
		"content", truncate(body, 50),
	)

	claim := b.correlator.BeginText(story.TextEvent{
		RoomID:    roomID,
		UserID:    sender,
		Timestamp: ts,
		Text:      body,
	})
	if claim == nil {
		return
	}

	go b.capture(b.ctx, roomID, claim)
}

// capture completes a text claim and optionally confirms the panel.
func (b *Bridge) capture(ctx context.Context, roomID string, claim *story.Claim) {
	result, err := b.correlator.FinishText(ctx, claim)
	if err != nil {
		b.logger.Error("capturing panel failed", "room", roomID, "error", err)
		return
	}

	if b.cfg.Bridge.Confirmations {
		b.reply(roomID, fmt.Sprintf("Captured panel %d. Nodes: %d", result.Panel.Seq, result.NodeCount))
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.cfg.Matrix.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}

	for _, allowed := range b.cfg.Matrix.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// reply sends a text message to a room, best effort.
func (b *Bridge) reply(roomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.SendText(ctx, id.RoomID(roomID), text); err != nil {
		b.logger.Debug("failed to send reply", "room", roomID, "error", err)
	}
}

// imageCaption returns the caption of an image message, if any. Matrix
// puts the filename in Body unless a caption is present, in which case
// FileName carries the name and Body carries the caption.
func imageCaption(content *event.MessageEventContent) string {
	if content.FileName != "" && content.Body != "" && content.Body != content.FileName {
		return content.Body
	}
	return ""
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
