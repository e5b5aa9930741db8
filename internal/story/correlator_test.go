// ABOUTME: Tests for the panel correlator
// ABOUTME: Covers image pairing, window behavior, degradation on failures, and global ordering

package story

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory PanelStore for correlator tests.
type memStore struct {
	mu     sync.Mutex
	panels []Panel
}

func (m *memStore) Append(_ context.Context, p *Panel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Seq = len(m.panels) + 1
	m.panels = append(m.panels, *p)
	return nil
}

func (m *memStore) Panels() []Panel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Panel, len(m.panels))
	copy(out, m.panels)
	return out
}

type fakeFetcher struct {
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	f.calls = append(f.calls, ref)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("bytes:" + ref), nil
}

type fakeUploader struct {
	err     error
	uploads [][]byte
}

func (u *fakeUploader) Upload(_ context.Context, data []byte) (string, error) {
	u.uploads = append(u.uploads, data)
	if u.err != nil {
		return "", u.err
	}
	return "https://img.example/hosted.png", nil
}

type memSink struct {
	mu      sync.Mutex
	records []Panel
}

func (s *memSink) Append(p Panel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, p)
	return nil
}

type memDoc struct {
	mu     sync.Mutex
	writes int
	last   Graph
}

func (d *memDoc) Write(g Graph) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	d.last = g
	return nil
}

type fixture struct {
	correlator *Correlator
	store      *memStore
	fetcher    *fakeFetcher
	uploader   *fakeUploader
	sink       *memSink
	doc        *memDoc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    &memStore{},
		fetcher:  &fakeFetcher{},
		uploader: &fakeUploader{},
		sink:     &memSink{},
		doc:      &memDoc{},
	}
	f.correlator = New(
		Config{StoryID: "captured_story", Title: "Captured Story", PanelGap: 25 * time.Second},
		Deps{
			Fetcher:   f.fetcher,
			Uploader:  f.uploader,
			Store:     f.store,
			Log:       f.sink,
			Documents: f.doc,
		},
		nil,
	)
	return f
}

func photoAt(offset time.Duration) PhotoEvent {
	return PhotoEvent{
		RoomID:    "!room:example.org",
		UserID:    "@alice:example.org",
		Timestamp: t0.Add(offset),
		MediaRef:  "mxc://hs/photo",
	}
}

func textAt(offset time.Duration, text string) TextEvent {
	return TextEvent{
		RoomID:    "!room:example.org",
		UserID:    "@alice:example.org",
		Timestamp: t0.Add(offset),
		Text:      text,
	}
}

func TestHandleText_EmptyTextDropped(t *testing.T) {
	f := newFixture(t)

	result, err := f.correlator.HandleText(context.Background(), textAt(0, "   \n "))
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, f.store.Panels())
	assert.Zero(t, f.doc.writes)
}

func TestHandleText_PlainTextPanel(t *testing.T) {
	f := newFixture(t)

	result, err := f.correlator.HandleText(context.Background(), textAt(0, "Just some text"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 1, result.Panel.Seq)
	assert.Empty(t, result.Panel.Speaker)
	assert.Equal(t, "Just some text", result.Panel.Text)
	assert.Empty(t, result.Panel.PhotoURL)
	assert.Equal(t, 1, result.NodeCount)

	// Panel log and document both updated.
	require.Len(t, f.sink.records, 1)
	assert.Equal(t, 1, f.doc.writes)
	assert.Equal(t, "node_0001", f.doc.last.Meta.Intro)
}

func TestHandleText_SpeakerSplit(t *testing.T) {
	f := newFixture(t)

	result, err := f.correlator.HandleText(context.Background(), textAt(0, "Slayer:\nHello"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "Slayer", result.Panel.Speaker)
	assert.Equal(t, "Hello", result.Panel.Text)
}

func TestHandleText_UntaggedTextPreservedWhole(t *testing.T) {
	f := newFixture(t)

	raw := "First line\nSecond line"
	result, err := f.correlator.HandleText(context.Background(), textAt(0, raw))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Empty(t, result.Panel.Speaker)
	assert.Equal(t, raw, result.Panel.Text)
}

func TestPairing_WithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.correlator.HandlePhoto(photoAt(0))
	result, err := f.correlator.HandleText(ctx, textAt(10*time.Second, "caption text"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "https://img.example/hosted.png", result.Panel.PhotoURL)
	assert.Equal(t, []string{"mxc://hs/photo"}, f.fetcher.calls)
	require.Len(t, f.uploader.uploads, 1)
	assert.Equal(t, []byte("bytes:mxc://hs/photo"), f.uploader.uploads[0])
}

func TestPairing_OutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.correlator.HandlePhoto(photoAt(0))
	result, err := f.correlator.HandleText(ctx, textAt(30*time.Second, "too late"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Empty(t, result.Panel.PhotoURL)
	assert.Empty(t, f.fetcher.calls)

	// The stale entry was consumed: a later text within a fresh window
	// still gets nothing.
	result, err = f.correlator.HandleText(ctx, textAt(31*time.Second, "still nothing"))
	require.NoError(t, err)
	assert.Empty(t, result.Panel.PhotoURL)
}

func TestPairing_AtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.correlator.HandlePhoto(photoAt(0))

	first, err := f.correlator.HandleText(ctx, textAt(5*time.Second, "first"))
	require.NoError(t, err)
	second, err := f.correlator.HandleText(ctx, textAt(6*time.Second, "second"))
	require.NoError(t, err)

	assert.NotEmpty(t, first.Panel.PhotoURL)
	assert.Empty(t, second.Panel.PhotoURL)
	assert.Len(t, f.fetcher.calls, 1)
}

func TestPairing_FirstTextClaimsPhoto_ConcurrentCapture(t *testing.T) {
	// The bridge claims inline in arrival order but completes each text on
	// its own goroutine; the photo must go to the first text even when the
	// second's goroutine runs first.
	for i := 0; i < 200; i++ {
		f := newFixture(t)
		ctx := context.Background()

		f.correlator.HandlePhoto(photoAt(0))
		first := f.correlator.BeginText(textAt(time.Second, "one"))
		second := f.correlator.BeginText(textAt(2*time.Second, "two"))
		require.NotNil(t, first)
		require.NotNil(t, second)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.correlator.FinishText(ctx, second)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.correlator.FinishText(ctx, first)
			assert.NoError(t, err)
		}()
		wg.Wait()

		panels := f.store.Panels()
		require.Len(t, panels, 2)
		assert.Equal(t, "one", panels[0].Text)
		assert.NotEmpty(t, panels[0].PhotoURL)
		assert.Equal(t, "two", panels[1].Text)
		assert.Empty(t, panels[1].PhotoURL)
	}
}

func TestFinishText_SequencesFollowArrivalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	texts := []string{"one", "two", "three", "four", "five"}
	claims := make([]*Claim, 0, len(texts))
	for i, text := range texts {
		cl := f.correlator.BeginText(textAt(time.Duration(i)*time.Second, text))
		require.NotNil(t, cl)
		claims = append(claims, cl)
	}

	// Finish in reverse; appends still land in arrival order.
	var wg sync.WaitGroup
	for i := len(claims) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(cl *Claim) {
			defer wg.Done()
			_, err := f.correlator.FinishText(ctx, cl)
			assert.NoError(t, err)
		}(claims[i])
	}
	wg.Wait()

	panels := f.store.Panels()
	require.Len(t, panels, len(texts))
	for i, want := range texts {
		assert.Equal(t, i+1, panels[i].Seq)
		assert.Equal(t, want, panels[i].Text)
	}
}

func TestFinishText_CancelledWhileWaitingForPredecessor(t *testing.T) {
	f := newFixture(t)

	first := f.correlator.BeginText(textAt(0, "one"))
	require.NotNil(t, first)
	second := f.correlator.BeginText(textAt(time.Second, "two"))
	require.NotNil(t, second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The predecessor never finishes; cancellation unblocks the wait.
	_, err := f.correlator.FinishText(ctx, second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.Panels())
}

func TestPairing_LastPhotoWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.correlator.HandlePhoto(photoAt(0))
	second := photoAt(2 * time.Second)
	second.MediaRef = "mxc://hs/newer"
	f.correlator.HandlePhoto(second)

	result, err := f.correlator.HandleText(ctx, textAt(5*time.Second, "text"))
	require.NoError(t, err)

	assert.NotEmpty(t, result.Panel.PhotoURL)
	assert.Equal(t, []string{"mxc://hs/newer"}, f.fetcher.calls)
}

func TestPairing_FetchFailureDegradesToTextOnly(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = errors.New("server unreachable")
	ctx := context.Background()

	f.correlator.HandlePhoto(photoAt(0))
	result, err := f.correlator.HandleText(ctx, textAt(time.Second, "text"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Empty(t, result.Panel.PhotoURL)
	assert.Equal(t, "text", result.Panel.Text)
	assert.Empty(t, f.uploader.uploads)
	// The panel was still created and the document rebuilt.
	assert.Len(t, f.store.Panels(), 1)
	assert.Equal(t, 1, f.doc.writes)
}

func TestPairing_UploadFailureDegradesToTextOnly(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = errors.New("quota exceeded")
	ctx := context.Background()

	f.correlator.HandlePhoto(photoAt(0))
	result, err := f.correlator.HandleText(ctx, textAt(time.Second, "text"))
	require.NoError(t, err)

	assert.Empty(t, result.Panel.PhotoURL)
	assert.Len(t, f.store.Panels(), 1)
}

func TestPairing_IndependentKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.correlator.HandlePhoto(photoAt(0))

	// Text from a different user must not claim alice's photo.
	bob := textAt(time.Second, "bob talks")
	bob.UserID = "@bob:example.org"
	result, err := f.correlator.HandleText(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, result.Panel.PhotoURL)

	// Alice's photo is still pending for alice.
	result, err = f.correlator.HandleText(ctx, textAt(2*time.Second, "alice talks"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.Panel.PhotoURL)
}

func TestGlobalOrdering_AcrossRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	events := []TextEvent{
		{RoomID: "!a:hs", UserID: "@u1:hs", Timestamp: t0, Text: "a1"},
		{RoomID: "!b:hs", UserID: "@u2:hs", Timestamp: t0.Add(time.Second), Text: "b1"},
		{RoomID: "!a:hs", UserID: "@u1:hs", Timestamp: t0.Add(2 * time.Second), Text: "a2"},
		{RoomID: "!b:hs", UserID: "@u3:hs", Timestamp: t0.Add(3 * time.Second), Text: "b2"},
	}
	for _, ev := range events {
		_, err := f.correlator.HandleText(ctx, ev)
		require.NoError(t, err)
	}

	panels := f.store.Panels()
	require.Len(t, panels, 4)
	for i, want := range []string{"a1", "b1", "a2", "b2"} {
		assert.Equal(t, i+1, panels[i].Seq)
		assert.Equal(t, want, panels[i].Text)
	}
}

func TestHandleText_DocumentGrowsWithPanels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.correlator.HandleText(ctx, textAt(0, "one"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.NodeCount)

	second, err := f.correlator.HandleText(ctx, textAt(time.Second, "two"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.NodeCount)

	// Both nodes chained in the last written document.
	node := f.doc.last.Nodes["node_0001"]
	require.Len(t, node.Choices, 1)
	assert.Equal(t, "captured_story:goto:0002", node.Choices[0].Key)
}

func TestRebuild_WithoutEvents(t *testing.T) {
	f := newFixture(t)

	graph := f.correlator.Rebuild()
	assert.Empty(t, graph.Nodes)
	assert.Equal(t, 1, f.doc.writes)
}

func TestHandlePhoto_ProducesNoPanel(t *testing.T) {
	f := newFixture(t)

	f.correlator.HandlePhoto(photoAt(0))
	assert.Empty(t, f.store.Panels())
	assert.Zero(t, f.doc.writes)
}

func TestHandleText_NoMediaPipeline(t *testing.T) {
	s := &memStore{}
	c := New(
		Config{StoryID: "captured_story", Title: "Captured Story", PanelGap: 25 * time.Second},
		Deps{Store: s},
		nil,
	)
	ctx := context.Background()

	c.HandlePhoto(photoAt(0))
	result, err := c.HandleText(ctx, textAt(time.Second, "text"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Panel.PhotoURL)
}
