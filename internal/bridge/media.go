// ABOUTME: Media fetcher over the Matrix content repository
// ABOUTME: Resolves mxc:// references into raw image bytes

package bridge

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// ContentFetcher downloads media referenced by mxc:// URIs from the
// homeserver's content repository. It implements story.MediaFetcher.
type ContentFetcher struct {
	client *mautrix.Client
}

// NewContentFetcher creates a fetcher over an existing Matrix client.
func NewContentFetcher(client *mautrix.Client) *ContentFetcher {
	return &ContentFetcher{client: client}
}

// Fetch downloads the bytes behind the given mxc:// reference.
func (f *ContentFetcher) Fetch(ctx context.Context, mediaRef string) ([]byte, error) {
	uri, err := id.ContentURIString(mediaRef).Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing media reference %q: %w", mediaRef, err)
	}

	data, err := f.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", mediaRef, err)
	}
	return data, nil
}
