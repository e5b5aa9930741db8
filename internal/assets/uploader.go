// ABOUTME: HTTP uploader pushing image bytes to a Cloudinary-style unsigned upload endpoint
// ABOUTME: Degrades to a disabled uploader when no endpoint is configured

package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrNotConfigured is returned by Upload when no endpoint was configured.
// The correlator treats it like any other upload failure: the panel is
// still created, just without a photo.
var ErrNotConfigured = errors.New("asset uploads not configured")

// uploadTimeout bounds a single upload request.
const uploadTimeout = 30 * time.Second

// Config holds the upload endpoint settings.
type Config struct {
	UploadURL string // unsigned upload endpoint; empty disables uploads
	Preset    string // upload preset name sent with each request
	Folder    string // destination folder on the asset host
}

// HTTPUploader posts image bytes as multipart form data and returns the
// hosted URL from the response.
type HTTPUploader struct {
	cfg    Config
	client *http.Client
}

// New creates an uploader. With an empty upload URL the uploader is
// disabled and every Upload returns ErrNotConfigured.
func New(cfg Config) *HTTPUploader {
	return &HTTPUploader{
		cfg:    cfg,
		client: &http.Client{Timeout: uploadTimeout},
	}
}

// Enabled reports whether an upload endpoint is configured.
func (u *HTTPUploader) Enabled() bool {
	return u.cfg.UploadURL != ""
}

// uploadResponse is the subset of the endpoint's response we use.
type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
}

// Upload posts data to the upload endpoint and returns the hosted URL.
// Each upload gets a unique generated filename so the host never
// overwrites an earlier image.
func (u *HTTPUploader) Upload(ctx context.Context, data []byte) (string, error) {
	if !u.Enabled() {
		return "", ErrNotConfigured
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", uuid.NewString())
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	if u.cfg.Preset != "" {
		if err := mw.WriteField("upload_preset", u.cfg.Preset); err != nil {
			return "", fmt.Errorf("building upload request: %w", err)
		}
	}
	if u.cfg.Folder != "" {
		if err := mw.WriteField("folder", u.cfg.Folder); err != nil {
			return "", fmt.Errorf("building upload request: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.UploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload rejected: %s: %s", resp.Status, msg)
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}

	url := parsed.SecureURL
	if url == "" {
		url = parsed.URL
	}
	if url == "" {
		return "", fmt.Errorf("upload response contains no url")
	}
	return url, nil
}
