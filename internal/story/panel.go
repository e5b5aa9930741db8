// ABOUTME: Panel is the finalized narrative unit produced by the correlator
// ABOUTME: JSON field names match the panel log consumed by downstream tooling

package story

import (
	"encoding/json"
	"time"
)

// Panel is one finalized narrative unit: an optional speaker label, a body
// of text, and an optional hosted image URL. Panels are immutable once
// appended and ordered by a single sequence counter shared across all rooms.
type Panel struct {
	// ID is the durable record id, assigned by the store. Not part of the
	// exported panel log.
	ID string

	// Seq is the 1-based global sequence number, dense and strictly
	// increasing in arrival order of the finalizing text events.
	Seq int

	Timestamp time.Time
	RoomID    string
	UserID    string
	Speaker   string
	Text      string
	PhotoURL  string
}

// MarshalJSON emits the panel-log record shape. Every record carries all
// keys; unset speaker and photo_url are explicit nulls.
func (p Panel) MarshalJSON() ([]byte, error) {
	type record struct {
		Seq       int       `json:"seq"`
		Timestamp time.Time `json:"ts"`
		RoomID    string    `json:"chat_id"`
		UserID    string    `json:"user_id"`
		Speaker   *string   `json:"speaker"`
		Text      string    `json:"text"`
		PhotoURL  *string   `json:"photo_url"`
	}

	rec := record{
		Seq:       p.Seq,
		Timestamp: p.Timestamp,
		RoomID:    p.RoomID,
		UserID:    p.UserID,
		Text:      p.Text,
	}
	if p.Speaker != "" {
		rec.Speaker = &p.Speaker
	}
	if p.PhotoURL != "" {
		rec.PhotoURL = &p.PhotoURL
	}
	return json.Marshal(rec)
}
