// Package rss implements the per-rule entry store and its HTTP surface.
package rss

import (
	"time"

	"github.com/google/uuid"
)

// Media describes one file attached to an entry. URL is a path of shape
// /media/{rule_id}/{filename} served by this package.
type Media struct {
	URL          string `json:"url"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name,omitempty"`
}

// Entry is one item in a rule's feed.
type Entry struct {
	ID           string    `json:"id"`
	RuleID       int64     `json:"rule_id"`
	MessageID    int64     `json:"message_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Published    time.Time `json:"published"`
	Author       string    `json:"author,omitempty"`
	Link         string    `json:"link,omitempty"`
	Media        []Media   `json:"media,omitempty"`
	OriginalLink string    `json:"original_link,omitempty"`
	SenderInfo   string    `json:"sender_info,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// normalize fills the defaults a caller may omit: a generated id, the
// server clock for published and created_at.
func (e *Entry) normalize(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Published.IsZero() {
		e.Published = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
}
