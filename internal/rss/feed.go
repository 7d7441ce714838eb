package rss

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"tg_forwarder/internal/model"
)

// inlineImageLimit is the largest image embedded as a base64 data URI;
// bigger images are referenced by URL.
const inlineImageLimit = 1 << 20

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Language    string    `xml:"language,omitempty"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string         `xml:"title"`
	Link        string         `xml:"link,omitempty"`
	PubDate     string         `xml:"pubDate"`
	Author      string         `xml:"author,omitempty"`
	GUID        string         `xml:"guid"`
	Description cdata          `xml:"description"`
	Enclosures  []rssEnclosure `xml:"enclosure"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// RenderFeed produces an RSS 2.0 document for the rule's entries, newest
// first. Images under the inline limit are embedded as data URIs; larger
// media are referenced through the media endpoint.
func (s *Store) RenderFeed(cfg *model.RSSConfig, entries []Entry, baseURL, mediaBaseURL string) ([]byte, error) {
	title := cfg.Title
	if title == "" {
		title = fmt.Sprintf("Rule %d", cfg.RuleID)
	}
	doc := rssDoc{
		Version: "2.0",
		Channel: rssChannel{
			Title:       title,
			Link:        fmt.Sprintf("%s/rss/feed/%d", strings.TrimRight(baseURL, "/"), cfg.RuleID),
			Description: cfg.Description,
			Language:    cfg.Language,
		},
	}

	for _, e := range entries {
		item := rssItem{
			Title:       e.Title,
			Link:        e.Link,
			PubDate:     e.Published.Format("Mon, 02 Jan 2006 15:04:05 -0700"),
			Author:      e.Author,
			GUID:        e.ID,
			Description: cdata{Text: s.renderContent(e, mediaBaseURL)},
		}
		for _, m := range e.Media {
			item.Enclosures = append(item.Enclosures, rssEnclosure{
				URL:    strings.TrimRight(mediaBaseURL, "/") + m.URL,
				Length: m.Size,
				Type:   m.MimeType,
			})
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal feed: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func (s *Store) renderContent(e Entry, mediaBaseURL string) string {
	var b strings.Builder
	b.WriteString("<p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(e.Content), "\n", "<br/>"))
	b.WriteString("</p>")

	for _, m := range e.Media {
		if !strings.HasPrefix(m.MimeType, "image/") {
			continue
		}
		src := strings.TrimRight(mediaBaseURL, "/") + m.URL
		if m.Size < inlineImageLimit {
			if data, err := os.ReadFile(s.MediaPath(e.RuleID, m.Filename)); err == nil {
				src = "data:" + m.MimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
			}
		}
		fmt.Fprintf(&b, `<img src="%s" alt="%s"/>`, src, html.EscapeString(m.Filename))
	}
	return b.String()
}

func mimeByName(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}
