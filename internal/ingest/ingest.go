// Package ingest retrieves raw messages from social/chat feed sources and
// converts them into the plain text records the pipeline consumes.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// Message is one raw text record from a bounded time window.
type Message struct {
	Text      string
	SenderID  string
	Timestamp time.Time
}

// Source produces an ordered sequence of messages for a time window.
type Source interface {
	// Name identifies the source for diagnostics.
	Name() string
	// Fetch returns messages published at or after since, oldest first.
	Fetch(ctx context.Context, since time.Time) ([]Message, error)
}

// RSSSource reads social posts from an RSS/Atom feed.
type RSSSource struct {
	name   string
	url    string
	client *http.Client
}

// NewRSSSource creates an RSSSource with the given HTTP timeout.
func NewRSSSource(name, url string, timeout time.Duration) *RSSSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RSSSource{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name identifies the source.
func (s *RSSSource) Name() string { return s.name }

// Fetch retrieves and converts feed items published at or after since.
// The request respects context cancellation and the client timeout.
func (s *RSSSource) Fetch(ctx context.Context, since time.Time) ([]Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: create request: %w", err)
	}
	req.Header.Set("User-Agent", "heatline/0.3 (+https://github.com/abelbrown/heatline)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: fetch %s: HTTP error: %d %s", s.name, resp.StatusCode, resp.Status)
	}

	parser := gofeed.NewParser()
	feed, err := parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse %s: %w", s.name, err)
	}

	messages := make([]Message, 0, len(feed.Items))
	for _, item := range feed.Items {
		published := time.Time{}
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}
		if !published.IsZero() && published.Before(since) {
			continue
		}

		sender := s.name
		if item.Author != nil && item.Author.Name != "" {
			sender = item.Author.Name
		}

		text := item.Title
		if desc := StripHTML(item.Description); desc != "" {
			if text != "" {
				text += " "
			}
			text += desc
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		messages = append(messages, Message{
			Text:      text,
			SenderID:  sender,
			Timestamp: published,
		})
	}

	// Oldest first so downstream dedupe keeps the earliest phrasing.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// StripHTML reduces an HTML fragment to its visible text with whitespace
// collapsed to single spaces. Plain text gets the same collapse; unparseable
// input falls back to the raw string.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return collapseSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
