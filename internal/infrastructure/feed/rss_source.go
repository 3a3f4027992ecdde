package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"NewsAgency/internal/ports"
)

// RSSSource retrieves entries from RSS/Atom endpoints.
type RSSSource struct {
	parser *gofeed.Parser
}

var _ ports.FeedSource = (*RSSSource)(nil)

// NewRSSSource wires an HTTP client; a 20 second timeout is applied when
// none is provided.
func NewRSSSource(client *http.Client) *RSSSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "NewsAgency/1.0"
	return &RSSSource{parser: parser}
}

// FetchFeed downloads and parses one feed URL.
func (s *RSSSource) FetchFeed(ctx context.Context, url string) ([]ports.FeedEntry, error) {
	parsed, err := s.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	entries := make([]ports.FeedEntry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entry := ports.FeedEntry{
			Title:   item.Title,
			Summary: item.Description,
			Link:    item.Link,
		}
		if entry.Summary == "" {
			entry.Summary = item.Content
		}
		if item.PublishedParsed != nil {
			entry.Published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			entry.Published = *item.UpdatedParsed
		}
		if item.Image != nil {
			entry.ImageURL = item.Image.URL
		} else if len(item.Enclosures) > 0 && item.Enclosures[0].URL != "" {
			entry.ImageURL = item.Enclosures[0].URL
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
