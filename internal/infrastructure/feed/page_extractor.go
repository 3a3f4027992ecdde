package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"NewsAgency/internal/ports"
)

// PageExtractor downloads linked pages and extracts a readable excerpt
// plus a representative image URL.
type PageExtractor struct {
	client       *http.Client
	excerptLimit int
}

var _ ports.PageFetcher = (*PageExtractor)(nil)

// NewPageExtractor wires an HTTP client; excerptLimit defaults to 2000.
func NewPageExtractor(client *http.Client, excerptLimit int) *PageExtractor {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if excerptLimit <= 0 {
		excerptLimit = 2000
	}
	return &PageExtractor{client: client, excerptLimit: excerptLimit}
}

// FetchPage retrieves the page and returns its text excerpt and image.
func (p *PageExtractor) FetchPage(ctx context.Context, pageURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsAgency/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("parse page: %w", err)
	}

	return p.extractText(doc), extractImage(doc, pageURL), nil
}

func (p *PageExtractor) extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	text := doc.Find("body").Text()
	fields := strings.Fields(text)
	joined := strings.Join(fields, " ")

	if len(joined) > p.excerptLimit {
		joined = truncateRunes(joined, p.excerptLimit)
	}
	return joined
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// extractImage resolves the article image in priority order: Open-Graph
// tag, Twitter card, first content image.
func extractImage(doc *goquery.Document, pageURL string) string {
	if og, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok && og != "" {
		return absoluteURL(pageURL, og)
	}
	if tw, ok := doc.Find(`meta[name="twitter:image"]`).First().Attr("content"); ok && tw != "" {
		return absoluteURL(pageURL, tw)
	}
	if src, ok := doc.Find("img[src]").First().Attr("src"); ok && src != "" {
		return absoluteURL(pageURL, src)
	}
	return ""
}

func absoluteURL(pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
