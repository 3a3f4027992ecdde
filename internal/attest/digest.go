package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// Ledger byte caps per field. Oversized fields are truncated before
// submission, never rejected.
const (
	maxTitleBytes   = 300
	maxContentBytes = 500
	maxSummaryBytes = 200
	maxSourceBytes  = 100
	maxLinkBytes    = 300
	maxTagsBytes    = 100
)

// ArticleData is the attestation view of an article: the fields that feed
// the digests and the ledger submission.
type ArticleData struct {
	Title   string
	Content string
	Summary string
	Source  string
	Link    string
	Tags    string
	Score   float64 // normalized 0..1
}

// Digests are the deterministic fingerprints of one article.
type Digests struct {
	Content  string
	Metadata string
	Combined string
}

// ComputeDigests derives the content and metadata fingerprints. The same
// input always yields the same digests; the score contributes as an
// integer percentage so float formatting cannot perturb the hash.
func ComputeDigests(a ArticleData) Digests {
	content := sha256Hex(a.Title + a.Content + a.Summary)
	metadata := sha256Hex(fmt.Sprintf("%s%s%s%d", a.Source, a.Link, a.Tags, scorePercent(a.Score)))
	return Digests{
		Content:  content,
		Metadata: metadata,
		Combined: sha256Hex(content + metadata),
	}
}

// capped returns a copy with every field cut to its ledger byte limit.
func capped(a ArticleData) ArticleData {
	a.Title = truncateBytes(a.Title, maxTitleBytes)
	a.Content = truncateBytes(a.Content, maxContentBytes)
	a.Summary = truncateBytes(a.Summary, maxSummaryBytes)
	a.Source = truncateBytes(a.Source, maxSourceBytes)
	a.Link = truncateBytes(a.Link, maxLinkBytes)
	a.Tags = truncateBytes(a.Tags, maxTagsBytes)
	return a
}

func scorePercent(score float64) int {
	if score < 0 {
		return 0
	}
	return int(score * 100)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// truncateBytes cuts s to at most max bytes without splitting a rune.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
