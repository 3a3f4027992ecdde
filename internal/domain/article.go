package domain

import "time"

// NewsItem carries one syndicated entry through the stage pipeline. Items
// live only for the cycle that produced them; each stage consumes a batch
// and returns new values rather than mutating shared state.
type NewsItem struct {
	Title         string
	Summary       string
	Link          string
	ImageURL      string
	Source        string
	Content       string
	Credibility   *CredibilityCheck
	Corroborating []string
	Debiased      string
	Generated     string
}

// CredibilityCheck is the verify-stage annotation.
type CredibilityCheck struct {
	Score        float64  `json:"score"`
	Analysis     string   `json:"analysis"`
	Legitimate   bool     `json:"legitimate"`
	SimilarCount int      `json:"similar_count"`
	Similar      []string `json:"similar,omitempty"`
}

// Attestation records the ledger fingerprint of a persisted article. The
// zero value means the attestation step has not run; Stored is true only
// when the ledger transaction was confirmed.
type Attestation struct {
	Stored         bool   `json:"stored_on_chain"`
	ContentDigest  string `json:"content_hash,omitempty"`
	MetadataDigest string `json:"metadata_hash,omitempty"`
	TxRef          string `json:"tx_hash,omitempty"`
	ExternalID     string `json:"chain_article_id,omitempty"`
	Network        string `json:"network,omitempty"`
	ExplorerURL    string `json:"explorer_url,omitempty"`
}

// Article is the durable product of one processed item in one cycle.
type Article struct {
	ID               int64            `json:"id"`
	RunID            string           `json:"run_id"`
	Cycle            int              `json:"cycle"`
	OriginalTitle    string           `json:"original_title"`
	OriginalLink     string           `json:"original_link"`
	ImageURL         string           `json:"image_url,omitempty"`
	Headline         string           `json:"headline"`
	Lead             string           `json:"lead,omitempty"`
	GeneratedContent string           `json:"generated_content"`
	Tags             []string         `json:"tags,omitempty"`
	Credibility      CredibilityCheck `json:"credibility"`
	Source           string           `json:"source"`
	ProcessedAt      time.Time        `json:"processed_at"`
	CreatedAt        time.Time        `json:"created_at"`
	Attestation      Attestation      `json:"attestation"`
}

// ProgressEvent is pushed to live observers and appended to the run log.
type ProgressEvent struct {
	Agent     string         `json:"agent"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Cycle     int            `json:"cycle,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
