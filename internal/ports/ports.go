package ports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"NewsAgency/internal/domain"
)

// Ledger failure classes. Implementations wrap these so callers can
// classify without knowing transport details.
var (
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrTxReverted        = errors.New("ledger transaction reverted")
	ErrConfirmTimeout    = errors.New("ledger confirmation timeout")
)

// FeedEntry is one raw syndicated item before the pipeline annotates it.
type FeedEntry struct {
	Title     string
	Summary   string
	Link      string
	ImageURL  string
	Published time.Time
}

// FeedSource retrieves entries from a syndication endpoint.
type FeedSource interface {
	FetchFeed(ctx context.Context, url string) ([]FeedEntry, error)
}

// PageFetcher downloads a linked page and extracts a readable excerpt and
// a representative image URL. Either may be empty.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (excerpt, imageURL string, err error)
}

// LanguageModel is the single text-generation capability the stages use.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CorroborationSearcher finds items from other sources that cover the same
// story. Implementations are intentionally pluggable.
type CorroborationSearcher interface {
	FindSimilar(ctx context.Context, title string, pool []domain.NewsItem) []string
}

// LedgerTx is the payload submitted to the external ledger.
type LedgerTx struct {
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
}

// LedgerReceipt is the confirmation returned by the ledger for a write.
type LedgerReceipt struct {
	TxRef       string `json:"tx_ref"`
	BlockNumber uint64 `json:"block_number"`
	Status      int    `json:"status"`
	RecordID    string `json:"record_id"`
	CostUsed    uint64 `json:"cost_used"`
}

// Ledger wraps the external append-only ledger network. It is treated as
// slow and unreliable; every method honors the context deadline.
type Ledger interface {
	EstimateCost(ctx context.Context, tx LedgerTx) (uint64, error)
	Submit(ctx context.Context, tx LedgerTx) (LedgerReceipt, error)
	Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error)
	WaitForConfirmation(ctx context.Context, txRef string, timeout time.Duration) (LedgerReceipt, error)
}

// ArticleFilter narrows ListArticles results; zero values mean no filter.
type ArticleFilter struct {
	RunID        string
	Source       string
	AttestedOnly bool
}

// RunStore persists pipeline runs, generated articles, and the activity log.
type RunStore interface {
	CreateRun(ctx context.Context, durationMinutes int) (string, error)
	UpdateStatus(ctx context.Context, runID string, state domain.RunState, errMsg string) error
	UpdateProgress(ctx context.Context, runID string, cycle, articlesProcessed int) error
	GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error)
	ListActiveRuns(ctx context.Context) ([]domain.PipelineRun, error)
	SaveArticle(ctx context.Context, article domain.Article) (int64, error)
	UpdateArticleAttestation(ctx context.Context, articleID int64, att domain.Attestation) error
	ListArticles(ctx context.Context, filter ArticleFilter, limit int) ([]domain.Article, error)
	DashboardStats(ctx context.Context) (domain.DashboardStats, error)
	AppendLog(ctx context.Context, event domain.ProgressEvent) error
}

// Observer is one live consumer of progress events. A failed Send marks
// the observer disconnected.
type Observer interface {
	Send(event domain.ProgressEvent) error
}

// Notifier pushes human-readable cycle digests to chat channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler drives recurring jobs (auto-mode pipeline starts).
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
