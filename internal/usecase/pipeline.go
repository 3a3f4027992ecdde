package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"NewsAgency/internal/domain"
	"NewsAgency/internal/genparse"
	"NewsAgency/internal/ports"
)

// Agent names used in progress events and the activity log.
const (
	agentFetcher   = "News Fetcher"
	agentVerifier  = "Authenticity Checker"
	agentDebiaser  = "Bias Remover"
	agentGenerator = "Article Generator"
	agentAttester  = "Ledger Attester"
	agentPipeline  = "Pipeline"
)

// EventSink receives progress events; delivery must never block pipeline
// progress.
type EventSink interface {
	Publish(ctx context.Context, event domain.ProgressEvent)
}

// PipelineDeps wires all driven adapters into the stage pipeline.
type PipelineDeps struct {
	Sources        []string
	ItemsPerSource int
	Concurrency    int
	Feeds          ports.FeedSource
	Pages          ports.PageFetcher
	Model          ports.LanguageModel
	Searcher       ports.CorroborationSearcher
	Store          ports.RunStore
	Events         EventSink
	Logger         *slog.Logger
}

// StagePipeline applies the four transformation stages to one cycle's
// batch: fetch, verify, de-bias, generate. Every stage isolates per-item
// failures so one bad source or model call degrades a single item rather
// than aborting the cycle.
type StagePipeline struct {
	sources        []string
	itemsPerSource int
	concurrency    int
	feeds          ports.FeedSource
	pages          ports.PageFetcher
	model          ports.LanguageModel
	searcher       ports.CorroborationSearcher
	store          ports.RunStore
	events         EventSink
	logger         *slog.Logger
}

// NewStagePipeline constructs the stage pipeline.
func NewStagePipeline(deps PipelineDeps) *StagePipeline {
	itemsPerSource := deps.ItemsPerSource
	if itemsPerSource <= 0 {
		itemsPerSource = 5
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &StagePipeline{
		sources:        deps.Sources,
		itemsPerSource: itemsPerSource,
		concurrency:    concurrency,
		feeds:          deps.Feeds,
		pages:          deps.Pages,
		model:          deps.Model,
		searcher:       deps.Searcher,
		store:          deps.Store,
		events:         deps.Events,
		logger:         deps.Logger,
	}
}

// RunCycle executes all four stages for one cycle and returns the
// persisted articles. An empty fetch yields an empty result, not an error.
func (p *StagePipeline) RunCycle(ctx context.Context, runID string, cycle int) ([]domain.Article, error) {
	items := p.fetch(ctx, runID, cycle)
	if len(items) == 0 {
		p.publish(ctx, runID, cycle, agentPipeline, "no items fetched this cycle", nil)
		return nil, nil
	}

	items = p.verify(ctx, runID, cycle, items)
	items = p.debias(ctx, runID, cycle, items)
	return p.generate(ctx, runID, cycle, items)
}

// fetch retrieves a bounded batch from every configured source. A failing
// source contributes zero items and a progress event; it never aborts the
// stage.
func (p *StagePipeline) fetch(ctx context.Context, runID string, cycle int) []domain.NewsItem {
	p.publish(ctx, runID, cycle, agentFetcher, fmt.Sprintf("fetching from %d sources", len(p.sources)), nil)

	var batch []domain.NewsItem
	for _, source := range p.sources {
		entries, err := p.feeds.FetchFeed(ctx, source)
		if err != nil {
			p.publish(ctx, runID, cycle, agentFetcher,
				fmt.Sprintf("error fetching from %s: %v", source, err), nil)
			continue
		}
		if len(entries) > p.itemsPerSource {
			entries = entries[:p.itemsPerSource]
		}

		items := p.hydrate(ctx, source, entries)
		batch = append(batch, items...)
		p.publish(ctx, runID, cycle, agentFetcher,
			fmt.Sprintf("fetched %d items from %s", len(items), source), nil)
	}

	p.publish(ctx, runID, cycle, agentFetcher,
		fmt.Sprintf("total items fetched: %d", len(batch)),
		map[string]any{"count": len(batch)})
	return batch
}

// hydrate downloads each entry's page for a text excerpt and image. A
// failing page falls back to the feed summary.
func (p *StagePipeline) hydrate(ctx context.Context, source string, entries []ports.FeedEntry) []domain.NewsItem {
	items := make([]domain.NewsItem, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			item := domain.NewsItem{
				Title:    entry.Title,
				Summary:  entry.Summary,
				Link:     entry.Link,
				ImageURL: entry.ImageURL,
				Source:   source,
				Content:  entry.Summary,
			}
			if p.pages != nil && entry.Link != "" {
				excerpt, image, err := p.pages.FetchPage(gctx, entry.Link)
				if err != nil {
					p.debug("page fetch failed", "link", entry.Link, "error", err)
				} else {
					if excerpt != "" {
						item.Content = excerpt
					}
					if item.ImageURL == "" {
						item.ImageURL = image
					}
				}
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	return items
}

// verify asks the model for a credibility judgment and searches for
// corroborating coverage. Failures degrade the annotation only.
func (p *StagePipeline) verify(ctx context.Context, runID string, cycle int, items []domain.NewsItem) []domain.NewsItem {
	p.publish(ctx, runID, cycle, agentVerifier, "starting authenticity verification", nil)

	out := make([]domain.NewsItem, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, item := range items {
		g.Go(func() error {
			check := p.checkItem(gctx, item, items)
			next := item
			next.Credibility = &check
			next.Corroborating = check.Similar
			out[i] = next
			return nil
		})
	}
	_ = g.Wait()

	p.publish(ctx, runID, cycle, agentVerifier,
		fmt.Sprintf("authenticity check completed for %d items", len(out)), nil)
	return out
}

func (p *StagePipeline) checkItem(ctx context.Context, item domain.NewsItem, pool []domain.NewsItem) domain.CredibilityCheck {
	var similar []string
	if p.searcher != nil {
		similar = p.searcher.FindSimilar(ctx, item.Title, pool)
	}

	raw, err := p.model.Generate(ctx, credibilityPrompt(item))
	if err != nil {
		p.debug("credibility check failed", "title", item.Title, "error", err)
		return domain.CredibilityCheck{
			Analysis:     fmt.Sprintf("verification error: %v", err),
			SimilarCount: len(similar),
			Similar:      similar,
		}
	}

	check := parseCredibility(raw)
	check.SimilarCount = len(similar)
	check.Similar = similar
	return check
}

// debias rewrites each item without subjective framing; the original
// content is kept when the model call fails.
func (p *StagePipeline) debias(ctx context.Context, runID string, cycle int, items []domain.NewsItem) []domain.NewsItem {
	p.publish(ctx, runID, cycle, agentDebiaser, "starting bias removal", nil)

	out := make([]domain.NewsItem, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, item := range items {
		g.Go(func() error {
			next := item
			rewritten, err := p.model.Generate(gctx, debiasPrompt(item))
			if err != nil || rewritten == "" {
				p.debug("bias removal failed, keeping original", "title", item.Title, "error", err)
				next.Debiased = item.Content
			} else {
				next.Debiased = rewritten
			}
			out[i] = next
			return nil
		})
	}
	_ = g.Wait()

	p.publish(ctx, runID, cycle, agentDebiaser,
		fmt.Sprintf("bias removal completed for %d items", len(out)), nil)
	return out
}

// generate produces the final article per item and persists it
// immediately, so later failures cannot lose earlier successes.
func (p *StagePipeline) generate(ctx context.Context, runID string, cycle int, items []domain.NewsItem) ([]domain.Article, error) {
	p.publish(ctx, runID, cycle, agentGenerator, "starting article generation", nil)

	var (
		mu       sync.Mutex
		articles []domain.Article
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, item := range items {
		g.Go(func() error {
			article := p.composeArticle(gctx, runID, cycle, item)

			id, err := p.store.SaveArticle(gctx, article)
			if err != nil {
				p.publish(gctx, runID, cycle, agentGenerator,
					fmt.Sprintf("error saving article %q: %v", item.Title, err), nil)
				return nil
			}
			article.ID = id

			mu.Lock()
			articles = append(articles, article)
			mu.Unlock()

			p.publish(gctx, runID, cycle, agentGenerator,
				fmt.Sprintf("generated and saved: %s", truncateTitle(item.Title)),
				map[string]any{"article_id": id})
			return nil
		})
	}
	_ = g.Wait()

	p.publish(ctx, runID, cycle, agentGenerator,
		fmt.Sprintf("article generation completed, %d articles saved", len(articles)), nil)
	return articles, nil
}

func (p *StagePipeline) composeArticle(ctx context.Context, runID string, cycle int, item domain.NewsItem) domain.Article {
	article := domain.Article{
		RunID:         runID,
		Cycle:         cycle,
		OriginalTitle: item.Title,
		OriginalLink:  item.Link,
		ImageURL:      item.ImageURL,
		Source:        item.Source,
		ProcessedAt:   time.Now().UTC(),
	}
	if item.Credibility != nil {
		article.Credibility = *item.Credibility
	}

	raw, err := p.model.Generate(ctx, generatePrompt(item))
	if err != nil || raw == "" {
		// Degrade to the de-biased (or original) text instead of dropping.
		p.debug("article generation failed, composing fallback", "title", item.Title, "error", err)
		article.Headline = item.Title
		article.GeneratedContent = item.Debiased
		if article.GeneratedContent == "" {
			article.GeneratedContent = item.Content
		}
		return article
	}

	parsed := genparse.Parse(raw)
	article.Headline = parsed.Headline
	if article.Headline == "" {
		article.Headline = item.Title
	}
	article.Lead = parsed.Lead
	article.Tags = parsed.Tags
	article.GeneratedContent = parsed.Body
	if article.GeneratedContent == "" {
		article.GeneratedContent = parsed.Content
	}
	return article
}

func (p *StagePipeline) publish(ctx context.Context, runID string, cycle int, agent, message string, data map[string]any) {
	if p.events == nil {
		return
	}
	p.events.Publish(ctx, domain.ProgressEvent{
		Agent:     agent,
		Message:   message,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Cycle:     cycle,
		Data:      data,
	})
}

func (p *StagePipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func truncateTitle(title string) string {
	const max = 50
	if len(title) <= max {
		return title
	}
	return title[:max] + "..."
}
