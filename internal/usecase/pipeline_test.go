package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsAgency/internal/domain"
	"NewsAgency/internal/logging"
	"NewsAgency/internal/ports"
)

// memStore is an in-memory ports.RunStore used across the package tests.
type memStore struct {
	mu          sync.Mutex
	nextRun     int
	nextArticle int64
	runs        map[string]*domain.PipelineRun
	articles    map[int64]*domain.Article
	logs        []domain.ProgressEvent
	createRuns  int
	statusCalls []domain.RunState
	saveErr     error
	createErr   error
}

func newMemStore() *memStore {
	return &memStore{
		runs:     map[string]*domain.PipelineRun{},
		articles: map[int64]*domain.Article{},
	}
}

func (s *memStore) CreateRun(_ context.Context, durationMinutes int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextRun++
	s.createRuns++
	id := fmt.Sprintf("run-%d", s.nextRun)
	now := time.Now().UTC()
	s.runs[id] = &domain.PipelineRun{
		ID:              id,
		State:           domain.StateRunning,
		DurationMinutes: durationMinutes,
		CreatedAt:       now,
		StartedAt:       &now,
	}
	return id, nil
}

func (s *memStore) UpdateStatus(_ context.Context, runID string, state domain.RunState, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls = append(s.statusCalls, state)
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.State = state
	run.ErrorMessage = errMsg
	if state.Terminal() && run.EndedAt == nil {
		now := time.Now().UTC()
		run.EndedAt = &now
	}
	return nil
}

func (s *memStore) UpdateProgress(_ context.Context, runID string, cycle, articlesProcessed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if cycle > run.CurrentCycle {
		run.CurrentCycle = cycle
	}
	if articlesProcessed > run.TotalArticles {
		run.TotalArticles = articlesProcessed
	}
	return nil
}

func (s *memStore) GetRun(_ context.Context, runID string) (*domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	snapshot := *run
	return &snapshot, nil
}

func (s *memStore) ListActiveRuns(context.Context) ([]domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []domain.PipelineRun
	for _, run := range s.runs {
		if run.State == domain.StateRunning {
			active = append(active, *run)
		}
	}
	return active, nil
}

func (s *memStore) SaveArticle(_ context.Context, article domain.Article) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	s.nextArticle++
	article.ID = s.nextArticle
	s.articles[article.ID] = &article
	return article.ID, nil
}

func (s *memStore) UpdateArticleAttestation(_ context.Context, articleID int64, att domain.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[articleID]
	if !ok {
		return fmt.Errorf("article %d not found", articleID)
	}
	article.Attestation = att
	return nil
}

func (s *memStore) ListArticles(_ context.Context, filter ports.ArticleFilter, limit int) ([]domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Article
	for _, article := range s.articles {
		if filter.RunID != "" && article.RunID != filter.RunID {
			continue
		}
		if filter.AttestedOnly && !article.Attestation.Stored {
			continue
		}
		out = append(out, *article)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) DashboardStats(context.Context) (domain.DashboardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.DashboardStats{TotalArticles: len(s.articles)}
	for _, article := range s.articles {
		if article.Attestation.Stored {
			stats.AttestedCount++
		}
	}
	for _, run := range s.runs {
		if run.State == domain.StateRunning {
			stats.RunsInProgress++
		}
	}
	return stats, nil
}

func (s *memStore) AppendLog(_ context.Context, event domain.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, event)
	return nil
}

func (s *memStore) savedArticles() []domain.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Article, 0, len(s.articles))
	for _, article := range s.articles {
		out = append(out, *article)
	}
	return out
}

var _ ports.RunStore = (*memStore)(nil)

// eventRecorder captures published progress events.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *eventRecorder) Publish(_ context.Context, event domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) byAgent(agent string) []domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ProgressEvent
	for _, event := range r.events {
		if event.Agent == agent {
			out = append(out, event)
		}
	}
	return out
}

type fakeFeed struct {
	entries map[string][]ports.FeedEntry
	errs    map[string]error
}

func (f *fakeFeed) FetchFeed(_ context.Context, url string) ([]ports.FeedEntry, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.entries[url], nil
}

type fakePages struct {
	excerpt string
	image   string
	err     error
}

func (f *fakePages) FetchPage(context.Context, string) (string, string, error) {
	return f.excerpt, f.image, f.err
}

// scriptedModel routes prompts to canned responses by prompt content.
type scriptedModel struct {
	verify   string
	debias   string
	generate string

	verifyErr   error
	debiasErr   error
	generateErr error
}

func (m *scriptedModel) Generate(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "fact-checking assistant"):
		return m.verify, m.verifyErr
	case strings.Contains(prompt, "neutral, factual tone"):
		return m.debias, m.debiasErr
	default:
		return m.generate, m.generateErr
	}
}

func testPipeline(t *testing.T, deps PipelineDeps) *StagePipeline {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = logging.New("error")
	}
	return NewStagePipeline(deps)
}

func TestRunCycleFullFlow(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	events := &eventRecorder{}
	feed := &fakeFeed{entries: map[string][]ports.FeedEntry{
		"http://a.example/rss": {
			{Title: "Quake strikes coastal region overnight", Link: "http://a.example/1", Summary: "short summary"},
			{Title: "Markets rally after rate cut", Link: "http://a.example/2", Summary: "rally summary"},
		},
	}}
	model := &scriptedModel{
		verify:   "Credibility Score: 8/10\nLegitimate: Yes\nAnalysis: Consistent with wire reports.",
		debias:   "Neutral rewrite of the content.",
		generate: "HEADLINE: Calm Report\nLEAD: One sentence.\nBODY: Body text here.\nTAGS: quake, coast",
	}

	pipe := testPipeline(t, PipelineDeps{
		Sources:  []string{"http://a.example/rss"},
		Feeds:    feed,
		Pages:    &fakePages{excerpt: "full page text", image: "http://a.example/img.jpg"},
		Model:    model,
		Searcher: KeywordSearcher{},
		Store:    store,
		Events:   events,
	})

	articles, err := pipe.RunCycle(context.Background(), "run-1", 1)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}

	for _, article := range articles {
		if article.ID == 0 {
			t.Error("article was not assigned a storage id")
		}
		if article.RunID != "run-1" || article.Cycle != 1 {
			t.Errorf("article run binding = (%s, %d)", article.RunID, article.Cycle)
		}
		if article.Headline != "Calm Report" {
			t.Errorf("headline = %q", article.Headline)
		}
		if article.GeneratedContent != "Body text here." {
			t.Errorf("content = %q", article.GeneratedContent)
		}
		if article.Credibility.Score != 8 || !article.Credibility.Legitimate {
			t.Errorf("credibility = %+v", article.Credibility)
		}
		if article.ImageURL != "http://a.example/img.jpg" {
			t.Errorf("image = %q", article.ImageURL)
		}
	}

	if saved := store.savedArticles(); len(saved) != 2 {
		t.Errorf("store holds %d articles", len(saved))
	}
	if len(events.byAgent(agentGenerator)) == 0 {
		t.Error("no generator progress events published")
	}
}

func TestRunCycleSourceFailureIsolated(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	events := &eventRecorder{}
	feed := &fakeFeed{
		entries: map[string][]ports.FeedEntry{
			"http://good.example/rss": {{Title: "Working source item", Link: "http://good.example/1", Summary: "s"}},
		},
		errs: map[string]error{"http://bad.example/rss": errors.New("connection refused")},
	}
	model := &scriptedModel{
		verify:   "Credibility Score: 6/10\nLegitimate: Yes\nAnalysis: fine",
		debias:   "neutral",
		generate: "HEADLINE: H\nLEAD: L\nBODY: B\nTAGS: t",
	}

	pipe := testPipeline(t, PipelineDeps{
		Sources: []string{"http://bad.example/rss", "http://good.example/rss"},
		Feeds:   feed,
		Pages:   &fakePages{err: errors.New("page down")},
		Model:   model,
		Store:   store,
		Events:  events,
	})

	articles, err := pipe.RunCycle(context.Background(), "run-1", 1)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected the healthy source's article, got %d", len(articles))
	}

	var reported bool
	for _, event := range events.byAgent(agentFetcher) {
		if strings.Contains(event.Message, "bad.example") && strings.Contains(event.Message, "error") {
			reported = true
		}
	}
	if !reported {
		t.Error("failing source was not reported via progress events")
	}
}

func TestRunCycleItemsPerSourceCap(t *testing.T) {
	t.Parallel()

	entries := make([]ports.FeedEntry, 8)
	for i := range entries {
		entries[i] = ports.FeedEntry{Title: fmt.Sprintf("Item %d", i), Summary: "s"}
	}
	store := newMemStore()
	pipe := testPipeline(t, PipelineDeps{
		Sources:        []string{"http://a.example/rss"},
		ItemsPerSource: 3,
		Feeds:          &fakeFeed{entries: map[string][]ports.FeedEntry{"http://a.example/rss": entries}},
		Model: &scriptedModel{
			verify:   "Credibility Score: 5/10\nLegitimate: Yes\nAnalysis: ok",
			debias:   "neutral",
			generate: "HEADLINE: H\nLEAD: L\nBODY: B\nTAGS: t",
		},
		Store: store,
	})

	articles, err := pipe.RunCycle(context.Background(), "run-1", 1)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(articles) != 3 {
		t.Errorf("cap not applied: %d articles", len(articles))
	}
}

func TestRunCycleVerificationFailureDegrades(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	pipe := testPipeline(t, PipelineDeps{
		Sources: []string{"http://a.example/rss"},
		Feeds: &fakeFeed{entries: map[string][]ports.FeedEntry{
			"http://a.example/rss": {{Title: "Unverifiable story", Summary: "s", Link: ""}},
		}},
		Model: &scriptedModel{
			verifyErr: errors.New("model overloaded"),
			debias:    "neutral",
			generate:  "HEADLINE: H\nLEAD: L\nBODY: B\nTAGS: t",
		},
		Store: store,
	})

	articles, err := pipe.RunCycle(context.Background(), "run-1", 1)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	cred := articles[0].Credibility
	if cred.Score != 0 || cred.Legitimate {
		t.Errorf("degraded credibility = %+v", cred)
	}
	if !strings.Contains(cred.Analysis, "verification error") {
		t.Errorf("analysis should record the failure, got %q", cred.Analysis)
	}
}

func TestRunCycleDebiasFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	pipe := testPipeline(t, PipelineDeps{
		Sources: []string{"http://a.example/rss"},
		Feeds: &fakeFeed{entries: map[string][]ports.FeedEntry{
			"http://a.example/rss": {{Title: "Original stays", Summary: "original content", Link: ""}},
		}},
		Model: &scriptedModel{
			verify:      "Credibility Score: 7/10\nLegitimate: Yes\nAnalysis: ok",
			debiasErr:   errors.New("timeout"),
			generateErr: errors.New("timeout"),
		},
		Store: store,
	})

	articles, err := pipe.RunCycle(context.Background(), "run-1", 1)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	// Generation also failed, so the fallback article carries the
	// de-biased text, which itself fell back to the original content.
	if articles[0].GeneratedContent != "original content" {
		t.Errorf("content = %q", articles[0].GeneratedContent)
	}
	if articles[0].Headline != "Original stays" {
		t.Errorf("headline = %q", articles[0].Headline)
	}
}

func TestRunCycleSaveFailureSkipsItem(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.saveErr = errors.New("db down")
	pipe := testPipeline(t, PipelineDeps{
		Sources: []string{"http://a.example/rss"},
		Feeds: &fakeFeed{entries: map[string][]ports.FeedEntry{
			"http://a.example/rss": {{Title: "Unsaveable", Summary: "s"}},
		}},
		Model: &scriptedModel{
			verify:   "Credibility Score: 5/10\nLegitimate: Yes\nAnalysis: ok",
			debias:   "neutral",
			generate: "HEADLINE: H\nLEAD: L\nBODY: B\nTAGS: t",
		},
		Store: store,
	})

	articles, err := pipe.RunCycle(context.Background(), "run-1", 1)
	if err != nil {
		t.Fatalf("RunCycle should not fail on save errors: %v", err)
	}
	if len(articles) != 0 {
		t.Errorf("unsaved articles must not be returned, got %d", len(articles))
	}
}

func TestRunCycleEmptyFetch(t *testing.T) {
	t.Parallel()

	pipe := testPipeline(t, PipelineDeps{
		Sources: []string{"http://a.example/rss"},
		Feeds:   &fakeFeed{},
		Model:   &scriptedModel{},
		Store:   newMemStore(),
	})

	articles, err := pipe.RunCycle(context.Background(), "run-1", 1)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if articles != nil {
		t.Errorf("expected nil batch, got %d articles", len(articles))
	}
}

func TestParseCredibility(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		score      float64
		legitimate bool
		analysis   string
	}{
		{
			name:       "well formed",
			raw:        "Credibility Score: 8.5/10\nLegitimate: Yes\nAnalysis: Matches agency wires.",
			score:      8.5,
			legitimate: true,
			analysis:   "Matches agency wires.",
		},
		{
			name:       "negative verdict",
			raw:        "credibility score: 2 / 10\nlegitimate: No\nanalysis: Single anonymous source.",
			score:      2,
			legitimate: false,
			analysis:   "Single anonymous source.",
		},
		{
			name:       "score clamped",
			raw:        "Credibility Score: 15/10\nLegitimate: Yes\nAnalysis: over-eager",
			score:      10,
			legitimate: true,
			analysis:   "over-eager",
		},
		{
			name:       "free-form response",
			raw:        "I cannot assess this.",
			score:      0,
			legitimate: false,
			analysis:   "I cannot assess this.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			check := parseCredibility(tt.raw)
			if check.Score != tt.score {
				t.Errorf("score = %v, want %v", check.Score, tt.score)
			}
			if check.Legitimate != tt.legitimate {
				t.Errorf("legitimate = %v, want %v", check.Legitimate, tt.legitimate)
			}
			if check.Analysis != tt.analysis {
				t.Errorf("analysis = %q, want %q", check.Analysis, tt.analysis)
			}
		})
	}
}

func TestKeywordSearcher(t *testing.T) {
	t.Parallel()

	pool := []domain.NewsItem{
		{Title: "Earthquake hits coastal city overnight"},
		{Title: "Coastal city reels after earthquake damage"},
		{Title: "Parliament passes budget amendment"},
	}

	similar := KeywordSearcher{}.FindSimilar(context.Background(), "Earthquake hits coastal city overnight", pool)
	if len(similar) != 1 {
		t.Fatalf("similar = %v", similar)
	}
	if similar[0] != "Coastal city reels after earthquake damage" {
		t.Errorf("unexpected match: %q", similar[0])
	}

	none := KeywordSearcher{}.FindSimilar(context.Background(), "Completely unrelated headline", pool)
	if len(none) != 0 {
		t.Errorf("expected no matches, got %v", none)
	}
}
