package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"NewsAgency/internal/attest"
	"NewsAgency/internal/domain"
	"NewsAgency/internal/ports"
)

// ErrAlreadyRunning is returned by Start while a run is in flight.
var ErrAlreadyRunning = errors.New("a pipeline run is already in progress")

// CycleRunner executes one full pipeline cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, runID string, cycle int) ([]domain.Article, error)
}

// Attester records an article on the ledger; it reports failure in the
// result rather than as an error.
type Attester interface {
	Submit(ctx context.Context, data attest.ArticleData) attest.Result
}

// OrchestratorDeps wires the orchestrator's collaborators.
type OrchestratorDeps struct {
	Pipeline CycleRunner
	Store    ports.RunStore
	Attester Attester
	Events   EventSink
	Notifier ports.Notifier
	Logger   *slog.Logger

	CycleInterval   time.Duration
	DefaultDuration time.Duration
}

// RunStatus is a point-in-time snapshot of the orchestrator.
type RunStatus struct {
	Active            bool            `json:"active"`
	RunID             string          `json:"run_id,omitempty"`
	State             domain.RunState `json:"state"`
	CurrentCycle      int             `json:"current_cycle"`
	ArticlesProcessed int             `json:"articles_processed"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	Deadline          *time.Time      `json:"deadline,omitempty"`
}

// Orchestrator drives time-budgeted pipeline runs: repeated cycles with an
// interval pause, cooperative stop, and terminal persistence. A single
// orchestrator serves the process; at most one run is active at a time.
type Orchestrator struct {
	pipeline CycleRunner
	store    ports.RunStore
	attester Attester
	events   EventSink
	notifier ports.Notifier
	logger   *slog.Logger

	interval        time.Duration
	defaultDuration time.Duration

	mu        sync.Mutex
	state     domain.RunState
	runID     string
	cycle     int
	processed int
	startedAt time.Time
	deadline  time.Time
	stopped   bool
	stopCh    chan struct{}
	stopOnce  *sync.Once
	done      chan struct{}
}

// NewOrchestrator constructs an idle orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	interval := deps.CycleInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	duration := deps.DefaultDuration
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	return &Orchestrator{
		pipeline:        deps.Pipeline,
		store:           deps.Store,
		attester:        deps.Attester,
		events:          deps.Events,
		notifier:        deps.Notifier,
		logger:          deps.Logger,
		interval:        interval,
		defaultDuration: duration,
		state:           domain.StateIdle,
	}
}

// Start begins a new run and returns its id immediately; cycles execute in
// the background. While a run is active Start fails with
// ErrAlreadyRunning and has no side effects.
func (o *Orchestrator) Start(ctx context.Context, duration time.Duration) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == domain.StateRunning {
		return "", ErrAlreadyRunning
	}
	if duration <= 0 {
		duration = o.defaultDuration
	}

	runID, err := o.store.CreateRun(ctx, int(duration.Minutes()))
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	now := time.Now().UTC()
	o.state = domain.StateRunning
	o.runID = runID
	o.cycle = 0
	o.processed = 0
	o.startedAt = now
	o.deadline = now.Add(duration)
	o.stopped = false
	o.stopCh = make(chan struct{})
	o.stopOnce = &sync.Once{}
	o.done = make(chan struct{})

	go o.loop(context.WithoutCancel(ctx), runID, o.stopCh, o.done)
	return runID, nil
}

// Stop requests a cooperative stop of the active run. It returns
// immediately; the run finishes its current cycle before finalizing. Stop
// is a no-op when no run is active.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != domain.StateRunning {
		return
	}
	o.stopped = true
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// Status returns a snapshot of the current or most recent run.
func (o *Orchestrator) Status() RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := RunStatus{
		Active:            o.state == domain.StateRunning,
		RunID:             o.runID,
		State:             o.state,
		CurrentCycle:      o.cycle,
		ArticlesProcessed: o.processed,
	}
	if !o.startedAt.IsZero() {
		started := o.startedAt
		status.StartedAt = &started
		deadline := o.deadline
		status.Deadline = &deadline
	}
	return status
}

// Wait blocks until the active run's goroutine has exited. It returns
// immediately when no run has been started.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (o *Orchestrator) loop(ctx context.Context, runID string, stopCh, done chan struct{}) {
	defer close(done)

	final := domain.StateCompleted
	errMessage := ""
	defer func() {
		if r := recover(); r != nil {
			final = domain.StateError
			errMessage = fmt.Sprintf("pipeline panic: %v", r)
			o.logger.Error("pipeline loop panicked", "run_id", runID, "panic", r)
		}
		o.finalize(ctx, runID, final, errMessage)
	}()

	o.publish(ctx, runID, 0, agentPipeline, "pipeline run started", nil)

	for {
		if o.isStopped() {
			final = domain.StateStopped
			return
		}
		if time.Until(o.deadlineSnapshot()) <= 0 {
			return
		}

		cycle := o.advanceCycle()
		o.publish(ctx, runID, cycle, agentPipeline, fmt.Sprintf("starting cycle %d", cycle), nil)

		articles, err := o.pipeline.RunCycle(ctx, runID, cycle)
		if err != nil {
			final = domain.StateError
			errMessage = err.Error()
			o.logger.Error("cycle failed", "run_id", runID, "cycle", cycle, "error", err)
			return
		}

		attested := o.attestBatch(ctx, runID, cycle, articles)

		processed := o.addProcessed(len(articles))
		if err := o.store.UpdateProgress(ctx, runID, cycle, processed); err != nil {
			o.logger.Warn("progress update failed", "run_id", runID, "error", err)
		}

		o.publish(ctx, runID, cycle, agentPipeline,
			fmt.Sprintf("cycle %d complete: %d articles, %d attested", cycle, len(articles), attested),
			map[string]any{"articles": len(articles), "attested": attested})
		o.notifyDigest(ctx, cycle, articles, attested)

		if !o.pause(stopCh) {
			final = domain.StateStopped
			return
		}
	}
}

// pause sleeps for the cycle interval, capped by the remaining budget.
// It returns false when a stop was requested during the pause.
func (o *Orchestrator) pause(stopCh chan struct{}) bool {
	wait := o.interval
	if remaining := time.Until(o.deadlineSnapshot()); remaining < wait {
		wait = remaining
	}
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

// attestBatch records each article on the ledger and persists the outcome.
// Attestation failures are stored on the article and never fail the cycle.
func (o *Orchestrator) attestBatch(ctx context.Context, runID string, cycle int, articles []domain.Article) int {
	if o.attester == nil || len(articles) == 0 {
		return 0
	}

	attested := 0
	for _, article := range articles {
		result := o.attester.Submit(ctx, articleData(article))

		attestation := domain.Attestation{
			Stored:         result.Stored,
			ContentDigest:  result.Digests.Content,
			MetadataDigest: result.Digests.Metadata,
			TxRef:          result.TxRef,
			ExternalID:     result.ExternalID,
			Network:        result.Network,
			ExplorerURL:    result.ExplorerURL,
		}
		if err := o.store.UpdateArticleAttestation(ctx, article.ID, attestation); err != nil {
			o.logger.Warn("attestation update failed", "article_id", article.ID, "error", err)
		}

		if result.Stored {
			attested++
			o.publish(ctx, runID, cycle, agentAttester,
				fmt.Sprintf("attested %q (tx %s)", truncateTitle(article.Headline), result.TxRef),
				map[string]any{"article_id": article.ID, "tx_hash": result.TxRef})
		} else {
			o.publish(ctx, runID, cycle, agentAttester,
				fmt.Sprintf("attestation failed for %q: %s", truncateTitle(article.Headline), result.Failure),
				map[string]any{"article_id": article.ID, "failure": result.Failure})
		}
	}
	return attested
}

func (o *Orchestrator) finalize(ctx context.Context, runID string, final domain.RunState, errMessage string) {
	if err := o.store.UpdateStatus(ctx, runID, final, errMessage); err != nil {
		o.logger.Error("final status update failed", "run_id", runID, "state", final, "error", err)
	}

	o.mu.Lock()
	cycle := o.cycle
	o.state = final
	o.mu.Unlock()

	o.publish(ctx, runID, cycle, agentPipeline,
		fmt.Sprintf("pipeline run finished: %s", final), map[string]any{"state": string(final)})
	o.logger.Info("pipeline run finished", "run_id", runID, "state", final, "cycles", cycle)
}

func (o *Orchestrator) notifyDigest(ctx context.Context, cycle int, articles []domain.Article, attested int) {
	if o.notifier == nil || len(articles) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Cycle %d digest*\n%d articles generated, %d attested\n", cycle, len(articles), attested)
	for _, article := range articles {
		fmt.Fprintf(&b, "\n- %s", article.Headline)
	}
	if err := o.notifier.PublishDigest(ctx, b.String()); err != nil {
		o.logger.Warn("digest notification failed", "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, runID string, cycle int, agent, message string, data map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Publish(ctx, domain.ProgressEvent{
		Agent:     agent,
		Message:   message,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Cycle:     cycle,
		Data:      data,
	})
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

func (o *Orchestrator) deadlineSnapshot() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deadline
}

func (o *Orchestrator) advanceCycle() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycle++
	return o.cycle
}

func (o *Orchestrator) addProcessed(n int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed += n
	return o.processed
}

// articleData maps a persisted article to the ledger payload. The stored
// credibility score is on a 0..10 scale; the ledger expects 0..1.
func articleData(article domain.Article) attest.ArticleData {
	return attest.ArticleData{
		Title:   article.OriginalTitle,
		Content: article.GeneratedContent,
		Summary: article.Lead,
		Source:  article.Source,
		Link:    article.OriginalLink,
		Tags:    strings.Join(article.Tags, ","),
		Score:   article.Credibility.Score / 10,
	}
}
