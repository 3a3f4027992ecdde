package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"NewsAgency/internal/attest"
	"NewsAgency/internal/broadcast"
	"NewsAgency/internal/config"
	"NewsAgency/internal/infrastructure/feed"
	"NewsAgency/internal/infrastructure/ledger"
	"NewsAgency/internal/infrastructure/llm"
	"NewsAgency/internal/infrastructure/scheduler"
	"NewsAgency/internal/infrastructure/storage"
	"NewsAgency/internal/infrastructure/telegram"
	"NewsAgency/internal/logging"
	"NewsAgency/internal/ports"
	"NewsAgency/internal/server"
	"NewsAgency/internal/usecase"
)

// Application wires configuration to adapters, use cases, and the HTTP
// control surface.
type Application struct {
	cfg          config.Config
	logger       *slog.Logger
	store        *storage.PostgresStore
	orchestrator *usecase.Orchestrator
	autoRunner   *usecase.AutoRunner
	httpServer   *http.Server
}

// New builds the runnable application instance. It connects to the
// database and initializes the schema.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	broadcaster := broadcast.New(store, logging.Component(baseLogger, "broadcast"))

	gateway := ledger.NewGatewayClient(cfg.Ledger)
	attester := attest.NewClient(gateway, cfg.Ledger, logging.Component(baseLogger, "attest"))

	pipeline := usecase.NewStagePipeline(usecase.PipelineDeps{
		Sources:        cfg.Pipeline.Sources,
		ItemsPerSource: cfg.Pipeline.ItemsPerSource,
		Concurrency:    cfg.Pipeline.StageConcurrency,
		Feeds:          feed.NewRSSSource(nil),
		Pages:          feed.NewPageExtractor(nil, cfg.Pipeline.ExcerptLimit),
		Model:          llm.NewChatClient(cfg.LLM),
		Searcher:       usecase.KeywordSearcher{},
		Store:          store,
		Events:         broadcaster,
		Logger:         logging.Component(baseLogger, "pipeline"),
	})

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Pipeline:        pipeline,
		Store:           store,
		Attester:        attester,
		Events:          broadcaster,
		Notifier:        notifier,
		Logger:          logging.Component(baseLogger, "orchestrator"),
		CycleInterval:   time.Duration(cfg.Pipeline.CycleInterval) * time.Second,
		DefaultDuration: time.Duration(cfg.Pipeline.DefaultDuration) * time.Minute,
	})

	var autoRunner *usecase.AutoRunner
	if cfg.Scheduler.Enabled {
		driver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location())
		autoRunner = usecase.NewAutoRunner(driver, orchestrator,
			time.Duration(cfg.Scheduler.DurationMinutes)*time.Minute,
			logging.Component(baseLogger, "scheduler"))
	}

	srv := server.New(server.Deps{
		Orchestrator:    orchestrator,
		Store:           store,
		Broadcaster:     broadcaster,
		Ledger:          attester,
		Logger:          logging.Component(baseLogger, "server"),
		DefaultDuration: time.Duration(cfg.Pipeline.DefaultDuration) * time.Minute,
	})

	return &Application{
		cfg:          cfg,
		logger:       baseLogger,
		store:        store,
		orchestrator: orchestrator,
		autoRunner:   autoRunner,
		httpServer:   &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()},
	}, nil
}

// Run serves the control surface until the context is canceled, then
// stops the active run and drains in-flight work.
func (a *Application) Run(ctx context.Context) error {
	if a.autoRunner != nil {
		if err := a.autoRunner.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.Server.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.shutdown()
	return serveErr
}

func (a *Application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.autoRunner != nil {
		if err := a.autoRunner.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler shutdown failed", "error", err)
		}
	}

	a.orchestrator.Stop()
	a.orchestrator.Wait()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}

	a.logger.Info("application stopped")
}
