package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"NewsAgency/internal/domain"
	"NewsAgency/internal/ports"
)

// psql builds every statement with Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists pipeline runs, articles, and the activity log.
type PostgresStore struct {
	db *sql.DB
}

var _ ports.RunStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgresStore(db), nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema creates all tables when they do not exist yet.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id SERIAL PRIMARY KEY,
			pipeline_id VARCHAR(255) UNIQUE NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'RUNNING',
			current_cycle INTEGER DEFAULT 0,
			articles_processed INTEGER DEFAULT 0,
			duration_minutes INTEGER DEFAULT 30,
			error_message TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			ended_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			id SERIAL PRIMARY KEY,
			pipeline_id VARCHAR(255),
			cycle_number INTEGER DEFAULT 1,
			original_title TEXT NOT NULL,
			original_link TEXT,
			image_url TEXT,
			headline TEXT,
			lead TEXT,
			generated_content TEXT NOT NULL,
			tags TEXT[],
			authenticity_score JSONB,
			source TEXT,
			processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			stored_on_chain BOOLEAN DEFAULT FALSE,
			content_hash TEXT,
			metadata_hash TEXT,
			tx_hash TEXT,
			chain_article_id TEXT,
			network TEXT,
			explorer_url TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS agent_logs (
			id SERIAL PRIMARY KEY,
			pipeline_id VARCHAR(255),
			cycle_number INTEGER DEFAULT 0,
			agent_name VARCHAR(100) NOT NULL,
			message TEXT NOT NULL,
			log_level VARCHAR(20) DEFAULT 'INFO',
			data JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a RUNNING run record and returns its id.
func (s *PostgresStore) CreateRun(ctx context.Context, durationMinutes int) (string, error) {
	runID := uuid.NewString()

	query, args, err := buildCreateRun(runID, durationMinutes)
	if err != nil {
		return "", fmt.Errorf("build create run: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// UpdateStatus moves the run to a new state. Entering a terminal state
// sets ended_at once; repeated terminal updates are safe no-ops for it.
func (s *PostgresStore) UpdateStatus(ctx context.Context, runID string, state domain.RunState, errMsg string) error {
	query, args, err := buildUpdateStatus(runID, state, errMsg)
	if err != nil {
		return fmt.Errorf("build update status: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// UpdateProgress records cycle and article counters; counters never move
// backwards even if callers race.
func (s *PostgresStore) UpdateProgress(ctx context.Context, runID string, cycle, articlesProcessed int) error {
	query, args, err := buildUpdateProgress(runID, cycle, articlesProcessed)
	if err != nil {
		return fmt.Errorf("build update progress: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

var runColumns = []string{
	"pipeline_id", "status", "current_cycle", "articles_processed",
	"duration_minutes", "error_message", "created_at", "updated_at",
	"started_at", "ended_at",
}

// GetRun loads one run by id.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	query, args, err := psql.Select(runColumns...).
		From("pipeline_runs").
		Where(sq.Eq{"pipeline_id": runID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get run: %w", err)
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListActiveRuns returns all runs still in RUNNING state.
func (s *PostgresStore) ListActiveRuns(ctx context.Context) ([]domain.PipelineRun, error) {
	query, args, err := psql.Select(runColumns...).
		From("pipeline_runs").
		Where(sq.Eq{"status": string(domain.StateRunning)}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return runs, nil
}

// SaveArticle inserts one generated article and returns its id.
func (s *PostgresStore) SaveArticle(ctx context.Context, article domain.Article) (int64, error) {
	credibility, err := json.Marshal(article.Credibility)
	if err != nil {
		return 0, fmt.Errorf("marshal credibility: %w", err)
	}

	query, args, err := psql.Insert("articles").
		Columns("pipeline_id", "cycle_number", "original_title", "original_link",
			"image_url", "headline", "lead", "generated_content", "tags",
			"authenticity_score", "source", "processed_at").
		Values(article.RunID, article.Cycle, article.OriginalTitle, article.OriginalLink,
			article.ImageURL, article.Headline, article.Lead, article.GeneratedContent,
			pq.Array(article.Tags), credibility, article.Source, article.ProcessedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build save article: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}
	return id, nil
}

// UpdateArticleAttestation writes the ledger fingerprint onto an article.
func (s *PostgresStore) UpdateArticleAttestation(ctx context.Context, articleID int64, att domain.Attestation) error {
	query, args, err := buildUpdateAttestation(articleID, att)
	if err != nil {
		return fmt.Errorf("build update attestation: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update attestation for article %d: %w", articleID, err)
	}
	return nil
}

// ListArticles returns the newest articles matching the filter.
func (s *PostgresStore) ListArticles(ctx context.Context, filter ports.ArticleFilter, limit int) ([]domain.Article, error) {
	if limit <= 0 {
		limit = 50
	}

	builder := psql.Select("id", "pipeline_id", "cycle_number", "original_title",
		"original_link", "image_url", "headline", "lead", "generated_content",
		"tags", "authenticity_score", "source", "processed_at", "created_at",
		"stored_on_chain", "content_hash", "metadata_hash", "tx_hash",
		"chain_article_id", "network", "explorer_url").
		From("articles").
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	if filter.RunID != "" {
		builder = builder.Where(sq.Eq{"pipeline_id": filter.RunID})
	}
	if filter.Source != "" {
		builder = builder.Where(sq.Eq{"source": filter.Source})
	}
	if filter.AttestedOnly {
		builder = builder.Where(sq.Eq{"stored_on_chain": true})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list articles: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return articles, nil
}

// DashboardStats aggregates the dashboard counters.
func (s *PostgresStore) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	var stats domain.DashboardStats

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM articles`, &stats.TotalArticles},
		{`SELECT COUNT(*) FROM articles WHERE created_at::date = CURRENT_DATE`, &stats.ArticlesToday},
		{`SELECT COUNT(*) FROM articles WHERE stored_on_chain`, &stats.AttestedCount},
		{`SELECT COUNT(*) FROM pipeline_runs WHERE status = 'RUNNING'`, &stats.RunsInProgress},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return domain.DashboardStats{}, fmt.Errorf("dashboard stats: %w", err)
		}
	}
	return stats, nil
}

// AppendLog writes one progress event to the activity log.
func (s *PostgresStore) AppendLog(ctx context.Context, event domain.ProgressEvent) error {
	var data []byte
	if event.Data != nil {
		encoded, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		data = encoded
	}

	query, args, err := psql.Insert("agent_logs").
		Columns("pipeline_id", "cycle_number", "agent_name", "message", "log_level", "data", "created_at").
		Values(event.RunID, event.Cycle, event.Agent, event.Message, "INFO", data, event.Timestamp).
		ToSql()
	if err != nil {
		return fmt.Errorf("build append log: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// Statement builders are kept as pure functions so tests can verify the
// generated SQL without a database.

func buildCreateRun(runID string, durationMinutes int) (string, []any, error) {
	return psql.Insert("pipeline_runs").
		Columns("pipeline_id", "status", "current_cycle", "articles_processed",
			"duration_minutes", "started_at").
		Values(runID, string(domain.StateRunning), 0, 0, durationMinutes, sq.Expr("NOW()")).
		ToSql()
}

func buildUpdateStatus(runID string, state domain.RunState, errMsg string) (string, []any, error) {
	builder := psql.Update("pipeline_runs").
		Set("status", string(state)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"pipeline_id": runID})

	if errMsg != "" {
		builder = builder.Set("error_message", errMsg)
	}
	if state.Terminal() {
		builder = builder.Set("ended_at", sq.Expr("COALESCE(ended_at, NOW())"))
	}
	return builder.ToSql()
}

func buildUpdateProgress(runID string, cycle, articlesProcessed int) (string, []any, error) {
	return psql.Update("pipeline_runs").
		Set("current_cycle", sq.Expr("GREATEST(current_cycle, ?)", cycle)).
		Set("articles_processed", sq.Expr("GREATEST(articles_processed, ?)", articlesProcessed)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"pipeline_id": runID}).
		ToSql()
}

func buildUpdateAttestation(articleID int64, att domain.Attestation) (string, []any, error) {
	return psql.Update("articles").
		Set("stored_on_chain", att.Stored).
		Set("content_hash", att.ContentDigest).
		Set("metadata_hash", att.MetadataDigest).
		Set("tx_hash", att.TxRef).
		Set("chain_article_id", att.ExternalID).
		Set("network", att.Network).
		Set("explorer_url", att.ExplorerURL).
		Where(sq.Eq{"id": articleID}).
		ToSql()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.PipelineRun, error) {
	var (
		run     domain.PipelineRun
		status  string
		errMsg  sql.NullString
		started sql.NullTime
		ended   sql.NullTime
	)
	err := row.Scan(&run.ID, &status, &run.CurrentCycle, &run.TotalArticles,
		&run.DurationMinutes, &errMsg, &run.CreatedAt, &run.UpdatedAt, &started, &ended)
	if err != nil {
		return nil, err
	}

	run.State = domain.RunState(status)
	run.ErrorMessage = errMsg.String
	if started.Valid {
		t := started.Time
		run.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		run.EndedAt = &t
	}
	return &run, nil
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var (
		article     domain.Article
		link        sql.NullString
		image       sql.NullString
		headline    sql.NullString
		lead        sql.NullString
		tags        pq.StringArray
		credibility []byte
		source      sql.NullString
		contentHash sql.NullString
		metaHash    sql.NullString
		txHash      sql.NullString
		chainID     sql.NullString
		network     sql.NullString
		explorer    sql.NullString
	)
	err := row.Scan(&article.ID, &article.RunID, &article.Cycle, &article.OriginalTitle,
		&link, &image, &headline, &lead, &article.GeneratedContent, &tags,
		&credibility, &source, &article.ProcessedAt, &article.CreatedAt,
		&article.Attestation.Stored, &contentHash, &metaHash, &txHash,
		&chainID, &network, &explorer)
	if err != nil {
		return domain.Article{}, err
	}

	article.OriginalLink = link.String
	article.ImageURL = image.String
	article.Headline = headline.String
	article.Lead = lead.String
	article.Tags = tags
	article.Source = source.String
	article.Attestation.ContentDigest = contentHash.String
	article.Attestation.MetadataDigest = metaHash.String
	article.Attestation.TxRef = txHash.String
	article.Attestation.ExternalID = chainID.String
	article.Attestation.Network = network.String
	article.Attestation.ExplorerURL = explorer.String

	if len(credibility) > 0 {
		if err := json.Unmarshal(credibility, &article.Credibility); err != nil {
			return domain.Article{}, fmt.Errorf("decode credibility: %w", err)
		}
	}
	return article, nil
}
