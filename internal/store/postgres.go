package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-crawler/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	site       JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_steps (
	id        BIGSERIAL PRIMARY KEY,
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	iteration INTEGER NOT NULL,
	url       TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	completed INTEGER NOT NULL,
	error     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS page_cache (
	url        TEXT PRIMARY KEY,
	page       JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_site_url ON runs((site->>'url'));
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
CREATE INDEX IF NOT EXISTS idx_page_cache_expires_at ON page_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, site model.Site) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	siteJSON, err := json.Marshal(site)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal site")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, site, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, siteJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Site:      site,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var siteJSON []byte
	var resultJSON *[]byte

	if err := row.Scan(&r.ID, &siteJSON, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(siteJSON, &r.Site); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal site")
	}
	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT id, site, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, site, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.SiteURL != "" {
		query += fmt.Sprintf(` AND site->>'url' = $%d`, argIdx)
		args = append(args, filter.SiteURL)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordSteps(ctx context.Context, runID string, steps []model.Step) error {
	if len(steps) == 0 {
		return nil
	}
	rows := make([][]any, len(steps))
	for i, st := range steps {
		rows[i] = []any{runID, st.Iteration, st.URL, string(st.Outcome), st.Completed, st.Error}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"run_steps"},
		[]string{"run_id", "iteration", "url", "outcome", "completed", "error"},
		pgx.CopyFromRows(rows),
	)
	return eris.Wrapf(err, "postgres: record steps for run %s", runID)
}

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]model.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT iteration, url, outcome, completed, error FROM run_steps WHERE run_id = $1 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list steps for run %s", runID)
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		var st model.Step
		var outcome string
		if err := rows.Scan(&st.Iteration, &st.URL, &outcome, &st.Completed, &st.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		st.Outcome = model.StepOutcome(outcome)
		steps = append(steps, st)
	}
	return steps, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) GetCachedPage(ctx context.Context, url string) (*model.PageCache, error) {
	var pc model.PageCache
	var pageJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT url, page, fetched_at, expires_at FROM page_cache WHERE url = $1 AND expires_at > now()`,
		url,
	).Scan(&pc.URL, &pageJSON, &pc.FetchedAt, &pc.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached page")
	}
	if err := json.Unmarshal(pageJSON, &pc.Page); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached page")
	}
	return &pc, nil
}

func (s *PostgresStore) SetCachedPage(ctx context.Context, page model.Page, ttl time.Duration) error {
	now := time.Now().UTC()

	pageJSON, err := json.Marshal(page)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal page")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO page_cache (url, page, fetched_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (url) DO UPDATE SET page = $2, fetched_at = $3, expires_at = $4`,
		page.URL, pageJSON, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached page")
}

func (s *PostgresStore) DeleteExpiredPages(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM page_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired pages")
	}
	return int(tag.RowsAffected()), nil
}
