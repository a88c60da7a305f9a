package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/research-crawler/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Times are stored as unix milliseconds so expiry checks compare integers.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	site_url   TEXT NOT NULL,
	site       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_steps (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	iteration INTEGER NOT NULL,
	url       TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	completed INTEGER NOT NULL,
	error     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS page_cache (
	url        TEXT PRIMARY KEY,
	page       TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_site_url ON runs(site_url);
CREATE INDEX IF NOT EXISTS idx_page_cache_expires_at ON page_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, site model.Site) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Millisecond)

	siteJSON, err := json.Marshal(site)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal site")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, site_url, site, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, site.URL, string(siteJSON), string(model.RunStatusQueued), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Site:      site,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().UnixMilli(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC().UnixMilli(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, site, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, site, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SiteURL != "" {
		query += ` AND site_url = ?`
		args = append(args, filter.SiteURL)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer func() { _ = rows.Close() }()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordSteps(ctx context.Context, runID string, steps []model.Step) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record steps")
	}
	defer func() { _ = tx.Rollback() }()

	var offset int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM run_steps WHERE run_id = ?`, runID,
	).Scan(&offset); err != nil {
		return eris.Wrapf(err, "sqlite: next step seq for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_steps (run_id, seq, iteration, url, outcome, completed, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert step")
	}
	defer func() { _ = stmt.Close() }()

	for i, st := range steps {
		if _, err := stmt.ExecContext(ctx,
			runID, offset+i, st.Iteration, st.URL, string(st.Outcome), st.Completed, st.Error,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert step %d for run %s", i, runID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit record steps")
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]model.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT iteration, url, outcome, completed, error FROM run_steps WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps for run %s", runID)
	}
	defer func() { _ = rows.Close() }()

	var steps []model.Step
	for rows.Next() {
		var st model.Step
		if err := rows.Scan(&st.Iteration, &st.URL, &st.Outcome, &st.Completed, &st.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		steps = append(steps, st)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

func (s *SQLiteStore) GetCachedPage(ctx context.Context, url string) (*model.PageCache, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, page, fetched_at, expires_at FROM page_cache WHERE url = ? AND expires_at > ?`,
		url, time.Now().UTC().UnixMilli(),
	)

	var pc model.PageCache
	var pageJSON string
	var fetchedAt, expiresAt int64
	err := row.Scan(&pc.URL, &pageJSON, &fetchedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached page")
	}
	if err := json.Unmarshal([]byte(pageJSON), &pc.Page); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached page")
	}
	pc.FetchedAt = time.UnixMilli(fetchedAt).UTC()
	pc.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &pc, nil
}

func (s *SQLiteStore) SetCachedPage(ctx context.Context, page model.Page, ttl time.Duration) error {
	now := time.Now().UTC()

	pageJSON, err := json.Marshal(page)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal page")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO page_cache (url, page, fetched_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET page = excluded.page, fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		page.URL, string(pageJSON), now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: set cached page")
}

func (s *SQLiteStore) DeleteExpiredPages(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM page_cache WHERE expires_at <= ?`, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired pages")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var siteJSON string
	var resultJSON sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&r.ID, &siteJSON, &r.Status, &resultJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(siteJSON), &r.Site); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal site")
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &r, nil
}
