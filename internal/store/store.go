// Package store persists run history and the page cache.
package store

import (
	"context"
	"time"

	"github.com/sells-group/research-crawler/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	SiteURL string          `json:"site_url,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for campaign runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, site model.Site) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Resolver trace
	RecordSteps(ctx context.Context, runID string, steps []model.Step) error
	ListSteps(ctx context.Context, runID string) ([]model.Step, error)

	// Page cache
	GetCachedPage(ctx context.Context, url string) (*model.PageCache, error)
	SetCachedPage(ctx context.Context, page model.Page, ttl time.Duration) error
	DeleteExpiredPages(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
