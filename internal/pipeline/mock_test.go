package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/store"
	"github.com/sells-group/research-crawler/pkg/anthropic"
)

// --- Scraper Mock ---

type mockScraper struct {
	mock.Mock
}

func (m *mockScraper) Scrape(ctx context.Context, url string) (*model.Page, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Page), args.Error(1)
}

func (m *mockScraper) Name() string            { return "mock" }
func (m *mockScraper) Supports(_ string) bool { return true }

// --- Oracle Mock ---

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Extract(ctx context.Context, prev model.Ledger, page *model.Page, keywords []string) model.Extraction {
	args := m.Called(ctx, prev, page, keywords)
	return args.Get(0).(model.Extraction)
}

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, site model.Site) (*model.Run, error) {
	args := m.Called(ctx, site)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return m.Called(ctx, runID, status).Error(0)
}

func (m *mockStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	return m.Called(ctx, runID, status, result).Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) RecordSteps(ctx context.Context, runID string, steps []model.Step) error {
	return m.Called(ctx, runID, steps).Error(0)
}

func (m *mockStore) ListSteps(ctx context.Context, runID string) ([]model.Step, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Step), args.Error(1)
}

func (m *mockStore) GetCachedPage(ctx context.Context, url string) (*model.PageCache, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PageCache), args.Error(1)
}

func (m *mockStore) SetCachedPage(ctx context.Context, page model.Page, ttl time.Duration) error {
	return m.Called(ctx, page, ttl).Error(0)
}

func (m *mockStore) DeleteExpiredPages(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}
