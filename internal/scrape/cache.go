package scrape

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/research-crawler/internal/model"
)

// PageStore is the page cache subset of store.Store.
type PageStore interface {
	GetCachedPage(ctx context.Context, url string) (*model.PageCache, error)
	SetCachedPage(ctx context.Context, page model.Page, ttl time.Duration) error
}

// CachingScraper serves pages from a PageStore when a fresh copy exists and
// stores every successful fetch of the wrapped scraper. Cache errors are
// logged and never fail a scrape.
type CachingScraper struct {
	next  Scraper
	store PageStore
	ttl   time.Duration
}

// NewCachingScraper wraps next with a page cache of the given TTL.
func NewCachingScraper(next Scraper, store PageStore, ttl time.Duration) *CachingScraper {
	return &CachingScraper{next: next, store: store, ttl: ttl}
}

func (c *CachingScraper) Name() string             { return "cache(" + c.next.Name() + ")" }
func (c *CachingScraper) Supports(url string) bool { return c.next.Supports(url) }

// Scrape returns the cached page for targetURL or fetches and caches it.
func (c *CachingScraper) Scrape(ctx context.Context, targetURL string) (*model.Page, error) {
	cached, err := c.store.GetCachedPage(ctx, targetURL)
	if err != nil {
		zap.L().Warn("scrape: page cache read failed", zap.String("url", targetURL), zap.Error(err))
	}
	if cached != nil {
		zap.L().Debug("scrape: page cache hit", zap.String("url", targetURL))
		page := cached.Page
		return &page, nil
	}

	page, err := c.next.Scrape(ctx, targetURL)
	if err != nil {
		return nil, err
	}

	entry := *page
	entry.URL = targetURL
	if err := c.store.SetCachedPage(ctx, entry, c.ttl); err != nil {
		zap.L().Warn("scrape: page cache write failed", zap.String("url", targetURL), zap.Error(err))
	}
	return page, nil
}
