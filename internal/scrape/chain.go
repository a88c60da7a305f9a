package scrape

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-crawler/internal/metrics"
	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/resilience"
)

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	PathMatcher *PathMatcher
	scrapers    []Scraper
	settle      time.Duration
	metrics     *metrics.Metrics
	breakers    *resilience.HostBreakers
}

// NewChain creates a Chain with the given path matcher and scrapers.
// Scrapers are tried in order; the first successful result is returned.
func NewChain(matcher *PathMatcher, scrapers ...Scraper) *Chain {
	return &Chain{
		PathMatcher: matcher,
		scrapers:    scrapers,
		metrics:     metrics.Nop(),
	}
}

// WithSettleDelay makes Scrape wait d after a successful fetch before
// returning, so pages that finish rendering late are given time to settle.
func (c *Chain) WithSettleDelay(d time.Duration) *Chain {
	c.settle = d
	return c
}

// WithMetrics reports per-scraper fetch counts and latency to m.
func (c *Chain) WithMetrics(m *metrics.Metrics) *Chain {
	if m != nil {
		c.metrics = m
	}
	return c
}

// WithBreakers fails fast for hosts whose recent fetches all failed.
func (c *Chain) WithBreakers(b *resilience.HostBreakers) *Chain {
	c.breakers = b
	return c
}

func (c *Chain) Name() string { return "chain" }

// Supports reports whether the URL passes the exclude patterns.
func (c *Chain) Supports(targetURL string) bool {
	return c.PathMatcher == nil || !c.PathMatcher.IsExcluded(targetURL)
}

// Scrape tries each scraper in order for a single URL.
// Returns the first successful result, or an error if all fail.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*model.Page, error) {
	if !c.Supports(targetURL) {
		return nil, eris.Errorf("scrape: url excluded by path matcher: %s", targetURL)
	}

	host := hostOf(targetURL)
	if err := c.breakers.Allow(host); err != nil {
		c.metrics.Fetches.WithLabelValues(c.Name(), "circuit_open").Inc()
		return nil, eris.Wrap(err, "scrape")
	}
	page, err := c.scrape(ctx, targetURL)
	if ctx.Err() != nil {
		c.breakers.Release(host)
	} else {
		c.breakers.Record(host, err)
	}
	return page, err
}

func (c *Chain) scrape(ctx context.Context, targetURL string) (*model.Page, error) {
	var lastErr error
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		start := time.Now()
		page, err := s.Scrape(ctx, targetURL)
		c.metrics.FetchDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		if err == nil && page != nil {
			c.metrics.Fetches.WithLabelValues(s.Name(), "ok").Inc()
			if err := c.wait(ctx); err != nil {
				return nil, err
			}
			return page, nil
		}
		c.metrics.Fetches.WithLabelValues(s.Name(), "error").Inc()
		if err != nil {
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "scrape: cancelled")
		}
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all scrapers failed")
	}
	return nil, eris.Errorf("scrape: no suitable scraper for url: %s", targetURL)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (c *Chain) wait(ctx context.Context) error {
	if c.settle <= 0 {
		return nil
	}
	t := time.NewTimer(c.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "scrape: settle interrupted")
	case <-t.C:
		return nil
	}
}
