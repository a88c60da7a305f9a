package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-crawler/internal/metrics"
	"github.com/sells-group/research-crawler/internal/pipeline"
	"github.com/sells-group/research-crawler/internal/resilience"
	"github.com/sells-group/research-crawler/internal/scrape"
	"github.com/sells-group/research-crawler/internal/store"
	anthropicpkg "github.com/sells-group/research-crawler/pkg/anthropic"
	"github.com/sells-group/research-crawler/pkg/jina"
)

// crawlerEnv holds the initialized collaborators shared by the campaign and
// run commands.
type crawlerEnv struct {
	Store   store.Store // may be nil
	Scraper scrape.Scraper
	Oracle  pipeline.Oracle
	Metrics *metrics.Metrics
}

// Close releases resources held by the environment.
func (e *crawlerEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode, opens the store, builds the scrape
// chain and the oracle, and starts the metrics endpoint when configured.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*crawlerEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg); err != nil {
				zap.L().Error("metrics: server stopped", zap.Error(err))
			}
		}()
	}

	fetchRetry := resilience.DefaultRetryConfig()
	fetchRetry.MaxAttempts = cfg.Scrape.FetchAttempts

	scrapers := []scrape.Scraper{
		scrape.NewLocalScraper(scrape.LocalOptions{
			UserAgent:   cfg.Scrape.UserAgent,
			Timeout:     time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
			RatePerHost: cfg.Scrape.RatePerHost,
			Retry:       fetchRetry,
		}),
	}
	if cfg.Jina.Key != "" {
		reader := jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithTimeout(time.Duration(cfg.Jina.TimeoutSecs)*time.Second),
		)
		scrapers = append(scrapers, scrape.NewJinaAdapter(reader))
		zap.L().Info("jina reader fallback enabled")
	}

	var sc scrape.Scraper = scrape.NewChain(scrape.NewPathMatcher(cfg.Scrape.ExcludePaths), scrapers...).
		WithSettleDelay(cfg.Scrape.SettleDelay()).
		WithMetrics(m).
		WithBreakers(resilience.NewHostBreakers(resilience.BreakerConfig{
			FailureThreshold: cfg.Scrape.HostFailureThreshold,
			Cooldown:         time.Duration(cfg.Scrape.HostCooldownSecs) * time.Second,
		}))
	if st != nil && cfg.Scrape.CacheTTLHours > 0 {
		sc = scrape.NewCachingScraper(sc, st, time.Duration(cfg.Scrape.CacheTTLHours)*time.Hour)
	}

	if cfg.Anthropic.Key == "" {
		if st != nil {
			_ = st.Close()
		}
		return nil, eris.New("anthropic.key is required (RESEARCH_ANTHROPIC_KEY)")
	}
	ai := anthropicpkg.NewClient(anthropicpkg.Options{
		APIKey:  cfg.Anthropic.Key,
		BaseURL: cfg.Anthropic.BaseURL,
		Timeout: time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
	})

	return &crawlerEnv{
		Store:   st,
		Scraper: sc,
		Oracle:  pipeline.NewClaudeOracle(ai, cfg.Anthropic, m),
		Metrics: m,
	}, nil
}
