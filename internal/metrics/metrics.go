// Package metrics exposes Prometheus counters for the crawler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "research_crawler"

// Metrics holds every collector the crawler reports.
type Metrics struct {
	Fetches        *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	OracleCalls    *prometheus.CounterVec
	OracleTokens   *prometheus.CounterVec
	ResolveSteps   *prometheus.CounterVec
	Sites          *prometheus.CounterVec
	SiteDuration   prometheus.Histogram
	QuestionsFound prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Page fetches by scraper source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of page fetches in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Extraction oracle calls by result kind (ok, malformed, error).",
		}, []string{"kind"}),
		OracleTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_tokens_total",
			Help:      "Tokens consumed by the extraction oracle.",
		}, []string{"direction"}),
		ResolveSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_steps_total",
			Help:      "Frontier URLs handled by the resolver, by outcome.",
		}, []string{"outcome"}),
		Sites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sites_total",
			Help:      "Seed sites processed, by final run status.",
		}, []string{"status"}),
		SiteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "site_duration_seconds",
			Help:      "Wall time to resolve one seed site.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		QuestionsFound: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "questions_completed",
			Help:      "Completed questions per site at the end of a run.",
			Buckets:   prometheus.LinearBuckets(0, 1, 7),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Fetches, m.FetchDuration, m.OracleCalls, m.OracleTokens,
			m.ResolveSteps, m.Sites, m.SiteDuration, m.QuestionsFound,
		)
	}
	return m
}

// Nop returns unregistered collectors, for callers that do not export metrics.
func Nop() *Metrics {
	return New(nil)
}

// Router returns the HTTP routes served on the metrics address.
func Router(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}

// Serve exposes Router on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("metrics: listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
