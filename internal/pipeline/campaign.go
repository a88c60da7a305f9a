package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-crawler/internal/metrics"
	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/scrape"
	"github.com/sells-group/research-crawler/internal/store"
)

// RowWriter receives the final rows of each site.
type RowWriter interface {
	Append(rows []model.Row) error
}

// SiteResult is the outcome of one seed site.
type SiteResult struct {
	Site   model.Site
	RunID  string
	Ledger model.Ledger
	Result *Result
	Err    error
}

// Campaign seeds, resolves and writes every configured site.
type Campaign struct {
	scraper     scrape.Scraper
	oracle      Oracle
	resolver    *Resolver
	store       store.Store
	out         RowWriter
	metrics     *metrics.Metrics
	concurrency int
}

// CampaignOptions configures a Campaign.
type CampaignOptions struct {
	MaxRetries  int
	Concurrency int
	// Store records run history when non-nil.
	Store   store.Store
	Metrics *metrics.Metrics
}

// NewCampaign creates a Campaign writing rows to out.
func NewCampaign(sc scrape.Scraper, o Oracle, out RowWriter, opts CampaignOptions) *Campaign {
	m := opts.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Campaign{
		scraper:     sc,
		oracle:      o,
		resolver:    NewResolver(sc, o, opts.MaxRetries, m),
		store:       opts.Store,
		out:         out,
		metrics:     m,
		concurrency: opts.Concurrency,
	}
}

// Run processes sites, up to the configured concurrency at a time. Sites
// are independent; a failing site is logged and does not stop the others.
// The returned error is non-nil only when ctx was cancelled.
func (c *Campaign) Run(ctx context.Context, sites []model.Site) ([]SiteResult, error) {
	results := make([]SiteResult, len(sites))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, site := range sites {
		g.Go(func() error {
			results[i] = c.RunSite(gCtx, site)
			if results[i].Err != nil {
				zap.L().Error("campaign: site failed",
					zap.String("site", site.URL),
					zap.Error(results[i].Err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, eris.Wrap(err, "campaign: cancelled")
	}
	return results, nil
}

// RunSite fetches the seed page, builds the initial ledger with a single
// oracle call, resolves it and appends one row per question.
func (c *Campaign) RunSite(ctx context.Context, site model.Site) SiteResult {
	start := time.Now()
	log := zap.L().With(zap.String("site", site.URL))
	out := SiteResult{Site: site}

	run := c.createRun(ctx, site)
	if run != nil {
		out.RunID = run.ID
	}

	fail := func(err error, res *Result) SiteResult {
		out.Err = err
		out.Result = res
		c.finish(ctx, run, model.RunStatusFailed, res, start, err)
		return out
	}

	c.setStatus(ctx, run, model.RunStatusSeeding)
	log.Info("campaign: fetching seed page")

	page, err := c.scraper.Scrape(ctx, site.URL)
	if err != nil {
		return fail(eris.Wrap(err, "campaign: fetch seed page"), nil)
	}

	seed := c.oracle.Extract(ctx, nil, page, site.Keywords)
	logExtraction(log, site.URL, seed)
	initial := seed.Ledger
	seedStep := model.Step{URL: site.URL, Outcome: model.StepExtracted}
	if seed.Kind != model.ExtractionOK {
		log.Warn("campaign: seed extraction unusable, starting from empty ledger", zap.String("kind", string(seed.Kind)))
		initial = model.NewEmptyLedger()
		seedStep.Outcome = model.StepMalformed
		if seed.Kind == model.ExtractionError {
			seedStep.Outcome = model.StepOracleError
		}
		if seed.Err != nil {
			seedStep.Error = seed.Err.Error()
		}
	}
	seedStep.Completed = initial.CompletedCount()

	c.setStatus(ctx, run, model.RunStatusResolving)
	res, err := c.resolver.Resolve(ctx, initial, site.Keywords, site.URL)
	res.Steps = append([]model.Step{seedStep}, res.Steps...)
	res.Usage.Add(seed.Usage)
	if err != nil {
		return fail(err, res)
	}

	out.Ledger = res.Ledger
	out.Result = res
	if err := c.out.Append(model.Rows(site.URL, res.Ledger)); err != nil {
		return fail(eris.Wrap(err, "campaign: write rows"), res)
	}

	c.finish(ctx, run, model.RunStatusComplete, res, start, nil)
	log.Info("campaign: site complete",
		zap.Int("completed", res.Ledger.CompletedCount()),
		zap.Int("total", len(res.Ledger)),
		zap.Int("visited", len(res.Visited)),
		zap.Int("iterations", res.Iterations),
		zap.Float64("cost_usd", res.Usage.Cost),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

func (c *Campaign) createRun(ctx context.Context, site model.Site) *model.Run {
	if c.store == nil {
		return nil
	}
	run, err := c.store.CreateRun(ctx, site)
	if err != nil {
		zap.L().Warn("campaign: failed to create run", zap.String("site", site.URL), zap.Error(err))
		return nil
	}
	return run
}

func (c *Campaign) setStatus(ctx context.Context, run *model.Run, status model.RunStatus) {
	if run == nil {
		return
	}
	if err := c.store.UpdateRunStatus(ctx, run.ID, status); err != nil {
		zap.L().Warn("campaign: failed to update status", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// finish reports metrics and persists the run summary and step trace.
func (c *Campaign) finish(ctx context.Context, run *model.Run, status model.RunStatus, res *Result, start time.Time, runErr error) {
	elapsed := time.Since(start)
	c.metrics.Sites.WithLabelValues(string(status)).Inc()
	c.metrics.SiteDuration.Observe(elapsed.Seconds())

	summary := &model.RunResult{Duration: elapsed.Milliseconds()}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if res != nil {
		summary.Ledger = res.Ledger
		summary.Completed = res.Ledger.CompletedCount()
		summary.Total = len(res.Ledger)
		summary.Visited = res.Visited
		summary.Iterations = res.Iterations
		summary.Steps = res.Steps
		summary.TokenUsage = res.Usage
		c.metrics.QuestionsFound.Observe(float64(summary.Completed))
	}

	if run == nil {
		return
	}
	// Persist even when the campaign context was cancelled.
	ctx = context.WithoutCancel(ctx)
	if res != nil && len(res.Steps) > 0 {
		if err := c.store.RecordSteps(ctx, run.ID, res.Steps); err != nil {
			zap.L().Warn("campaign: failed to record steps", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if err := c.store.UpdateRunResult(ctx, run.ID, status, summary); err != nil {
		zap.L().Warn("campaign: failed to save run result", zap.String("run_id", run.ID), zap.Error(err))
	}
}
