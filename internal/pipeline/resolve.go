package pipeline

import (
	"context"
	"maps"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-crawler/internal/metrics"
	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/scrape"
)

// State is the resolver's state between two steps for one site.
// Retries counts how many frontiers a URL has been placed on, not how many
// times it was fetched.
type State struct {
	Ledger  model.Ledger
	Visited map[string]bool
	Retries map[string]int
}

// NewState returns the starting state for ledger.
func NewState(ledger model.Ledger) State {
	return State{
		Ledger:  ledger,
		Visited: make(map[string]bool),
		Retries: make(map[string]int),
	}
}

func (s State) clone() State {
	return State{
		Ledger:  s.Ledger.Clone(),
		Visited: maps.Clone(s.Visited),
		Retries: maps.Clone(s.Retries),
	}
}

// Frontier returns the ordered, de-duplicated URLs proposed by incomplete
// records that have not been visited, and the state with each of their
// retry counters incremented.
func (s State) Frontier(baseURL string) (State, []string) {
	next := s.clone()
	seen := make(map[string]bool)
	var frontier []string
	for _, ref := range s.Ledger.IncompleteLinks() {
		u := resolveLink(baseURL, ref.Link)
		if u == "" || next.Visited[u] || seen[u] {
			continue
		}
		seen[u] = true
		frontier = append(frontier, u)
		next.Retries[u]++
	}
	return next, frontier
}

// Eligible reports whether url may still be fetched. The first placement on
// a frontier is not a retry, so a URL is allowed maxRetries+1 placements.
func (s State) Eligible(url string, maxRetries int) bool {
	return s.Retries[url] <= maxRetries+1
}

// Apply returns the state after url was fetched and handed to the oracle.
// The URL becomes visited whatever the outcome; only an ok extraction
// replaces the ledger.
func (s State) Apply(url string, ex model.Extraction) State {
	next := s.clone()
	next.Visited[url] = true
	if ex.Kind == model.ExtractionOK {
		next.Ledger = ex.Ledger.Clone()
	}
	return next
}

// resolveLink joins a site-relative link onto baseURL by plain string
// concatenation. Links starting with "http" are returned unchanged.
func resolveLink(baseURL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if strings.HasPrefix(link, "http") {
		return link
	}
	return baseURL + link
}

// Result is the outcome of resolving one site.
type Result struct {
	Ledger     model.Ledger
	Visited    []string
	Steps      []model.Step
	Iterations int
	Usage      model.TokenUsage
}

// Resolver runs the frontier loop: fetch each candidate link, ask the oracle
// for a fresh ledger, and repeat until no eligible link remains.
type Resolver struct {
	scraper    scrape.Scraper
	oracle     Oracle
	maxRetries int
	metrics    *metrics.Metrics
}

// NewResolver creates a Resolver. A nil m disables metric reporting.
func NewResolver(s scrape.Scraper, o Oracle, maxRetries int, m *metrics.Metrics) *Resolver {
	if m == nil {
		m = metrics.Nop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Resolver{scraper: s, oracle: o, maxRetries: maxRetries, metrics: m}
}

// Resolve drives initial to a fixed point. URLs are handled strictly in
// order and each oracle call sees the ledger produced by the one before it.
// Per-URL failures are logged and recorded as steps. The only error returned
// is context cancellation, together with the partial result.
func (r *Resolver) Resolve(ctx context.Context, initial model.Ledger, keywords []string, baseURL string) (*Result, error) {
	log := zap.L().With(zap.String("site", baseURL))
	state := NewState(initial)
	res := &Result{}

	for {
		var frontier []string
		state, frontier = state.Frontier(baseURL)
		if !r.anyEligible(state, frontier) {
			log.Debug("resolve: frontier exhausted",
				zap.Int("iterations", res.Iterations),
				zap.Int("completed", state.Ledger.CompletedCount()),
			)
			break
		}
		res.Iterations++
		log.Debug("resolve: iteration",
			zap.Int("iteration", res.Iterations),
			zap.Int("frontier", len(frontier)),
		)

		for _, u := range frontier {
			if err := ctx.Err(); err != nil {
				res.Ledger = state.Ledger
				return res, eris.Wrap(err, "resolve: cancelled")
			}

			step := model.Step{Iteration: res.Iterations, URL: u}

			if !state.Eligible(u, r.maxRetries) {
				log.Debug("resolve: retry cap reached, skipping", zap.String("url", u), zap.Int("retries", state.Retries[u]))
				step.Outcome = model.StepExhausted
				r.record(res, step, state)
				continue
			}

			page, err := r.scraper.Scrape(ctx, u)
			if err != nil {
				log.Warn("resolve: fetch failed", zap.String("url", u), zap.Error(err))
				step.Outcome = model.StepFetchFailed
				step.Error = err.Error()
				r.record(res, step, state)
				continue
			}

			ex := r.oracle.Extract(ctx, state.Ledger, page, keywords)
			logExtraction(log, u, ex)
			state = state.Apply(u, ex)
			res.Visited = append(res.Visited, u)
			res.Usage.Add(ex.Usage)

			switch ex.Kind {
			case model.ExtractionOK:
				step.Outcome = model.StepExtracted
			case model.ExtractionMalformed:
				step.Outcome = model.StepMalformed
			default:
				step.Outcome = model.StepOracleError
			}
			if ex.Err != nil {
				step.Error = ex.Err.Error()
			}
			r.record(res, step, state)
		}
	}

	res.Ledger = state.Ledger
	return res, nil
}

func (r *Resolver) anyEligible(state State, frontier []string) bool {
	for _, u := range frontier {
		if state.Eligible(u, r.maxRetries) {
			return true
		}
	}
	return false
}

func (r *Resolver) record(res *Result, step model.Step, state State) {
	step.Completed = state.Ledger.CompletedCount()
	res.Steps = append(res.Steps, step)
	r.metrics.ResolveSteps.WithLabelValues(string(step.Outcome)).Inc()
}
