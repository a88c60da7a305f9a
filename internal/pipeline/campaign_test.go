package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-crawler/internal/metrics"
	"github.com/sells-group/research-crawler/internal/model"
)

type memWriter struct {
	mu   sync.Mutex
	rows []model.Row
	err  error
}

func (w *memWriter) Append(rows []model.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.rows = append(w.rows, rows...)
	return nil
}

func (w *memWriter) rowsFor(site string) []model.Row {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Row
	for _, r := range w.rows {
		if r.OriginalLink == site {
			out = append(out, r)
		}
	}
	return out
}

var appleSite = model.Site{URL: "https://www.apple.com", Keywords: []string{"business", "newsroom", "contact"}}

func TestCampaign_RunSite_Success(t *testing.T) {
	sc := new(mockScraper)
	or := new(mockOracle)
	st := new(mockStore)
	out := &memWriter{}

	seedLedger := ledgerWith(func(l model.Ledger) {
		l[0].Status = model.StatusCompleted
		l[0].Message = strPtr("Think different")
		l[3].Links = []string{"/contact"}
	})
	final := seedLedger.Clone()
	final[3].Status = model.StatusCompleted
	final[3].Message = strPtr("Cupertino, California")
	final[3].Links = nil

	contact := appleSite.URL + "/contact"
	sc.On("Scrape", mock.Anything, appleSite.URL).Return(pageFor(appleSite.URL), nil).Once()
	sc.On("Scrape", mock.Anything, contact).Return(pageFor(contact), nil).Once()
	// The seed call uses the null sentinel as prior context.
	or.On("Extract", mock.Anything, model.Ledger(nil), pageURL(appleSite.URL), appleSite.Keywords).
		Return(model.OK(seedLedger, model.TokenUsage{InputTokens: 10, Cost: 0.01})).Once()
	or.On("Extract", mock.Anything, ledgerEq(seedLedger), pageURL(contact), appleSite.Keywords).
		Return(model.OK(final, model.TokenUsage{InputTokens: 5, Cost: 0.02})).Once()

	run := &model.Run{ID: "run-1", Site: appleSite}
	st.On("CreateRun", mock.Anything, appleSite).Return(run, nil).Once()
	st.On("UpdateRunStatus", mock.Anything, "run-1", model.RunStatusSeeding).Return(nil).Once()
	st.On("UpdateRunStatus", mock.Anything, "run-1", model.RunStatusResolving).Return(nil).Once()
	st.On("RecordSteps", mock.Anything, "run-1", mock.MatchedBy(func(steps []model.Step) bool {
		return len(steps) == 2 && steps[0].URL == appleSite.URL && steps[1].URL == contact
	})).Return(nil).Once()
	st.On("UpdateRunResult", mock.Anything, "run-1", model.RunStatusComplete, mock.MatchedBy(func(r *model.RunResult) bool {
		return r.Completed == 2 && r.Total == 6 && r.Iterations == 1 && r.Error == ""
	})).Return(nil).Once()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := NewCampaign(sc, or, out, CampaignOptions{MaxRetries: 5, Store: st, Metrics: m})
	res := c.RunSite(context.Background(), appleSite)

	require.NoError(t, res.Err)
	assert.Equal(t, "run-1", res.RunID)
	assert.True(t, res.Ledger.Equal(final))
	assert.InDelta(t, 0.03, res.Result.Usage.Cost, 1e-9)
	assert.Equal(t, 15, res.Result.Usage.InputTokens)

	rows := out.rowsFor(appleSite.URL)
	require.Len(t, rows, 6)
	assert.Equal(t, model.QuestionMission, rows[0].Question)
	assert.Equal(t, "Cupertino, California", rows[3].Msg)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Sites.WithLabelValues("complete")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ResolveSteps.WithLabelValues("extracted")), 0)

	sc.AssertExpectations(t)
	or.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestCampaign_RunSite_SeedMalformedStartsEmpty(t *testing.T) {
	sc := new(mockScraper)
	or := new(mockOracle)
	out := &memWriter{}

	sc.On("Scrape", mock.Anything, appleSite.URL).Return(pageFor(appleSite.URL), nil).Once()
	or.On("Extract", mock.Anything, model.Ledger(nil), mock.Anything, mock.Anything).
		Return(model.Malformed("oops", errors.New("oracle: decode response"), model.TokenUsage{})).Once()

	c := NewCampaign(sc, or, out, CampaignOptions{MaxRetries: 5})
	res := c.RunSite(context.Background(), appleSite)

	require.NoError(t, res.Err)
	assert.True(t, res.Ledger.Equal(model.NewEmptyLedger()))
	require.Len(t, res.Result.Steps, 1)
	assert.Equal(t, model.StepMalformed, res.Result.Steps[0].Outcome)

	rows := out.rowsFor(appleSite.URL)
	require.Len(t, rows, 6)
	for _, r := range rows {
		assert.Equal(t, model.StatusNotCompleted, r.Status)
		assert.Empty(t, r.Msg)
	}
}

func TestCampaign_RunSite_SeedFetchFails(t *testing.T) {
	sc := new(mockScraper)
	or := new(mockOracle)
	st := new(mockStore)
	out := &memWriter{}

	sc.On("Scrape", mock.Anything, appleSite.URL).Return(nil, errors.New("dns failure")).Once()
	st.On("CreateRun", mock.Anything, appleSite).Return(&model.Run{ID: "run-2"}, nil).Once()
	st.On("UpdateRunStatus", mock.Anything, "run-2", model.RunStatusSeeding).Return(nil).Once()
	st.On("UpdateRunResult", mock.Anything, "run-2", model.RunStatusFailed, mock.MatchedBy(func(r *model.RunResult) bool {
		return r.Error != "" && r.Total == 0
	})).Return(nil).Once()

	c := NewCampaign(sc, or, out, CampaignOptions{Store: st})
	res := c.RunSite(context.Background(), appleSite)

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "fetch seed page")
	assert.Empty(t, out.rows)
	or.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestCampaign_RunSite_WriteFails(t *testing.T) {
	sc := new(mockScraper)
	or := new(mockOracle)
	out := &memWriter{err: errors.New("disk full")}

	sc.On("Scrape", mock.Anything, appleSite.URL).Return(pageFor(appleSite.URL), nil).Once()
	or.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.OK(ledgerWith(completeAll), model.TokenUsage{})).Once()

	c := NewCampaign(sc, or, out, CampaignOptions{})
	res := c.RunSite(context.Background(), appleSite)
	assert.ErrorContains(t, res.Err, "write rows")
}

func TestCampaign_RunSite_StoreErrorsAreNotFatal(t *testing.T) {
	sc := new(mockScraper)
	or := new(mockOracle)
	st := new(mockStore)
	out := &memWriter{}

	sc.On("Scrape", mock.Anything, appleSite.URL).Return(pageFor(appleSite.URL), nil).Once()
	or.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.OK(ledgerWith(completeAll), model.TokenUsage{})).Once()
	st.On("CreateRun", mock.Anything, appleSite).Return(nil, errors.New("database is locked")).Once()

	c := NewCampaign(sc, or, out, CampaignOptions{Store: st})
	res := c.RunSite(context.Background(), appleSite)

	require.NoError(t, res.Err)
	assert.Empty(t, res.RunID)
	assert.Len(t, out.rows, 6)
	st.AssertExpectations(t)
}

func TestCampaign_Run_IsolatesSiteFailures(t *testing.T) {
	sc := new(mockScraper)
	or := new(mockOracle)
	out := &memWriter{}

	sites := []model.Site{
		{URL: "https://www.nike.com", Keywords: []string{"about"}},
		{URL: "https://broken.example", Keywords: []string{"about"}},
		{URL: "https://www.shell.com", Keywords: []string{"who-we-are"}},
	}
	sc.On("Scrape", mock.Anything, "https://www.nike.com").Return(pageFor("https://www.nike.com"), nil)
	sc.On("Scrape", mock.Anything, "https://www.shell.com").Return(pageFor("https://www.shell.com"), nil)
	sc.On("Scrape", mock.Anything, "https://broken.example").Return(nil, errors.New("no such host"))
	or.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.OK(ledgerWith(completeAll), model.TokenUsage{}))

	c := NewCampaign(sc, or, out, CampaignOptions{Concurrency: 2})
	results, err := c.Run(context.Background(), sites)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "https://broken.example", results[1].Site.URL)

	assert.Len(t, out.rowsFor("https://www.nike.com"), 6)
	assert.Len(t, out.rowsFor("https://www.shell.com"), 6)
	assert.Empty(t, out.rowsFor("https://broken.example"))
}

func TestCampaign_Run_Cancelled(t *testing.T) {
	sc := new(mockScraper)
	or := new(mockOracle)
	out := &memWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc.On("Scrape", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	c := NewCampaign(sc, or, out, CampaignOptions{})
	_, err := c.Run(ctx, []model.Site{appleSite})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.rows)
}
