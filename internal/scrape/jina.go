package scrape

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/internal/resilience"
	"github.com/sells-group/research-crawler/pkg/jina"
)

// JinaAdapter wraps a Jina Reader client as a Scraper with a circuit breaker.
// It is the fallback for pages the local scraper cannot render.
type JinaAdapter struct {
	client   jina.Client
	breakers *resilience.HostBreakers
}

// jinaBreakerKey keys the single breaker shared by every Jina request.
const jinaBreakerKey = "r.jina.ai"

// NewJinaAdapter creates a JinaAdapter from a Jina client.
// 3 consecutive failures open the circuit for 60s.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return newJinaAdapter(client, resilience.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	})
}

func newJinaAdapter(client jina.Client, cfg resilience.BreakerConfig) *JinaAdapter {
	return &JinaAdapter{client: client, breakers: resilience.NewHostBreakers(cfg)}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true for every URL. An open breaker is enforced in Scrape so
// the breaker can let a probe through once its cooldown has passed.
func (j *JinaAdapter) Supports(_ string) bool {
	return true
}

// Scrape fetches a URL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*model.Page, error) {
	if err := j.breakers.Allow(jinaBreakerKey); err != nil {
		return nil, eris.Wrap(err, "jina: circuit breaker open")
	}

	resp, err := j.client.Read(ctx, targetURL)
	if err != nil {
		if ctx.Err() != nil {
			j.breakers.Release(jinaBreakerKey)
		} else {
			j.breakers.Record(jinaBreakerKey, err)
		}
		return nil, err
	}

	if needsFallback(resp) {
		zap.L().Debug("jina: empty or challenge response",
			zap.String("url", targetURL),
			zap.Int("code", resp.Code),
			zap.Int("content_len", len(resp.Data.Content)),
		)
		err := eris.New("jina: response needs fallback")
		j.breakers.Record(jinaBreakerKey, err)
		return nil, err
	}

	j.breakers.Record(jinaBreakerKey, nil)

	pageURL := resp.Data.URL
	if pageURL == "" {
		pageURL = targetURL
	}
	status := resp.Code
	if status == 0 {
		status = 200
	}
	return &model.Page{
		URL:        pageURL,
		Title:      resp.Data.Title,
		Markdown:   resp.Data.Content,
		Links:      slices.Sorted(maps.Values(resp.Data.Links)),
		StatusCode: status,
		Source:     j.Name(),
	}, nil
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

// needsFallback reports whether a Jina response is empty or an interstitial
// and the next scraper should be tried.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}
	return false
}
