package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-crawler/internal/config"
	"github.com/sells-group/research-crawler/internal/metrics"
	"github.com/sells-group/research-crawler/internal/model"
	"github.com/sells-group/research-crawler/pkg/anthropic"
)

// Oracle turns page content plus the previous ledger into a fresh ledger.
// A nil prev is the null sentinel used for the seed page. Implementations
// never return an error: failures are reported through Extraction.Kind.
type Oracle interface {
	Extract(ctx context.Context, prev model.Ledger, page *model.Page, keywords []string) model.Extraction
}

// maxPromptLinks caps the number of page links listed in the prompt.
const maxPromptLinks = 60

const oracleSystemText = `You are a research analyst answering six fixed questions about a company from the pages of its website.

Questions (with where the answer is usually found):
%s
You receive the previous answers (or null on the first page), the content of the current page, hint keywords for this company and the links found on the page.
Check the previous answers first. If a question is already completed keep its answer. Otherwise try to answer it from the current page.

Return ONLY a JSON array with exactly one object per question, in the order above:
[{"question": "<exact question text>", "status": "completed" | "notcompleted", "msg": "<answer text>" | null, "link": ["<URL>", ...]}]

Rules:
- "question" must repeat the question text exactly.
- "status" is "completed" only when the answer is supported by the page or a previous answer.
- "msg" is null when the question is not answered.
- "link" lists URLs from this site that may contain the answer to a question that is not completed. Prefer links matching the hint keywords. Use an empty list for completed questions.
- Do not wrap the array in markdown code fences.`

const oracleUserPrompt = `Previous answers:
%s

Hint keywords: %s

Page URL: %s
Page title: %s

Links on this page:
%s

Page content:
%s`

// ClaudeOracle is an Oracle backed by the Anthropic Messages API.
type ClaudeOracle struct {
	client  anthropic.Client
	cfg     config.AnthropicConfig
	system  []anthropic.SystemBlock
	metrics *metrics.Metrics
}

// NewClaudeOracle creates a ClaudeOracle. A nil m disables metric reporting.
func NewClaudeOracle(client anthropic.Client, cfg config.AnthropicConfig, m *metrics.Metrics) *ClaudeOracle {
	if m == nil {
		m = metrics.Nop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &ClaudeOracle{
		client:  client,
		cfg:     cfg,
		system:  anthropic.BuildCachedSystemBlocks(buildSystemText()),
		metrics: m,
	}
}

func buildSystemText() string {
	var b strings.Builder
	for i, q := range model.CanonicalQuestions() {
		fmt.Fprintf(&b, "%d. %s", i+1, q.Text)
		if q.Hint != "" {
			fmt.Fprintf(&b, " (%s)", q.Hint)
		}
		b.WriteByte('\n')
	}
	return fmt.Sprintf(oracleSystemText, b.String())
}

// Extract implements Oracle.
func (o *ClaudeOracle) Extract(ctx context.Context, prev model.Ledger, page *model.Page, keywords []string) model.Extraction {
	if page == nil {
		return o.observe(model.Failed(eris.New("oracle: nil page")))
	}

	prompt, err := buildUserPrompt(prev, page, keywords, o.cfg.MaxContentChars)
	if err != nil {
		return o.observe(model.Failed(err))
	}

	temp := o.cfg.Temperature
	resp, err := o.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		System:      o.system,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return o.observe(model.Failed(eris.Wrapf(err, "oracle: extract %s", page.URL)))
	}

	resp.Usage.LogCost(o.cfg.Model, page.URL)
	usage := model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		Cost:                resp.Usage.EstimateCost(o.cfg.Model),
	}

	text := resp.Text()
	ledger, err := parseLedger(text)
	if err != nil {
		if resp.StopReason == "max_tokens" {
			err = eris.Wrap(err, "oracle: response truncated at max_tokens")
		}
		return o.observe(model.Malformed(text, err, usage))
	}
	return o.observe(model.OK(ledger, usage))
}

func (o *ClaudeOracle) observe(ex model.Extraction) model.Extraction {
	o.metrics.OracleCalls.WithLabelValues(string(ex.Kind)).Inc()
	o.metrics.OracleTokens.WithLabelValues("input").Add(float64(ex.Usage.InputTokens + ex.Usage.CacheCreationTokens + ex.Usage.CacheReadTokens))
	o.metrics.OracleTokens.WithLabelValues("output").Add(float64(ex.Usage.OutputTokens))
	return ex
}

func buildUserPrompt(prev model.Ledger, page *model.Page, keywords []string, maxChars int) (string, error) {
	prevJSON := "null"
	if prev != nil {
		b, err := json.Marshal(prev)
		if err != nil {
			return "", eris.Wrap(err, "oracle: marshal previous ledger")
		}
		prevJSON = string(b)
	}

	links := promptLinks(page.Links, keywords, maxPromptLinks)
	linkText := "(none)"
	if len(links) > 0 {
		linkText = "- " + strings.Join(links, "\n- ")
	}

	return fmt.Sprintf(oracleUserPrompt,
		prevJSON,
		strings.Join(keywords, ", "),
		page.URL,
		page.Title,
		linkText,
		truncateContent(page.Markdown, maxChars),
	), nil
}

// promptLinks returns the links that contain a hint keyword, followed by the
// rest, capped at limit.
func promptLinks(links, keywords []string, limit int) []string {
	var matched, rest []string
	for _, l := range links {
		if containsKeyword(l, keywords) {
			matched = append(matched, l)
		} else {
			rest = append(rest, l)
		}
	}
	out := append(matched, rest...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsKeyword(link string, keywords []string) bool {
	lower := strings.ToLower(link)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// truncateContent cuts s to at most limit bytes on a rune boundary.
func truncateContent(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[content truncated]"
}

// oracleRecord is the loosely typed shape the model returns. msg and link
// are decoded as any because models mix strings, nulls and lists.
type oracleRecord struct {
	Question string `json:"question"`
	Status   string `json:"status"`
	Msg      any    `json:"msg"`
	Link     any    `json:"link"`
}

// parseLedger decodes a model response into a normalised ledger.
func parseLedger(text string) (model.Ledger, error) {
	cleaned := cleanJSONArray(text)
	if cleaned == "" {
		return nil, eris.New("oracle: empty response")
	}

	var raw []oracleRecord
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "oracle: decode response")
	}

	records := make([]model.QuestionRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, model.QuestionRecord{
			Question: r.Question,
			Status:   model.ParseStatus(r.Status),
			Message:  messageValue(r.Msg),
			Links:    linkValues(r.Link),
		})
	}

	ledger, err := model.Normalize(records)
	if err != nil {
		return nil, eris.Wrap(err, "oracle: normalize")
	}
	return ledger, nil
}

func messageValue(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			return nil
		}
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		s = string(b)
	}
	return &s
}

func linkValues(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// cleanJSONArray strips markdown fences and surrounding prose, returning the
// text from the first '[' to the last ']'.
func cleanJSONArray(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// logExtraction writes one structured line describing an oracle outcome.
func logExtraction(log *zap.Logger, url string, ex model.Extraction) {
	switch ex.Kind {
	case model.ExtractionOK:
		log.Debug("oracle: extracted",
			zap.String("url", url),
			zap.Int("completed", ex.Ledger.CompletedCount()),
			zap.Float64("cost_usd", ex.Usage.Cost),
		)
	case model.ExtractionMalformed:
		log.Warn("oracle: malformed response",
			zap.String("url", url),
			zap.Int("raw_len", len(ex.Raw)),
			zap.Error(ex.Err),
		)
	default:
		log.Warn("oracle: call failed", zap.String("url", url), zap.Error(ex.Err))
	}
}
