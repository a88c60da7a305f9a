package model

// ExtractionKind tags the outcome of one oracle call.
type ExtractionKind string

const (
	// ExtractionOK carries a complete, normalised ledger.
	ExtractionOK ExtractionKind = "ok"
	// ExtractionMalformed means the model answered but the answer could not
	// be turned into a ledger.
	ExtractionMalformed ExtractionKind = "malformed"
	// ExtractionError means the call itself failed.
	ExtractionError ExtractionKind = "error"
)

// Extraction is the result of an oracle call. Exactly one of Ledger (ok),
// Raw (malformed) or Err (error) is meaningful, selected by Kind.
type Extraction struct {
	Kind   ExtractionKind
	Ledger Ledger
	Raw    string
	Err    error
	Usage  TokenUsage
}

// OK wraps a ledger as a successful extraction.
func OK(l Ledger, usage TokenUsage) Extraction {
	return Extraction{Kind: ExtractionOK, Ledger: l, Usage: usage}
}

// Malformed records an unusable model response.
func Malformed(raw string, err error, usage TokenUsage) Extraction {
	return Extraction{Kind: ExtractionMalformed, Raw: raw, Err: err, Usage: usage}
}

// Failed records an oracle call that did not produce a response.
func Failed(err error) Extraction {
	return Extraction{Kind: ExtractionError, Err: err}
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}
