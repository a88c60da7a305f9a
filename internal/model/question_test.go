package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalQuestions(t *testing.T) {
	t.Parallel()

	qs := CanonicalQuestions()
	assert.Len(t, qs, 6)
	assert.Equal(t, QuestionMission, qs[0].Text)
	assert.Equal(t, QuestionAwards, qs[5].Text)
	assert.Empty(t, qs[5].Hint)

	// Callers get a copy.
	qs[0].Text = "changed"
	assert.Equal(t, QuestionMission, CanonicalQuestions()[0].Text)
}

func TestExtractionConstructors(t *testing.T) {
	t.Parallel()

	usage := TokenUsage{InputTokens: 10}
	ok := OK(NewEmptyLedger(), usage)
	assert.Equal(t, ExtractionOK, ok.Kind)
	assert.Len(t, ok.Ledger, 6)
	assert.Equal(t, usage, ok.Usage)

	bad := Malformed("nope", errors.New("decode"), usage)
	assert.Equal(t, ExtractionMalformed, bad.Kind)
	assert.Equal(t, "nope", bad.Raw)
	assert.Nil(t, bad.Ledger)

	failed := Failed(errors.New("timeout"))
	assert.Equal(t, ExtractionError, failed.Kind)
	assert.EqualError(t, failed.Err, "timeout")
}

func TestTokenUsageAdd(t *testing.T) {
	t.Parallel()

	t.Run("adds all fields", func(t *testing.T) {
		t.Parallel()
		a := TokenUsage{InputTokens: 100, OutputTokens: 50, CacheCreationTokens: 10, CacheReadTokens: 20, Cost: 0.01}
		b := TokenUsage{InputTokens: 200, OutputTokens: 100, CacheCreationTokens: 5, CacheReadTokens: 30, Cost: 0.02}
		a.Add(b)
		assert.Equal(t, 300, a.InputTokens)
		assert.Equal(t, 150, a.OutputTokens)
		assert.Equal(t, 15, a.CacheCreationTokens)
		assert.Equal(t, 50, a.CacheReadTokens)
		assert.InDelta(t, 0.03, a.Cost, 0.0001)
	})

	t.Run("add zero is no-op", func(t *testing.T) {
		t.Parallel()
		a := TokenUsage{InputTokens: 100, Cost: 0.01}
		a.Add(TokenUsage{})
		assert.Equal(t, 100, a.InputTokens)
		assert.InDelta(t, 0.01, a.Cost, 0.0001)
	})
}
