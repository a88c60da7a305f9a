package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/research-crawler/internal/model"
)

func sampleRuns(now time.Time) []model.Run {
	return []model.Run{
		{
			ID:        "aaaaaaaa-1111-2222-3333-444444444444",
			Site:      model.Site{URL: "https://www.apple.com"},
			Status:    model.RunStatusComplete,
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-time.Hour + 30*time.Second),
			Result: &model.RunResult{
				Completed:  6,
				Total:      6,
				Visited:    []string{"https://www.apple.com/contact", "https://www.apple.com/leadership"},
				TokenUsage: model.TokenUsage{Cost: 0.02},
			},
		},
		{
			ID:        "bbbbbbbb-1111-2222-3333-444444444444",
			Site:      model.Site{URL: "https://www.nike.com"},
			Status:    model.RunStatusComplete,
			CreatedAt: now.Add(-2 * time.Hour),
			UpdatedAt: now.Add(-2*time.Hour + 10*time.Second),
			Result: &model.RunResult{
				Completed:  3,
				Total:      6,
				TokenUsage: model.TokenUsage{Cost: 0.01},
			},
		},
		{
			ID:        "cccccccc-1111-2222-3333-444444444444",
			Site:      model.Site{URL: "https://broken.example"},
			Status:    model.RunStatusFailed,
			CreatedAt: now.Add(-3 * time.Hour),
			UpdatedAt: now.Add(-3 * time.Hour),
			Result:    &model.RunResult{Error: "campaign: fetch seed page"},
		},
		{
			ID:        "dddddddd-1111-2222-3333-444444444444",
			Site:      model.Site{URL: "https://www.shell.com"},
			Status:    model.RunStatusComplete,
			CreatedAt: now.Add(-72 * time.Hour),
			UpdatedAt: now.Add(-72 * time.Hour),
		},
	}
}

func TestComputeRunStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := computeRunStats(sampleRuns(now), 24*time.Hour, now)

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 0, s.Other)
	assert.Equal(t, 9, s.Answered)
	assert.Equal(t, 12, s.Questions)
	assert.Equal(t, 1, s.FullySolved)
	assert.InDelta(t, 0.03, s.CostUSD, 1e-9)
	assert.InDelta(t, 20.0, s.AvgDurSecs, 1e-9)
	assert.InDelta(t, 2.0/3.0, s.AvgVisited, 1e-9)
}

func TestComputeRunStats_AllTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := computeRunStats(sampleRuns(now), 0, now)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.Complete)
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil, time.Hour, time.Now())
	assert.Equal(t, runStats{}, s)
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatRunsList(&buf, sampleRuns(now))
	out := buf.String()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 6)
	assert.Contains(t, lines[0], "SITE")
	assert.Contains(t, out, "aaaaaaaa ")
	assert.NotContains(t, out, "aaaaaaaa-1111")
	assert.Contains(t, out, "6/6")
	assert.Contains(t, out, "3/6")
	assert.Contains(t, out, "30s")
	assert.Contains(t, lines[5], "-")
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 2, Complete: 1, Failed: 1, Answered: 3, Questions: 6, CostUSD: 0.5, AvgDurSecs: 12})
	out := buf.String()
	assert.Contains(t, out, "Total runs:")
	assert.Contains(t, out, "3/6 (50%)")
	assert.Contains(t, out, "12.0s")
	assert.Contains(t, out, "$0.5000")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefgh-ijkl"))
	assert.Equal(t, "short", truncateID("short"))
}
