package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathMatcher_IsExcluded(t *testing.T) {
	t.Parallel()
	m := NewPathMatcher([]string{"/blog/*", "*.pdf", "/*.txt"})

	tests := []struct {
		name     string
		url      string
		excluded bool
	}{
		{"blog post", "https://acme.com/blog/post1", true},
		{"blog root", "https://acme.com/blog", true},
		{"blog deep path", "https://acme.com/blog/2024/01/post", true},
		{"pdf at root", "https://acme.com/report.pdf", true},
		{"nested pdf", "https://acme.com/docs/annual/report.pdf", true},
		{"root txt", "https://acme.com/robots.txt", true},
		{"nested txt", "https://acme.com/docs/notes.txt", false},
		{"about page", "https://acme.com/about", false},
		{"homepage", "https://acme.com/", false},
		{"bare host", "https://acme.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.excluded, m.IsExcluded(tt.url))
		})
	}
}

func TestPathMatcher_DefaultPatterns(t *testing.T) {
	m := NewPathMatcher(nil)

	assert.True(t, m.IsExcluded("https://acme.com/files/brochure.PDF"))
	assert.True(t, m.IsExcluded("https://acme.com/login/sso"))
	assert.True(t, m.IsExcluded("https://acme.com/images/logo.png"))
	assert.False(t, m.IsExcluded("https://acme.com/about"))
	assert.False(t, m.IsExcluded("https://acme.com/company/leadership"))
	assert.NotEmpty(t, m.Patterns())
}

func TestPathMatcher_CaseInsensitive(t *testing.T) {
	m := NewPathMatcher([]string{"/Careers/*"})

	assert.True(t, m.IsExcluded("https://acme.com/careers/job"))
	assert.True(t, m.IsExcluded("https://acme.com/CAREERS/JOB"))
}

func TestPathMatcher_InvalidURL(t *testing.T) {
	m := NewPathMatcher([]string{"/blog/*"})
	assert.True(t, m.IsExcluded("://invalid"))
}
