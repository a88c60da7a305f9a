package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip non-HTML assets and sign-in pages, which never
// answer a research question.
var defaultExcludePatterns = []string{
	"*.pdf",
	"*.zip",
	"*.jpg",
	"*.jpeg",
	"*.png",
	"*.gif",
	"*.svg",
	"*.mp4",
	"/login/*",
	"/signin/*",
	"/account/*",
	"/cart/*",
}

// PathMatcher filters URLs based on glob-style path patterns.
//
// Patterns starting with "/" are matched against the whole path, and a
// trailing "/*" also matches deeper paths ("/login/*" matches
// "/login/sso/okta"). Patterns without a leading slash are matched against
// the last path segment only, so "*.pdf" excludes PDFs at any depth.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns.
// Falls back to default patterns if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return &PathMatcher{patterns: lowered}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded checks whether a URL matches any exclude pattern. Unparseable
// URLs are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, urlPath string) bool {
	if !strings.HasPrefix(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(urlPath))
		return ok
	}

	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}

	if prefix, found := strings.CutSuffix(pattern, "/*"); found {
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	return false
}
