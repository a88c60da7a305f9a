package model

import "time"

// Page is the parsed content of one fetched URL, ready for the oracle.
type Page struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	Markdown   string   `json:"markdown"`
	Links      []string `json:"links,omitempty"`
	StatusCode int      `json:"status_code"`
	Source     string   `json:"source"`
}

// PageCache is a cached fetch result.
type PageCache struct {
	URL       string    `json:"url"`
	Page      Page      `json:"page"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
