// Package scrape fetches company web pages and turns them into Markdown for
// the extraction oracle.
package scrape

import (
	"context"

	"github.com/sells-group/research-crawler/internal/model"
)

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*model.Page, error)
	Name() string
	Supports(url string) bool
}
