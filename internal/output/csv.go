// Package output appends campaign results to a CSV file.
package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-crawler/internal/model"
)

// Columns is the fixed header of the output file. The link column holds a
// JSON array (["/about"]); files written by older tooling used single-quoted
// list syntax (['/about']).
var Columns = []string{"original_link", "question", "status", "msg", "link"}

// CSVAppender appends rows to a CSV file, writing the header only when the
// file did not exist when it was first opened. It is safe for concurrent use.
type CSVAppender struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	path string
}

// OpenCSV opens path for appending, creating it with a header if needed.
func OpenCSV(path string) (*CSVAppender, error) {
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "output: open %s", path)
	}

	a := &CSVAppender{f: f, w: csv.NewWriter(f), path: path}
	if isNew {
		if err := a.w.Write(Columns); err != nil {
			f.Close()
			return nil, eris.Wrap(err, "output: write header")
		}
		a.w.Flush()
		if err := a.w.Error(); err != nil {
			f.Close()
			return nil, eris.Wrap(err, "output: flush header")
		}
	}
	return a, nil
}

// Path returns the file path being appended to.
func (a *CSVAppender) Path() string { return a.path }

// Append writes rows and flushes them to disk.
func (a *CSVAppender) Append(rows []model.Row) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range rows {
		rec, err := record(r)
		if err != nil {
			return err
		}
		if err := a.w.Write(rec); err != nil {
			return eris.Wrap(err, "output: write row")
		}
	}
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		return eris.Wrap(err, "output: flush")
	}
	return nil
}

// Close flushes and closes the file.
func (a *CSVAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.w.Flush()
	flushErr := a.w.Error()
	if err := a.f.Close(); err != nil {
		return eris.Wrap(err, "output: close")
	}
	if flushErr != nil {
		return eris.Wrap(flushErr, "output: flush")
	}
	return nil
}

// record serializes one row; the link list is written as a JSON array.
func record(r model.Row) ([]string, error) {
	links := r.Link
	if links == nil {
		links = []string{}
	}
	b, err := json.Marshal(links)
	if err != nil {
		return nil, eris.Wrap(err, "output: marshal links")
	}
	return []string{r.OriginalLink, r.Question, string(r.Status), r.Msg, string(b)}, nil
}
