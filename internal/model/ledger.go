package model

import (
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Status is the completion state of a QuestionRecord.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusNotCompleted Status = "not_completed"
)

// ParseStatus maps the spellings a model tends to produce onto a Status.
// Anything that is not recognisably "completed" is treated as not completed.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "complete", "done":
		return StatusCompleted
	default:
		return StatusNotCompleted
	}
}

// QuestionRecord is one fact-finding task in a Ledger.
type QuestionRecord struct {
	Question string   `json:"question"`
	Status   Status   `json:"status"`
	Message  *string  `json:"msg"`
	Links    []string `json:"link"`
}

// Completed reports whether the record has been answered.
func (r QuestionRecord) Completed() bool {
	return r.Status == StatusCompleted
}

// MessageText returns the answer text, or "" when unresolved.
func (r QuestionRecord) MessageText() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}

// Clone returns a deep copy of the record.
func (r QuestionRecord) Clone() QuestionRecord {
	out := r
	if r.Message != nil {
		msg := *r.Message
		out.Message = &msg
	}
	out.Links = slices.Clone(r.Links)
	return out
}

// Equal reports whether two records carry the same content.
func (r QuestionRecord) Equal(o QuestionRecord) bool {
	if r.Question != o.Question || r.Status != o.Status {
		return false
	}
	if (r.Message == nil) != (o.Message == nil) {
		return false
	}
	if r.Message != nil && *r.Message != *o.Message {
		return false
	}
	return slices.Equal(r.Links, o.Links)
}

// Ledger is the full set of question records for one company at a point in
// time. A successful oracle call replaces the whole ledger; records are never
// merged field by field.
type Ledger []QuestionRecord

// LinkRef pairs a candidate link with the record that proposed it.
type LinkRef struct {
	Question string
	Link     string
}

// NewEmptyLedger returns the canonical questions, all unresolved, with no
// candidate links.
func NewEmptyLedger() Ledger {
	l := make(Ledger, 0, len(canonicalQuestions))
	for _, q := range canonicalQuestions {
		l = append(l, QuestionRecord{Question: q.Text, Status: StatusNotCompleted})
	}
	return l
}

// AllCompleted reports whether every record is completed. An empty ledger is
// trivially complete.
func (l Ledger) AllCompleted() bool {
	for _, r := range l {
		if !r.Completed() {
			return false
		}
	}
	return true
}

// CompletedCount returns the number of completed records.
func (l Ledger) CompletedCount() int {
	n := 0
	for _, r := range l {
		if r.Completed() {
			n++
		}
	}
	return n
}

// IncompleteLinks returns the candidate links of every record that is not
// completed, in record order then link order. Links of completed records are
// ignored even when present.
func (l Ledger) IncompleteLinks() []LinkRef {
	var refs []LinkRef
	for _, r := range l {
		if r.Completed() {
			continue
		}
		for _, link := range r.Links {
			refs = append(refs, LinkRef{Question: r.Question, Link: link})
		}
	}
	return refs
}

// Record returns the record for the given question text.
func (l Ledger) Record(question string) (QuestionRecord, bool) {
	for _, r := range l {
		if r.Question == question {
			return r, true
		}
	}
	return QuestionRecord{}, false
}

// Clone returns a deep copy of the ledger.
func (l Ledger) Clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	for i, r := range l {
		out[i] = r.Clone()
	}
	return out
}

// Equal reports whether two ledgers hold the same records in the same order.
func (l Ledger) Equal(o Ledger) bool {
	return slices.EqualFunc(l, o, QuestionRecord.Equal)
}

var numberingRe = regexp.MustCompile(`^\s*(?:q(?:uestion)?\s*)?\d+\s*[.):-]\s*`)

func normalizeQuestionText(s string) string {
	s = numberingRe.ReplaceAllString(strings.ToLower(s), "")
	s = strings.ReplaceAll(s, "’", "'")
	return strings.TrimRight(strings.TrimSpace(s), "?. ")
}

// Normalize maps the records returned by the oracle onto the canonical
// questions, in canonical order. Question texts are matched after stripping
// numbering, case and trailing punctuation; in a list of exactly six records
// a rephrased question falls back to its position. Duplicates are dropped. Completed
// records lose their candidate links. An error is returned when a canonical
// question cannot be found.
func Normalize(records []QuestionRecord) (Ledger, error) {
	canon := canonicalQuestions
	slots := make([]*QuestionRecord, len(canon))
	var unknown []int

	for i := range records {
		key := normalizeQuestionText(records[i].Question)
		idx := slices.IndexFunc(canon, func(q Question) bool {
			return normalizeQuestionText(q.Text) == key
		})
		if idx < 0 {
			unknown = append(unknown, i)
			continue
		}
		// A repeated question never fills another slot.
		if slots[idx] != nil {
			continue
		}
		slots[idx] = &records[i]
	}

	if len(records) == len(canon) {
		for _, i := range unknown {
			if slots[i] == nil {
				slots[i] = &records[i]
			}
		}
	}

	out := make(Ledger, len(canon))
	var missing []string
	for i, q := range canon {
		if slots[i] == nil {
			missing = append(missing, q.ID)
			continue
		}
		r := slots[i].Clone()
		r.Question = q.Text
		if r.Status != StatusCompleted {
			r.Status = StatusNotCompleted
		}
		if r.Completed() {
			r.Links = nil
		}
		if r.Message != nil && strings.TrimSpace(*r.Message) == "" {
			r.Message = nil
		}
		out[i] = r
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ledger: missing questions %s", strings.Join(missing, ", "))
	}
	return out, nil
}
