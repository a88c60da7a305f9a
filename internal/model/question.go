package model

// Question is one of the fixed research questions asked about every company.
// Text is the identity key of a QuestionRecord within a run.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// Hint tells the oracle which kind of page usually answers the question.
	Hint string `json:"hint"`
}

// Canonical question texts.
const (
	QuestionMission      = "What is the company's mission statement or core values?"
	QuestionProducts     = "What products or services does the company offer?"
	QuestionFounding     = "When was the company founded, and who were the founders?"
	QuestionHeadquarters = "Where is the company's headquarters located?"
	QuestionLeadership   = "Who are the key executives or leadership team members?"
	QuestionAwards       = "Has the company received any notable awards or recognitions?"
)

var canonicalQuestions = []Question{
	{ID: "mission", Text: QuestionMission, Hint: "search for about or ethics page or vision or philosophy"},
	{ID: "products", Text: QuestionProducts, Hint: "search for products or mobility or services or technology"},
	{ID: "founding", Text: QuestionFounding, Hint: "search for leadership page or company information or history"},
	{ID: "headquarters", Text: QuestionHeadquarters, Hint: "search for contact page"},
	{ID: "leadership", Text: QuestionLeadership, Hint: "search for leadership page"},
	{ID: "awards", Text: QuestionAwards},
}

// CanonicalQuestions returns the six research questions in ledger order.
func CanonicalQuestions() []Question {
	out := make([]Question, len(canonicalQuestions))
	copy(out, canonicalQuestions)
	return out
}

// LookupQuestion returns the canonical question with the given text.
func LookupQuestion(text string) (Question, bool) {
	for _, q := range canonicalQuestions {
		if q.Text == text {
			return q, true
		}
	}
	return Question{}, false
}
