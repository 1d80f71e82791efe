package models

// MiMetrics is the per-cycle Motivational Interviewing compliance ledger.
// All counters are monotonic within a cycle; LastTurnQuestionCount is
// overwritten each turn rather than accumulated.
type MiMetrics struct {
	ComplexReflections         int    `json:"complexReflections"`
	SimpleReflections          int    `json:"simpleReflections"`
	OpenQuestions              int    `json:"openQuestions"`
	ClosedQuestions            int    `json:"closedQuestions"`
	Affirmations               int    `json:"affirmations"`
	AdviceWithPermission       int    `json:"adviceWithPermission"`
	AdviceWithoutPermission    int    `json:"adviceWithoutPermission"`
	MiInconsistent             int    `json:"miInconsistent"`
	TurnsSinceLastSummary      int    `json:"turnsSinceLastSummary"`
	LastChangeTalk             string `json:"lastChangeTalk"`
	LastSustainTalk            bool   `json:"lastSustainTalk"`
	TotalUserWords             int    `json:"totalUserWords"`
	TotalAssistantWords        int    `json:"totalAssistantWords"`
	ResponseLengthViolations   int    `json:"responseLengthViolations"`
	LastTurnQuestionCount      int    `json:"lastTurnQuestionCount"`
	QuestionsPerTurnViolations int    `json:"questionsPerTurnViolations"`
	TurnTemplateViolations     int    `json:"turnTemplateViolations"`
}

// DefaultMiMetrics returns the zero baseline for a fresh cycle.
func DefaultMiMetrics() MiMetrics {
	return MiMetrics{}
}

// TotalReflections is the sum of complex and simple reflections.
func (m MiMetrics) TotalReflections() int {
	return m.ComplexReflections + m.SimpleReflections
}

// TotalQuestions is the sum of open and closed questions.
func (m MiMetrics) TotalQuestions() int {
	return m.OpenQuestions + m.ClosedQuestions
}
