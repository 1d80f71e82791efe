// Package mitracker implements the Motivational Interviewing compliance
// engine: change-talk detection on parent messages, segment classification
// of assistant replies, the per-cycle metrics ledger, and the corrective
// instructions injected into subsequent completions.
//
// Detection and classification prefer the GenAI client but always fall back
// to deterministic rule-based heuristics, so the engine keeps working when
// the model is slow, unavailable, or returns malformed JSON.
package mitracker

import (
	"github.com/reverie-app/reverie/internal/genai"
)

// SegmentType labels one classified sentence of an assistant reply.
type SegmentType string

const (
	SegmentComplexReflection       SegmentType = "complex_reflection"
	SegmentSimpleReflection        SegmentType = "simple_reflection"
	SegmentOpenQuestion            SegmentType = "open_question"
	SegmentClosedQuestion          SegmentType = "closed_question"
	SegmentAffirmation             SegmentType = "affirmation"
	SegmentAdviceWithPermission    SegmentType = "advice_with_permission"
	SegmentAdviceWithoutPermission SegmentType = "advice_without_permission"
	SegmentStatement               SegmentType = "statement"
)

// Segment is one classified sentence.
type Segment struct {
	Text string      `json:"text"`
	Type SegmentType `json:"type"`
}

// Classification is the MI analysis of one assistant reply.
type Classification struct {
	Segments            []Segment `json:"segments"`
	ContainsSummary     bool      `json:"containsSummary"`
	MiInconsistent      bool      `json:"miInconsistent"`
	FollowsTurnTemplate bool      `json:"followsTurnTemplate"`
}

// Change talk categories, in detection priority order.
const (
	ChangeTalkDesire     = "desire"
	ChangeTalkAbility    = "ability"
	ChangeTalkReasons    = "reasons"
	ChangeTalkNeed       = "need"
	ChangeTalkCommitment = "commitment"
	ChangeTalkSteps      = "steps"
)

// ChangeTalkAnalysis is the MI analysis of one parent message.
type ChangeTalkAnalysis struct {
	HasChangeTalk    bool   `json:"hasChangeTalk"`
	ChangeTalkType   string `json:"changeTalkType,omitempty"`
	HasSustainTalk   bool   `json:"hasSustainTalk"`
	SustainTalkQuote string `json:"sustainTalkQuote,omitempty"`
	IsAmbivalent     bool   `json:"isAmbivalent"`
}

// CorrectiveContext summarizes MI compliance deficits for prompt injection.
type CorrectiveContext struct {
	RequiresSummary         bool
	ReflectionQuestionRatio float64 // target: >= 2.0
	OpenQuestionRatio       float64 // target: >= 0.70
	ComplexReflectionRatio  float64 // target: >= 0.50
	ResponseLengthRatio     float64 // target: <= 0.50
	LastTurnQuestionCount   int     // target: <= 2
	Deficits                []string
	ChangeTalk              ChangeTalkAnalysis
	UserWordCount           int
}

// Tracker runs MI analysis using the GenAI client, falling back to the
// deterministic heuristics when no client is configured or a call fails.
type Tracker struct {
	client genai.ClientInterface
}

// NewTracker creates a tracker. A nil client is allowed; all analysis then
// uses the rule-based fallbacks.
func NewTracker(client genai.ClientInterface) *Tracker {
	return &Tracker{client: client}
}
