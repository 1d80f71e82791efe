package mitracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
)

const classifierPrompt = `You are an MI (Motivational Interviewing) response classifier. Analyze the assistant's response and classify each sentence.

DEFINITIONS:
- complex_reflection: Restates user's meaning AND adds emotion, motive, value, or implication. Goes beyond what was literally said.
- simple_reflection: Accurately paraphrases what the user said without adding new meaning.
- open_question: Invites a fuller reply, can't be answered yes/no. Starts with What, How, Tell me, Describe, etc.
- closed_question: Can be answered with yes/no or a single fact.
- affirmation: Specific, behavior-based recognition of strength/effort. NOT generic praise.
- advice_with_permission: Suggestions given AFTER user asked for advice or explicitly agreed to receive it.
- advice_without_permission: Unsolicited advice - suggestions given without user requesting them.
- statement: Any other type of response (greetings, transitions, etc.)

MI-INCONSISTENT FLAGS (set miInconsistent: true if any):
- advice_without_permission present
- Confrontation or arguing
- Blaming or moralizing
- Persuasion attempts ("You should...", "You need to...")

TURN TEMPLATE CHECK:
The ideal MI turn follows this structure: complex_reflection -> simple_reflection -> open_question
Set followsTurnTemplate: true if the response roughly follows this pattern (reflections before questions, ends with open question).

OUTPUT JSON:
{
  "segments": [
    {"text": "sentence text", "type": "complex_reflection|simple_reflection|open_question|closed_question|affirmation|advice_with_permission|advice_without_permission|statement"}
  ],
  "containsSummary": true/false,
  "miInconsistent": true/false,
  "followsTurnTemplate": true/false
}`

// Fallback classifier patterns. Sentence splitting consumes the punctuation,
// so question detection is stem-based. The meaning pattern uses the "worr"
// stem so worried/worries count as meaning words.
var (
	sentenceSplitRe  = regexp.MustCompile(`[.!?]+`)
	questionStemRe   = regexp.MustCompile(`(?i)^(what|how|tell me|describe|when|where|why|who)`)
	openStemRe       = regexp.MustCompile(`(?i)^(what|how|tell me|describe)`)
	adviceRe         = regexp.MustCompile(`(?i)you should|you need to|you must|why don't you|try to|consider doing`)
	reflectionStemRe = regexp.MustCompile(`(?i)^(you|it sounds like|so |i hear|it seems)`)
	meaningWordRe    = regexp.MustCompile(`(?i)feel|sense|important|matter|value|mean|care|want|need|hope|worr|afraid|love`)
	summaryRe        = regexp.MustCompile(`(?i)so far|to summarize|what i've heard|let me recap`)
	persuasionRe     = regexp.MustCompile(`(?i)you should|you need to|you must`)
)

// classificationPayload decodes the model's JSON. FollowsTurnTemplate
// defaults to true when the field is absent.
type classificationPayload struct {
	Segments            []Segment `json:"segments"`
	ContainsSummary     bool      `json:"containsSummary"`
	MiInconsistent      bool      `json:"miInconsistent"`
	FollowsTurnTemplate *bool     `json:"followsTurnTemplate"`
}

var validSegmentTypes = map[SegmentType]bool{
	SegmentComplexReflection:       true,
	SegmentSimpleReflection:        true,
	SegmentOpenQuestion:            true,
	SegmentClosedQuestion:          true,
	SegmentAffirmation:             true,
	SegmentAdviceWithPermission:    true,
	SegmentAdviceWithoutPermission: true,
	SegmentStatement:               true,
}

// ClassifyResponse classifies an assistant reply into MI segments. Any
// GenAI failure falls back to FallbackClassifyResponse.
func (t *Tracker) ClassifyResponse(ctx context.Context, assistantText string) Classification {
	if t.client == nil {
		return FallbackClassifyResponse(assistantText)
	}

	raw, err := t.client.GenerateJSON(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classifierPrompt),
		openai.UserMessage("Classify this response:\n\n" + assistantText),
	})
	if err != nil {
		slog.Warn("Tracker.ClassifyResponse: classification failed, using fallback", "error", err)
		return FallbackClassifyResponse(assistantText)
	}

	var payload classificationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		slog.Warn("Tracker.ClassifyResponse: malformed classification JSON, using fallback", "error", err)
		return FallbackClassifyResponse(assistantText)
	}
	for _, seg := range payload.Segments {
		if !validSegmentTypes[seg.Type] {
			slog.Warn("Tracker.ClassifyResponse: unknown segment type, using fallback", "type", seg.Type)
			return FallbackClassifyResponse(assistantText)
		}
	}

	followsTemplate := true
	if payload.FollowsTurnTemplate != nil {
		followsTemplate = *payload.FollowsTurnTemplate
	}
	return Classification{
		Segments:            payload.Segments,
		ContainsSummary:     payload.ContainsSummary,
		MiInconsistent:      payload.MiInconsistent,
		FollowsTurnTemplate: followsTemplate,
	}
}

// FallbackClassifyResponse is the deterministic rule-based classifier.
// Sentences split on run of .!? then classify in priority order:
// questions, advice, reflections, statement.
func FallbackClassifyResponse(text string) Classification {
	var segments []Segment

	for _, sentence := range sentenceSplitRe.Split(text, -1) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}

		switch {
		case strings.Contains(trimmed, "?") || questionStemRe.MatchString(trimmed):
			segType := SegmentClosedQuestion
			if openStemRe.MatchString(trimmed) {
				segType = SegmentOpenQuestion
			}
			segments = append(segments, Segment{Text: trimmed, Type: segType})
		case adviceRe.MatchString(trimmed):
			segments = append(segments, Segment{Text: trimmed, Type: SegmentAdviceWithoutPermission})
		case reflectionStemRe.MatchString(trimmed):
			segType := SegmentSimpleReflection
			if meaningWordRe.MatchString(trimmed) {
				segType = SegmentComplexReflection
			}
			segments = append(segments, Segment{Text: trimmed, Type: segType})
		default:
			segments = append(segments, Segment{Text: trimmed, Type: SegmentStatement})
		}
	}

	return Classification{
		Segments:            segments,
		ContainsSummary:     summaryRe.MatchString(text),
		MiInconsistent:      hasSegmentType(segments, SegmentAdviceWithoutPermission) || persuasionRe.MatchString(text),
		FollowsTurnTemplate: followsTurnTemplate(segments),
	}
}

// followsTurnTemplate checks the ideal MI turn shape: at least one complex
// reflection, one simple reflection, and one open question; the reply ends
// with the open question; and complex comes before simple before open.
func followsTurnTemplate(segments []Segment) bool {
	if len(segments) == 0 {
		return false
	}

	complexIdx := firstSegmentIndex(segments, SegmentComplexReflection)
	simpleIdx := firstSegmentIndex(segments, SegmentSimpleReflection)
	openIdx := firstSegmentIndex(segments, SegmentOpenQuestion)

	if complexIdx < 0 || simpleIdx < 0 || openIdx < 0 {
		return false
	}
	if segments[len(segments)-1].Type != SegmentOpenQuestion {
		return false
	}
	return complexIdx < simpleIdx && simpleIdx < openIdx
}

func hasSegmentType(segments []Segment, t SegmentType) bool {
	return firstSegmentIndex(segments, t) >= 0
}

func firstSegmentIndex(segments []Segment, t SegmentType) int {
	for i, s := range segments {
		if s.Type == t {
			return i
		}
	}
	return -1
}
