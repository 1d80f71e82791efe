package mitracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
)

const changeTalkPrompt = `Analyze the user message for change talk and sustain talk.

CHANGE TALK (language favoring change):
- Desire: "I want...", "I wish...", "I'd like..."
- Ability: "I can...", "I could...", "I'm able to..."
- Reasons: "because...", "so that...", "it would help..."
- Need: "I have to...", "I need to...", "I must..."
- Commitment: "I will...", "I'm going to...", "I promise..."
- Steps: "I started...", "I've been...", "Yesterday I..."

SUSTAIN TALK (language favoring status quo):
- "It won't work", "I can't", "I don't want to", "There's no point", "It's too hard"

OUTPUT JSON:
{
  "hasChangeTalk": true/false,
  "changeTalkType": "desire|ability|reasons|need|commitment|steps" or null,
  "changeTalkQuote": "exact quote if found" or null,
  "hasSustainTalk": true/false,
  "sustainTalkQuote": "exact quote if found" or null
}`

// Change-talk fallback patterns, checked in priority order. First match wins.
var changeTalkPatterns = []struct {
	talkType string
	re       *regexp.Regexp
}{
	{ChangeTalkDesire, regexp.MustCompile(`i want|i wish|i'd like`)},
	{ChangeTalkAbility, regexp.MustCompile(`i can|i could|i'm able`)},
	{ChangeTalkReasons, regexp.MustCompile(`because|so that|it would help`)},
	{ChangeTalkNeed, regexp.MustCompile(`i have to|i need to|i must`)},
	{ChangeTalkCommitment, regexp.MustCompile(`i will|i'm going to|i promise`)},
	{ChangeTalkSteps, regexp.MustCompile(`i started|i've been|yesterday i|i began`)},
}

var sustainTalkRe = regexp.MustCompile(`won't work|can't|don't want to|no point|too hard|impossible`)

var validChangeTalkTypes = map[string]bool{
	ChangeTalkDesire:     true,
	ChangeTalkAbility:    true,
	ChangeTalkReasons:    true,
	ChangeTalkNeed:       true,
	ChangeTalkCommitment: true,
	ChangeTalkSteps:      true,
}

type changeTalkPayload struct {
	HasChangeTalk    bool   `json:"hasChangeTalk"`
	ChangeTalkType   string `json:"changeTalkType"`
	HasSustainTalk   bool   `json:"hasSustainTalk"`
	SustainTalkQuote string `json:"sustainTalkQuote"`
}

// DetectChangeTalk analyzes a parent message for change talk and sustain
// talk. Any GenAI failure falls back to FallbackDetectChangeTalk.
func (t *Tracker) DetectChangeTalk(ctx context.Context, userText string) ChangeTalkAnalysis {
	if t.client == nil {
		return FallbackDetectChangeTalk(userText)
	}

	raw, err := t.client.GenerateJSON(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(changeTalkPrompt),
		openai.UserMessage(userText),
	})
	if err != nil {
		slog.Warn("Tracker.DetectChangeTalk: detection failed, using fallback", "error", err)
		return FallbackDetectChangeTalk(userText)
	}

	var payload changeTalkPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		slog.Warn("Tracker.DetectChangeTalk: malformed detection JSON, using fallback", "error", err)
		return FallbackDetectChangeTalk(userText)
	}
	if payload.ChangeTalkType != "" && !validChangeTalkTypes[payload.ChangeTalkType] {
		slog.Warn("Tracker.DetectChangeTalk: unknown change talk type, using fallback", "type", payload.ChangeTalkType)
		return FallbackDetectChangeTalk(userText)
	}

	return ChangeTalkAnalysis{
		HasChangeTalk:    payload.HasChangeTalk,
		ChangeTalkType:   payload.ChangeTalkType,
		HasSustainTalk:   payload.HasSustainTalk,
		SustainTalkQuote: payload.SustainTalkQuote,
		IsAmbivalent:     payload.HasChangeTalk && payload.HasSustainTalk,
	}
}

// FallbackDetectChangeTalk is the deterministic rule-based detector.
// Change-talk categories are checked in fixed priority order and sustain
// talk is matched independently; both present means ambivalence.
func FallbackDetectChangeTalk(text string) ChangeTalkAnalysis {
	lower := strings.ToLower(text)

	var talkType string
	for _, p := range changeTalkPatterns {
		if p.re.MatchString(lower) {
			talkType = p.talkType
			break
		}
	}

	hasChangeTalk := talkType != ""
	hasSustainTalk := sustainTalkRe.MatchString(lower)

	return ChangeTalkAnalysis{
		HasChangeTalk:  hasChangeTalk,
		ChangeTalkType: talkType,
		HasSustainTalk: hasSustainTalk,
		IsAmbivalent:   hasChangeTalk && hasSustainTalk,
	}
}
