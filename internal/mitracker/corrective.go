package mitracker

import (
	"fmt"
	"strings"

	"github.com/reverie-app/reverie/internal/models"
)

// Ratio targets for MI fidelity. These encode the compliance contract the
// tracker enforces; the engine nudges the model toward them every turn.
const (
	targetReflectionQuestionRatio = 2.0
	targetOpenQuestionRatio       = 0.70
	targetComplexReflectionRatio  = 0.50
	targetResponseLengthRatio     = 0.50
	maxQuestionsPerTurn           = 2
	summaryCadenceTurns           = 3
)

// GenerateCorrectiveContext derives compliance ratios and a deficit list
// from the metrics ledger. Ratios default to their safe values until the
// relevant denominator has at least two observations, so a single early
// question or reflection cannot trigger a correction.
func GenerateCorrectiveContext(metrics models.MiMetrics, changeTalk ChangeTalkAnalysis, userWordCount int) CorrectiveContext {
	totalReflections := metrics.TotalReflections()
	totalQuestions := metrics.TotalQuestions()

	reflectionQuestionRatio := targetReflectionQuestionRatio
	if totalQuestions > 0 {
		reflectionQuestionRatio = float64(totalReflections) / float64(totalQuestions)
	}
	openQuestionRatio := 1.0
	if totalQuestions > 0 {
		openQuestionRatio = float64(metrics.OpenQuestions) / float64(totalQuestions)
	}
	complexReflectionRatio := targetComplexReflectionRatio
	if totalReflections > 0 {
		complexReflectionRatio = float64(metrics.ComplexReflections) / float64(totalReflections)
	}
	responseLengthRatio := targetResponseLengthRatio
	if metrics.TotalUserWords > 0 {
		responseLengthRatio = float64(metrics.TotalAssistantWords) / float64(metrics.TotalUserWords)
	}

	var deficits []string

	if reflectionQuestionRatio < targetReflectionQuestionRatio && totalQuestions >= 2 {
		deficits = append(deficits, fmt.Sprintf("Reflection ratio low (%.1f:1, need 2:1). Use MORE reflections, fewer questions.", reflectionQuestionRatio))
	}
	if openQuestionRatio < targetOpenQuestionRatio && totalQuestions >= 2 {
		deficits = append(deficits, fmt.Sprintf("Open question ratio low (%.0f%%, need 70%%+). Use What/How questions.", openQuestionRatio*100))
	}
	if complexReflectionRatio < targetComplexReflectionRatio && totalReflections >= 2 {
		deficits = append(deficits, fmt.Sprintf("Complex reflection ratio low (%.0f%%, need 50%%+). Add emotion/value/meaning to reflections.", complexReflectionRatio*100))
	}
	if metrics.ResponseLengthViolations > 0 {
		deficits = append(deficits, "Responses too long. Keep replies at or under 50% of user's word count. Be more concise.")
	}
	if metrics.LastTurnQuestionCount > maxQuestionsPerTurn {
		deficits = append(deficits, fmt.Sprintf("Too many questions last turn (%d, max 2). Ask ONE question per turn.", metrics.LastTurnQuestionCount))
	}
	if metrics.TurnTemplateViolations > 0 {
		deficits = append(deficits, "Follow turn template: Complex reflection -> Simple reflection -> One open question.")
	}
	if metrics.AdviceWithoutPermission > 0 {
		deficits = append(deficits, "Unsolicited advice detected. NEVER give advice without permission. Use E-P-E pattern.")
	}
	if metrics.MiInconsistent > 0 {
		deficits = append(deficits, "MI-inconsistent responses detected. Avoid arguing, persuading, or moralizing.")
	}

	return CorrectiveContext{
		RequiresSummary:         metrics.TurnsSinceLastSummary >= summaryCadenceTurns,
		ReflectionQuestionRatio: reflectionQuestionRatio,
		OpenQuestionRatio:       openQuestionRatio,
		ComplexReflectionRatio:  complexReflectionRatio,
		ResponseLengthRatio:     responseLengthRatio,
		LastTurnQuestionCount:   metrics.LastTurnQuestionCount,
		Deficits:                deficits,
		ChangeTalk:              changeTalk,
		UserWordCount:           userWordCount,
	}
}

// FormatCorrectiveInstructions renders the corrective context as prompt
// text injected verbatim into the next completion.
func FormatCorrectiveInstructions(context CorrectiveContext) string {
	var lines []string

	if context.UserWordCount > 0 {
		maxWords := context.UserWordCount / 2
		lines = append(lines, fmt.Sprintf("RESPONSE LENGTH: User wrote %d words. Your reply must be at most %d words.", context.UserWordCount, maxWords))
	}

	// Exactly one of the three change-talk directives, ambivalence first.
	switch {
	case context.ChangeTalk.IsAmbivalent:
		lines = append(lines, `AMBIVALENCE DETECTED: Use a double-sided reflection ("Part of you... and part of you...") to honor both the desire for change and the resistance.`)
	case context.ChangeTalk.HasChangeTalk:
		lines = append(lines, fmt.Sprintf("CHANGE TALK DETECTED (%s): Reflect this IMMEDIATELY. Use a complex reflection that amplifies their motivation.", context.ChangeTalk.ChangeTalkType))
	case context.ChangeTalk.HasSustainTalk:
		lines = append(lines, `SUSTAIN TALK DETECTED: Reflect their resistance with empathy. Use a simple reflection + autonomy support ("It's completely up to you...").`)
	}

	if context.RequiresSummary {
		lines = append(lines, "SUMMARY DUE: Include a brief mini-summary of what you've heard so far. End with an open accuracy check.")
	}

	if len(context.Deficits) > 0 {
		lines = append(lines, "MI COMPLIANCE CORRECTIONS NEEDED:")
		for _, deficit := range context.Deficits {
			lines = append(lines, "  - "+deficit)
		}
	}

	return strings.Join(lines, "\n")
}
