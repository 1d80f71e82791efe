package mitracker

import "github.com/reverie-app/reverie/internal/models"

// UpdateMiMetrics folds one turn's classification into the metrics ledger.
// Pure function: the previous snapshot is copied, never mutated.
func UpdateMiMetrics(previous models.MiMetrics, classification Classification, userWordCount, assistantWordCount int) models.MiMetrics {
	metrics := previous

	turnQuestionCount := 0
	for _, segment := range classification.Segments {
		switch segment.Type {
		case SegmentComplexReflection:
			metrics.ComplexReflections++
		case SegmentSimpleReflection:
			metrics.SimpleReflections++
		case SegmentOpenQuestion:
			metrics.OpenQuestions++
			turnQuestionCount++
		case SegmentClosedQuestion:
			metrics.ClosedQuestions++
			turnQuestionCount++
		case SegmentAffirmation:
			metrics.Affirmations++
		case SegmentAdviceWithPermission:
			metrics.AdviceWithPermission++
		case SegmentAdviceWithoutPermission:
			metrics.AdviceWithoutPermission++
		}
	}

	// Overwritten each turn, not accumulated.
	metrics.LastTurnQuestionCount = turnQuestionCount
	if turnQuestionCount > 2 {
		metrics.QuestionsPerTurnViolations++
	}

	if !classification.FollowsTurnTemplate {
		metrics.TurnTemplateViolations++
	}

	if classification.MiInconsistent {
		metrics.MiInconsistent++
	}

	metrics.TotalUserWords += userWordCount
	metrics.TotalAssistantWords += assistantWordCount

	// The assistant should stay at or under half the parent's word count.
	if userWordCount > 0 && float64(assistantWordCount) > float64(userWordCount)*0.5 {
		metrics.ResponseLengthViolations++
	}

	if classification.ContainsSummary {
		metrics.TurnsSinceLastSummary = 0
	} else {
		metrics.TurnsSinceLastSummary++
	}

	return metrics
}
