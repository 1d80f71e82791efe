// Package loop implements the 12-turn crystallization engine.
//
// A turn runs the parent's message through change-talk detection, builds a
// corrective MI prompt, asks the model for a reflective reply with essence
// chips, verifies the reply against the MI rules, and folds the results into
// the session's scores and metrics. The engine is pure with respect to
// storage: callers supply the session and history and persist the result.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/reverie-app/reverie/internal/essence"
	"github.com/reverie-app/reverie/internal/genai"
	"github.com/reverie-app/reverie/internal/mitracker"
	"github.com/reverie-app/reverie/internal/models"
	"github.com/reverie-app/reverie/internal/util"
)

// DefaultOpeningTimeout bounds the opening greeting call. The greeting is
// cosmetic, so it gets a much tighter budget than a reflection turn.
const DefaultOpeningTimeout = 2000 * time.Millisecond

// MaxVisibleChips caps the visible signals extracted per turn.
const MaxVisibleChips = 3

const (
	crystallizeStabilityThreshold = 0.62
	minEvidenceTurn               = 4
	minEvidenceScoreTotal         = 3.0
)

// Opts holds configuration for the engine.
type Opts struct {
	OpeningTimeout time.Duration
}

// Option configures the engine.
type Option func(*Opts)

// WithOpeningTimeout overrides the opening greeting timeout.
func WithOpeningTimeout(d time.Duration) Option {
	return func(o *Opts) { o.OpeningTimeout = d }
}

// Engine runs reflection turns. A nil GenAI client disables turn processing
// entirely; there is no canned-reply fallback for the main conversation.
type Engine struct {
	client         genai.ClientInterface
	tracker        *mitracker.Tracker
	openingTimeout time.Duration
}

// NewEngine creates a reflection engine around a GenAI client. The client
// may be nil, in which case ProcessTurn returns models.ErrGenAINotConfigured.
func NewEngine(client genai.ClientInterface, opts ...Option) *Engine {
	cfg := Opts{OpeningTimeout: DefaultOpeningTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		client:         client,
		tracker:        mitracker.NewTracker(client),
		openingTimeout: cfg.OpeningTimeout,
	}
}

// TurnResult is the outcome of one processed reflection turn. Chips holds
// every validated chip including hidden ones; Scores and Metrics are the
// updated session state for the caller to persist or echo back.
type TurnResult struct {
	AssistantText  string
	Chips          []models.Chip
	Turn           int
	NextTurn       int
	StabilityIndex float64
	CanCrystallize bool
	Status         models.SessionStatus
	Scores         map[string]float64
	Metrics        models.MiMetrics
}

// VisibleChips filters out hidden chips for client display.
func (r *TurnResult) VisibleChips() []models.Chip {
	visible := make([]models.Chip, 0, len(r.Chips))
	for _, chip := range r.Chips {
		if !chip.IsHidden {
			visible = append(visible, chip)
		}
	}
	return visible
}

// ReportedStatus is the coarse status label returned to clients: a turn that
// reaches the cap reads as crystallized even though the session record moves
// to awaiting_crystallize first.
func (r *TurnResult) ReportedStatus() string {
	if r.Turn >= models.MaxTurns {
		return "crystallized"
	}
	return "active"
}

// engineResponse is the JSON contract of the crystallize system prompt.
type engineResponse struct {
	AssistantText          string             `json:"assistant_text"`
	Chips                  []models.Chip      `json:"chips"`
	AccumulatedScoresDelta map[string]float64 `json:"accumulated_scores_delta"`
	StabilityIndex         float64            `json:"stability_index"`
	CanCrystallize         bool               `json:"can_crystallize"`
}

// ProcessTurn runs one reflection turn against the model. History must be
// the current cycle's messages in order. The session is not mutated.
func (e *Engine) ProcessTurn(ctx context.Context, session *models.Session, history []models.Message, userText string) (*TurnResult, error) {
	if e.client == nil {
		return nil, models.ErrGenAINotConfigured
	}

	shadowLabel := SessionShadowLabel(session)
	changeTalk := e.tracker.DetectChangeTalk(ctx, userText)
	slog.Debug("Engine.ProcessTurn: change talk analysis",
		"sessionID", session.ID,
		"hasChangeTalk", changeTalk.HasChangeTalk,
		"changeTalkType", changeTalk.ChangeTalkType,
		"hasSustainTalk", changeTalk.HasSustainTalk,
		"isAmbivalent", changeTalk.IsAmbivalent)

	userWordCount := util.CountWords(userText)

	corrective := mitracker.GenerateCorrectiveContext(session.MiMetrics, changeTalk, userWordCount)
	instructions := mitracker.FormatCorrectiveInstructions(corrective)

	metrics := session.MiMetrics
	metrics.LastChangeTalk = changeTalk.ChangeTalkType
	metrics.LastSustainTalk = changeTalk.HasSustainTalk

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2*len(history)+2)
	messages = append(messages, openai.SystemMessage(crystallizeSystemPrompt))
	for _, m := range history {
		if m.UserText != "" {
			messages = append(messages, openai.UserMessage(m.UserText))
		}
		if m.AssistantText != "" {
			messages = append(messages, openai.AssistantMessage(m.AssistantText))
		}
	}
	messages = append(messages, openai.UserMessage(buildContextPrompt(session, shadowLabel, instructions, userText)))

	raw, err := e.client.GenerateJSON(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("reflection turn failed: %w", err)
	}

	var resp engineResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("reflection turn returned malformed JSON: %w", err)
	}
	if strings.TrimSpace(resp.AssistantText) == "" {
		return nil, fmt.Errorf("reflection turn returned no assistant text")
	}

	chips := validateChips(resp.Chips)

	classification := e.tracker.ClassifyResponse(ctx, resp.AssistantText)
	assistantWordCount := util.CountWords(resp.AssistantText)
	updatedMetrics := mitracker.UpdateMiMetrics(metrics, classification, userWordCount, assistantWordCount)

	newScores := make(map[string]float64, len(session.AccumulatedScores)+len(resp.AccumulatedScoresDelta))
	for id, score := range session.AccumulatedScores {
		newScores[id] = score
	}
	for id, delta := range resp.AccumulatedScoresDelta {
		if !essence.IsValid(id) || delta <= 0 {
			continue
		}
		newScores[id] += delta
	}

	stability, total := StabilityIndex(newScores)

	hasVisibleChip := false
	for _, chip := range chips {
		if !chip.IsHidden {
			hasVisibleChip = true
			break
		}
	}
	hasMinimumEvidence := session.Turn >= minEvidenceTurn || total >= minEvidenceScoreTotal
	isComplete := session.Turn >= models.MaxTurns
	canCrystallize := (stability > crystallizeStabilityThreshold && hasVisibleChip && hasMinimumEvidence) || isComplete

	nextTurn := session.Turn + 1
	if isComplete {
		nextTurn = models.MaxTurns
	}

	status := models.SessionStatusActive
	switch {
	case isComplete:
		status = models.SessionStatusAwaitingCrystallize
	case session.Status == models.SessionStatusCompanionActive:
		status = models.SessionStatusCompanionActive
	}

	return &TurnResult{
		AssistantText:  resp.AssistantText,
		Chips:          chips,
		Turn:           session.Turn,
		NextTurn:       nextTurn,
		StabilityIndex: stability,
		CanCrystallize: canCrystallize,
		Status:         status,
		Scores:         newScores,
		Metrics:        updatedMetrics,
	}, nil
}

// GenerateOpeningGreeting produces the session's opening question. It never
// fails: on timeout, error, or an implausible reply it falls back to a
// static greeting for the shadow.
func (e *Engine) GenerateOpeningGreeting(ctx context.Context, shadowID string) string {
	label := GreetingLabel(shadowID)
	fallback := fmt.Sprintf("Let's explore %s together. What's been your experience with this?", label)
	if e.client == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, e.openingTimeout)
	defer cancel()

	greeting, err := e.client.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(openingSystemPrompt(label)),
	})
	if err != nil {
		slog.Warn("Engine.GenerateOpeningGreeting: generation failed", "shadowID", shadowID, "error", err)
		return fallback
	}
	greeting = strings.TrimSpace(greeting)
	if len(greeting) > 20 && len(greeting) < 400 {
		return greeting
	}
	slog.Warn("Engine.GenerateOpeningGreeting: implausible greeting length", "shadowID", shadowID, "length", len(greeting))
	return fallback
}

// validateChips coerces model chips onto the essence whitelist. Unknown ids
// collapse to the null essence and are hidden; visible chips are capped.
func validateChips(raw []models.Chip) []models.Chip {
	chips := make([]models.Chip, 0, len(raw))
	visible := 0
	for _, chip := range raw {
		id := strings.TrimSpace(chip.EssenceID)
		if !essence.IsValid(id) {
			id = essence.NullEssenceID
		}
		hidden := chip.IsHidden || id == essence.NullEssenceID
		if !hidden {
			if visible >= MaxVisibleChips {
				continue
			}
			visible++
		}
		chips = append(chips, models.Chip{
			Quote:          chip.Quote,
			EssenceID:      id,
			Label:          chip.Label,
			Interpretation: chip.Interpretation,
			IsHidden:       hidden,
		})
	}
	return chips
}

// StabilityIndex computes the crystallization stability of a score map as
// the lead margin over the total mass, along with the total itself.
func StabilityIndex(scores map[string]float64) (stability, total float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	values := make([]float64, 0, len(scores))
	for _, v := range scores {
		values = append(values, v)
		total += v
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	if total <= 0 {
		return 0, total
	}
	lead := values[0]
	second := 0.0
	if len(values) > 1 {
		second = values[1]
	}
	return (lead - second) / total, total
}
