package loop

import (
	"context"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/reverie-app/reverie/internal/essence"
	"github.com/reverie-app/reverie/internal/models"
)

type mockGenAIClient struct {
	response string
	err      error
}

func (m *mockGenAIClient) GeneratePrompt(_ context.Context, _, _ string) (string, error) {
	return m.response, m.err
}

func (m *mockGenAIClient) GenerateWithMessages(_ context.Context, _ []openai.ChatCompletionMessageParamUnion) (string, error) {
	return m.response, m.err
}

func (m *mockGenAIClient) GenerateJSON(_ context.Context, _ []openai.ChatCompletionMessageParamUnion) (string, error) {
	return m.response, m.err
}

func activeSession(turn int) *models.Session {
	return &models.Session{
		ID:                1,
		UserID:            "demo-user-default",
		Role:              models.SessionRoleParent,
		ShadowID:          "shadow_phone_use",
		Status:            models.SessionStatusActive,
		Turn:              turn,
		Cycle:             1,
		AccumulatedScores: map[string]float64{},
	}
}

func TestStabilityIndex(t *testing.T) {
	cases := []struct {
		name      string
		scores    map[string]float64
		stability float64
		total     float64
	}{
		{"empty", map[string]float64{}, 0, 0},
		{"single essence dominates", map[string]float64{"47_agua_lunar": 4}, 1, 4},
		{"two equal leads", map[string]float64{"47_agua_lunar": 3, "55_fuego_natural": 3}, 0, 6},
		{"clear lead", map[string]float64{"47_agua_lunar": 6, "55_fuego_natural": 2, "47_aire_lunar": 2}, 0.4, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stability, total := StabilityIndex(tc.scores)
			if stability != tc.stability {
				t.Errorf("stability = %v, want %v", stability, tc.stability)
			}
			if total != tc.total {
				t.Errorf("total = %v, want %v", total, tc.total)
			}
		})
	}
}

func TestPhaseForTurn(t *testing.T) {
	cases := []struct {
		turn int
		want string
	}{
		{1, "Bond + Focus"},
		{3, "Bond + Focus"},
		{4, "Evoke"},
		{8, "Evoke"},
		{9, "Consolidate"},
		{11, "Consolidate"},
		{12, "Close"},
	}
	for _, tc := range cases {
		if got := PhaseForTurn(tc.turn); got != tc.want {
			t.Errorf("PhaseForTurn(%d) = %q, want %q", tc.turn, got, tc.want)
		}
	}
}

func TestShadowLabels(t *testing.T) {
	if got := GreetingLabel("shadow_curfew"); got != "curfew and going out" {
		t.Errorf("GreetingLabel = %q", got)
	}
	if got := GreetingLabel("custom"); got != "this topic" {
		t.Errorf("GreetingLabel fallback = %q", got)
	}
	if got := EncounterShadowLabel("shadow_phone_use"); got != "phone use" {
		t.Errorf("EncounterShadowLabel = %q", got)
	}
	if got := EncounterShadowLabel(""); got != "your shadow" {
		t.Errorf("EncounterShadowLabel fallback = %q", got)
	}

	s := activeSession(1)
	if got := SessionShadowLabel(s); got != "Phone Use" {
		t.Errorf("SessionShadowLabel catalog = %q", got)
	}
	s.ShadowID = models.CustomShadowID
	s.ShadowCustom = "homework battles"
	if got := SessionShadowLabel(s); got != "homework battles" {
		t.Errorf("SessionShadowLabel custom = %q", got)
	}
}

func TestValidateChips(t *testing.T) {
	raw := []models.Chip{
		{Quote: "I want this to change", EssenceID: "47_agua_lunar", Label: "Longing"},
		{Quote: "made-up id", EssenceID: "99_not_real", Label: "Unknown"},
		{Quote: "already hidden", EssenceID: "55_fuego_natural", IsHidden: true},
	}
	chips := validateChips(raw)
	if len(chips) != 3 {
		t.Fatalf("expected 3 chips, got %d", len(chips))
	}
	if chips[0].IsHidden {
		t.Error("whitelisted chip should stay visible")
	}
	if chips[1].EssenceID != essence.NullEssenceID || !chips[1].IsHidden {
		t.Errorf("unknown essence should coerce to hidden null, got %+v", chips[1])
	}
	if !chips[2].IsHidden {
		t.Error("hidden flag should survive validation")
	}
}

func TestValidateChipsCapsVisible(t *testing.T) {
	raw := make([]models.Chip, 0, 5)
	for i := 0; i < 5; i++ {
		raw = append(raw, models.Chip{Quote: "q", EssenceID: "47_agua_lunar"})
	}
	chips := validateChips(raw)
	visible := 0
	for _, chip := range chips {
		if !chip.IsHidden {
			visible++
		}
	}
	if visible != MaxVisibleChips {
		t.Errorf("visible chips = %d, want %d", visible, MaxVisibleChips)
	}
}

func TestProcessTurnNilClient(t *testing.T) {
	engine := NewEngine(nil)
	_, err := engine.ProcessTurn(context.Background(), activeSession(1), nil, "She never listens.")
	if err != models.ErrGenAINotConfigured {
		t.Errorf("expected ErrGenAINotConfigured, got %v", err)
	}
}

func TestProcessTurnAdvancesTurn(t *testing.T) {
	engine := NewEngine(&mockGenAIClient{response: `{
		"assistant_text": "You care a lot about how evenings go. What matters most to you there?",
		"chips": [{"quote": "I want calmer evenings", "essence_id": "47_agua_lunar", "label": "Care", "interpretation": "Evenings matter.", "is_hidden": false}],
		"accumulated_scores_delta": {"47_agua_lunar": 1}
	}`})

	session := activeSession(2)
	result, err := engine.ProcessTurn(context.Background(), session, nil, "I want calmer evenings at home but the phone always wins.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Turn != 2 || result.NextTurn != 3 {
		t.Errorf("turn = %d nextTurn = %d, want 2 and 3", result.Turn, result.NextTurn)
	}
	if result.Status != models.SessionStatusActive {
		t.Errorf("status = %s, want active", result.Status)
	}
	if result.ReportedStatus() != "active" {
		t.Errorf("reported status = %q, want active", result.ReportedStatus())
	}
	if result.Scores["47_agua_lunar"] != 1 {
		t.Errorf("scores = %v, want agua lunar at 1", result.Scores)
	}
	if result.Metrics.TotalAssistantWords == 0 {
		t.Error("expected assistant words folded into metrics")
	}
	if session.Turn != 2 {
		t.Error("session must not be mutated by ProcessTurn")
	}
}

func TestProcessTurnCapAtTwelve(t *testing.T) {
	engine := NewEngine(&mockGenAIClient{response: `{
		"assistant_text": "You have named what matters. Here is where things stand.",
		"chips": [],
		"accumulated_scores_delta": {}
	}`})

	session := activeSession(12)
	session.AccumulatedScores = map[string]float64{"47_agua_lunar": 5, "55_fuego_natural": 1}
	result, err := engine.ProcessTurn(context.Background(), session, nil, "I think I understand it now.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NextTurn != models.MaxTurns {
		t.Errorf("nextTurn = %d, want capped at %d", result.NextTurn, models.MaxTurns)
	}
	if !result.CanCrystallize {
		t.Error("turn cap must force canCrystallize")
	}
	if result.Status != models.SessionStatusAwaitingCrystallize {
		t.Errorf("status = %s, want awaiting_crystallize", result.Status)
	}
	if result.ReportedStatus() != "crystallized" {
		t.Errorf("reported status = %q, want crystallized", result.ReportedStatus())
	}
}

func TestProcessTurnCrystallizeGate(t *testing.T) {
	response := `{
		"assistant_text": "It sounds like this really matters to you. What feels most important?",
		"chips": [{"quote": "it really matters", "essence_id": "47_agua_lunar", "label": "Care", "is_hidden": false}],
		"accumulated_scores_delta": {"47_agua_lunar": 5}
	}`

	// High stability and a visible chip, but turn 1 with enough score mass
	// still clears the evidence gate.
	engine := NewEngine(&mockGenAIClient{response: response})
	result, err := engine.ProcessTurn(context.Background(), activeSession(1), nil, "This really matters to me because it shapes our whole week.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.CanCrystallize {
		t.Errorf("stability %v with score total 5 should allow crystallization", result.StabilityIndex)
	}

	// Same shape with tiny score mass at turn 1 lacks evidence.
	engine = NewEngine(&mockGenAIClient{response: strings.Replace(response, `"47_agua_lunar": 5`, `"47_agua_lunar": 1`, 1)})
	result, err = engine.ProcessTurn(context.Background(), activeSession(1), nil, "This really matters to me because it shapes our whole week.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CanCrystallize {
		t.Error("turn 1 with score total 1 must not crystallize")
	}
}

func TestProcessTurnScoreDeltaFiltering(t *testing.T) {
	engine := NewEngine(&mockGenAIClient{response: `{
		"assistant_text": "You keep circling back to trust. What does trust look like for you?",
		"chips": [],
		"accumulated_scores_delta": {"47_agua_lunar": 2, "99_bogus": 4, "55_fuego_natural": -3}
	}`})

	session := activeSession(5)
	session.AccumulatedScores = map[string]float64{"47_agua_lunar": 1}
	result, err := engine.ProcessTurn(context.Background(), session, nil, "I keep coming back to whether I can trust her at all.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Scores["47_agua_lunar"] != 3 {
		t.Errorf("agua lunar = %v, want 3", result.Scores["47_agua_lunar"])
	}
	if _, ok := result.Scores["99_bogus"]; ok {
		t.Error("non-whitelist delta must be dropped")
	}
	if _, ok := result.Scores["55_fuego_natural"]; ok {
		t.Error("negative delta must be dropped")
	}
}

func TestProcessTurnErrors(t *testing.T) {
	engine := NewEngine(&mockGenAIClient{err: context.DeadlineExceeded})
	if _, err := engine.ProcessTurn(context.Background(), activeSession(1), nil, "hello"); err == nil {
		t.Error("expected error when the model call fails")
	}

	engine = NewEngine(&mockGenAIClient{response: "not json"})
	if _, err := engine.ProcessTurn(context.Background(), activeSession(1), nil, "hello"); err == nil {
		t.Error("expected error on malformed JSON")
	}

	engine = NewEngine(&mockGenAIClient{response: `{"chips": []}`})
	if _, err := engine.ProcessTurn(context.Background(), activeSession(1), nil, "hello"); err == nil {
		t.Error("expected error when assistant text is missing")
	}
}

func TestGenerateOpeningGreeting(t *testing.T) {
	fallback := "Let's explore phone and screen time together. What's been your experience with this?"

	engine := NewEngine(nil)
	if got := engine.GenerateOpeningGreeting(context.Background(), "shadow_phone_use"); got != fallback {
		t.Errorf("nil client greeting = %q, want fallback", got)
	}

	generated := "Parenting around screens can stir up a lot. What feelings surface for you?"
	engine = NewEngine(&mockGenAIClient{response: generated})
	if got := engine.GenerateOpeningGreeting(context.Background(), "shadow_phone_use"); got != generated {
		t.Errorf("greeting = %q, want generated text", got)
	}

	engine = NewEngine(&mockGenAIClient{response: "Too short."})
	if got := engine.GenerateOpeningGreeting(context.Background(), "shadow_phone_use"); got != fallback {
		t.Errorf("short greeting should fall back, got %q", got)
	}

	engine = NewEngine(&mockGenAIClient{err: context.DeadlineExceeded})
	if got := engine.GenerateOpeningGreeting(context.Background(), "shadow_phone_use"); got != fallback {
		t.Errorf("error should fall back, got %q", got)
	}
}

func TestBuildContextPromptIncludesCycleGuidance(t *testing.T) {
	session := activeSession(5)
	prompt := buildContextPrompt(session, "Phone Use", "", "my message")
	if strings.Contains(prompt, "COMPANION GUIDANCE") {
		t.Error("cycle 1 must not carry companion guidance")
	}
	if !strings.Contains(prompt, "Turn: 5 of 12") || !strings.Contains(prompt, "Phase: Evoke") {
		t.Errorf("missing session facts in prompt: %q", prompt)
	}

	session.Cycle = 2
	session.CompanionID = "owl"
	session.CrystallizedEssenceID = "47_agua_lunar"
	session.Status = models.SessionStatusCompanionActive
	prompt = buildContextPrompt(session, "Phone Use", "", "my message")
	if !strings.Contains(prompt, "Cycle: 2 (post-crystallization continuation)") {
		t.Errorf("missing cycle context: %q", prompt)
	}
	if !strings.Contains(prompt, "Crystallized essence from the prior cycle") {
		t.Errorf("missing crystallized essence context: %q", prompt)
	}
	if !strings.Contains(prompt, "The Owl brings wisdom") {
		t.Errorf("missing companion guidance: %q", prompt)
	}
}
