package encounter

import (
	"context"
	"strings"
	"testing"

	"github.com/openai/openai-go"

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

func TestTopEssences(t *testing.T) {
	scores := map[string]float64{
		"47_agua_lunar":    5,
		"55_fuego_natural": 3,
		"47_aire_lunar":    3,
		"47_fuego_lunar":   2,
		"47_tierra_lunar":  1,
		"not_an_essence":   9,
	}
	top := TopEssences(scores)
	if len(top) != TopEssenceCount {
		t.Fatalf("expected %d essences, got %d", TopEssenceCount, len(top))
	}
	if top[0].ID != "47_agua_lunar" {
		t.Errorf("lead essence = %s, want 47_agua_lunar", top[0].ID)
	}
	// 47_aire_lunar precedes 55_fuego_natural in the ontology, so the tie
	// at 3 resolves in that order.
	if top[1].ID != "47_aire_lunar" || top[2].ID != "55_fuego_natural" {
		t.Errorf("tie order = %s, %s; want 47_aire_lunar then 55_fuego_natural", top[1].ID, top[2].ID)
	}
	for _, e := range top {
		if e.ID == "not_an_essence" {
			t.Error("unknown ids must be filtered out")
		}
	}
}

func TestTopEssencesEmpty(t *testing.T) {
	if top := TopEssences(nil); len(top) != 0 {
		t.Errorf("expected no essences, got %v", top)
	}
}

func TestDominantDimension(t *testing.T) {
	cases := []struct {
		name   string
		scores models.EncounterScores
		want   string
	}{
		{"unscored", models.EncounterScores{}, "balanced"},
		{"calm leads", models.EncounterScores{Calm: 4, Understanding: 2, Boundary: 1}, "calm"},
		{"understanding leads", models.EncounterScores{Calm: 1, Understanding: 5, Boundary: 2}, "understanding"},
		{"boundary leads", models.EncounterScores{Calm: 1, Understanding: 2, Boundary: 6}, "boundary"},
		{"calm wins ties", models.EncounterScores{Calm: 3, Understanding: 3, Boundary: 3}, "calm"},
		{"understanding beats boundary tie", models.EncounterScores{Calm: 1, Understanding: 3, Boundary: 3}, "understanding"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DominantDimension(tc.scores); got != tc.want {
				t.Errorf("DominantDimension(%+v) = %q, want %q", tc.scores, got, tc.want)
			}
		})
	}
}

func TestCompanionByID(t *testing.T) {
	if c := CompanionByID("fox"); c.Name != "The Fox" {
		t.Errorf("fox companion = %+v", c)
	}
	if c := CompanionByID("dragon"); c.ID != DefaultCompanionID {
		t.Errorf("unknown companion should default to owl, got %s", c.ID)
	}
	if !ValidCompanionID("deer") || ValidCompanionID("dragon") {
		t.Error("companion validity checks failed")
	}
}

func TestFallbackSceneShape(t *testing.T) {
	for i := 0; i < models.EncounterSceneCount; i++ {
		scene := fallbackScene(i, "The Owl", "phone use")
		if scene.Title != SceneName(i) {
			t.Errorf("scene %d title = %q, want %q", i, scene.Title, SceneName(i))
		}
		if len(scene.Choices) != models.ChoicesPerScene {
			t.Fatalf("scene %d has %d choices", i, len(scene.Choices))
		}
		wantDeltas := []models.EncounterScores{
			{Calm: 2},
			{Understanding: 2},
			{Boundary: 2},
			{Calm: 1, Understanding: 1, Boundary: 1},
		}
		for j, choice := range scene.Choices {
			if choice.ID != j+1 {
				t.Errorf("scene %d choice %d id = %d", i, j, choice.ID)
			}
			if choice.Delta != wantDeltas[j] {
				t.Errorf("scene %d choice %d delta = %+v, want %+v", i, j, choice.Delta, wantDeltas[j])
			}
		}
		if scene.Choices[3].Text != essenceChoiceText {
			t.Errorf("scene %d essence slot text = %q", i, scene.Choices[3].Text)
		}
	}
}

func TestSummarizeConversation(t *testing.T) {
	g := NewGenerator(nil)

	if got := g.SummarizeConversation(context.Background(), nil, "phone use"); got != "A reflection on phone use is beginning." {
		t.Errorf("empty conversation summary = %q", got)
	}

	messages := []models.Message{{UserText: "I feel stuck.", AssistantText: "You feel stuck."}}
	if got := g.SummarizeConversation(context.Background(), messages, "phone use"); got != "A reflection on phone use has revealed important insights." {
		t.Errorf("nil client summary = %q", got)
	}

	g = NewGenerator(&mockGenAIClient{response: "You carried a knot of worry and began to loosen it."})
	if got := g.SummarizeConversation(context.Background(), messages, "phone use"); !strings.Contains(got, "knot of worry") {
		t.Errorf("model summary not used: %q", got)
	}

	g = NewGenerator(&mockGenAIClient{err: context.DeadlineExceeded})
	if got := g.SummarizeConversation(context.Background(), messages, "phone use"); got != "A reflection on phone use has revealed important insights." {
		t.Errorf("error summary = %q", got)
	}
}

func TestGenerateSceneFallsBack(t *testing.T) {
	params := SceneParams{SceneIndex: 1, CompanionID: "bear", ShadowLabel: "curfew"}

	g := NewGenerator(nil)
	scene := g.GenerateScene(context.Background(), params)
	if scene.Title != "Threshold" {
		t.Errorf("nil client scene = %q, want Threshold fallback", scene.Title)
	}
	if !strings.Contains(scene.CompanionHint, "The Bear") {
		t.Errorf("fallback hint should name the companion: %q", scene.CompanionHint)
	}

	g = NewGenerator(&mockGenAIClient{response: "not json"})
	if scene := g.GenerateScene(context.Background(), params); scene.Title != "Threshold" {
		t.Errorf("malformed JSON scene = %q, want fallback", scene.Title)
	}

	g = NewGenerator(&mockGenAIClient{response: `{"title": "Threshold", "narrative": "x", "companionHint": "y", "choices": [{"id": 1}]}`})
	if scene := g.GenerateScene(context.Background(), params); len(scene.Choices) != models.ChoicesPerScene {
		t.Errorf("short choice list should fall back, got %d choices", len(scene.Choices))
	}
}

func TestGenerateSceneUsesModelResult(t *testing.T) {
	response := `{
		"title": "Threshold",
		"narrative": "A shimmering veil hangs where the hallway used to be.",
		"companionHint": "The Bear plants its paws: steady now.",
		"choices": [
			{"id": 1, "text": "Breathe and step forward", "delta": {"calm": 2, "understanding": 0, "boundary": 0}, "outcome": "Calm spreads."},
			{"id": 2, "text": "Study the veil", "delta": {"calm": 0, "understanding": 2, "boundary": 0}, "outcome": "Patterns emerge."},
			{"id": 3, "text": "State your terms", "delta": {"calm": 0, "understanding": 0, "boundary": 2}, "outcome": "The veil steadies."},
			{"id": 4, "text": "Channel the essence of grief", "delta": {"calm": 1, "understanding": 1, "boundary": 1}, "outcome": "The veil parts."}
		]
	}`
	g := NewGenerator(&mockGenAIClient{response: response})
	scene := g.GenerateScene(context.Background(), SceneParams{SceneIndex: 1, CompanionID: "bear", ShadowLabel: "curfew"})
	if !strings.Contains(scene.Narrative, "shimmering veil") {
		t.Errorf("model narrative not used: %q", scene.Narrative)
	}
	if scene.Choices[3].Text != essenceChoiceText {
		t.Errorf("fourth choice must keep the fixed essence label, got %q", scene.Choices[3].Text)
	}
	if scene.Choices[0].Delta != (models.EncounterScores{Calm: 2}) {
		t.Errorf("choice delta lost: %+v", scene.Choices[0].Delta)
	}
}

func TestComposeArtifactFallback(t *testing.T) {
	params := ArtifactParams{
		ArtifactType: models.ArtifactTypeScroll,
		CompanionID:  "owl",
		ShadowLabel:  "trust",
		TopEssences:  TopEssences(map[string]float64{"47_agua_lunar": 3, "55_fuego_natural": 1}),
		Scores:       models.EncounterScores{Calm: 4, Understanding: 1, Boundary: 1},
	}

	g := NewGenerator(nil)
	draft := g.ComposeArtifact(context.Background(), params)
	if draft.Type != models.ArtifactTypeScroll {
		t.Errorf("draft type = %s", draft.Type)
	}
	if !strings.Contains(draft.Text, "The Owl") {
		t.Errorf("fallback text should name the companion: %q", draft.Text)
	}
	if draft.EncounterSummary != "A calm journey through trust" {
		t.Errorf("encounter summary = %q", draft.EncounterSummary)
	}
	if len(draft.EssenceHighlights) != 2 {
		t.Errorf("highlights = %v, want top two essences", draft.EssenceHighlights)
	}
}

func TestComposeArtifactUsesModelResult(t *testing.T) {
	g := NewGenerator(&mockGenAIClient{response: `{
		"text": "I noticed how often I reach for control when I am scared.",
		"essenceHighlights": ["Fear / Anxiety / Insecurity"],
		"encounterSummary": "A steady walk toward honesty"
	}`})
	draft := g.ComposeArtifact(context.Background(), ArtifactParams{
		ArtifactType: models.ArtifactTypeCrystal,
		CompanionID:  "deer",
		ShadowLabel:  "trust",
	})
	if !strings.Contains(draft.Text, "reach for control") {
		t.Errorf("model text not used: %q", draft.Text)
	}
	if draft.EncounterSummary != "A steady walk toward honesty" {
		t.Errorf("summary = %q", draft.EncounterSummary)
	}
}

func TestComposeArtifactFillsMissingFields(t *testing.T) {
	g := NewGenerator(&mockGenAIClient{response: `{"text": "A short note."}`})
	draft := g.ComposeArtifact(context.Background(), ArtifactParams{
		ArtifactType: models.ArtifactTypePotion,
		CompanionID:  "fox",
		ShadowLabel:  "chores",
		Scores:       models.EncounterScores{Boundary: 2},
	})
	if draft.Text != "A short note." {
		t.Errorf("text = %q", draft.Text)
	}
	if draft.EncounterSummary != "A boundary journey through chores" {
		t.Errorf("missing summary should fall back, got %q", draft.EncounterSummary)
	}
}
