// Package encounter runs the post-crystallization mini-game: a four-scene
// symbolic journey guided by a companion archetype, scored on calm,
// understanding, and boundary, and closed by composing an artifact.
//
// Every generation step degrades gracefully: when the model is unavailable
// the package serves hand-written scenes and artifact text instead.
package encounter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openai/openai-go"

	"github.com/reverie-app/reverie/internal/essence"
	"github.com/reverie-app/reverie/internal/genai"
	"github.com/reverie-app/reverie/internal/models"
)

// sceneNames orders the fixed encounter arc.
var sceneNames = [models.EncounterSceneCount]string{"Approach", "Threshold", "Exchange", "Integration"}

// essenceChoiceText is the fixed label of every scene's fourth choice.
const essenceChoiceText = "Use a personal essence"

// TopEssenceCount is how many leading essences feed scene and artifact
// generation.
const TopEssenceCount = 4

// SceneName returns the title for a scene index.
func SceneName(sceneIndex int) string {
	if sceneIndex < 0 || sceneIndex >= len(sceneNames) {
		return sceneNames[0]
	}
	return sceneNames[sceneIndex]
}

// TopEssence pairs an essence id with its archetype for prompt building.
type TopEssence struct {
	ID        string            `json:"id"`
	Archetype essence.Archetype `json:"archetype"`
}

// TopEssences ranks a session's accumulated scores and returns the leading
// whitelisted essences. Ties keep ontology order so the result is stable.
func TopEssences(scores map[string]float64) []TopEssence {
	ranked := make([]TopEssence, 0, len(scores))
	for _, id := range essence.Whitelist() {
		if _, ok := scores[id]; !ok {
			continue
		}
		arch, ok := essence.Lookup(id)
		if !ok {
			continue
		}
		ranked = append(ranked, TopEssence{ID: id, Archetype: arch})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].ID] > scores[ranked[j].ID]
	})
	if len(ranked) > TopEssenceCount {
		ranked = ranked[:TopEssenceCount]
	}
	return ranked
}

// Generator produces encounter narrative content.
type Generator struct {
	client genai.ClientInterface
}

// NewGenerator creates a Generator. A nil client means fallback-only output.
func NewGenerator(client genai.ClientInterface) *Generator {
	return &Generator{client: client}
}

// SummarizeConversation distills the cycle's exchange into the encounter
// framing. It never fails; empty or unavailable input yields a stock line.
func (g *Generator) SummarizeConversation(ctx context.Context, messages []models.Message, shadowLabel string) string {
	var b strings.Builder
	for _, m := range messages {
		if m.UserText == "" || m.AssistantText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "User: %s\nReflection Guide: %s", m.UserText, m.AssistantText)
	}
	if strings.TrimSpace(b.String()) == "" {
		return fmt.Sprintf("A reflection on %s is beginning.", shadowLabel)
	}

	fallback := fmt.Sprintf("A reflection on %s has revealed important insights.", shadowLabel)
	if g.client == nil {
		return fallback
	}

	systemPrompt := fmt.Sprintf(`You are a therapeutic summarizer. Extract the KEY THEMES from this parent-teen reflection conversation about %q.

Focus on:
- What struggles or tensions emerged
- What insights or realizations occurred
- What emotions were expressed
- What the parent wants for their relationship

Write 2-3 sentences capturing the emotional essence. Use "you" to address the parent. Be evocative and metaphorical, not clinical.`, shadowLabel)

	summary, err := g.client.GeneratePrompt(ctx, systemPrompt, b.String())
	if err != nil || strings.TrimSpace(summary) == "" {
		slog.Warn("Generator.SummarizeConversation: falling back", "error", err)
		return fallback
	}
	return summary
}

// SceneParams describes the scene to generate.
type SceneParams struct {
	SceneIndex          int
	CompanionID         string
	ShadowLabel         string
	ConversationSummary string
	TopEssences         []TopEssence
	PreviousChoices     []models.EncounterChoiceRecord
	ChosenEssenceID     string
}

var sceneGuidance = map[string]string{
	"Approach":    "The parent first senses the shadow in the distance. The scene should evoke anticipation, curiosity, and perhaps some apprehension. The shadow topic becomes a symbolic landscape or presence.",
	"Threshold":   "The parent reaches a boundary or doorway. This is a moment of decision - to step forward or hold back. The scene should reflect the internal conflict around the shadow topic.",
	"Exchange":    "The parent engages directly with the shadow. Something is given and received. This is the emotional heart of the encounter - vulnerability, truth, or understanding is exchanged.",
	"Integration": "The encounter resolves. The parent carries something new forward. This scene should feel like dawn after night - not everything is solved, but something has shifted.",
}

// GenerateScene produces one encounter scene. It always returns a usable
// scene: model failures or malformed output fall back to the static arc.
func (g *Generator) GenerateScene(ctx context.Context, p SceneParams) *models.EncounterScene {
	companion := CompanionByID(p.CompanionID)
	if g.client == nil {
		return fallbackScene(p.SceneIndex, companion.Name, p.ShadowLabel)
	}

	sceneName := SceneName(p.SceneIndex)

	var essenceDescriptions strings.Builder
	for i, e := range p.TopEssences {
		if i > 0 {
			essenceDescriptions.WriteString("\n")
		}
		fmt.Fprintf(&essenceDescriptions, "%s (%s, %s): %s", e.Archetype.Name, e.Archetype.Element, e.Archetype.Polarity, e.Archetype.Description)
	}

	topEssenceName := "inner wisdom"
	if p.ChosenEssenceID != "" {
		for _, e := range p.TopEssences {
			if e.ID == p.ChosenEssenceID {
				topEssenceName = e.Archetype.Name
				break
			}
		}
	} else if len(p.TopEssences) > 0 {
		topEssenceName = p.TopEssences[0].Archetype.Name
	}

	previousChoicesText := "This is the beginning of the journey."
	if len(p.PreviousChoices) > 0 {
		var b strings.Builder
		for i, c := range p.PreviousChoices {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Scene %d: Chose %q -> %s", c.SceneIndex+1, c.ChoiceText, c.Outcome)
		}
		previousChoicesText = b.String()
	}

	systemPrompt := fmt.Sprintf(`You are a narrative guide creating a symbolic, metaphoric encounter scene for a parent reflecting on their relationship with their teenager.

CONTEXT:
- Shadow topic: %q
- Conversation summary: %s
- Companion: %s (%s)
- Top essences from reflection:
%s

PREVIOUS JOURNEY:
%s

CURRENT SCENE: %q (Scene %d of %d)
%s

IMPORTANT:
- The narrative should be metaphorical/symbolic, not literal
- Weave in themes from the conversation summary
- The companion guides with their unique voice
- Include FOUR choices: 3 standard approaches + 1 special choice tied to their STRONGEST ESSENCE: %q
- The 4th choice should specifically invoke the energy/quality of %q

You MUST respond with valid JSON matching this exact structure:
{
  "title": %q,
  "narrative": "2-3 sentences describing the scene metaphorically, weaving in the reflection themes",
  "companionHint": "1-2 sentences of guidance in the companion's voice",
  "choices": [
    {"id": 1, "text": "Choice that embodies calm/openness/heart", "delta": {"calm": 2, "understanding": 0, "boundary": 0}, "outcome": "What happens when this choice is made"},
    {"id": 2, "text": "Choice that embodies understanding/curiosity/wisdom", "delta": {"calm": 0, "understanding": 2, "boundary": 0}, "outcome": "What happens when this choice is made"},
    {"id": 3, "text": "Choice that embodies boundary/strength/clarity", "delta": {"calm": 0, "understanding": 0, "boundary": 2}, "outcome": "What happens when this choice is made"},
    {"id": 4, "text": "Choice that channels %s", "delta": {"calm": 1, "understanding": 1, "boundary": 1}, "outcome": "What happens when invoking %s"}
  ]
}`,
		p.ShadowLabel, p.ConversationSummary, companion.Name, companion.Voice,
		essenceDescriptions.String(), previousChoicesText,
		sceneName, p.SceneIndex+1, models.EncounterSceneCount, sceneGuidance[sceneName],
		topEssenceName, topEssenceName, sceneName, topEssenceName, topEssenceName)

	raw, err := g.client.GenerateJSON(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(fmt.Sprintf("Generate the %q scene for this parent's symbolic journey through %q.", sceneName, p.ShadowLabel)),
	})
	if err != nil {
		slog.Warn("Generator.GenerateScene: generation failed, using fallback", "sceneIndex", p.SceneIndex, "error", err)
		return fallbackScene(p.SceneIndex, companion.Name, p.ShadowLabel)
	}

	var scene models.EncounterScene
	if err := json.Unmarshal([]byte(raw), &scene); err != nil {
		slog.Warn("Generator.GenerateScene: malformed scene JSON, using fallback", "sceneIndex", p.SceneIndex, "error", err)
		return fallbackScene(p.SceneIndex, companion.Name, p.ShadowLabel)
	}
	if scene.Title == "" || scene.Narrative == "" || scene.CompanionHint == "" || len(scene.Choices) != models.ChoicesPerScene {
		slog.Warn("Generator.GenerateScene: invalid scene structure, using fallback", "sceneIndex", p.SceneIndex)
		return fallbackScene(p.SceneIndex, companion.Name, p.ShadowLabel)
	}

	// The essence slot keeps a fixed label regardless of what the model wrote.
	scene.Choices[models.ChoicesPerScene-1].Text = essenceChoiceText
	return &scene
}

// ArtifactParams describes the artifact to compose.
type ArtifactParams struct {
	ArtifactType        models.ArtifactType
	CompanionID         string
	ShadowLabel         string
	ConversationSummary string
	TopEssences         []TopEssence
	Choices             []models.EncounterChoiceRecord
	Scores              models.EncounterScores
}

// DominantDimension names the leading encounter dimension. Ties resolve in
// calm, understanding, boundary order; an unscored encounter is balanced.
func DominantDimension(scores models.EncounterScores) string {
	total := scores.Calm + scores.Understanding + scores.Boundary
	if total <= 0 {
		return "balanced"
	}
	switch {
	case scores.Calm >= scores.Understanding && scores.Calm >= scores.Boundary:
		return "calm"
	case scores.Understanding >= scores.Calm && scores.Understanding >= scores.Boundary:
		return "understanding"
	default:
		return "boundary"
	}
}

var artifactGuidance = map[models.ArtifactType]string{
	models.ArtifactTypeScroll:  "A Scroll of Strength shares what the parent discovered about their resilience, courage, or capacity for love. It highlights what they're proud of and want their teen to see.",
	models.ArtifactTypeCrystal: "A Crystal of Vulnerability shares where the parent is still growing, what they struggle with, or what they're learning. It's honest about their edges.",
	models.ArtifactTypePotion:  "A Potion of Balance blends both strength and vulnerability, acknowledging both what the parent does well and where they're still learning.",
}

var dominantCharacter = map[string]string{
	"calm":          "approached with openness and heart",
	"understanding": "sought wisdom and perspective",
	"boundary":      "held clear boundaries with love",
	"balanced":      "held strength and softness in equal measure",
}

// ComposeArtifact writes the closing message from parent to teen. It never
// fails; any model trouble yields the per-type fallback text.
func (g *Generator) ComposeArtifact(ctx context.Context, p ArtifactParams) *models.ArtifactDraft {
	companion := CompanionByID(p.CompanionID)
	dominant := DominantDimension(p.Scores)

	essenceNames := make([]string, 0, len(p.TopEssences))
	for _, e := range p.TopEssences {
		essenceNames = append(essenceNames, e.Archetype.Name)
	}

	highlights := essenceNames
	if len(highlights) > 2 {
		highlights = highlights[:2]
	}
	fallback := &models.ArtifactDraft{
		Type:              p.ArtifactType,
		Text:              fallbackArtifactText(p.ArtifactType, essenceNames, companion.Name),
		EssenceHighlights: highlights,
		EncounterSummary:  fmt.Sprintf("A %s journey through %s", dominant, p.ShadowLabel),
	}
	if g.client == nil {
		return fallback
	}

	var choicesText strings.Builder
	for i, c := range p.Choices {
		if i > 0 {
			choicesText.WriteString(", ")
		}
		fmt.Fprintf(&choicesText, "%s: %q", SceneName(c.SceneIndex), c.ChoiceText)
	}

	systemPrompt := fmt.Sprintf(`You are crafting a heartfelt message from a parent to their teenager. This message emerges from a deep reflection journey.

CONTEXT:
- Shadow topic reflected on: %q
- Conversation insights: %s
- Companion that guided them: %s
- Top essences: %s
- Encounter journey: %s
- Journey character: %s (%s)

ARTIFACT TYPE: %s
%s

Write a personal, authentic message (3-4 sentences) from the parent to their teen. The message should:
- Feel genuine and from the heart, not performative
- Reference specific insights from the reflection without being too abstract
- Acknowledge the companion's guidance naturally
- Match the artifact type's energy (strength/vulnerability/balance)
- Avoid cliches. Be specific to this journey

Respond with JSON:
{
  "text": "The message to the teen",
  "essenceHighlights": ["Essence 1", "Essence 2"],
  "encounterSummary": "Brief description of the journey character"
}`,
		p.ShadowLabel, p.ConversationSummary, companion.Name,
		strings.Join(essenceNames, ", "), choicesText.String(),
		dominant, dominantCharacter[dominant],
		strings.ToUpper(string(p.ArtifactType)), artifactGuidance[p.ArtifactType])

	raw, err := g.client.GenerateJSON(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(fmt.Sprintf("Compose the %s artifact message for this parent's journey through %q.", p.ArtifactType, p.ShadowLabel)),
	})
	if err != nil {
		slog.Warn("Generator.ComposeArtifact: composition failed, using fallback", "artifactType", p.ArtifactType, "error", err)
		return fallback
	}

	var parsed struct {
		Text              string   `json:"text"`
		EssenceHighlights []string `json:"essenceHighlights"`
		EncounterSummary  string   `json:"encounterSummary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("Generator.ComposeArtifact: malformed artifact JSON, using fallback", "artifactType", p.ArtifactType, "error", err)
		return fallback
	}

	draft := &models.ArtifactDraft{
		Type:              p.ArtifactType,
		Text:              parsed.Text,
		EssenceHighlights: parsed.EssenceHighlights,
		EncounterSummary:  parsed.EncounterSummary,
	}
	if draft.Text == "" {
		draft.Text = fallback.Text
	}
	if len(draft.EssenceHighlights) == 0 {
		draft.EssenceHighlights = fallback.EssenceHighlights
	}
	if draft.EncounterSummary == "" {
		draft.EncounterSummary = fallback.EncounterSummary
	}
	return draft
}
