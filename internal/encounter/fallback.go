package encounter

import (
	"fmt"

	"github.com/reverie-app/reverie/internal/models"
)

// fallbackScene returns the hand-written scene for an index. The fallback
// arc is generic but complete: choices, deltas, and outcomes all work
// without the model.
func fallbackScene(sceneIndex int, companionName, shadowLabel string) *models.EncounterScene {
	scenes := []models.EncounterScene{
		{
			Title:         "Approach",
			Narrative:     fmt.Sprintf("A path stretches before you, winding toward a distant presence that feels both familiar and unsettling. The air carries whispers of %s: memories, hopes, and unspoken words.", shadowLabel),
			CompanionHint: fmt.Sprintf("%s walks beside you: \"Every journey begins with a single step. What calls you forward?\"", companionName),
			Choices: []models.EncounterChoice{
				{ID: 1, Text: "Approach with an open heart, ready to receive", Delta: models.EncounterScores{Calm: 2}, Outcome: "Your openness creates a gentle warmth in the air around you."},
				{ID: 2, Text: "Observe carefully, seeking to understand first", Delta: models.EncounterScores{Understanding: 2}, Outcome: "The path reveals subtle details you would have missed in haste."},
				{ID: 3, Text: "Walk with purpose, honoring your own pace", Delta: models.EncounterScores{Boundary: 2}, Outcome: "Your steady presence grounds you as you move forward."},
				{ID: 4, Text: essenceChoiceText, Delta: models.EncounterScores{Calm: 1, Understanding: 1, Boundary: 1}, Outcome: "Your inner wisdom guides you with balanced clarity."},
			},
		},
		{
			Title:         "Threshold",
			Narrative:     fmt.Sprintf("Before you stands a threshold, not quite a door, but a shimmer in the air where the world shifts. Beyond it, %s waits in symbolic form.", shadowLabel),
			CompanionHint: fmt.Sprintf("%s pauses: \"This is the place between what was and what could be. How will you cross?\"", companionName),
			Choices: []models.EncounterChoice{
				{ID: 1, Text: "Step through softly, leaving defenses behind", Delta: models.EncounterScores{Calm: 2}, Outcome: "The threshold parts like mist, welcoming your vulnerability."},
				{ID: 2, Text: "Pause to truly see what lies beyond", Delta: models.EncounterScores{Understanding: 2}, Outcome: "Understanding blooms as you recognize what you couldn't see before."},
				{ID: 3, Text: "Cross firmly, carrying your truth with you", Delta: models.EncounterScores{Boundary: 2}, Outcome: "You cross the threshold whole, your truth intact."},
				{ID: 4, Text: essenceChoiceText, Delta: models.EncounterScores{Calm: 1, Understanding: 1, Boundary: 1}, Outcome: "Your essence illuminates hidden paths you couldn't see before."},
			},
		},
		{
			Title:         "Exchange",
			Narrative:     fmt.Sprintf("The shadow of %s takes shape before you, not as a monster, but as something more complex. It holds something that belongs to you, and you hold something of its.", shadowLabel),
			CompanionHint: fmt.Sprintf("%s whispers: \"What we resist persists. What we embrace transforms. What will you offer?\"", companionName),
			Choices: []models.EncounterChoice{
				{ID: 1, Text: "Offer understanding and acceptance", Delta: models.EncounterScores{Calm: 2}, Outcome: "Something softens between you. The shadow reveals a gift hidden within."},
				{ID: 2, Text: "Ask to understand its true nature", Delta: models.EncounterScores{Understanding: 2}, Outcome: "The shadow shares its story, and suddenly it makes sense."},
				{ID: 3, Text: "Name what is yours and what isn't", Delta: models.EncounterScores{Boundary: 2}, Outcome: "Clear boundaries create space for genuine connection."},
				{ID: 4, Text: essenceChoiceText, Delta: models.EncounterScores{Calm: 1, Understanding: 1, Boundary: 1}, Outcome: "Your essence creates unexpected harmony between you and the shadow."},
			},
		},
		{
			Title:         "Integration",
			Narrative:     fmt.Sprintf("The encounter shifts. What felt heavy begins to feel different, not gone, but changed. You carry new understanding about %s and about yourself.", shadowLabel),
			CompanionHint: fmt.Sprintf("%s smiles: \"You came seeking answers and found something better. You found yourself. What will you carry forward?\"", companionName),
			Choices: []models.EncounterChoice{
				{ID: 1, Text: "Carry forward the gift of presence", Delta: models.EncounterScores{Calm: 2}, Outcome: "You realize that being present is the greatest gift you can offer."},
				{ID: 2, Text: "Carry forward new understanding", Delta: models.EncounterScores{Understanding: 2}, Outcome: "Wisdom settles into your heart like morning light."},
				{ID: 3, Text: "Carry forward clearer purpose", Delta: models.EncounterScores{Boundary: 2}, Outcome: "You know now what matters most and what you must protect."},
				{ID: 4, Text: essenceChoiceText, Delta: models.EncounterScores{Calm: 1, Understanding: 1, Boundary: 1}, Outcome: "Your essence has grown stronger through this journey."},
			},
		},
	}

	if sceneIndex < 0 || sceneIndex >= len(scenes) {
		sceneIndex = 0
	}
	scene := scenes[sceneIndex]
	return &scene
}

func fallbackArtifactText(artifactType models.ArtifactType, essenceNames []string, companionName string) string {
	primary := "reflection"
	if len(essenceNames) > 0 {
		primary = essenceNames[0]
	}
	secondary := "growth"
	if len(essenceNames) > 1 {
		secondary = essenceNames[1]
	}

	switch artifactType {
	case models.ArtifactTypeScroll:
		return fmt.Sprintf("Through %s, I found the courage to face what was difficult. %s reminded me that this strength was always there. I just needed to see it clearly. I wanted to share this with you because it helps me show up more fully in our relationship.", primary, companionName)
	case models.ArtifactTypeCrystal:
		return fmt.Sprintf("I'm learning about %s. It's an edge I'm still softening. %s guided me to see that acknowledging where I'm still growing is its own kind of strength. I share this vulnerability with you because I want us to grow together.", secondary, companionName)
	default:
		return fmt.Sprintf("This journey wove together %s and %s. %s showed me that real connection isn't about being perfect. It's about being present. I offer this blend of insight because our relationship deserves both my strengths and my edges.", primary, secondary, companionName)
	}
}
