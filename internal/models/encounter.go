package models

// EncounterScores tracks the three encounter dimensions.
type EncounterScores struct {
	Calm          int `json:"calm"`
	Understanding int `json:"understanding"`
	Boundary      int `json:"boundary"`
}

// Add returns the sum of two score deltas.
func (s EncounterScores) Add(d EncounterScores) EncounterScores {
	return EncounterScores{
		Calm:          s.Calm + d.Calm,
		Understanding: s.Understanding + d.Understanding,
		Boundary:      s.Boundary + d.Boundary,
	}
}

// EncounterChoice is one option presented in an encounter scene. The fourth
// choice of every scene is the personal-essence slot.
type EncounterChoice struct {
	ID      int             `json:"id"`
	Text    string          `json:"text"`
	Delta   EncounterScores `json:"delta"`
	Outcome string          `json:"outcome"`
}

// EncounterScene is one step of the four-scene encounter arc.
type EncounterScene struct {
	Title         string            `json:"title"`
	Narrative     string            `json:"narrative"`
	CompanionHint string            `json:"companionHint"`
	Choices       []EncounterChoice `json:"choices"`
}

// EncounterChoiceRecord remembers a choice the parent made.
type EncounterChoiceRecord struct {
	SceneIndex int             `json:"sceneIndex"`
	ChoiceID   int             `json:"choiceId"`
	ChoiceText string          `json:"choiceText"`
	Outcome    string          `json:"outcome"`
	Delta      EncounterScores `json:"delta"`
	EssenceID  string          `json:"essenceId,omitempty"`
}

// EncounterState tracks the post-crystallization mini-game. SceneIndex runs
// 0..3; the encounter is complete once it reaches EncounterSceneCount.
type EncounterState struct {
	ConversationSummary string                  `json:"conversationSummary"`
	SceneIndex          int                     `json:"sceneIndex"`
	ChoiceLog           []EncounterChoiceRecord `json:"choiceLog"`
	Scores              EncounterScores         `json:"scores"`
	CurrentScene        *EncounterScene         `json:"currentScene,omitempty"`
	Complete            bool                    `json:"isComplete"`
	ChosenEssenceID     string                  `json:"chosenEssenceId,omitempty"`
}

// EncounterSceneCount is the fixed length of the encounter arc.
const EncounterSceneCount = 4

// ChoicesPerScene is the fixed number of options per scene; the fourth is
// always the personal-essence slot.
const ChoicesPerScene = 4

// DefaultEncounterState returns a fresh encounter.
func DefaultEncounterState() *EncounterState {
	return &EncounterState{}
}

// ArtifactDraft is the composed closing artifact for a cycle.
type ArtifactDraft struct {
	Type              ArtifactType `json:"type"`
	Text              string       `json:"text"`
	EssenceHighlights []string     `json:"essenceHighlights"`
	EncounterSummary  string       `json:"encounterSummary"`
}
