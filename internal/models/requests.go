package models

import "errors"

// MaxUserTextLength caps the parent's message per turn.
const MaxUserTextLength = 2000

// MaxCustomShadowLength caps the free-text custom shadow description.
const MaxCustomShadowLength = 80

// CustomShadowID marks a session whose shadow is user-defined.
const CustomShadowID = "custom"

// CreateSessionRequest starts a new reflection session.
type CreateSessionRequest struct {
	Role         SessionRole `json:"role"`
	ShadowID     string      `json:"shadowId"`
	ShadowCustom string      `json:"shadowCustom,omitempty"`
}

// Validate checks role and shadow selection.
func (r *CreateSessionRequest) Validate() error {
	if !ValidSessionRole(r.Role) {
		return errors.New("role must be parent or teen")
	}
	if r.ShadowID == "" {
		return errors.New("shadowId is required")
	}
	if r.ShadowID == CustomShadowID {
		if r.ShadowCustom == "" {
			return errors.New("shadowCustom is required for a custom shadow")
		}
		if len(r.ShadowCustom) > MaxCustomShadowLength {
			return errors.New("shadowCustom exceeds maximum length")
		}
	}
	return nil
}

// TurnRequest carries the parent's message for one reflection turn. When
// Session is present the request runs stateless: the engine uses the
// caller-supplied state and persists nothing.
type TurnRequest struct {
	UserText string      `json:"userText"`
	Mode     MessageMode `json:"mode,omitempty"`
	Session  *Session    `json:"session,omitempty"`
	Messages []Message   `json:"messages,omitempty"`
}

// Stateless reports whether the caller supplied the session state.
func (r *TurnRequest) Stateless() bool {
	return r.Session != nil
}

// Validate checks the user text bounds and, in stateless mode, the
// embedded session.
func (r *TurnRequest) Validate() error {
	if r.UserText == "" {
		return errors.New("userText is required")
	}
	if len(r.UserText) > MaxUserTextLength {
		return errors.New("userText exceeds maximum length")
	}
	if r.Mode != "" && r.Mode != MessageModeReflect && r.Mode != MessageModeBattle {
		return errors.New("mode must be reflect or battle")
	}
	if r.Session != nil {
		if !ValidSessionRole(r.Session.Role) {
			return errors.New("session role must be parent or teen")
		}
		if r.Session.Turn < 1 || r.Session.Turn > MaxTurns {
			return errors.New("session turn out of range")
		}
	}
	return nil
}

// EncounterStartRequest begins the encounter with a chosen companion.
type EncounterStartRequest struct {
	CompanionID string `json:"companionId"`
}

// Validate checks the companion id is present.
func (r *EncounterStartRequest) Validate() error {
	if r.CompanionID == "" {
		return errors.New("companionId is required")
	}
	return nil
}

// EncounterChoiceRequest records the parent's pick for the current scene.
// The choice is resolved against the stored scene server-side; the client
// never supplies deltas or outcomes.
type EncounterChoiceRequest struct {
	ChoiceID  int    `json:"choiceId"`
	EssenceID string `json:"essenceId,omitempty"`
}

// Validate checks the choice id is in the scene's range.
func (r *EncounterChoiceRequest) Validate() error {
	if r.ChoiceID < 1 || r.ChoiceID > ChoicesPerScene {
		return errors.New("choiceId must be between 1 and 4")
	}
	return nil
}

// ComposeArtifactRequest selects the closing artifact form.
type ComposeArtifactRequest struct {
	ArtifactType ArtifactType `json:"artifactType"`
}

// Validate checks the artifact type.
func (r *ComposeArtifactRequest) Validate() error {
	if !ValidArtifactType(r.ArtifactType) {
		return errors.New("artifactType must be one of scroll, crystal, potion")
	}
	return nil
}

// CreateRelayRequest stores a shareable note from a finished cycle.
type CreateRelayRequest struct {
	SessionID int64  `json:"sessionId"`
	Text      string `json:"text"`
}

// Validate checks the relay payload.
func (r *CreateRelayRequest) Validate() error {
	if r.SessionID <= 0 {
		return errors.New("sessionId is required")
	}
	if r.Text == "" {
		return errors.New("text is required")
	}
	if len(r.Text) > 500 {
		return errors.New("text exceeds maximum length")
	}
	return nil
}

// TurnResponse is the reflection-loop reply for one processed turn.
type TurnResponse struct {
	AssistantText  string   `json:"assistantText"`
	Chips          []Chip   `json:"chips"`
	Turn           int      `json:"turn"`
	NextTurn       int      `json:"nextTurn"`
	StabilityIndex float64  `json:"stabilityIndex"`
	CanCrystallize bool     `json:"canCrystallize"`
	SessionStatus  string   `json:"sessionStatus"`
	UpdatedSession *Session `json:"updatedSession,omitempty"`
}

// SessionDetail pairs a session with its current-cycle messages for the
// session fetch endpoint.
type SessionDetail struct {
	Session  *Session  `json:"session"`
	Messages []Message `json:"messages"`
}

// ShadowInfo describes one catalog shadow for the picker.
type ShadowInfo struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}
