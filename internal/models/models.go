// Package models defines shared data structures for Reverie.
//
// It contains the session and message types for the guided-reflection loop,
// the MI metrics ledger, the encounter mini-game state, and the standard
// API response envelope used by the HTTP layer.
package models

import (
	"errors"
	"fmt"
	"time"
)

// SessionRole identifies who is reflecting in a session.
type SessionRole string

const (
	// SessionRoleParent indicates the reflecting user is the parent.
	SessionRoleParent SessionRole = "parent"
	// SessionRoleTeen indicates the reflecting user is the teen.
	SessionRoleTeen SessionRole = "teen"
)

// SessionStatus represents the lifecycle state of a reflection session.
type SessionStatus string

const (
	// SessionStatusActive indicates the reflection loop is in progress.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusAwaitingCrystallize indicates the loop is ready to crystallize.
	SessionStatusAwaitingCrystallize SessionStatus = "awaiting_crystallize"
	// SessionStatusCrystallized indicates a dominant essence has been fixed.
	SessionStatusCrystallized SessionStatus = "crystallized"
	// SessionStatusCompanionActive indicates the encounter mini-game is running.
	SessionStatusCompanionActive SessionStatus = "companion_active"
)

// MessageMode distinguishes reflection-loop messages from encounter messages.
type MessageMode string

const (
	// MessageModeReflect marks a message from the reflection loop.
	MessageModeReflect MessageMode = "reflect"
	// MessageModeBattle marks a message from the encounter mini-game.
	MessageModeBattle MessageMode = "battle"
)

// ArtifactType enumerates the closing artifact forms.
type ArtifactType string

const (
	ArtifactTypeScroll  ArtifactType = "scroll"
	ArtifactTypeCrystal ArtifactType = "crystal"
	ArtifactTypePotion  ArtifactType = "potion"
)

// MaxTurns is the hard cap on reflection turns per cycle.
const MaxTurns = 12

// sessionTransitions is the set of legal status transitions. Anything not
// listed here is rejected by ValidStatusTransition.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusActive:              {SessionStatusAwaitingCrystallize},
	SessionStatusAwaitingCrystallize: {SessionStatusCrystallized},
	SessionStatusCrystallized:        {SessionStatusCompanionActive},
	SessionStatusCompanionActive:     {SessionStatusActive, SessionStatusAwaitingCrystallize},
}

// ValidStatusTransition reports whether a session may move from one status
// to another. A no-op transition (from == to) is always allowed.
func ValidStatusTransition(from, to SessionStatus) bool {
	if from == to {
		return true
	}
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidSessionStatus reports whether s is a known session status.
func ValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusActive, SessionStatusAwaitingCrystallize, SessionStatusCrystallized, SessionStatusCompanionActive:
		return true
	}
	return false
}

// Chip is a highlighted quote from the parent's message mapped onto the
// essence ontology. EssenceID is always a whitelist member after server-side
// coercion; unknown ids become the null essence with IsHidden set.
type Chip struct {
	Quote          string `json:"quote"`
	EssenceID      string `json:"essence_id"`
	Label          string `json:"label"`
	Interpretation string `json:"interpretation,omitempty"`
	IsHidden       bool   `json:"is_hidden"`
}

// Session is a reflection session for one parent and one shadow theme.
type Session struct {
	ID                    int64              `json:"id"`
	UserID                string             `json:"userId"`
	Role                  SessionRole        `json:"role"`
	ShadowID              string             `json:"shadowId"`
	ShadowCustom          string             `json:"shadowCustom,omitempty"`
	CompanionID           string             `json:"companionId,omitempty"`
	ArtifactType          ArtifactType       `json:"artifactType,omitempty"`
	Status                SessionStatus      `json:"status"`
	Turn                  int                `json:"turn"`
	Cycle                 int                `json:"cycle"`
	AccumulatedScores     map[string]float64 `json:"accumulatedScores"`
	MiMetrics             MiMetrics          `json:"miMetrics"`
	EncounterState        *EncounterState    `json:"encounterState,omitempty"`
	ArtifactDraft         *ArtifactDraft     `json:"artifactDraft,omitempty"`
	Spell                 string             `json:"spell,omitempty"`
	OpeningQuestion       string             `json:"openingQuestion,omitempty"`
	CrystallizedEssenceID string             `json:"crystallizedEssenceId,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// Message is one exchange within a session cycle.
type Message struct {
	ID            int64       `json:"id"`
	SessionID     int64       `json:"sessionId"`
	Cycle         int         `json:"cycle"`
	Turn          int         `json:"turn"`
	Mode          MessageMode `json:"mode"`
	UserText      string      `json:"userText"`
	AssistantText string      `json:"assistantText"`
	Highlights    []Chip      `json:"highlights,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Relay is a short shareable note produced from a finished cycle.
type Relay struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	SessionID int64     `json:"sessionId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionUpdate carries a partial session update. Nil fields are untouched.
type SessionUpdate struct {
	CompanionID           *string             `json:"companionId,omitempty"`
	ArtifactType          *ArtifactType       `json:"artifactType,omitempty"`
	Status                *SessionStatus      `json:"status,omitempty"`
	Turn                  *int                `json:"turn,omitempty"`
	Cycle                 *int                `json:"cycle,omitempty"`
	AccumulatedScores     *map[string]float64 `json:"accumulatedScores,omitempty"`
	MiMetrics             *MiMetrics          `json:"miMetrics,omitempty"`
	EncounterState        *EncounterState     `json:"encounterState,omitempty"`
	ArtifactDraft         *ArtifactDraft      `json:"artifactDraft,omitempty"`
	Spell                 *string             `json:"spell,omitempty"`
	CrystallizedEssenceID *string             `json:"crystallizedEssenceId,omitempty"`
}

// Sentinel errors shared across packages.
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotSessionOwner indicates the caller does not own the session.
	ErrNotSessionOwner = errors.New("not session owner")
	// ErrGenAINotConfigured indicates no GenAI client is available.
	ErrGenAINotConfigured = errors.New("genai client not configured")
	// ErrInvalidTransition indicates a rejected session status transition.
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// ValidSessionRole reports whether r is a known session role.
func ValidSessionRole(r SessionRole) bool {
	switch r {
	case SessionRoleParent, SessionRoleTeen:
		return true
	}
	return false
}

// ValidArtifactType reports whether t is a known artifact type.
func ValidArtifactType(t ArtifactType) bool {
	switch t {
	case ArtifactTypeScroll, ArtifactTypeCrystal, ArtifactTypePotion:
		return true
	}
	return false
}

// ApplyUpdate merges a partial update into the session, validating the
// status transition against the session state machine.
func (s *Session) ApplyUpdate(u SessionUpdate) error {
	if u.Status != nil {
		if !ValidSessionStatus(*u.Status) {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, *u.Status)
		}
		if !ValidStatusTransition(s.Status, *u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, *u.Status)
		}
		completing := s.Status == SessionStatusCrystallized && *u.Status == SessionStatusCompanionActive
		s.Status = *u.Status
		if completing {
			// Cycle completion: fresh turn counter, fresh scores and metrics.
			s.Turn = 1
			s.Cycle++
			s.AccumulatedScores = map[string]float64{}
			s.MiMetrics = DefaultMiMetrics()
			s.EncounterState = nil
		}
	}
	if u.CompanionID != nil {
		s.CompanionID = *u.CompanionID
	}
	if u.ArtifactType != nil {
		if *u.ArtifactType != "" && !ValidArtifactType(*u.ArtifactType) {
			return fmt.Errorf("invalid artifact type %q", *u.ArtifactType)
		}
		s.ArtifactType = *u.ArtifactType
	}
	if u.Turn != nil {
		if *u.Turn < 1 || *u.Turn > MaxTurns {
			return fmt.Errorf("turn out of range: %d", *u.Turn)
		}
		s.Turn = *u.Turn
	}
	if u.Cycle != nil {
		if *u.Cycle < 1 {
			return fmt.Errorf("cycle out of range: %d", *u.Cycle)
		}
		s.Cycle = *u.Cycle
	}
	if u.AccumulatedScores != nil {
		s.AccumulatedScores = *u.AccumulatedScores
	}
	if u.MiMetrics != nil {
		s.MiMetrics = *u.MiMetrics
	}
	if u.EncounterState != nil {
		s.EncounterState = u.EncounterState
	}
	if u.ArtifactDraft != nil {
		s.ArtifactDraft = u.ArtifactDraft
	}
	if u.Spell != nil {
		s.Spell = *u.Spell
	}
	if u.CrystallizedEssenceID != nil {
		s.CrystallizedEssenceID = *u.CrystallizedEssenceID
	}
	return nil
}
