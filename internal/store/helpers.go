package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/reverie-app/reverie/internal/models"
)

// sessionColumns is the canonical column order shared by both SQL backends.
const sessionColumns = `id, user_id, role, shadow_id, shadow_custom, companion_id, artifact_type, status, turn, cycle, accumulated_scores, mi_metrics, encounter_state, artifact_draft, spell, opening_question, crystallized_essence_id, created_at, updated_at`

// messageColumns is the canonical message column order.
const messageColumns = `id, session_id, cycle, turn, mode, user_text, assistant_text, highlights, created_at`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSONColumn serializes a value for a TEXT column, mapping nil to an
// empty string so the column stores NULL.
func marshalJSONColumn(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column failed: %w", err)
	}
	return string(b), nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning code.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession reads one session row, decoding the JSON-typed columns.
func scanSession(rs rowScanner) (*models.Session, error) {
	var s models.Session
	var shadowCustom, companionID, artifactType, spell, openingQuestion, crystallizedEssenceID sql.NullString
	var scoresJSON, metricsJSON, encounterJSON, artifactJSON sql.NullString

	err := rs.Scan(
		&s.ID, &s.UserID, &s.Role, &s.ShadowID, &shadowCustom, &companionID,
		&artifactType, &s.Status, &s.Turn, &s.Cycle, &scoresJSON, &metricsJSON,
		&encounterJSON, &artifactJSON, &spell, &openingQuestion,
		&crystallizedEssenceID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ShadowCustom = shadowCustom.String
	s.CompanionID = companionID.String
	s.ArtifactType = models.ArtifactType(artifactType.String)
	s.Spell = spell.String
	s.OpeningQuestion = openingQuestion.String
	s.CrystallizedEssenceID = crystallizedEssenceID.String

	s.AccumulatedScores = map[string]float64{}
	if scoresJSON.String != "" {
		if err := json.Unmarshal([]byte(scoresJSON.String), &s.AccumulatedScores); err != nil {
			return nil, fmt.Errorf("decode accumulated scores failed: %w", err)
		}
	}
	if metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &s.MiMetrics); err != nil {
			return nil, fmt.Errorf("decode mi metrics failed: %w", err)
		}
	}
	if encounterJSON.String != "" {
		s.EncounterState = &models.EncounterState{}
		if err := json.Unmarshal([]byte(encounterJSON.String), s.EncounterState); err != nil {
			return nil, fmt.Errorf("decode encounter state failed: %w", err)
		}
	}
	if artifactJSON.String != "" {
		s.ArtifactDraft = &models.ArtifactDraft{}
		if err := json.Unmarshal([]byte(artifactJSON.String), s.ArtifactDraft); err != nil {
			return nil, fmt.Errorf("decode artifact draft failed: %w", err)
		}
	}
	return &s, nil
}

// sessionColumnValues serializes a session into the insert/update value list
// matching sessionColumns minus the id and timestamps.
func sessionColumnValues(s *models.Session) ([]interface{}, error) {
	scoresJSON, err := marshalJSONColumn(s.AccumulatedScores)
	if err != nil {
		return nil, err
	}
	metricsJSON, err := marshalJSONColumn(s.MiMetrics)
	if err != nil {
		return nil, err
	}
	var encounterJSON, artifactJSON string
	if s.EncounterState != nil {
		encounterJSON, err = marshalJSONColumn(s.EncounterState)
		if err != nil {
			return nil, err
		}
	}
	if s.ArtifactDraft != nil {
		artifactJSON, err = marshalJSONColumn(s.ArtifactDraft)
		if err != nil {
			return nil, err
		}
	}
	return []interface{}{
		s.UserID, string(s.Role), s.ShadowID, nilIfEmpty(s.ShadowCustom),
		nilIfEmpty(s.CompanionID), nilIfEmpty(string(s.ArtifactType)),
		string(s.Status), s.Turn, s.Cycle, scoresJSON, metricsJSON,
		nilIfEmpty(encounterJSON), nilIfEmpty(artifactJSON),
		nilIfEmpty(s.Spell), nilIfEmpty(s.OpeningQuestion),
		nilIfEmpty(s.CrystallizedEssenceID),
	}, nil
}

// scanMessage reads one message row, decoding the highlights column.
func scanMessage(rs rowScanner) (models.Message, error) {
	var m models.Message
	var userText, assistantText, highlightsJSON sql.NullString
	err := rs.Scan(&m.ID, &m.SessionID, &m.Cycle, &m.Turn, &m.Mode, &userText, &assistantText, &highlightsJSON, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.UserText = userText.String
	m.AssistantText = assistantText.String
	if highlightsJSON.String != "" {
		if err := json.Unmarshal([]byte(highlightsJSON.String), &m.Highlights); err != nil {
			return m, fmt.Errorf("decode message highlights failed: %w", err)
		}
	}
	return m, nil
}
