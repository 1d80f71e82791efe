package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"

	"github.com/reverie-app/reverie/internal/encounter"
	"github.com/reverie-app/reverie/internal/loop"
	"github.com/reverie-app/reverie/internal/models"
	"github.com/reverie-app/reverie/internal/store"
)

// mockGenAIClient returns a canned completion for every call.
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

// envelope mirrors the standard response wrapper for test decoding.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestServer(client *mockGenAIClient) (*Server, store.Store) {
	st := store.NewInMemoryStore()
	if client == nil {
		return NewServer(st, nil, loop.NewEngine(nil), encounter.NewGenerator(nil)), st
	}
	return NewServer(st, client, loop.NewEngine(client), encounter.NewGenerator(client)), st
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}, userID string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(DemoUserHeader, userID)
	}
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response envelope: %v (body %q)", err, rec.Body.String())
	}
	return rec, env
}

func createTestSession(t *testing.T, server *Server, userID string) models.Session {
	t.Helper()
	rec, env := doRequest(t, server, http.MethodPost, "/api/sessions", models.CreateSessionRequest{
		Role:     models.SessionRoleParent,
		ShadowID: "shadow_phone_use",
	}, userID)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session returned %d: %s", rec.Code, rec.Body.String())
	}
	var session models.Session
	if err := json.Unmarshal(env.Result, &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	return session
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(nil)
	rec, env := doRequest(t, server, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
}

func TestShadowsEndpoint(t *testing.T) {
	server, _ := newTestServer(nil)
	rec, env := doRequest(t, server, http.MethodGet, "/api/shadows", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("shadows returned %d", rec.Code)
	}
	var shadows []models.ShadowInfo
	if err := json.Unmarshal(env.Result, &shadows); err != nil {
		t.Fatalf("failed to decode shadows: %v", err)
	}
	if len(shadows) != 6 {
		t.Fatalf("shadows = %d, want 6", len(shadows))
	}
	if shadows[0].ID != "shadow_phone_use" || shadows[0].Label != "Phone Use" {
		t.Errorf("unexpected first shadow: %+v", shadows[0])
	}
}

func TestCreateSessionValidation(t *testing.T) {
	server, _ := newTestServer(nil)

	rec, _ := doRequest(t, server, http.MethodPost, "/api/sessions", models.CreateSessionRequest{
		Role:     "uncle",
		ShadowID: "shadow_phone_use",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid role returned %d, want 400", rec.Code)
	}

	rec, _ = doRequest(t, server, http.MethodPost, "/api/sessions", models.CreateSessionRequest{
		Role:     models.SessionRoleTeen,
		ShadowID: models.CustomShadowID,
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("custom shadow without text returned %d, want 400", rec.Code)
	}
}

func TestCreateSessionAcceptsEachRole(t *testing.T) {
	server, _ := newTestServer(nil)
	for _, role := range []models.SessionRole{models.SessionRoleParent, models.SessionRoleTeen} {
		rec, _ := doRequest(t, server, http.MethodPost, "/api/sessions", models.CreateSessionRequest{
			Role:     role,
			ShadowID: "shadow_phone_use",
		}, "")
		if rec.Code != http.StatusCreated {
			t.Errorf("role %q returned %d, want 201", role, rec.Code)
		}
	}
}

func TestCreateSessionAndGet(t *testing.T) {
	server, _ := newTestServer(nil)
	session := createTestSession(t, server, "")

	if session.ID == 0 {
		t.Fatal("expected assigned session id")
	}
	if session.UserID != "demo-user-default" {
		t.Errorf("userID = %q", session.UserID)
	}
	if session.OpeningQuestion == "" {
		t.Error("expected an opening question even without GenAI")
	}
	if session.Status != models.SessionStatusActive || session.Turn != 1 || session.Cycle != 1 {
		t.Errorf("unexpected initial state: %+v", session)
	}

	rec, env := doRequest(t, server, http.MethodGet, fmt.Sprintf("/api/sessions/%d/", session.ID), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get session returned %d", rec.Code)
	}
	var got models.SessionDetail
	if err := json.Unmarshal(env.Result, &got); err != nil {
		t.Fatalf("failed to decode session detail: %v", err)
	}
	if got.Session == nil || got.Session.ID != session.ID {
		t.Fatalf("got session %+v, want id %d", got.Session, session.ID)
	}
	if got.Messages == nil {
		t.Error("expected messages array, got null")
	}
	if len(got.Messages) != 0 {
		t.Errorf("messages = %d, want 0 before any turn", len(got.Messages))
	}

	rec, _ = doRequest(t, server, http.MethodGet, fmt.Sprintf("/api/sessions/%d/", session.ID), nil, "intruder")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("foreign get returned %d, want 401", rec.Code)
	}

	rec, _ = doRequest(t, server, http.MethodGet, "/api/sessions/9999/", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session returned %d, want 404", rec.Code)
	}
}

func TestUpdateSessionRejectsInvalidTransition(t *testing.T) {
	server, _ := newTestServer(nil)
	session := createTestSession(t, server, "")

	status := models.SessionStatusCrystallized
	rec, _ := doRequest(t, server, http.MethodPut, fmt.Sprintf("/api/sessions/%d/", session.ID), models.SessionUpdate{Status: &status}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid transition returned %d, want 400", rec.Code)
	}

	status = models.SessionStatusAwaitingCrystallize
	rec, env := doRequest(t, server, http.MethodPut, fmt.Sprintf("/api/sessions/%d/", session.ID), models.SessionUpdate{Status: &status}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid transition returned %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.Session
	if err := json.Unmarshal(env.Result, &updated); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if updated.Status != models.SessionStatusAwaitingCrystallize {
		t.Errorf("status = %s", updated.Status)
	}
}

func TestTurnRequiresGenAI(t *testing.T) {
	server, _ := newTestServer(nil)
	session := createTestSession(t, server, "")

	rec, _ := doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/turn", session.ID), models.TurnRequest{
		UserText: "I want calmer evenings with my daughter.",
	}, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("turn without GenAI returned %d, want 503", rec.Code)
	}
}

const engineTurnJSON = `{
	"assistant_text": "You want calmer evenings. What would that look like for you?",
	"chips": [{"quote": "calmer evenings", "essence_id": "47_agua_lunar", "label": "Longing"}],
	"accumulated_scores_delta": {"47_agua_lunar": 2},
	"stability_index": 0.5,
	"can_crystallize": false
}`

func TestTurnPersistsState(t *testing.T) {
	server, st := newTestServer(&mockGenAIClient{response: engineTurnJSON})
	session := createTestSession(t, server, "")

	rec, env := doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/turn", session.ID), models.TurnRequest{
		UserText: "I want calmer evenings with my daughter.",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("turn returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.TurnResponse
	if err := json.Unmarshal(env.Result, &resp); err != nil {
		t.Fatalf("failed to decode turn response: %v", err)
	}
	if resp.Turn != 1 || resp.NextTurn != 2 {
		t.Errorf("turn counters = %d/%d, want 1/2", resp.Turn, resp.NextTurn)
	}
	if resp.SessionStatus != "active" {
		t.Errorf("sessionStatus = %q, want active", resp.SessionStatus)
	}
	if len(resp.Chips) != 1 || resp.Chips[0].EssenceID != "47_agua_lunar" {
		t.Errorf("unexpected chips: %+v", resp.Chips)
	}
	if resp.UpdatedSession == nil || resp.UpdatedSession.Turn != 2 {
		t.Errorf("updated session not echoed: %+v", resp.UpdatedSession)
	}

	stored, err := st.GetSession(session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if stored.Turn != 2 {
		t.Errorf("stored turn = %d, want 2", stored.Turn)
	}
	if stored.AccumulatedScores["47_agua_lunar"] != 2 {
		t.Errorf("stored scores = %v", stored.AccumulatedScores)
	}

	messages, err := st.GetSessionMessages(session.ID, 1)
	if err != nil {
		t.Fatalf("GetSessionMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if messages[0].AssistantText == "" || len(messages[0].Highlights) != 1 {
		t.Errorf("turn message incomplete: %+v", messages[0])
	}

	rec, env = doRequest(t, server, http.MethodGet, fmt.Sprintf("/api/sessions/%d/", session.ID), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get session returned %d", rec.Code)
	}
	var detail models.SessionDetail
	if err := json.Unmarshal(env.Result, &detail); err != nil {
		t.Fatalf("failed to decode session detail: %v", err)
	}
	if len(detail.Messages) != 1 {
		t.Errorf("session detail messages = %d, want 1", len(detail.Messages))
	}
}

func TestTurnStatelessPersistsNothing(t *testing.T) {
	server, st := newTestServer(&mockGenAIClient{response: engineTurnJSON})

	body := models.TurnRequest{
		UserText: "She never listens when I bring up her phone.",
		Session: &models.Session{
			ID:                999,
			UserID:            "demo-user-default",
			Role:              models.SessionRoleParent,
			ShadowID:          "shadow_phone_use",
			Status:            models.SessionStatusActive,
			Turn:              3,
			Cycle:             1,
			AccumulatedScores: map[string]float64{"47_agua_lunar": 1},
			MiMetrics:         models.DefaultMiMetrics(),
		},
	}
	rec, env := doRequest(t, server, http.MethodPost, "/api/sessions/999/turn", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stateless turn returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.TurnResponse
	if err := json.Unmarshal(env.Result, &resp); err != nil {
		t.Fatalf("failed to decode turn response: %v", err)
	}
	if resp.Turn != 3 || resp.NextTurn != 4 {
		t.Errorf("turn counters = %d/%d, want 3/4", resp.Turn, resp.NextTurn)
	}
	if resp.UpdatedSession == nil || resp.UpdatedSession.Turn != 4 {
		t.Errorf("updated session not echoed: %+v", resp.UpdatedSession)
	}
	if resp.UpdatedSession.AccumulatedScores["47_agua_lunar"] != 3 {
		t.Errorf("echoed scores = %v", resp.UpdatedSession.AccumulatedScores)
	}

	if _, err := st.GetSession(999); err == nil {
		t.Error("stateless turn must not create a stored session")
	}
}

func TestTurnRejectsWrongStatus(t *testing.T) {
	server, st := newTestServer(&mockGenAIClient{response: engineTurnJSON})
	session := createTestSession(t, server, "")

	status := models.SessionStatusAwaitingCrystallize
	if _, err := st.UpdateSession(session.ID, models.SessionUpdate{Status: &status}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	rec, _ := doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/turn", session.ID), models.TurnRequest{
		UserText: "One more thought before we close.",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("turn in awaiting_crystallize returned %d, want 400", rec.Code)
	}
}

// crystallizeTestSession walks a stored session to crystallized with scores,
// the way the reflection loop would.
func crystallizeTestSession(t *testing.T, st store.Store, id int64) {
	t.Helper()
	scores := map[string]float64{"47_agua_lunar": 5, "55_fuego_natural": 2}
	status := models.SessionStatusAwaitingCrystallize
	if _, err := st.UpdateSession(id, models.SessionUpdate{Status: &status, AccumulatedScores: &scores}); err != nil {
		t.Fatalf("UpdateSession to awaiting failed: %v", err)
	}
	status = models.SessionStatusCrystallized
	if _, err := st.UpdateSession(id, models.SessionUpdate{Status: &status}); err != nil {
		t.Fatalf("UpdateSession to crystallized failed: %v", err)
	}
}

func TestEncounterFlow(t *testing.T) {
	server, st := newTestServer(nil)
	session := createTestSession(t, server, "")
	if err := st.CreateMessage(&models.Message{
		SessionID:     session.ID,
		Cycle:         1,
		Turn:          1,
		Mode:          models.MessageModeReflect,
		UserText:      "I keep losing my temper about her phone.",
		AssistantText: "You want to stay steady. What sets it off?",
	}); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	crystallizeTestSession(t, st, session.ID)

	rec, env := doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/encounter/start", session.ID), models.EncounterStartRequest{CompanionID: "fox"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("encounter start returned %d: %s", rec.Code, rec.Body.String())
	}
	var started models.Session
	if err := json.Unmarshal(env.Result, &started); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if started.Status != models.SessionStatusCompanionActive {
		t.Errorf("status = %s, want companion_active", started.Status)
	}
	if started.CompanionID != "fox" {
		t.Errorf("companionID = %q", started.CompanionID)
	}
	if started.CrystallizedEssenceID != "47_agua_lunar" {
		t.Errorf("crystallized essence = %q, want top-scored 47_agua_lunar", started.CrystallizedEssenceID)
	}
	if started.Cycle != 2 || started.Turn != 1 {
		t.Errorf("cycle reset not applied: cycle=%d turn=%d", started.Cycle, started.Turn)
	}
	if started.EncounterState == nil || started.EncounterState.CurrentScene == nil {
		t.Fatalf("encounter state missing: %+v", started.EncounterState)
	}
	if started.EncounterState.CurrentScene.Title != "Approach" {
		t.Errorf("first scene = %q, want Approach", started.EncounterState.CurrentScene.Title)
	}

	// The session fetch only carries current-cycle messages, so the
	// cycle-1 exchange drops out once the new cycle begins.
	rec, env = doRequest(t, server, http.MethodGet, fmt.Sprintf("/api/sessions/%d/", session.ID), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get session returned %d", rec.Code)
	}
	var detail models.SessionDetail
	if err := json.Unmarshal(env.Result, &detail); err != nil {
		t.Fatalf("failed to decode session detail: %v", err)
	}
	if len(detail.Messages) != 0 {
		t.Errorf("messages = %d, want 0 after cycle reset", len(detail.Messages))
	}

	// Starting again is rejected once the encounter is running.
	rec, _ = doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/encounter/start", session.ID), models.EncounterStartRequest{CompanionID: "owl"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("double start returned %d, want 400", rec.Code)
	}

	for i := 0; i < models.EncounterSceneCount; i++ {
		rec, env = doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/encounter/choice", session.ID), models.EncounterChoiceRequest{ChoiceID: 1}, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("choice %d returned %d: %s", i, rec.Code, rec.Body.String())
		}
	}
	var state models.EncounterState
	if err := json.Unmarshal(env.Result, &state); err != nil {
		t.Fatalf("failed to decode encounter state: %v", err)
	}
	if !state.Complete {
		t.Fatal("encounter should be complete after four choices")
	}
	if state.Scores.Calm != 8 {
		t.Errorf("calm = %d, want 8 from four calm choices", state.Scores.Calm)
	}
	if len(state.ChoiceLog) != models.EncounterSceneCount {
		t.Errorf("choice log = %d entries", len(state.ChoiceLog))
	}

	rec, _ = doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/encounter/scene", session.ID), nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("scene after completion returned %d, want 400", rec.Code)
	}

	rec, env = doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/artifact", session.ID), models.ComposeArtifactRequest{ArtifactType: models.ArtifactTypeScroll}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("artifact returned %d: %s", rec.Code, rec.Body.String())
	}
	var final models.Session
	if err := json.Unmarshal(env.Result, &final); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if final.ArtifactType != models.ArtifactTypeScroll {
		t.Errorf("artifactType = %s", final.ArtifactType)
	}
	if final.ArtifactDraft == nil || final.ArtifactDraft.Text == "" {
		t.Errorf("artifact draft missing: %+v", final.ArtifactDraft)
	}
}

func TestEncounterChoiceRequiresStart(t *testing.T) {
	server, _ := newTestServer(nil)
	session := createTestSession(t, server, "")

	rec, _ := doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/encounter/choice", session.ID), models.EncounterChoiceRequest{ChoiceID: 1}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("choice before start returned %d, want 400", rec.Code)
	}
}

func TestArtifactRequiresCompleteEncounter(t *testing.T) {
	server, st := newTestServer(nil)
	session := createTestSession(t, server, "")
	crystallizeTestSession(t, st, session.ID)

	rec, _ := doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/encounter/start", session.ID), models.EncounterStartRequest{CompanionID: "bear"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("encounter start returned %d", rec.Code)
	}

	rec, _ = doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/sessions/%d/artifact", session.ID), models.ComposeArtifactRequest{ArtifactType: models.ArtifactTypePotion}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("early artifact returned %d, want 400", rec.Code)
	}
}

func TestRelays(t *testing.T) {
	server, _ := newTestServer(nil)
	session := createTestSession(t, server, "")

	rec, _ := doRequest(t, server, http.MethodPost, "/api/relays", models.CreateRelayRequest{
		SessionID: session.ID,
		Text:      "We finished our first cycle together.",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create relay returned %d: %s", rec.Code, rec.Body.String())
	}

	rec, _ = doRequest(t, server, http.MethodPost, "/api/relays", models.CreateRelayRequest{
		SessionID: session.ID,
		Text:      "Trying to relay someone else's session.",
	}, "intruder")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("foreign relay returned %d, want 401", rec.Code)
	}

	rec, _ = doRequest(t, server, http.MethodPost, "/api/relays", models.CreateRelayRequest{
		SessionID: session.ID,
		Text:      "Second note.",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("second relay returned %d", rec.Code)
	}

	rec, env := doRequest(t, server, http.MethodGet, "/api/relays", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list relays returned %d", rec.Code)
	}
	var relays []models.Relay
	if err := json.Unmarshal(env.Result, &relays); err != nil {
		t.Fatalf("failed to decode relays: %v", err)
	}
	if len(relays) != 2 {
		t.Fatalf("relays = %d, want 2", len(relays))
	}
	if relays[0].Text != "Second note." {
		t.Errorf("relays not newest first: %+v", relays)
	}
}
