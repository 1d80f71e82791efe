package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reverie-app/reverie/internal/encounter"
	"github.com/reverie-app/reverie/internal/essence"
	"github.com/reverie-app/reverie/internal/loop"
	"github.com/reverie-app/reverie/internal/models"
)

// DemoUserHeader selects the acting demo identity. Requests without it act
// as the default demo user.
const DemoUserHeader = "X-Demo-User-ID"

// demoUserPrefix namespaces demo identities in storage.
const demoUserPrefix = "demo-user-"

// userIDFromRequest resolves the acting user from the demo identity header.
func userIDFromRequest(r *http.Request) string {
	if v := r.Header.Get(DemoUserHeader); v != "" {
		return demoUserPrefix + v
	}
	return demoUserPrefix + "default"
}

// sessionIDFromRequest parses the {id} route parameter.
func sessionIDFromRequest(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// loadOwnedSession fetches a session and enforces ownership, writing the
// error response itself when the session is missing or owned by someone else.
func (s *Server) loadOwnedSession(w http.ResponseWriter, r *http.Request, id int64) (*models.Session, bool) {
	session, err := s.st.GetSession(id)
	if errors.Is(err, models.ErrSessionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return nil, false
	}
	if err != nil {
		slog.Error("Server.loadOwnedSession: failed to load session", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return nil, false
	}
	if session.UserID != userIDFromRequest(r) {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Not session owner"))
		return nil, false
	}
	return session, true
}

// healthHandler reports service liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

// shadowsHandler returns the shadow catalog for the session picker.
func (s *Server) shadowsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(loop.ShadowsCatalog()))
}

// createSessionHandler starts a new reflection session with an opening
// question generated for the chosen shadow.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON payload"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	session := &models.Session{
		UserID:            userIDFromRequest(r),
		Role:              req.Role,
		ShadowID:          req.ShadowID,
		ShadowCustom:      req.ShadowCustom,
		Status:            models.SessionStatusActive,
		Turn:              1,
		Cycle:             1,
		AccumulatedScores: map[string]float64{},
		MiMetrics:         models.DefaultMiMetrics(),
	}
	session.OpeningQuestion = s.engine.GenerateOpeningGreeting(r.Context(), req.ShadowID)

	if err := s.st.CreateSession(session); err != nil {
		slog.Error("Server.createSessionHandler: failed to create session", "error", err, "userID", session.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}

	slog.Info("Server.createSessionHandler: session created", "sessionID", session.ID, "shadowID", session.ShadowID)
	writeJSONResponse(w, http.StatusCreated, models.Success(session))
}

// getSessionHandler returns a session with its current-cycle messages.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDFromRequest(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}
	session, ok := s.loadOwnedSession(w, r, id)
	if !ok {
		return
	}

	messages, err := s.st.GetSessionMessages(id, session.Cycle)
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to load messages", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session messages"))
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.SessionDetail{Session: session, Messages: messages}))
}

// updateSessionHandler applies a partial session update, enforcing the
// session status state machine.
func (s *Server) updateSessionHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id, err := sessionIDFromRequest(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}

	var update models.SessionUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON payload"))
		return
	}

	lock := s.locks.lock(id)
	defer lock.Unlock()

	if _, ok := s.loadOwnedSession(w, r, id); !ok {
		return
	}

	session, err := s.st.UpdateSession(id, update)
	if errors.Is(err, models.ErrInvalidTransition) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err != nil {
		slog.Error("Server.updateSessionHandler: failed to update session", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session))
}

// messagesHandler returns a session's messages, optionally filtered by the
// cycle query parameter.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDFromRequest(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}
	if _, ok := s.loadOwnedSession(w, r, id); !ok {
		return
	}

	cycle := 0
	if raw := r.URL.Query().Get("cycle"); raw != "" {
		cycle, err = strconv.Atoi(raw)
		if err != nil || cycle < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid cycle parameter"))
			return
		}
	}

	messages, err := s.st.GetSessionMessages(id, cycle)
	if err != nil {
		slog.Error("Server.messagesHandler: failed to load messages", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// turnHandler processes one reflection turn. When the request body carries
// its own session state the turn runs stateless and nothing is persisted.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id, err := sessionIDFromRequest(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON payload"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if s.gaClient == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("GenAI is not configured"))
		return
	}

	if req.Stateless() {
		s.processStatelessTurn(w, r, &req)
		return
	}

	lock := s.locks.lock(id)
	defer lock.Unlock()

	session, ok := s.loadOwnedSession(w, r, id)
	if !ok {
		return
	}
	if session.Status != models.SessionStatusActive && session.Status != models.SessionStatusCompanionActive {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Session is not accepting reflection turns"))
		return
	}

	history, err := s.st.GetSessionMessages(id, session.Cycle)
	if err != nil {
		slog.Error("Server.turnHandler: failed to load history", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session history"))
		return
	}

	result, err := s.engine.ProcessTurn(r.Context(), session, history, req.UserText)
	if err != nil {
		slog.Error("Server.turnHandler: turn processing failed", "error", err, "sessionID", id, "turn", session.Turn)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = models.MessageModeReflect
	}
	message := &models.Message{
		SessionID:     id,
		Cycle:         session.Cycle,
		Turn:          result.Turn,
		Mode:          mode,
		UserText:      req.UserText,
		AssistantText: result.AssistantText,
		Highlights:    result.Chips,
	}
	if err := s.st.CreateMessage(message); err != nil {
		slog.Error("Server.turnHandler: failed to persist message", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to persist turn"))
		return
	}

	updated, err := s.st.UpdateSession(id, models.SessionUpdate{
		Turn:              &result.NextTurn,
		Status:            &result.Status,
		AccumulatedScores: &result.Scores,
		MiMetrics:         &result.Metrics,
	})
	if err != nil {
		slog.Error("Server.turnHandler: failed to persist session state", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to persist turn"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(turnResponse(result, updated)))
}

// processStatelessTurn runs the turn against caller-supplied state. The
// updated session is echoed back instead of stored.
func (s *Server) processStatelessTurn(w http.ResponseWriter, r *http.Request, req *models.TurnRequest) {
	result, err := s.engine.ProcessTurn(r.Context(), req.Session, req.Messages, req.UserText)
	if err != nil {
		slog.Error("Server.turnHandler: stateless turn processing failed", "error", err, "turn", req.Session.Turn)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
		return
	}

	updated := *req.Session
	updated.Turn = result.NextTurn
	updated.Status = result.Status
	updated.AccumulatedScores = result.Scores
	updated.MiMetrics = result.Metrics

	writeJSONResponse(w, http.StatusOK, models.Success(turnResponse(result, &updated)))
}

// turnResponse assembles the client-facing reply for a processed turn.
func turnResponse(result *loop.TurnResult, session *models.Session) models.TurnResponse {
	return models.TurnResponse{
		AssistantText:  result.AssistantText,
		Chips:          result.VisibleChips(),
		Turn:           result.Turn,
		NextTurn:       result.NextTurn,
		StabilityIndex: result.StabilityIndex,
		CanCrystallize: result.CanCrystallize,
		SessionStatus:  result.ReportedStatus(),
		UpdatedSession: session,
	}
}

// encounterEssences resolves the essences driving scene generation. After a
// cycle reset the accumulated scores are empty, so the crystallized essence
// stands in as the strongest one.
func encounterEssences(session *models.Session) []encounter.TopEssence {
	top := encounter.TopEssences(session.AccumulatedScores)
	if len(top) == 0 && session.CrystallizedEssenceID != "" {
		if archetype, ok := essence.Lookup(session.CrystallizedEssenceID); ok {
			top = []encounter.TopEssence{{ID: session.CrystallizedEssenceID, Archetype: archetype}}
		}
	}
	return top
}

// encounterStartHandler begins the encounter mini-game: the companion joins,
// the conversation is summarized, the strongest essence crystallizes, and the
// first scene is generated. The session moves to companion_active, which
// also starts the next reflection cycle.
func (s *Server) encounterStartHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id, err := sessionIDFromRequest(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}

	var req models.EncounterStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON payload"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if !encounter.ValidCompanionID(req.CompanionID) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown companion"))
		return
	}

	lock := s.locks.lock(id)
	defer lock.Unlock()

	session, ok := s.loadOwnedSession(w, r, id)
	if !ok {
		return
	}
	if session.Status != models.SessionStatusCrystallized {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Session is not ready for an encounter"))
		return
	}

	history, err := s.st.GetSessionMessages(id, session.Cycle)
	if err != nil {
		slog.Error("Server.encounterStartHandler: failed to load history", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session history"))
		return
	}

	shadowLabel := loop.EncounterShadowLabel(session.ShadowID)
	topEssences := encounterEssences(session)

	state := models.DefaultEncounterState()
	state.ConversationSummary = s.generator.SummarizeConversation(r.Context(), history, shadowLabel)
	state.CurrentScene = s.generator.GenerateScene(r.Context(), encounter.SceneParams{
		SceneIndex:          0,
		CompanionID:         req.CompanionID,
		ShadowLabel:         shadowLabel,
		ConversationSummary: state.ConversationSummary,
		TopEssences:         topEssences,
	})

	update := models.SessionUpdate{
		CompanionID:    &req.CompanionID,
		EncounterState: state,
	}
	status := models.SessionStatusCompanionActive
	update.Status = &status
	if len(topEssences) > 0 {
		update.CrystallizedEssenceID = &topEssences[0].ID
	}

	updated, err := s.st.UpdateSession(id, update)
	if err != nil {
		slog.Error("Server.encounterStartHandler: failed to persist encounter state", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start encounter"))
		return
	}

	slog.Info("Server.encounterStartHandler: encounter started", "sessionID", id, "companionID", req.CompanionID)
	writeJSONResponse(w, http.StatusOK, models.Success(updated))
}

// encounterSceneHandler returns the current scene, regenerating it if the
// stored one was lost.
func (s *Server) encounterSceneHandler(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDFromRequest(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}

	lock := s.locks.lock(id)
	defer lock.Unlock()

	session, ok := s.loadOwnedSession(w, r, id)
	if !ok {
		return
	}
	state := session.EncounterState
	if state == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Encounter has not started"))
		return
	}
	if state.Complete {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Encounter is already complete"))
		return
	}

	if state.CurrentScene == nil {
		state.CurrentScene = s.generator.GenerateScene(r.Context(), encounter.SceneParams{
			SceneIndex:          state.SceneIndex,
			CompanionID:         session.CompanionID,
			ShadowLabel:         loop.EncounterShadowLabel(session.ShadowID),
			ConversationSummary: state.ConversationSummary,
			TopEssences:         encounterEssences(session),
			PreviousChoices:     state.ChoiceLog,
			ChosenEssenceID:     state.ChosenEssenceID,
		})
		if _, err := s.st.UpdateSession(id, models.SessionUpdate{EncounterState: state}); err != nil {
			slog.Error("Server.encounterSceneHandler: failed to persist scene", "error", err, "sessionID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load scene"))
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// encounterChoiceHandler records the parent's pick for the current scene.
// The choice is resolved server-side from the stored scene so clients cannot
// supply their own deltas or outcomes.
func (s *Server) encounterChoiceHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id, err := sessionIDFromRequest(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}

	var req models.EncounterChoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON payload"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if req.EssenceID != "" && !essence.IsValid(req.EssenceID) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown essence"))
		return
	}

	lock := s.locks.lock(id)
	defer lock.Unlock()

	session, ok := s.loadOwnedSession(w, r, id)
	if !ok {
		return
	}
	state := session.EncounterState
	if state == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Encounter has not started"))
		return
	}
	if state.Complete {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Encounter is already complete"))
		return
	}
	if state.CurrentScene == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No active scene"))
		return
	}

	var chosen *models.EncounterChoice
	for i := range state.CurrentScene.Choices {
		if state.CurrentScene.Choices[i].ID == req.ChoiceID {
			chosen = &state.CurrentScene.Choices[i]
			break
		}
	}
	if chosen == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Choice not found in current scene"))
		return
	}

	state.ChoiceLog = append(state.ChoiceLog, models.EncounterChoiceRecord{
		SceneIndex: state.SceneIndex,
		ChoiceID:   chosen.ID,
		ChoiceText: chosen.Text,
		Outcome:    chosen.Outcome,
		Delta:      chosen.Delta,
		EssenceID:  req.EssenceID,
	})
	state.Scores = state.Scores.Add(chosen.Delta)
	if req.EssenceID != "" {
		state.ChosenEssenceID = req.EssenceID
	}
	state.SceneIndex++
	state.Complete = state.SceneIndex >= models.EncounterSceneCount

	if state.Complete {
		state.CurrentScene = nil
	} else {
		state.CurrentScene = s.generator.GenerateScene(r.Context(), encounter.SceneParams{
			SceneIndex:          state.SceneIndex,
			CompanionID:         session.CompanionID,
			ShadowLabel:         loop.EncounterShadowLabel(session.ShadowID),
			ConversationSummary: state.ConversationSummary,
			TopEssences:         encounterEssences(session),
			PreviousChoices:     state.ChoiceLog,
			ChosenEssenceID:     state.ChosenEssenceID,
		})
	}

	if _, err := s.st.UpdateSession(id, models.SessionUpdate{EncounterState: state}); err != nil {
		slog.Error("Server.encounterChoiceHandler: failed to persist choice", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record choice"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// composeArtifactHandler composes the closing artifact once the encounter is
// complete and stores it on the session.
func (s *Server) composeArtifactHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id, err := sessionIDFromRequest(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid session id"))
		return
	}

	var req models.ComposeArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON payload"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	lock := s.locks.lock(id)
	defer lock.Unlock()

	session, ok := s.loadOwnedSession(w, r, id)
	if !ok {
		return
	}
	if session.EncounterState == nil || !session.EncounterState.Complete {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Encounter is not complete"))
		return
	}

	draft := s.generator.ComposeArtifact(r.Context(), encounter.ArtifactParams{
		ArtifactType:        req.ArtifactType,
		CompanionID:         session.CompanionID,
		ShadowLabel:         loop.EncounterShadowLabel(session.ShadowID),
		ConversationSummary: session.EncounterState.ConversationSummary,
		TopEssences:         encounterEssences(session),
		Choices:             session.EncounterState.ChoiceLog,
		Scores:              session.EncounterState.Scores,
	})

	updated, err := s.st.UpdateSession(id, models.SessionUpdate{
		ArtifactType:  &req.ArtifactType,
		ArtifactDraft: draft,
	})
	if err != nil {
		slog.Error("Server.composeArtifactHandler: failed to persist artifact", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compose artifact"))
		return
	}

	slog.Info("Server.composeArtifactHandler: artifact composed", "sessionID", id, "artifactType", req.ArtifactType)
	writeJSONResponse(w, http.StatusOK, models.Success(updated))
}

// createRelayHandler stores a shareable note from a finished cycle.
func (s *Server) createRelayHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.CreateRelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON payload"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	userID := userIDFromRequest(r)
	session, err := s.st.GetSession(req.SessionID)
	if errors.Is(err, models.ErrSessionNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	if err != nil {
		slog.Error("Server.createRelayHandler: failed to load session", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}
	if session.UserID != userID {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Not session owner"))
		return
	}

	relay := &models.Relay{
		UserID:    userID,
		SessionID: req.SessionID,
		Text:      req.Text,
	}
	if err := s.st.CreateRelay(relay); err != nil {
		slog.Error("Server.createRelayHandler: failed to create relay", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create relay"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(relay))
}

// listRelaysHandler returns the acting user's relays, newest first.
func (s *Server) listRelaysHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	relays, err := s.st.GetUserRelays(userID)
	if err != nil {
		slog.Error("Server.listRelaysHandler: failed to load relays", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load relays"))
		return
	}
	if relays == nil {
		relays = []models.Relay{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(relays))
}
