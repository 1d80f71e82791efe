package models

import "testing"

func TestValidStatusTransition(t *testing.T) {
	cases := []struct {
		name string
		from SessionStatus
		to   SessionStatus
		want bool
	}{
		{"active to awaiting", SessionStatusActive, SessionStatusAwaitingCrystallize, true},
		{"awaiting to crystallized", SessionStatusAwaitingCrystallize, SessionStatusCrystallized, true},
		{"crystallized to companion", SessionStatusCrystallized, SessionStatusCompanionActive, true},
		{"companion to active", SessionStatusCompanionActive, SessionStatusActive, true},
		{"companion to awaiting at turn cap", SessionStatusCompanionActive, SessionStatusAwaitingCrystallize, true},
		{"no-op", SessionStatusActive, SessionStatusActive, true},
		{"active to crystallized skips", SessionStatusActive, SessionStatusCrystallized, false},
		{"backwards", SessionStatusCrystallized, SessionStatusActive, false},
		{"awaiting to companion skips", SessionStatusAwaitingCrystallize, SessionStatusCompanionActive, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidStatusTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("ValidStatusTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestApplyUpdateCycleCompletion(t *testing.T) {
	s := &Session{
		Status:            SessionStatusCrystallized,
		Turn:              12,
		Cycle:             1,
		AccumulatedScores: map[string]float64{"47_agua_lunar": 4},
		MiMetrics:         MiMetrics{OpenQuestions: 5},
		EncounterState:    DefaultEncounterState(),
	}
	status := SessionStatusCompanionActive
	if err := s.ApplyUpdate(SessionUpdate{Status: &status}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Turn != 1 {
		t.Errorf("expected turn reset to 1, got %d", s.Turn)
	}
	if s.Cycle != 2 {
		t.Errorf("expected cycle 2, got %d", s.Cycle)
	}
	if len(s.AccumulatedScores) != 0 {
		t.Errorf("expected scores reset, got %v", s.AccumulatedScores)
	}
	if s.MiMetrics != DefaultMiMetrics() {
		t.Errorf("expected metrics reset, got %+v", s.MiMetrics)
	}
	if s.EncounterState != nil {
		t.Error("expected encounter state cleared")
	}
}

func TestApplyUpdateRejectsInvalidTransition(t *testing.T) {
	s := &Session{Status: SessionStatusActive}
	status := SessionStatusCrystallized
	err := s.ApplyUpdate(SessionUpdate{Status: &status})
	if err == nil {
		t.Fatal("expected error for active -> crystallized")
	}
	if s.Status != SessionStatusActive {
		t.Errorf("status should be unchanged, got %s", s.Status)
	}
}

func TestCreateSessionRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     CreateSessionRequest
		wantErr bool
	}{
		{"valid parent", CreateSessionRequest{Role: SessionRoleParent, ShadowID: "shadow_phone_use"}, false},
		{"valid teen with custom shadow", CreateSessionRequest{Role: SessionRoleTeen, ShadowID: CustomShadowID, ShadowCustom: "homework battles"}, false},
		{"missing role", CreateSessionRequest{ShadowID: "shadow_trust"}, true},
		{"bad role", CreateSessionRequest{Role: "uncle", ShadowID: "shadow_trust"}, true},
		{"missing shadow", CreateSessionRequest{Role: SessionRoleParent}, true},
		{"custom without text", CreateSessionRequest{Role: SessionRoleParent, ShadowID: CustomShadowID}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestTurnRequestValidate(t *testing.T) {
	long := make([]byte, MaxUserTextLength+1)
	for i := range long {
		long[i] = 'a'
	}
	cases := []struct {
		name    string
		req     TurnRequest
		wantErr bool
	}{
		{"valid", TurnRequest{UserText: "She never listens to me."}, false},
		{"empty", TurnRequest{}, true},
		{"too long", TurnRequest{UserText: string(long)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
