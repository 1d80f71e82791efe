// Package store provides storage backends for Reverie.
//
// It includes Postgres and SQLite stores for sessions, messages, and relays,
// plus an in-memory store used in tests and stateless deployments.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reverie-app/reverie/internal/models"
)

// Store defines the persistence operations used by the API layer.
type Store interface {
	// CreateSession inserts a new session and fills in its ID and timestamps.
	CreateSession(s *models.Session) error
	// GetSession fetches a session by id, returning models.ErrSessionNotFound
	// when it does not exist.
	GetSession(id int64) (*models.Session, error)
	// UpdateSession applies a partial update, validating status transitions,
	// and returns the updated session.
	UpdateSession(id int64, u models.SessionUpdate) (*models.Session, error)
	// CreateMessage inserts a message and fills in its ID and timestamp.
	CreateMessage(m *models.Message) error
	// GetSessionMessages returns a session's messages in insertion order.
	// A cycle of 0 returns every cycle.
	GetSessionMessages(sessionID int64, cycle int) ([]models.Message, error)
	// CreateRelay inserts a relay and fills in its ID and timestamp.
	CreateRelay(r *models.Relay) error
	// GetUserRelays returns a user's relays, newest first.
	GetUserRelays(userID string) ([]models.Relay, error)
	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a functional option for store configuration.
type Option func(*Opts)

// WithPostgresDSN sets the DSN for the Postgres store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the DSN (file path) for the SQLite store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports which driver a DSN belongs to: "postgres" for
// URL-style or key=value connection strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps everything in maps. It backs tests and setups that
// run without a database.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessions   map[int64]*models.Session
	messages   map[int64][]models.Message
	relays     []models.Relay
	nextSessID int64
	nextMsgID  int64
	nextRelay  int64
}

// Ensure InMemoryStore satisfies Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[int64]*models.Session),
		messages: make(map[int64][]models.Message),
	}
}

func cloneSession(s *models.Session) *models.Session {
	out := *s
	if s.AccumulatedScores != nil {
		out.AccumulatedScores = make(map[string]float64, len(s.AccumulatedScores))
		for k, v := range s.AccumulatedScores {
			out.AccumulatedScores[k] = v
		}
	}
	if s.EncounterState != nil {
		state := *s.EncounterState
		state.ChoiceLog = append([]models.EncounterChoiceRecord(nil), s.EncounterState.ChoiceLog...)
		if s.EncounterState.CurrentScene != nil {
			scene := *s.EncounterState.CurrentScene
			scene.Choices = append([]models.EncounterChoice(nil), s.EncounterState.CurrentScene.Choices...)
			state.CurrentScene = &scene
		}
		out.EncounterState = &state
	}
	if s.ArtifactDraft != nil {
		draft := *s.ArtifactDraft
		draft.EssenceHighlights = append([]string(nil), s.ArtifactDraft.EssenceHighlights...)
		out.ArtifactDraft = &draft
	}
	return &out
}

// CreateSession inserts a session and assigns its id and timestamps.
func (s *InMemoryStore) CreateSession(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessID++
	session.ID = s.nextSessID
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetSession fetches a session by id.
func (s *InMemoryStore) GetSession(id int64) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// UpdateSession applies a partial update and returns the updated session.
func (s *InMemoryStore) UpdateSession(id int64, u models.SessionUpdate) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	updated := cloneSession(session)
	if err := updated.ApplyUpdate(u); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()
	s.sessions[id] = updated
	return cloneSession(updated), nil
}

// CreateMessage inserts a message and assigns its id and timestamp.
func (s *InMemoryStore) CreateMessage(m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return models.ErrSessionNotFound
	}
	s.nextMsgID++
	m.ID = s.nextMsgID
	m.CreatedAt = time.Now().UTC()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	return nil
}

// GetSessionMessages returns a session's messages, optionally filtered by
// cycle, in insertion order.
func (s *InMemoryStore) GetSessionMessages(sessionID int64, cycle int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages[sessionID] {
		if cycle > 0 && m.Cycle != cycle {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// CreateRelay inserts a relay and assigns its id and timestamp.
func (s *InMemoryStore) CreateRelay(r *models.Relay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRelay++
	r.ID = s.nextRelay
	r.CreatedAt = time.Now().UTC()
	s.relays = append(s.relays, *r)
	return nil
}

// GetUserRelays returns a user's relays, newest first.
func (s *InMemoryStore) GetUserRelays(userID string) ([]models.Relay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Relay
	for _, r := range s.relays {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
