// Package store provides storage backends for Reverie.
//
// This file implements a PostgreSQL-backed store for sessions, messages,
// and relays.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/reverie-app/reverie/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore satisfies Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// CreateSession inserts a session and assigns its id and timestamps.
func (s *PostgresStore) CreateSession(session *models.Session) error {
	values, err := sessionColumnValues(session)
	if err != nil {
		slog.Error("PostgresStore CreateSession marshal failed", "error", err, "userID", session.UserID)
		return err
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	values = append(values, now, now)

	err = s.db.QueryRow(`INSERT INTO sessions (user_id, role, shadow_id, shadow_custom, companion_id, artifact_type, status, turn, cycle, accumulated_scores, mi_metrics, encounter_state, artifact_draft, spell, opening_question, crystallized_essence_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18) RETURNING id`, values...).Scan(&session.ID)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to insert session: %w", err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "sessionID", session.ID, "userID", session.UserID)
	return nil
}

// GetSession fetches a session by id.
func (s *PostgresStore) GetSession(id int64) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "sessionID", id)
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to query session %d: %w", id, err)
	}
	return session, nil
}

// UpdateSession applies a partial update and returns the updated session.
func (s *PostgresStore) UpdateSession(id int64, u models.SessionUpdate) (*models.Session, error) {
	session, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	if err := session.ApplyUpdate(u); err != nil {
		return nil, err
	}
	session.UpdatedAt = time.Now().UTC()

	values, err := sessionColumnValues(session)
	if err != nil {
		slog.Error("PostgresStore UpdateSession marshal failed", "error", err, "sessionID", id)
		return nil, err
	}
	values = append(values, session.UpdatedAt, id)

	_, err = s.db.Exec(`UPDATE sessions SET user_id = $1, role = $2, shadow_id = $3, shadow_custom = $4, companion_id = $5, artifact_type = $6, status = $7, turn = $8, cycle = $9, accumulated_scores = $10, mi_metrics = $11, encounter_state = $12, artifact_draft = $13, spell = $14, opening_question = $15, crystallized_essence_id = $16, updated_at = $17 WHERE id = $18`, values...)
	if err != nil {
		slog.Error("PostgresStore UpdateSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to update session %d: %w", id, err)
	}
	slog.Debug("PostgresStore UpdateSession succeeded", "sessionID", id, "status", session.Status, "turn", session.Turn)
	return session, nil
}

// CreateMessage inserts a message and assigns its id and timestamp.
func (s *PostgresStore) CreateMessage(m *models.Message) error {
	highlightsJSON := ""
	if len(m.Highlights) > 0 {
		var err error
		highlightsJSON, err = marshalJSONColumn(m.Highlights)
		if err != nil {
			slog.Error("PostgresStore CreateMessage marshal failed", "error", err, "sessionID", m.SessionID)
			return err
		}
	}
	m.CreatedAt = time.Now().UTC()

	err := s.db.QueryRow(`INSERT INTO messages (session_id, cycle, turn, mode, user_text, assistant_text, highlights, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		m.SessionID, m.Cycle, m.Turn, string(m.Mode), nilIfEmpty(m.UserText), nilIfEmpty(m.AssistantText), nilIfEmpty(highlightsJSON), m.CreatedAt).Scan(&m.ID)
	if err != nil {
		slog.Error("PostgresStore CreateMessage failed", "error", err, "sessionID", m.SessionID)
		return fmt.Errorf("failed to insert message for session %d: %w", m.SessionID, err)
	}
	slog.Debug("PostgresStore CreateMessage succeeded", "sessionID", m.SessionID, "turn", m.Turn)
	return nil
}

// GetSessionMessages returns a session's messages in insertion order. A
// cycle of 0 returns every cycle.
func (s *PostgresStore) GetSessionMessages(sessionID int64, cycle int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = $1`
	args := []interface{}{sessionID}
	if cycle > 0 {
		query += ` AND cycle = $2`
		args = append(args, cycle)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore GetSessionMessages query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query messages for session %d: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("PostgresStore GetSessionMessages scan failed", "error", err, "sessionID", sessionID)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetSessionMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore GetSessionMessages succeeded", "sessionID", sessionID, "cycle", cycle, "count", len(messages))
	return messages, nil
}

// CreateRelay inserts a relay and assigns its id and timestamp.
func (s *PostgresStore) CreateRelay(r *models.Relay) error {
	r.CreatedAt = time.Now().UTC()
	err := s.db.QueryRow(`INSERT INTO relays (user_id, session_id, text, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		r.UserID, r.SessionID, r.Text, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		slog.Error("PostgresStore CreateRelay failed", "error", err, "userID", r.UserID)
		return fmt.Errorf("failed to insert relay for %s: %w", r.UserID, err)
	}
	slog.Debug("PostgresStore CreateRelay succeeded", "userID", r.UserID, "sessionID", r.SessionID)
	return nil
}

// GetUserRelays returns a user's relays, newest first.
func (s *PostgresStore) GetUserRelays(userID string) ([]models.Relay, error) {
	rows, err := s.db.Query(`SELECT id, user_id, session_id, text, created_at FROM relays WHERE user_id = $1 ORDER BY id DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore GetUserRelays query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query relays for %s: %w", userID, err)
	}
	defer rows.Close()

	var relays []models.Relay
	for rows.Next() {
		var r models.Relay
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Text, &r.CreatedAt); err != nil {
			slog.Error("PostgresStore GetUserRelays scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan relay row: %w", err)
		}
		relays = append(relays, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetUserRelays rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate relay rows: %w", err)
	}
	slog.Debug("PostgresStore GetUserRelays succeeded", "userID", userID, "count", len(relays))
	return relays, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}
