// Package store provides storage backends for Reverie.
//
// This file implements an SQLite-backed store for sessions, messages, and
// relays.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reverie-app/reverie/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore satisfies Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// CreateSession inserts a session and assigns its id and timestamps.
func (s *SQLiteStore) CreateSession(session *models.Session) error {
	values, err := sessionColumnValues(session)
	if err != nil {
		slog.Error("SQLiteStore CreateSession marshal failed", "error", err, "userID", session.UserID)
		return err
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	values = append(values, now, now)

	res, err := s.db.Exec(`INSERT INTO sessions (user_id, role, shadow_id, shadow_custom, companion_id, artifact_type, status, turn, cycle, accumulated_scores, mi_metrics, encounter_state, artifact_draft, spell, opening_question, crystallized_essence_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, values...)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		slog.Error("SQLiteStore CreateSession id lookup failed", "error", err)
		return fmt.Errorf("failed to read inserted session id: %w", err)
	}
	session.ID = id
	slog.Debug("SQLiteStore CreateSession succeeded", "sessionID", id, "userID", session.UserID)
	return nil
}

// GetSession fetches a session by id.
func (s *SQLiteStore) GetSession(id int64) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "sessionID", id)
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to query session %d: %w", id, err)
	}
	return session, nil
}

// UpdateSession applies a partial update and returns the updated session.
func (s *SQLiteStore) UpdateSession(id int64, u models.SessionUpdate) (*models.Session, error) {
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
		slog.Error("SQLiteStore UpdateSession marshal failed", "error", err, "sessionID", id)
		return nil, err
	}
	values = append(values, session.UpdatedAt, id)

	_, err = s.db.Exec(`UPDATE sessions SET user_id = ?, role = ?, shadow_id = ?, shadow_custom = ?, companion_id = ?, artifact_type = ?, status = ?, turn = ?, cycle = ?, accumulated_scores = ?, mi_metrics = ?, encounter_state = ?, artifact_draft = ?, spell = ?, opening_question = ?, crystallized_essence_id = ?, updated_at = ? WHERE id = ?`, values...)
	if err != nil {
		slog.Error("SQLiteStore UpdateSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to update session %d: %w", id, err)
	}
	slog.Debug("SQLiteStore UpdateSession succeeded", "sessionID", id, "status", session.Status, "turn", session.Turn)
	return session, nil
}

// CreateMessage inserts a message and assigns its id and timestamp.
func (s *SQLiteStore) CreateMessage(m *models.Message) error {
	highlightsJSON := ""
	if len(m.Highlights) > 0 {
		var err error
		highlightsJSON, err = marshalJSONColumn(m.Highlights)
		if err != nil {
			slog.Error("SQLiteStore CreateMessage marshal failed", "error", err, "sessionID", m.SessionID)
			return err
		}
	}
	m.CreatedAt = time.Now().UTC()

	res, err := s.db.Exec(`INSERT INTO messages (session_id, cycle, turn, mode, user_text, assistant_text, highlights, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Cycle, m.Turn, string(m.Mode), nilIfEmpty(m.UserText), nilIfEmpty(m.AssistantText), nilIfEmpty(highlightsJSON), m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateMessage failed", "error", err, "sessionID", m.SessionID)
		return fmt.Errorf("failed to insert message for session %d: %w", m.SessionID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted message id: %w", err)
	}
	m.ID = id
	slog.Debug("SQLiteStore CreateMessage succeeded", "sessionID", m.SessionID, "turn", m.Turn)
	return nil
}

// GetSessionMessages returns a session's messages in insertion order. A
// cycle of 0 returns every cycle.
func (s *SQLiteStore) GetSessionMessages(sessionID int64, cycle int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ?`
	args := []interface{}{sessionID}
	if cycle > 0 {
		query += ` AND cycle = ?`
		args = append(args, cycle)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore GetSessionMessages query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query messages for session %d: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("SQLiteStore GetSessionMessages scan failed", "error", err, "sessionID", sessionID)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetSessionMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore GetSessionMessages succeeded", "sessionID", sessionID, "cycle", cycle, "count", len(messages))
	return messages, nil
}

// CreateRelay inserts a relay and assigns its id and timestamp.
func (s *SQLiteStore) CreateRelay(r *models.Relay) error {
	r.CreatedAt = time.Now().UTC()
	res, err := s.db.Exec(`INSERT INTO relays (user_id, session_id, text, created_at) VALUES (?, ?, ?, ?)`,
		r.UserID, r.SessionID, r.Text, r.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateRelay failed", "error", err, "userID", r.UserID)
		return fmt.Errorf("failed to insert relay for %s: %w", r.UserID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted relay id: %w", err)
	}
	r.ID = id
	slog.Debug("SQLiteStore CreateRelay succeeded", "userID", r.UserID, "sessionID", r.SessionID)
	return nil
}

// GetUserRelays returns a user's relays, newest first.
func (s *SQLiteStore) GetUserRelays(userID string) ([]models.Relay, error) {
	rows, err := s.db.Query(`SELECT id, user_id, session_id, text, created_at FROM relays WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore GetUserRelays query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query relays for %s: %w", userID, err)
	}
	defer rows.Close()

	var relays []models.Relay
	for rows.Next() {
		var r models.Relay
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.Text, &r.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetUserRelays scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan relay row: %w", err)
		}
		relays = append(relays, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetUserRelays rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate relay rows: %w", err)
	}
	slog.Debug("SQLiteStore GetUserRelays succeeded", "userID", userID, "count", len(relays))
	return relays, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
