package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// schema is applied on every Open; all statements are idempotent. The
// partial unique index is what enforces the one-open-session-per-controller
// invariant at the storage layer, so a racing second login fails loudly
// instead of corrupting state.
const schema = `
CREATE TABLE IF NOT EXISTS players (
	player_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL UNIQUE,
	rfid_tag   TEXT UNIQUE,
	high_score INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	player_id     INTEGER NOT NULL REFERENCES players(player_id),
	controller_id TEXT NOT NULL,
	round         INTEGER NOT NULL DEFAULT 1,
	login_method  TEXT NOT NULL,
	start_time    INTEGER NOT NULL,
	end_time      INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open
	ON sessions(controller_id) WHERE end_time IS NULL;

CREATE TABLE IF NOT EXISTS round_scores (
	controller_id TEXT NOT NULL,
	player_id     INTEGER NOT NULL REFERENCES players(player_id),
	round         INTEGER NOT NULL,
	points        INTEGER NOT NULL DEFAULT 0,
	last_update   INTEGER NOT NULL,
	PRIMARY KEY (controller_id, round)
);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. WAL mode plus a busy timeout keeps the orchestrator's writes
// and the HTTP handlers' reads from blocking each other.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FindOrCreatePlayer resolves or creates a player by username.
func (s *SQLiteStore) FindOrCreatePlayer(ctx context.Context, username string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, fmt.Errorf("username is required")
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT player_id FROM players WHERE username = ?`, username).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find player: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO players (username) VALUES (?) ON CONFLICT(username) DO NOTHING`,
		username); err != nil {
		return 0, fmt.Errorf("create player: %w", err)
	}
	// Re-select instead of LastInsertId so a concurrent insert of the same
	// username still resolves to the surviving row.
	if err := s.db.QueryRowContext(ctx,
		`SELECT player_id FROM players WHERE username = ?`, username).Scan(&id); err != nil {
		return 0, fmt.Errorf("create player: %w", err)
	}
	return id, nil
}

// FindOrCreatePlayerByRFID resolves a player by RFID tag, creating the
// record if the tag is unknown.
func (s *SQLiteStore) FindOrCreatePlayerByRFID(ctx context.Context, username, rfidTag string) (int64, error) {
	rfidTag = strings.TrimSpace(rfidTag)
	if rfidTag == "" {
		return 0, fmt.Errorf("rfid tag is required")
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT player_id FROM players WHERE rfid_tag = ?`, rfidTag).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find player by rfid: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO players (username, rfid_tag) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET rfid_tag = excluded.rfid_tag`,
		strings.TrimSpace(username), rfidTag); err != nil {
		return 0, fmt.Errorf("create player by rfid: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT player_id FROM players WHERE rfid_tag = ?`, rfidTag).Scan(&id); err != nil {
		return 0, fmt.Errorf("create player by rfid: %w", err)
	}
	return id, nil
}

// OpenSession creates a round-1 session for the controller, relying on the
// partial unique index to reject a controller that is already bound.
func (s *SQLiteStore) OpenSession(ctx context.Context, playerID int64, controllerID, loginMethod string) (Session, error) {
	sess := Session{
		ID:           uuid.NewString(),
		PlayerID:     playerID,
		ControllerID: controllerID,
		Round:        1,
		LoginMethod:  loginMethod,
		StartTime:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, player_id, controller_id, round, login_method, start_time)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		sess.ID, playerID, controllerID, loginMethod, toMillis(sess.StartTime))
	if err != nil {
		if isUniqueViolation(err) {
			return Session{}, ErrControllerBusy
		}
		return Session{}, fmt.Errorf("open session: %w", err)
	}
	return sess, nil
}

// CloseSession ends the controller's open session.
func (s *SQLiteStore) CloseSession(ctx context.Context, controllerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET end_time = ? WHERE controller_id = ? AND end_time IS NULL`,
		toMillis(time.Now()), controllerID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n == 0 {
		return ErrNoOpenSession
	}
	return nil
}

// ResetSession atomically closes the open session, drops the controller's
// score records, and opens a fresh round-1 session for the same player.
func (s *SQLiteStore) ResetSession(ctx context.Context, controllerID string) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("reset session: %w", err)
	}
	defer tx.Rollback()

	var playerID int64
	var loginMethod string
	err = tx.QueryRowContext(ctx,
		`SELECT player_id, login_method FROM sessions
		 WHERE controller_id = ? AND end_time IS NULL`,
		controllerID).Scan(&playerID, &loginMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoOpenSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("reset session: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET end_time = ? WHERE controller_id = ? AND end_time IS NULL`,
		toMillis(now), controllerID); err != nil {
		return Session{}, fmt.Errorf("reset session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM round_scores WHERE controller_id = ?`, controllerID); err != nil {
		return Session{}, fmt.Errorf("reset session: %w", err)
	}

	sess := Session{
		ID:           uuid.NewString(),
		PlayerID:     playerID,
		ControllerID: controllerID,
		Round:        1,
		LoginMethod:  loginMethod,
		StartTime:    now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, player_id, controller_id, round, login_method, start_time)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		sess.ID, playerID, controllerID, loginMethod, toMillis(now)); err != nil {
		return Session{}, fmt.Errorf("reset session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("reset session: %w", err)
	}
	return sess, nil
}

// AdvanceRound atomically supersedes the open session with one for the next
// round and creates the new round's zero-point score record.
func (s *SQLiteStore) AdvanceRound(ctx context.Context, controllerID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("advance round: %w", err)
	}
	defer tx.Rollback()

	var playerID int64
	var round int
	var loginMethod string
	err = tx.QueryRowContext(ctx,
		`SELECT player_id, round, login_method FROM sessions
		 WHERE controller_id = ? AND end_time IS NULL`,
		controllerID).Scan(&playerID, &round, &loginMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoOpenSession
	}
	if err != nil {
		return 0, fmt.Errorf("advance round: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET end_time = ? WHERE controller_id = ? AND end_time IS NULL`,
		toMillis(now), controllerID); err != nil {
		return 0, fmt.Errorf("advance round: %w", err)
	}

	next := round + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, player_id, controller_id, round, login_method, start_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), playerID, controllerID, next, loginMethod, toMillis(now)); err != nil {
		return 0, fmt.Errorf("advance round: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO round_scores (controller_id, player_id, round, points, last_update)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(controller_id, round) DO NOTHING`,
		controllerID, playerID, next, toMillis(now)); err != nil {
		return 0, fmt.Errorf("advance round: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("advance round: %w", err)
	}
	return next, nil
}

// CreateRoundRecord creates a zero-point score record for the open session.
// Idempotent under redelivery via ON CONFLICT DO NOTHING.
func (s *SQLiteStore) CreateRoundRecord(ctx context.Context, controllerID string, round int) error {
	var playerID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT player_id FROM sessions WHERE controller_id = ? AND end_time IS NULL`,
		controllerID).Scan(&playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoOpenSession
	}
	if err != nil {
		return fmt.Errorf("create round record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO round_scores (controller_id, player_id, round, points, last_update)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(controller_id, round) DO NOTHING`,
		controllerID, playerID, round, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("create round record: %w", err)
	}
	return nil
}

// IncrementPoints adds one point to an existing score record.
func (s *SQLiteStore) IncrementPoints(ctx context.Context, controllerID string, round int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE round_scores SET points = points + 1, last_update = ?
		 WHERE controller_id = ? AND round = ?`,
		toMillis(time.Now()), controllerID, round)
	if err != nil {
		return fmt.Errorf("increment points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment points: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CurrentRound returns the round number of the controller's open session.
func (s *SQLiteStore) CurrentRound(ctx context.Context, controllerID string) (int, error) {
	var round int
	err := s.db.QueryRowContext(ctx,
		`SELECT round FROM sessions WHERE controller_id = ? AND end_time IS NULL`,
		controllerID).Scan(&round)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoOpenSession
	}
	if err != nil {
		return 0, fmt.Errorf("current round: %w", err)
	}
	return round, nil
}

// DisplayInfo returns the OLED view for a controller and round.
func (s *SQLiteStore) DisplayInfo(ctx context.Context, controllerID string, round int) (DisplayInfo, error) {
	var info DisplayInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT p.username, r.points, r.round
		 FROM round_scores r JOIN players p ON p.player_id = r.player_id
		 WHERE r.controller_id = ? AND r.round = ?`,
		controllerID, round).Scan(&info.Username, &info.Points, &info.Round)
	if errors.Is(err, sql.ErrNoRows) {
		return DisplayInfo{}, ErrNotFound
	}
	if err != nil {
		return DisplayInfo{}, fmt.Errorf("display info: %w", err)
	}
	return info, nil
}

// RoundWinner returns the highest score of the latest round.
func (s *SQLiteStore) RoundWinner(ctx context.Context) (Winner, error) {
	var w Winner
	err := s.db.QueryRowContext(ctx,
		`SELECT r.round, p.username, r.points
		 FROM round_scores r JOIN players p ON p.player_id = r.player_id
		 WHERE r.round = (SELECT MAX(round) FROM round_scores)
		 ORDER BY r.points DESC LIMIT 1`).Scan(&w.Round, &w.Username, &w.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return Winner{}, ErrNotFound
	}
	if err != nil {
		return Winner{}, fmt.Errorf("round winner: %w", err)
	}
	return w, nil
}

// UpdateHighScore persists the player's best per-round score, keyed by the
// controller's open session. Only raises the stored value, never lowers it.
func (s *SQLiteStore) UpdateHighScore(ctx context.Context, controllerID string) error {
	var playerID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT player_id FROM sessions WHERE controller_id = ? AND end_time IS NULL`,
		controllerID).Scan(&playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoOpenSession
	}
	if err != nil {
		return fmt.Errorf("update high score: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE players SET high_score = MAX(high_score,
			COALESCE((SELECT MAX(points) FROM round_scores WHERE player_id = ?), 0))
		 WHERE player_id = ?`,
		playerID, playerID)
	if err != nil {
		return fmt.Errorf("update high score: %w", err)
	}
	return nil
}

// ActiveControllers returns all controllers with an open session.
func (s *SQLiteStore) ActiveControllers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT controller_id FROM sessions WHERE end_time IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("active controllers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("active controllers: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("active controllers: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
