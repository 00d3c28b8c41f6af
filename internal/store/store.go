// Package store defines the persistence port the orchestrator depends on:
// the mapping of controllers to players, sessions, per-round scores, and
// high scores. Two implementations exist: a SQLite store for production and
// an in-memory store for tests.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. Callers match with
// errors.Is.
var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrControllerBusy is returned when opening a session for a controller
	// that already has an open one. Exactly one open session may exist per
	// controller at any time.
	ErrControllerBusy = errors.New("controller already has an open session")

	// ErrNoOpenSession is returned by operations that require an open
	// session when the controller has none.
	ErrNoOpenSession = errors.New("controller has no open session")
)

// Session is the binding of a player to a controller for one round of a
// play-through. A session is open while EndTime is nil; advancing to the
// next round closes it and opens a successor with Round+1.
type Session struct {
	ID           string
	PlayerID     int64
	ControllerID string
	Round        int
	LoginMethod  string // "RFID" or "Frontend"
	StartTime    time.Time
	EndTime      *time.Time
}

// DisplayInfo is what a controller's OLED shows for a round.
type DisplayInfo struct {
	Username string
	Points   int
	Round    int
}

// Winner identifies the leading player of the latest round.
type Winner struct {
	Round    int
	Username string
	Points   int
}

// Store is the persistence port consumed by the orchestrator and the HTTP
// read endpoints. Every operation takes a context and returns either success
// or a typed failure; implementations must be safe for concurrent use, since
// HTTP handlers read while the orchestrator writes.
type Store interface {
	// FindOrCreatePlayer resolves a player by username, creating the record
	// if it does not exist, and returns the player id.
	FindOrCreatePlayer(ctx context.Context, username string) (int64, error)

	// FindOrCreatePlayerByRFID resolves a player by RFID tag, creating the
	// record (with the given username) if the tag is unknown.
	FindOrCreatePlayerByRFID(ctx context.Context, username, rfidTag string) (int64, error)

	// OpenSession creates a round-1 session binding the player to the
	// controller. Returns ErrControllerBusy if the controller already has
	// an open session.
	OpenSession(ctx context.Context, playerID int64, controllerID, loginMethod string) (Session, error)

	// CloseSession sets the end time on the controller's open session.
	// Returns ErrNoOpenSession if there is none.
	CloseSession(ctx context.Context, controllerID string) error

	// ResetSession closes the controller's open session, deletes the
	// controller's score records, and opens a fresh round-1 session for the
	// same player. A new game starts each carried player on a clean lineage
	// this way; high scores persist on the player row and survive the reset.
	// Returns ErrNoOpenSession if the controller has none.
	ResetSession(ctx context.Context, controllerID string) (Session, error)

	// AdvanceRound supersedes the controller's open session with one for
	// the next round (same player, Round+1) and creates the new round's
	// zero-point score record. Returns the new round number.
	AdvanceRound(ctx context.Context, controllerID string) (int, error)

	// CreateRoundRecord creates a zero-point score record for the
	// controller's open session at the given round. Creating a record that
	// already exists is a no-op, which makes round-start idempotent under
	// redelivery.
	CreateRoundRecord(ctx context.Context, controllerID string, round int) error

	// IncrementPoints adds one point to the controller's score record for
	// the given round. Returns ErrNotFound if the record does not exist.
	IncrementPoints(ctx context.Context, controllerID string, round int) error

	// CurrentRound returns the round number of the controller's open
	// session, or ErrNoOpenSession.
	CurrentRound(ctx context.Context, controllerID string) (int, error)

	// DisplayInfo returns the OLED display data for a controller and round.
	DisplayInfo(ctx context.Context, controllerID string, round int) (DisplayInfo, error)

	// RoundWinner returns the highest-scoring player of the latest round,
	// or ErrNotFound if no scores exist yet.
	RoundWinner(ctx context.Context) (Winner, error)

	// UpdateHighScore persists the player's best per-round score as their
	// high score, keyed by the controller's open session.
	UpdateHighScore(ctx context.Context, controllerID string) error

	// ActiveControllers returns the ids of all controllers with an open
	// session.
	ActiveControllers(ctx context.Context) ([]string, error)
}
