package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachStore runs the same contract tests against both implementations:
// the production SQLite store and the in-memory test store. Both must agree
// on every behavior, since the orchestrator cannot tell them apart.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(filepath.Join(t.TempDir(), "lumo.db"))
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

// TestSessionLifecycle verifies the basic open/close flow and the
// one-open-session-per-controller invariant.
func TestSessionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		playerID, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)

		sess, err := s.OpenSession(ctx, playerID, "C1", "Frontend")
		require.NoError(t, err)
		assert.Equal(t, 1, sess.Round)
		assert.NotEmpty(t, sess.ID)

		// Second session on the same controller is rejected
		otherID, err := s.FindOrCreatePlayer(ctx, "grace")
		require.NoError(t, err)
		_, err = s.OpenSession(ctx, otherID, "C1", "Frontend")
		assert.ErrorIs(t, err, ErrControllerBusy)

		// Closing releases the controller
		require.NoError(t, s.CloseSession(ctx, "C1"))
		_, err = s.OpenSession(ctx, otherID, "C1", "Frontend")
		assert.NoError(t, err)

		// Closing again reports no open session
		require.NoError(t, s.CloseSession(ctx, "C1"))
		assert.ErrorIs(t, s.CloseSession(ctx, "C1"), ErrNoOpenSession)
	})
}

// TestFindOrCreatePlayerReuses verifies that resolving the same username or
// RFID tag twice yields the same player id.
func TestFindOrCreatePlayerReuses(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)
		b, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, a, b)

		r1, err := s.FindOrCreatePlayerByRFID(ctx, "grace", "04:AB:CD")
		require.NoError(t, err)
		r2, err := s.FindOrCreatePlayerByRFID(ctx, "grace", "04:AB:CD")
		require.NoError(t, err)
		assert.Equal(t, r1, r2)
		assert.NotEqual(t, a, r1)
	})
}

// TestRoundRecordsAndPoints verifies record creation, idempotent re-creation,
// point increments, and the display view.
func TestRoundRecordsAndPoints(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		playerID, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)
		_, err = s.OpenSession(ctx, playerID, "C1", "RFID")
		require.NoError(t, err)

		require.NoError(t, s.CreateRoundRecord(ctx, "C1", 1))
		require.NoError(t, s.IncrementPoints(ctx, "C1", 1))

		// Redelivered round start must not reset points
		require.NoError(t, s.CreateRoundRecord(ctx, "C1", 1))

		info, err := s.DisplayInfo(ctx, "C1", 1)
		require.NoError(t, err)
		assert.Equal(t, DisplayInfo{Username: "ada", Points: 1, Round: 1}, info)

		// Incrementing a record that does not exist fails typed
		assert.ErrorIs(t, s.IncrementPoints(ctx, "C1", 9), ErrNotFound)

		// Records need an open session
		assert.ErrorIs(t, s.CreateRoundRecord(ctx, "nope", 1), ErrNoOpenSession)
	})
}

// TestAdvanceRound verifies that advancing supersedes the open session and
// seeds the next round's zero-point record.
func TestAdvanceRound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		playerID, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)
		_, err = s.OpenSession(ctx, playerID, "C1", "RFID")
		require.NoError(t, err)
		require.NoError(t, s.CreateRoundRecord(ctx, "C1", 1))

		next, err := s.AdvanceRound(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, 2, next)

		round, err := s.CurrentRound(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, 2, round)

		info, err := s.DisplayInfo(ctx, "C1", 2)
		require.NoError(t, err)
		assert.Equal(t, 0, info.Points)

		_, err = s.AdvanceRound(ctx, "C9")
		assert.ErrorIs(t, err, ErrNoOpenSession)
	})
}

// TestResetSession verifies a reset starts a fresh round-1 lineage: old
// score records are gone, so the next round-1 record starts at zero points
// instead of continuing the previous game's.
func TestResetSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.ResetSession(ctx, "C9")
		assert.ErrorIs(t, err, ErrNoOpenSession)

		playerID, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)
		first, err := s.OpenSession(ctx, playerID, "C1", "RFID")
		require.NoError(t, err)

		// Play two rounds worth of records
		require.NoError(t, s.CreateRoundRecord(ctx, "C1", 1))
		require.NoError(t, s.IncrementPoints(ctx, "C1", 1))
		_, err = s.AdvanceRound(ctx, "C1")
		require.NoError(t, err)
		require.NoError(t, s.IncrementPoints(ctx, "C1", 2))

		sess, err := s.ResetSession(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, 1, sess.Round)
		assert.Equal(t, playerID, sess.PlayerID)
		assert.Equal(t, "RFID", sess.LoginMethod)
		assert.NotEqual(t, first.ID, sess.ID)

		round, err := s.CurrentRound(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, 1, round)

		// Previous game's records are gone; a new round-1 record starts clean
		_, err = s.DisplayInfo(ctx, "C1", 1)
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, s.CreateRoundRecord(ctx, "C1", 1))
		info, err := s.DisplayInfo(ctx, "C1", 1)
		require.NoError(t, err)
		assert.Equal(t, DisplayInfo{Username: "ada", Points: 0, Round: 1}, info)
	})
}

// TestRoundWinner verifies the latest-round leader query.
func TestRoundWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.RoundWinner(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		adaID, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)
		graceID, err := s.FindOrCreatePlayer(ctx, "grace")
		require.NoError(t, err)

		_, err = s.OpenSession(ctx, adaID, "C1", "RFID")
		require.NoError(t, err)
		_, err = s.OpenSession(ctx, graceID, "C2", "RFID")
		require.NoError(t, err)

		require.NoError(t, s.CreateRoundRecord(ctx, "C1", 1))
		require.NoError(t, s.CreateRoundRecord(ctx, "C2", 1))
		require.NoError(t, s.IncrementPoints(ctx, "C2", 1))

		w, err := s.RoundWinner(ctx)
		require.NoError(t, err)
		assert.Equal(t, Winner{Round: 1, Username: "grace", Points: 1}, w)

		// A newer round supersedes the old one even with lower scores
		_, err = s.AdvanceRound(ctx, "C1")
		require.NoError(t, err)

		w, err = s.RoundWinner(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, w.Round)
		assert.Equal(t, "ada", w.Username)
	})
}

// TestUpdateHighScore verifies the best per-round score is persisted and
// never lowered.
func TestUpdateHighScore(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		playerID, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)
		_, err = s.OpenSession(ctx, playerID, "C1", "RFID")
		require.NoError(t, err)
		require.NoError(t, s.CreateRoundRecord(ctx, "C1", 1))
		require.NoError(t, s.IncrementPoints(ctx, "C1", 1))
		require.NoError(t, s.IncrementPoints(ctx, "C1", 1))

		require.NoError(t, s.UpdateHighScore(ctx, "C1"))

		assert.ErrorIs(t, s.UpdateHighScore(ctx, "C9"), ErrNoOpenSession)
	})
}

// TestActiveControllers verifies the open-session listing the orchestrator
// reconciles against.
func TestActiveControllers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		active, err := s.ActiveControllers(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)

		adaID, err := s.FindOrCreatePlayer(ctx, "ada")
		require.NoError(t, err)
		graceID, err := s.FindOrCreatePlayer(ctx, "grace")
		require.NoError(t, err)
		_, err = s.OpenSession(ctx, adaID, "C1", "RFID")
		require.NoError(t, err)
		_, err = s.OpenSession(ctx, graceID, "C2", "Frontend")
		require.NoError(t, err)
		require.NoError(t, s.CloseSession(ctx, "C2"))

		active, err = s.ActiveControllers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"C1"}, active)
	})
}
