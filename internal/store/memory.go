package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory maps. It backs unit and
// integration tests; production uses the SQLite store.
//
// Thread Safety:
// All methods are safe for concurrent use via a single mutex.
type MemoryStore struct {
	mu sync.Mutex

	nextPlayerID int64
	players      map[int64]*memPlayer
	byUsername   map[string]int64
	byRFID       map[string]int64

	open   map[string]*Session // controllerID -> open session
	closed []Session

	records map[recordKey]*memRecord
}

type memPlayer struct {
	username  string
	highScore int
}

type recordKey struct {
	controllerID string
	round        int
}

type memRecord struct {
	playerID int64
	points   int
	updated  time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players:    make(map[int64]*memPlayer),
		byUsername: make(map[string]int64),
		byRFID:     make(map[string]int64),
		open:       make(map[string]*Session),
		records:    make(map[recordKey]*memRecord),
	}
}

// FindOrCreatePlayer resolves or creates a player by username.
func (m *MemoryStore) FindOrCreatePlayer(_ context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byUsername[username]; ok {
		return id, nil
	}
	return m.createPlayerLocked(username, ""), nil
}

// FindOrCreatePlayerByRFID resolves or creates a player by RFID tag.
func (m *MemoryStore) FindOrCreatePlayerByRFID(_ context.Context, username, rfidTag string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byRFID[rfidTag]; ok {
		return id, nil
	}
	return m.createPlayerLocked(username, rfidTag), nil
}

func (m *MemoryStore) createPlayerLocked(username, rfidTag string) int64 {
	m.nextPlayerID++
	id := m.nextPlayerID
	m.players[id] = &memPlayer{username: username}
	m.byUsername[username] = id
	if rfidTag != "" {
		m.byRFID[rfidTag] = id
	}
	return id
}

// OpenSession creates a round-1 session, enforcing one open session per
// controller.
func (m *MemoryStore) OpenSession(_ context.Context, playerID int64, controllerID, loginMethod string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.open[controllerID]; busy {
		return Session{}, ErrControllerBusy
	}
	if _, ok := m.players[playerID]; !ok {
		return Session{}, ErrNotFound
	}

	s := &Session{
		ID:           uuid.NewString(),
		PlayerID:     playerID,
		ControllerID: controllerID,
		Round:        1,
		LoginMethod:  loginMethod,
		StartTime:    time.Now(),
	}
	m.open[controllerID] = s
	return *s, nil
}

// CloseSession ends the controller's open session.
func (m *MemoryStore) CloseSession(_ context.Context, controllerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.open[controllerID]
	if !ok {
		return ErrNoOpenSession
	}
	now := time.Now()
	s.EndTime = &now
	m.closed = append(m.closed, *s)
	delete(m.open, controllerID)
	return nil
}

// ResetSession starts a fresh round-1 lineage for the controller's player,
// discarding the previous game's score records.
func (m *MemoryStore) ResetSession(_ context.Context, controllerID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.open[controllerID]
	if !ok {
		return Session{}, ErrNoOpenSession
	}

	now := time.Now()
	prev.EndTime = &now
	m.closed = append(m.closed, *prev)

	for key := range m.records {
		if key.controllerID == controllerID {
			delete(m.records, key)
		}
	}

	next := &Session{
		ID:           uuid.NewString(),
		PlayerID:     prev.PlayerID,
		ControllerID: controllerID,
		Round:        1,
		LoginMethod:  prev.LoginMethod,
		StartTime:    now,
	}
	m.open[controllerID] = next
	return *next, nil
}

// AdvanceRound closes the open session and opens its successor with Round+1,
// creating the new round's zero-point record.
func (m *MemoryStore) AdvanceRound(_ context.Context, controllerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.open[controllerID]
	if !ok {
		return 0, ErrNoOpenSession
	}

	now := time.Now()
	prev.EndTime = &now
	m.closed = append(m.closed, *prev)

	next := &Session{
		ID:           uuid.NewString(),
		PlayerID:     prev.PlayerID,
		ControllerID: controllerID,
		Round:        prev.Round + 1,
		LoginMethod:  prev.LoginMethod,
		StartTime:    now,
	}
	m.open[controllerID] = next

	key := recordKey{controllerID: controllerID, round: next.Round}
	if _, exists := m.records[key]; !exists {
		m.records[key] = &memRecord{playerID: next.PlayerID, updated: now}
	}
	return next.Round, nil
}

// CreateRoundRecord creates a zero-point record if one does not exist.
func (m *MemoryStore) CreateRoundRecord(_ context.Context, controllerID string, round int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.open[controllerID]
	if !ok {
		return ErrNoOpenSession
	}
	key := recordKey{controllerID: controllerID, round: round}
	if _, exists := m.records[key]; !exists {
		m.records[key] = &memRecord{playerID: s.PlayerID, updated: time.Now()}
	}
	return nil
}

// IncrementPoints adds one point to an existing record.
func (m *MemoryStore) IncrementPoints(_ context.Context, controllerID string, round int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey{controllerID: controllerID, round: round}]
	if !ok {
		return ErrNotFound
	}
	rec.points++
	rec.updated = time.Now()
	return nil
}

// CurrentRound returns the open session's round.
func (m *MemoryStore) CurrentRound(_ context.Context, controllerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.open[controllerID]
	if !ok {
		return 0, ErrNoOpenSession
	}
	return s.Round, nil
}

// DisplayInfo returns the score view for a controller and round.
func (m *MemoryStore) DisplayInfo(_ context.Context, controllerID string, round int) (DisplayInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey{controllerID: controllerID, round: round}]
	if !ok {
		return DisplayInfo{}, ErrNotFound
	}
	p, ok := m.players[rec.playerID]
	if !ok {
		return DisplayInfo{}, ErrNotFound
	}
	return DisplayInfo{Username: p.username, Points: rec.points, Round: round}, nil
}

// RoundWinner returns the best score of the latest round.
func (m *MemoryStore) RoundWinner(_ context.Context) (Winner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := 0
	for key := range m.records {
		if key.round > latest {
			latest = key.round
		}
	}
	if latest == 0 {
		return Winner{}, ErrNotFound
	}

	var best *memRecord
	for key, rec := range m.records {
		if key.round != latest {
			continue
		}
		if best == nil || rec.points > best.points {
			best = rec
		}
	}
	p := m.players[best.playerID]
	return Winner{Round: latest, Username: p.username, Points: best.points}, nil
}

// UpdateHighScore stores the player's best per-round points as their high
// score.
func (m *MemoryStore) UpdateHighScore(_ context.Context, controllerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.open[controllerID]
	if !ok {
		return ErrNoOpenSession
	}

	best := 0
	for _, rec := range m.records {
		if rec.playerID == s.PlayerID && rec.points > best {
			best = rec.points
		}
	}
	p, ok := m.players[s.PlayerID]
	if !ok {
		return ErrNotFound
	}
	if best > p.highScore {
		p.highScore = best
	}
	return nil
}

// ActiveControllers returns all controllers with an open session.
func (m *MemoryStore) ActiveControllers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.open))
	for id := range m.open {
		out = append(out, id)
	}
	return out, nil
}

// HighScore returns a player's recorded high score. Test helper; not part of
// the Store interface.
func (m *MemoryStore) HighScore(playerID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.players[playerID]; ok {
		return p.highScore
	}
	return 0
}

var _ Store = (*MemoryStore)(nil)
