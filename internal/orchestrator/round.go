package orchestrator

import "github.com/dreamware/lumo/internal/game"

// gameRound is the in-memory state of the round currently in flight. Exactly
// one gameRound exists at a time; it is created when a round starts and
// discarded when the round resolves. Only the orchestrator goroutine touches
// it.
type gameRound struct {
	// number is the global round counter for this play-through, starting
	// at 1. Used for the round-cap check; per-controller round numbers
	// live in the store's session lineage.
	number int

	// token identifies this round to scheduled timer events. A timer that
	// fires carrying an older token belongs to a round that already
	// resolved and is ignored.
	token uint64

	// participants is the controller set this round was started for, in
	// broadcast order.
	participants []string

	// sequence is the color sequence broadcast for this round. Immutable
	// once set; answers are compared against this snapshot only.
	sequence game.Sequence

	// awaiting is the set of controllers whose answer is still outstanding.
	// Shrinks monotonically; the round can resolve when it reaches empty.
	awaiting map[string]struct{}

	// survivors accumulates controllers that answered correctly, in answer
	// order. These advance into the next round.
	survivors []string

	// activePlayers counts participants not yet eliminated this round.
	// The round resolves immediately when it reaches zero.
	activePlayers int
}

// newGameRound creates the round state for a participant set. The sequence
// and awaiting set are filled in at broadcast time.
func newGameRound(number int, token uint64, participants []string) *gameRound {
	return &gameRound{
		number:       number,
		token:        token,
		participants: participants,
		awaiting:     make(map[string]struct{}),
	}
}

// dropParticipant removes controllerID from the participant set. Used when
// a controller disconnects during the countdown, before any awaiting
// bookkeeping exists; the broadcast then never considers it.
func (r *gameRound) dropParticipant(controllerID string) {
	for i, id := range r.participants {
		if id == controllerID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return
		}
	}
}

// hasParticipant reports whether controllerID is part of this round.
func (r *gameRound) hasParticipant(controllerID string) bool {
	for _, id := range r.participants {
		if id == controllerID {
			return true
		}
	}
	return false
}

// awaitingEmpty reports whether every awaited controller has answered or
// dropped out.
func (r *gameRound) awaitingEmpty() bool {
	return len(r.awaiting) == 0
}

// isAwaiting reports whether an answer from controllerID is still expected.
func (r *gameRound) isAwaiting(controllerID string) bool {
	_, ok := r.awaiting[controllerID]
	return ok
}

// settle removes controllerID from the awaiting set, recording it as a
// survivor when it answered correctly. Settling a controller twice is
// harmless; the caller has already checked isAwaiting.
func (r *gameRound) settle(controllerID string, survived bool) {
	delete(r.awaiting, controllerID)
	if survived {
		r.survivors = append(r.survivors, controllerID)
	} else {
		r.activePlayers--
	}
}
