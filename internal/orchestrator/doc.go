// Package orchestrator implements the round state machine at the heart of
// the Lumo game server: it tracks which controllers are in play, drives
// round progression, validates answers, eliminates losers, and decides when
// the game ends.
//
// # Overview
//
// Hardware controllers deliver messages over MQTT concurrently and in no
// particular order; the HTTP surface accepts requests concurrently as well.
// Every one of those inputs is converted into an event and pushed onto a
// single queue consumed by one goroutine. That goroutine owns all mutable
// game state, so no two state transitions ever run concurrently and no
// handler needs a lock around round counters.
//
//	MQTT messages ──► MessageRouter ──┐
//	                                  ├──► event queue ──► Orchestrator ──► MQTT publishes
//	HTTP requests ────────────────────┘      (serialized)        │
//	                                                             └──► persistent store
//
// Timer-driven transitions (countdown expiry, answer deadline) are scheduled
// as callbacks that re-enqueue an event on the same queue, so they cannot
// race with message-driven transitions either. Each scheduled event carries
// the token of the round that scheduled it; a timer firing after its round
// resolved is recognized as stale and dropped.
//
// # State machine
//
//	Idle ──start──► Countdown ──delay──► AwaitingAnswers ──► (Countdown | Idle)
//
// A round resolves when every awaited controller has answered (or dropped
// out), or when no active players remain. Resolution either advances the
// survivors into the next round's countdown, or ends the game: when the
// round cap is exceeded, or when the last player is eliminated. Game over
// returns the orchestrator to Idle so a new game can be started.
//
// The single-controller pull model (a controller publishing on
// controller/request_sequence) is the same machine with a one-element
// participant set and no countdown delay.
//
// # Failure policy
//
// Transport faults (a publish to one controller failing) are logged and
// skipped; one unreachable controller never blocks the others. Store faults
// are retried once synchronously and then abort only that controller's
// progression for the round. Protocol faults (duplicate answers, answers
// from unknown controllers, late answers for a resolved round) are no-ops.
// Nothing in this package panics across the event loop.
package orchestrator
