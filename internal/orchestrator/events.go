package orchestrator

import (
	"context"
	"log"
)

// Sink is the inbound event interface the message router pushes decoded
// device messages into. Every method enqueues onto the orchestrator's
// serialized queue and returns immediately; none of them block on game
// logic.
type Sink interface {
	ControllerConnected(controllerID string)
	HeartbeatReceived(controllerID string)
	StatusChanged(controllerID, status string)
	PlayerStatusChanged(controllerID, status string)
	RFIDScanned(controllerID, username, rfidTag string)
	AnswerSubmitted(controllerID string, sequence []string)
	SequenceRequested(controllerID string)
}

// event is the closed set of inputs the state machine consumes. All types
// are internal: external packages go through Sink or the Start/Login
// methods.
type event interface{ isEvent() }

type evConnect struct{ controllerID string }

type evHeartbeat struct{ controllerID string }

type evStatus struct{ controllerID, status string }

type evPlayerStatus struct{ controllerID, status string }

type evRFIDScan struct{ controllerID, username, rfidTag string }

type evAnswer struct {
	controllerID string
	sequence     []string
}

type evSequenceRequest struct{ controllerID string }

type evStartGame struct{ reply chan StartResult }

type evLogin struct {
	username     string
	controllerID string
	reply        chan error
}

// evCountdownElapsed fires when the countdown delay for round token expires.
type evCountdownElapsed struct{ token uint64 }

// evAnswerDeadline fires when the per-round answer deadline for round token
// expires.
type evAnswerDeadline struct{ token uint64 }

func (evConnect) isEvent()          {}
func (evHeartbeat) isEvent()        {}
func (evStatus) isEvent()           {}
func (evPlayerStatus) isEvent()     {}
func (evRFIDScan) isEvent()         {}
func (evAnswer) isEvent()           {}
func (evSequenceRequest) isEvent()  {}
func (evStartGame) isEvent()        {}
func (evLogin) isEvent()            {}
func (evCountdownElapsed) isEvent() {}
func (evAnswerDeadline) isEvent()   {}

// ControllerConnected implements Sink.
func (o *Orchestrator) ControllerConnected(controllerID string) {
	o.enqueue(evConnect{controllerID: controllerID})
}

// HeartbeatReceived implements Sink.
func (o *Orchestrator) HeartbeatReceived(controllerID string) {
	o.enqueue(evHeartbeat{controllerID: controllerID})
}

// StatusChanged implements Sink.
func (o *Orchestrator) StatusChanged(controllerID, status string) {
	o.enqueue(evStatus{controllerID: controllerID, status: status})
}

// PlayerStatusChanged implements Sink.
func (o *Orchestrator) PlayerStatusChanged(controllerID, status string) {
	o.enqueue(evPlayerStatus{controllerID: controllerID, status: status})
}

// RFIDScanned implements Sink.
func (o *Orchestrator) RFIDScanned(controllerID, username, rfidTag string) {
	o.enqueue(evRFIDScan{controllerID: controllerID, username: username, rfidTag: rfidTag})
}

// AnswerSubmitted implements Sink.
func (o *Orchestrator) AnswerSubmitted(controllerID string, sequence []string) {
	o.enqueue(evAnswer{controllerID: controllerID, sequence: sequence})
}

// SequenceRequested implements Sink.
func (o *Orchestrator) SequenceRequested(controllerID string) {
	o.enqueue(evSequenceRequest{controllerID: controllerID})
}

// enqueue posts a fire-and-forget event. If the queue is full the event is
// dropped with a warning rather than blocking the MQTT dispatch goroutine;
// the bus is at-least-once, so a dropped heartbeat or answer will be
// redelivered or superseded.
func (o *Orchestrator) enqueue(ev event) {
	select {
	case o.events <- ev:
	default:
		log.Printf("orchestrator: event queue full, dropping %T", ev)
	}
}

// enqueueWait posts an event that carries a reply channel, honoring ctx.
func (o *Orchestrator) enqueueWait(ctx context.Context, ev event) error {
	select {
	case o.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Sink = (*Orchestrator)(nil)
