// Package router demultiplexes inbound MQTT traffic: it validates and
// decodes each device message and forwards it to the orchestrator's event
// sink. The router is stateless; all game logic lives behind the sink.
package router

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/dreamware/lumo/internal/bus"
	"github.com/dreamware/lumo/internal/orchestrator"
)

// Router decodes controller messages into sink calls. Malformed payloads
// are logged and dropped; a broken device must not be able to wedge the
// game loop.
type Router struct {
	sink orchestrator.Sink
}

// New creates a router forwarding to sink.
func New(sink orchestrator.Sink) *Router {
	return &Router{sink: sink}
}

// Attach subscribes every inbound topic on sub. Connect, RFID binding and
// answers ride exactly-once; the rest at-least-once, matching what the
// firmware publishes with.
func (r *Router) Attach(sub bus.Subscriber) error {
	for _, s := range []struct {
		topic   string
		qos     byte
		handler bus.MessageFunc
	}{
		{bus.TopicConnect, bus.QoSExactlyOnce, r.handleConnect},
		{bus.TopicHeartbeat, bus.QoSAtLeastOnce, r.handleHeartbeat},
		{bus.TopicStatus, bus.QoSAtLeastOnce, r.handleStatus},
		{bus.TopicRFID, bus.QoSExactlyOnce, r.handleRFID},
		{bus.TopicRequestSequence, bus.QoSAtLeastOnce, r.handleRequestSequence},
		{bus.TopicColorSequence, bus.QoSExactlyOnce, r.handleColorSequence},
		{bus.TopicPlayerStatus, bus.QoSAtLeastOnce, r.handlePlayerStatus},
	} {
		if err := sub.Subscribe(s.topic, s.qos, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// handleConnect handles the raw-id handshake. The firmware publishes the
// bare controller id, not JSON.
func (r *Router) handleConnect(topic string, payload []byte) {
	id := strings.TrimSpace(string(payload))
	if id == "" {
		log.Printf("router: empty controller id on %s, dropping", topic)
		return
	}
	r.sink.ControllerConnected(id)
}

func (r *Router) handleHeartbeat(topic string, payload []byte) {
	var p bus.HeartbeatPayload
	if !decode(topic, payload, &p) || p.ControllerID == "" {
		return
	}
	r.sink.HeartbeatReceived(p.ControllerID)
}

func (r *Router) handleStatus(topic string, payload []byte) {
	var p bus.StatusPayload
	if !decode(topic, payload, &p) || p.ControllerID == "" {
		return
	}
	r.sink.StatusChanged(p.ControllerID, p.Status)
}

func (r *Router) handleRFID(topic string, payload []byte) {
	var p bus.RFIDPayload
	if !decode(topic, payload, &p) {
		return
	}
	if p.ControllerID == "" || p.Username == "" || p.RFIDTag == "" {
		log.Printf("router: incomplete rfid payload on %s, dropping", topic)
		return
	}
	r.sink.RFIDScanned(p.ControllerID, p.Username, p.RFIDTag)
}

// handleRequestSequence handles the raw-id pull request, same shape as
// connect.
func (r *Router) handleRequestSequence(topic string, payload []byte) {
	id := strings.TrimSpace(string(payload))
	if id == "" {
		log.Printf("router: empty controller id on %s, dropping", topic)
		return
	}
	r.sink.SequenceRequested(id)
}

func (r *Router) handleColorSequence(topic string, payload []byte) {
	var p bus.AnswerPayload
	if !decode(topic, payload, &p) {
		return
	}
	if p.ControllerID == "" || len(p.Sequence) == 0 {
		log.Printf("router: incomplete answer payload on %s, dropping", topic)
		return
	}
	r.sink.AnswerSubmitted(p.ControllerID, p.Sequence)
}

func (r *Router) handlePlayerStatus(topic string, payload []byte) {
	var p bus.PlayerStatusPayload
	if !decode(topic, payload, &p) || p.ControllerID == "" {
		return
	}
	r.sink.PlayerStatusChanged(p.ControllerID, p.Status)
}

func decode(topic string, payload []byte, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		log.Printf("router: malformed payload on %s: %v", topic, err)
		return false
	}
	return true
}
