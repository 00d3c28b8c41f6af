package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/lumo/internal/bus"
)

// sinkCall is one recorded sink invocation: method name followed by its
// arguments.
type sinkCall []string

// recordSink captures sink calls for assertions.
type recordSink struct {
	calls []sinkCall
}

func (s *recordSink) ControllerConnected(id string) {
	s.calls = append(s.calls, sinkCall{"connected", id})
}
func (s *recordSink) HeartbeatReceived(id string) {
	s.calls = append(s.calls, sinkCall{"heartbeat", id})
}
func (s *recordSink) StatusChanged(id, status string) {
	s.calls = append(s.calls, sinkCall{"status", id, status})
}
func (s *recordSink) PlayerStatusChanged(id, status string) {
	s.calls = append(s.calls, sinkCall{"playerstatus", id, status})
}
func (s *recordSink) RFIDScanned(id, username, tag string) {
	s.calls = append(s.calls, sinkCall{"rfid", id, username, tag})
}
func (s *recordSink) AnswerSubmitted(id string, sequence []string) {
	s.calls = append(s.calls, append(sinkCall{"answer", id}, sequence...))
}
func (s *recordSink) SequenceRequested(id string) {
	s.calls = append(s.calls, sinkCall{"request", id})
}

// fakeSubscriber records subscriptions so tests can inject messages and
// verify the QoS each topic was attached at.
type fakeSubscriber struct {
	qos      map[string]byte
	handlers map[string]bus.MessageFunc
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		qos:      make(map[string]byte),
		handlers: make(map[string]bus.MessageFunc),
	}
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler bus.MessageFunc) error {
	f.qos[topic] = qos
	f.handlers[topic] = handler
	return nil
}

// deliver injects a raw message as the broker would.
func (f *fakeSubscriber) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	h, ok := f.handlers[topic]
	require.True(t, ok, "no handler attached for %s", topic)
	h(topic, []byte(payload))
}

func newTestRouter(t *testing.T) (*recordSink, *fakeSubscriber) {
	t.Helper()
	sink := &recordSink{}
	sub := newFakeSubscriber()
	require.NoError(t, New(sink).Attach(sub))
	return sink, sub
}

// TestAttachSubscribesAllTopicsAtFirmwareQoS pins the topic/QoS contract
// with the controller firmware.
func TestAttachSubscribesAllTopicsAtFirmwareQoS(t *testing.T) {
	_, sub := newTestRouter(t)

	assert.Equal(t, map[string]byte{
		bus.TopicConnect:         2,
		bus.TopicHeartbeat:       1,
		bus.TopicStatus:          1,
		bus.TopicRFID:            2,
		bus.TopicRequestSequence: 1,
		bus.TopicColorSequence:   2,
		bus.TopicPlayerStatus:    1,
	}, sub.qos)
}

// TestRawIDTopics verifies connect and request_sequence carry a bare id,
// with surrounding whitespace tolerated and empty payloads dropped.
func TestRawIDTopics(t *testing.T) {
	sink, sub := newTestRouter(t)

	sub.deliver(t, bus.TopicConnect, "C1")
	sub.deliver(t, bus.TopicConnect, "  C2\n")
	sub.deliver(t, bus.TopicConnect, "   ")
	sub.deliver(t, bus.TopicRequestSequence, "C1")
	sub.deliver(t, bus.TopicRequestSequence, "")

	assert.Equal(t, []sinkCall{
		{"connected", "C1"},
		{"connected", "C2"},
		{"request", "C1"},
	}, sink.calls)
}

// TestJSONTopics verifies each JSON topic decodes into the right sink call.
func TestJSONTopics(t *testing.T) {
	sink, sub := newTestRouter(t)

	sub.deliver(t, bus.TopicHeartbeat, `{"controllerId":"C1"}`)
	sub.deliver(t, bus.TopicStatus, `{"controllerId":"C1","status":"disconnected"}`)
	sub.deliver(t, bus.TopicRFID, `{"controllerId":"C1","username":"ada","rfidTag":"04:AB"}`)
	sub.deliver(t, bus.TopicColorSequence, `{"controllerId":"C1","sequence":["RED","BLUE"]}`)
	sub.deliver(t, bus.TopicPlayerStatus, `{"controllerId":"C1","status":"lost"}`)

	assert.Equal(t, []sinkCall{
		{"heartbeat", "C1"},
		{"status", "C1", "disconnected"},
		{"rfid", "C1", "ada", "04:AB"},
		{"answer", "C1", "RED", "BLUE"},
		{"playerstatus", "C1", "lost"},
	}, sink.calls)
}

// TestMalformedPayloadsDropped verifies broken or incomplete messages never
// reach the sink.
func TestMalformedPayloadsDropped(t *testing.T) {
	sink, sub := newTestRouter(t)

	sub.deliver(t, bus.TopicHeartbeat, `not json`)
	sub.deliver(t, bus.TopicHeartbeat, `{}`)
	sub.deliver(t, bus.TopicRFID, `{"controllerId":"C1","username":"ada"}`)
	sub.deliver(t, bus.TopicColorSequence, `{"controllerId":"C1","sequence":[]}`)
	sub.deliver(t, bus.TopicColorSequence, `{"sequence":["RED"]}`)
	sub.deliver(t, bus.TopicStatus, `[1,2,3]`)

	assert.Empty(t, sink.calls)
}
