// Package integration wires the real router and orchestrator together over
// an in-memory bus and plays full games end to end, with only the broker
// and SQLite swapped for in-memory stand-ins.
package integration

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/lumo/internal/bus"
	"github.com/dreamware/lumo/internal/game"
	"github.com/dreamware/lumo/internal/orchestrator"
	"github.com/dreamware/lumo/internal/registry"
	"github.com/dreamware/lumo/internal/router"
	"github.com/dreamware/lumo/internal/store"
)

// memBus is an in-process broker: publishes are delivered synchronously to
// exact-topic subscribers and recorded for assertions.
type memBus struct {
	mu       sync.Mutex
	handlers map[string][]bus.MessageFunc
	msgs     map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		handlers: make(map[string][]bus.MessageFunc),
		msgs:     make(map[string][][]byte),
	}
}

func (b *memBus) Subscribe(topic string, qos byte, handler bus.MessageFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

func (b *memBus) Publish(topic string, qos byte, payload []byte) error {
	b.mu.Lock()
	b.msgs[topic] = append(b.msgs[topic], append([]byte(nil), payload...))
	handlers := append([]bus.MessageFunc(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}
	return nil
}

// lastOn returns the most recent payload published to topic, or nil.
func (b *memBus) lastOn(topic string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.msgs[topic]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (b *memBus) countOn(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs[topic])
}

type harness struct {
	bus  *memBus
	st   *store.MemoryStore
	orch *orchestrator.Orchestrator
}

func newHarness(t *testing.T, cfg orchestrator.Config) *harness {
	t.Helper()

	h := &harness{
		bus: newMemBus(),
		st:  store.NewMemoryStore(),
	}
	reg := registry.New(time.Minute)
	gen := game.NewGenerator(rand.NewSource(7))

	h.orch = orchestrator.New(cfg, reg, h.st, h.bus, gen)
	require.NoError(t, router.New(h.orch).Attach(h.bus))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.orch.Run(ctx)
	return h
}

// connect emulates the firmware handshake and waits for the server ack.
func (h *harness) connect(t *testing.T, id string) {
	t.Helper()
	before := h.bus.countOn(bus.TopicAck)
	require.NoError(t, h.bus.Publish(bus.TopicConnect, bus.QoSExactlyOnce, []byte(id)))
	require.Eventually(t, func() bool {
		return h.bus.countOn(bus.TopicAck) > before
	}, time.Second, 5*time.Millisecond, "no ack for %s", id)
}

// answer replays the last broadcast sequence for id, optionally corrupted.
func (h *harness) answer(t *testing.T, id string, correct bool) {
	t.Helper()
	raw := h.bus.lastOn(bus.SequenceTopic(id))
	require.NotNil(t, raw, "no sequence broadcast to %s", id)

	var colors []string
	require.NoError(t, json.Unmarshal(raw, &colors))
	if !correct {
		colors[0] = "PURPLE"
	}

	payload, err := json.Marshal(bus.AnswerPayload{ControllerID: id, Sequence: colors})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(bus.TopicColorSequence, bus.QoSExactlyOnce, payload))
}

// waitForSequence blocks until at least n sequences were broadcast to id.
func (h *harness) waitForSequence(t *testing.T, id string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.bus.countOn(bus.SequenceTopic(id)) >= n
	}, time.Second, 5*time.Millisecond, "sequence %d for %s never arrived", n, id)
}

// TestFullGameFlow plays a two-player game to the round cap: one player
// survives both rounds, the other is eliminated in round one.
func TestFullGameFlow(t *testing.T) {
	h := newHarness(t, orchestrator.Config{
		RoundCap:       2,
		CountdownDelay: 10 * time.Millisecond,
	})

	h.connect(t, "C1")
	h.connect(t, "C2")

	ctx := context.Background()
	require.NoError(t, h.orch.Login(ctx, "ada", "C1"))
	require.NoError(t, h.orch.Login(ctx, "grace", "C2"))

	res, err := h.orch.StartGame(ctx)
	require.NoError(t, err)
	require.True(t, res.Started)
	assert.ElementsMatch(t, []string{"C1", "C2"}, res.Controllers)

	// Round 1: countdown actions first, then the same sequence to both
	h.waitForSequence(t, "C1", 1)
	h.waitForSequence(t, "C2", 1)
	assert.Equal(t, 1, h.bus.countOn(bus.ActionTopic("C1")))
	assert.Equal(t, h.bus.lastOn(bus.SequenceTopic("C1")), h.bus.lastOn(bus.SequenceTopic("C2")))

	h.answer(t, "C1", true)
	h.answer(t, "C2", false)

	// Grace got her loss notice; her session is gone
	require.Eventually(t, func() bool {
		raw := h.bus.lastOn(bus.DisplayTopic("C2"))
		return raw != nil && jsonHasMessage(raw, "You lost!")
	}, time.Second, 5*time.Millisecond)

	// Round 2 goes to C1 only
	h.waitForSequence(t, "C1", 2)
	assert.Equal(t, 1, h.bus.countOn(bus.SequenceTopic("C2")))

	h.answer(t, "C1", true)

	// Round cap reached: game over lands on the frontend stream
	require.Eventually(t, func() bool {
		raw := h.bus.lastOn(bus.TopicNotifications)
		if raw == nil {
			return false
		}
		var n bus.NotificationPayload
		return json.Unmarshal(raw, &n) == nil && n.Action == bus.NotifyGameOver
	}, time.Second, 5*time.Millisecond)

	// Ada earned a point per round; grace only one round before elimination
	winner, err := h.st.RoundWinner(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", winner.Username)
	assert.Equal(t, 2, winner.Round)

	active, err := h.st.ActiveControllers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, active)
}

// TestPullModeSoloRound exercises the firmware's request_sequence path: no
// countdown, immediate broadcast, next round starts after the answer.
func TestPullModeSoloRound(t *testing.T) {
	h := newHarness(t, orchestrator.Config{
		RoundCap:       3,
		CountdownDelay: 10 * time.Millisecond,
	})

	h.connect(t, "C1")
	require.NoError(t, h.orch.Login(context.Background(), "ada", "C1"))

	require.NoError(t, h.bus.Publish(bus.TopicRequestSequence, bus.QoSAtLeastOnce, []byte("C1")))

	h.waitForSequence(t, "C1", 1)
	assert.Zero(t, h.bus.countOn(bus.ActionTopic("C1")), "pull mode skips the countdown")

	h.answer(t, "C1", true)

	// Survivor rolls into round two, countdown included this time
	h.waitForSequence(t, "C1", 2)
	assert.Equal(t, 1, h.bus.countOn(bus.ActionTopic("C1")))
}

// TestRFIDBindsPlayer verifies the scan-to-play flow over the bus.
func TestRFIDBindsPlayer(t *testing.T) {
	h := newHarness(t, orchestrator.Config{CountdownDelay: 10 * time.Millisecond})

	h.connect(t, "C1")

	payload, err := json.Marshal(bus.RFIDPayload{ControllerID: "C1", Username: "ada", RFIDTag: "04:AB:CD"})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(bus.TopicRFID, bus.QoSExactlyOnce, payload))

	require.Eventually(t, func() bool {
		active, err := h.st.ActiveControllers(context.Background())
		return err == nil && len(active) == 1 && active[0] == "C1"
	}, time.Second, 5*time.Millisecond)

	raw := h.bus.lastOn(bus.TopicNotifications)
	require.NotNil(t, raw)
	var n bus.NotificationPayload
	require.NoError(t, json.Unmarshal(raw, &n))
	assert.Equal(t, bus.NotifyControllerAssigned, n.Action)
}

func jsonHasMessage(raw []byte, want string) bool {
	var p bus.DisplayPayload
	return json.Unmarshal(raw, &p) == nil && p.Message == want
}
