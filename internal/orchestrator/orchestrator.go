package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/lumo/internal/bus"
	"github.com/dreamware/lumo/internal/game"
	"github.com/dreamware/lumo/internal/registry"
	"github.com/dreamware/lumo/internal/store"
)

// Config holds the tunable game parameters. The original deployment was
// inconsistent about several of these (round cap 4 vs 5, varying sequence
// lengths); they are deliberate configuration here.
type Config struct {
	RoundCap          int           // Game ends after this many rounds (default 5)
	MinSequenceLength int           // Inclusive lower bound for generated sequences (default 1)
	MaxSequenceLength int           // Inclusive upper bound for generated sequences (default 4)
	CountdownDelay    time.Duration // Countdown + "GO" duration before the sequence broadcast (default 4s)
	AnswerTimeout     time.Duration // Per-round answer deadline; 0 disables it entirely
	StoreTimeout      time.Duration // Per-operation persistence timeout (default 5s)
	QueueSize         int           // Event queue capacity (default 256)
}

func (c *Config) applyDefaults() {
	if c.RoundCap <= 0 {
		c.RoundCap = 5
	}
	if c.MinSequenceLength <= 0 {
		c.MinSequenceLength = 1
	}
	if c.MaxSequenceLength < c.MinSequenceLength {
		c.MaxSequenceLength = c.MinSequenceLength + 3
	}
	if c.CountdownDelay <= 0 {
		c.CountdownDelay = 4 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// StartResult is the outcome of a start-game request. Starting with no
// active controllers is a reported no-op, not an error.
type StartResult struct {
	Started     bool     `json:"started"`
	Message     string   `json:"message"`
	Controllers []string `json:"controllers,omitempty"`
}

// state is the orchestrator's position in the round lifecycle. Resolution
// happens inline while handling the final answer, so it needs no state of
// its own; game over returns to stateIdle.
type state int

const (
	stateIdle state = iota
	stateCountdown
	stateAwaiting
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCountdown:
		return "countdown"
	case stateAwaiting:
		return "awaiting-answers"
	default:
		return "unknown"
	}
}

// Orchestrator is the single-owner state machine for round progression. All
// fields below the events channel are owned by the Run goroutine and must
// not be touched from outside it.
type Orchestrator struct {
	cfg Config
	reg *registry.Registry
	st  store.Store
	pub bus.Publisher
	gen *game.Generator

	events chan event

	// schedule posts fn after d. Replaced in tests to fire deterministically.
	schedule func(d time.Duration, fn func())

	state  state
	round  *gameRound
	tokens uint64 // round token generator
}

// New creates an orchestrator. Run must be called before events are
// consumed.
func New(cfg Config, reg *registry.Registry, st store.Store, pub bus.Publisher, gen *game.Generator) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		reg:      reg,
		st:       st,
		pub:      pub,
		gen:      gen,
		events:   make(chan event, cfg.QueueSize),
		schedule: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		state:    stateIdle,
	}
}

// Run consumes the event queue until ctx is canceled. It is the only
// goroutine that mutates orchestrator state.
func (o *Orchestrator) Run(ctx context.Context) {
	log.Printf("orchestrator: event loop started (round cap %d, sequence length %d-%d)",
		o.cfg.RoundCap, o.cfg.MinSequenceLength, o.cfg.MaxSequenceLength)

	for {
		select {
		case ev := <-o.events:
			o.handle(ev)
		case <-ctx.Done():
			log.Println("orchestrator: event loop stopped")
			return
		}
	}
}

// StartGame requests a new game and waits for the serialized decision.
// Called from HTTP handlers; safe for concurrent use.
func (o *Orchestrator) StartGame(ctx context.Context) (StartResult, error) {
	reply := make(chan StartResult, 1)
	if err := o.enqueueWait(ctx, evStartGame{reply: reply}); err != nil {
		return StartResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return StartResult{}, ctx.Err()
	}
}

// Login binds a player to a controller through the serialized event stream,
// so it observes the same ordering as device messages. Returns
// store.ErrControllerBusy if the controller already has an open session.
func (o *Orchestrator) Login(ctx context.Context, username, controllerID string) error {
	reply := make(chan error, 1)
	if err := o.enqueueWait(ctx, evLogin{username: username, controllerID: controllerID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle dispatches one event. Runs on the Run goroutine only.
func (o *Orchestrator) handle(ev event) {
	switch e := ev.(type) {
	case evConnect:
		o.handleConnect(e)
	case evHeartbeat:
		o.reg.RecordHeartbeat(e.controllerID)
	case evStatus:
		o.handleStatus(e)
	case evPlayerStatus:
		o.handlePlayerStatus(e)
	case evRFIDScan:
		o.handleRFIDScan(e)
	case evAnswer:
		o.handleAnswer(e)
	case evSequenceRequest:
		o.handleSequenceRequest(e)
	case evStartGame:
		e.reply <- o.startGame()
	case evLogin:
		e.reply <- o.login(e.username, e.controllerID)
	case evCountdownElapsed:
		o.handleCountdownElapsed(e.token)
	case evAnswerDeadline:
		o.handleAnswerDeadline(e.token)
	default:
		log.Printf("orchestrator: unhandled event %T", ev)
	}
}

func (o *Orchestrator) handleConnect(e evConnect) {
	o.reg.RegisterConnect(e.controllerID)
	log.Printf("orchestrator: controller connected: %s", e.controllerID)

	if err := o.pub.Publish(bus.TopicAck, bus.QoSAtLeastOnce, []byte("Connected: "+e.controllerID)); err != nil {
		log.Printf("orchestrator: ack publish for %s failed: %v", e.controllerID, err)
	}
}

func (o *Orchestrator) handleStatus(e evStatus) {
	o.reg.RecordStatus(e.controllerID, e.status)

	// An explicit disconnect from a controller that is part of the current
	// round is an implicit loss, not a hang: the round must not wait on a
	// device that told us it is gone, and its session must not dangle.
	if e.status != registry.StatusDisconnected || o.round == nil {
		return
	}
	switch {
	case o.state == stateAwaiting && o.round.isAwaiting(e.controllerID):
		log.Printf("orchestrator: %s disconnected mid-round, treating as loss", e.controllerID)
		o.eliminate(e.controllerID, "")
		o.checkRoundComplete()
	case o.state == stateCountdown && o.round.hasParticipant(e.controllerID):
		log.Printf("orchestrator: %s disconnected during countdown, dropping from game", e.controllerID)
		o.round.dropParticipant(e.controllerID)
		o.closeSessionAndUnbind(e.controllerID)
	}
}

func (o *Orchestrator) handlePlayerStatus(e evPlayerStatus) {
	if e.status != "lost" {
		log.Printf("orchestrator: unrecognized player status %q from %s", e.status, e.controllerID)
		return
	}
	if o.state != stateAwaiting || o.round == nil || !o.round.isAwaiting(e.controllerID) {
		// Stale or duplicate loss report; not an error.
		return
	}
	o.eliminate(e.controllerID, "You lost!")
	o.checkRoundComplete()
}

func (o *Orchestrator) handleRFIDScan(e evRFIDScan) {
	var playerID int64
	err := o.withRetry("resolve player by rfid", func(ctx context.Context) error {
		var err error
		playerID, err = o.st.FindOrCreatePlayerByRFID(ctx, e.username, e.rfidTag)
		return err
	})
	if err != nil {
		return
	}

	err = o.storeOp(func(ctx context.Context) error {
		_, err := o.st.OpenSession(ctx, playerID, e.controllerID, "RFID")
		return err
	})
	if errors.Is(err, store.ErrControllerBusy) {
		log.Printf("orchestrator: controller %s already in use, ignoring rfid scan", e.controllerID)
		return
	}
	if err != nil {
		log.Printf("orchestrator: open session for %s failed: %v", e.controllerID, err)
		return
	}

	o.reg.MarkAssigned(e.controllerID)
	log.Printf("orchestrator: player %s bound to controller %s via rfid", e.username, e.controllerID)
	o.notifyFrontend(bus.NotifyControllerAssigned,
		fmt.Sprintf("Controller %s connected to %s", e.controllerID, e.username))
}

func (o *Orchestrator) login(username, controllerID string) error {
	var playerID int64
	err := o.withRetry("resolve player", func(ctx context.Context) error {
		var err error
		playerID, err = o.st.FindOrCreatePlayer(ctx, username)
		return err
	})
	if err != nil {
		return err
	}

	err = o.storeOp(func(ctx context.Context) error {
		_, err := o.st.OpenSession(ctx, playerID, controllerID, "Frontend")
		return err
	})
	if err != nil {
		return err
	}

	o.reg.MarkAssigned(controllerID)
	log.Printf("orchestrator: player %s logged in with controller %s", username, controllerID)
	o.notifyFrontend(bus.NotifyControllerAssigned,
		fmt.Sprintf("Controller %s connected to %s", controllerID, username))
	return nil
}

func (o *Orchestrator) startGame() StartResult {
	if o.state != stateIdle {
		return StartResult{Message: "game already in progress"}
	}

	active := o.reg.ListActive()
	if len(active) == 0 {
		return StartResult{Message: "no connected controllers associated with players"}
	}
	slices.Sort(active) // stable broadcast order for logs and tests

	// Sessions carried over from a finished game still sit at that game's
	// final round. Each participant gets a fresh round-1 lineage so round
	// numbering and scores restart; high scores live on the player row and
	// survive the reset.
	participants := make([]string, 0, len(active))
	for _, id := range active {
		err := o.withRetry("reset session", func(ctx context.Context) error {
			_, err := o.st.ResetSession(ctx, id)
			return err
		})
		if err != nil {
			log.Printf("orchestrator: session reset for %s failed, excluding from game: %v", id, err)
			continue
		}
		participants = append(participants, id)
	}
	if len(participants) == 0 {
		return StartResult{Message: "no controller could start a session"}
	}

	o.beginRound(1, participants, true)
	return StartResult{
		Started:     true,
		Message:     "game sequence generation started",
		Controllers: participants,
	}
}

func (o *Orchestrator) handleSequenceRequest(e evSequenceRequest) {
	// Pull-based round start: a single controller asks for a sequence. Only
	// valid between games; mid-game requests are stale or duplicated.
	if o.state != stateIdle {
		log.Printf("orchestrator: sequence request from %s ignored, state %s", e.controllerID, o.state)
		return
	}
	if !o.reg.IsLive(e.controllerID) {
		log.Printf("orchestrator: sequence request from non-live controller %s ignored", e.controllerID)
		return
	}
	// A pull request starts a fresh game too, so the carried session is
	// reset to a round-1 lineage just like the push path.
	err := o.withRetry("reset session", func(ctx context.Context) error {
		_, err := o.st.ResetSession(ctx, e.controllerID)
		return err
	})
	if errors.Is(err, store.ErrNoOpenSession) {
		log.Printf("orchestrator: sequence request from %s without session, ignoring", e.controllerID)
		return
	}
	if err != nil {
		log.Printf("orchestrator: session reset for %s failed, ignoring request: %v", e.controllerID, err)
		return
	}

	// Degenerate single-controller round: no countdown, broadcast now.
	o.beginRound(1, []string{e.controllerID}, false)
}

// beginRound creates the round state and either starts the countdown or
// broadcasts the sequence immediately.
func (o *Orchestrator) beginRound(number int, participants []string, withCountdown bool) {
	o.tokens++
	o.round = newGameRound(number, o.tokens, participants)
	o.state = stateCountdown

	log.Printf("orchestrator: round %d starting for %d controller(s)", number, len(participants))

	if !withCountdown {
		o.broadcastSequence()
		return
	}

	for _, id := range participants {
		if !o.reg.IsLive(id) {
			log.Printf("orchestrator: skipping countdown for non-live controller %s", id)
			continue
		}
		if err := o.publishJSON(bus.ActionTopic(id), bus.QoSAtLeastOnce,
			bus.ActionPayload{Action: bus.ActionCountdown}); err != nil {
			log.Printf("orchestrator: countdown publish to %s failed: %v", id, err)
		}
	}

	token := o.round.token
	o.schedule(o.cfg.CountdownDelay, func() {
		o.enqueue(evCountdownElapsed{token: token})
	})
}

func (o *Orchestrator) handleCountdownElapsed(token uint64) {
	if o.state != stateCountdown || o.round == nil || o.round.token != token {
		return // stale timer from a superseded round
	}
	o.broadcastSequence()
}

// broadcastSequence generates this round's sequence, persists a zero-point
// record per live participant, and pushes the sequence to each one. The
// awaiting set is exactly the controllers the broadcast was attempted
// against.
func (o *Orchestrator) broadcastSequence() {
	r := o.round
	r.sequence = o.gen.Generate(o.cfg.MinSequenceLength, o.cfg.MaxSequenceLength)

	payload, err := json.Marshal(r.sequence.Strings())
	if err != nil {
		// Cannot happen for a []string; guard anyway rather than panic the loop.
		log.Printf("orchestrator: sequence marshal failed: %v", err)
		return
	}

	for _, id := range r.participants {
		if !o.reg.IsLive(id) {
			log.Printf("orchestrator: controller %s not live, skipping sequence send", id)
			continue
		}

		var current int
		err := o.withRetry("fetch current round", func(ctx context.Context) error {
			var err error
			current, err = o.st.CurrentRound(ctx, id)
			return err
		})
		if err != nil {
			log.Printf("orchestrator: no current round for %s, excluding from round: %v", id, err)
			continue
		}
		if err := o.withRetry("create round record", func(ctx context.Context) error {
			return o.st.CreateRoundRecord(ctx, id, current)
		}); err != nil {
			log.Printf("orchestrator: round record for %s failed, excluding from round", id)
			continue
		}

		if err := o.pub.Publish(bus.SequenceTopic(id), bus.QoSAtLeastOnce, payload); err != nil {
			// The controller stays awaited: delivery may still succeed via
			// broker retry, and the answer deadline cleans up if not.
			log.Printf("orchestrator: sequence publish to %s failed: %v", id, err)
		} else {
			log.Printf("orchestrator: sequence sent to %s: %s", id, payload)
		}
		r.awaiting[id] = struct{}{}
	}

	r.activePlayers = len(r.awaiting)
	o.state = stateAwaiting

	if r.awaitingEmpty() {
		log.Printf("orchestrator: no live controllers at broadcast, ending game")
		o.gameOver()
		return
	}

	if o.cfg.AnswerTimeout > 0 {
		token := r.token
		o.schedule(o.cfg.AnswerTimeout, func() {
			o.enqueue(evAnswerDeadline{token: token})
		})
	}
}

func (o *Orchestrator) handleAnswer(e evAnswer) {
	if o.state != stateAwaiting || o.round == nil || !o.round.isAwaiting(e.controllerID) {
		// Duplicate, late, or unknown answer: a no-op by design of the
		// at-least-once bus, not an error.
		return
	}
	r := o.round

	if r.sequence.Matches(e.sequence) {
		r.settle(e.controllerID, true)
		o.awardPoint(e.controllerID)
	} else {
		log.Printf("orchestrator: sequence mismatch from %s", e.controllerID)
		o.eliminate(e.controllerID, "You lost!")
	}

	o.checkRoundComplete()
}

// awardPoint increments the controller's score for its current round and
// pushes the updated display info. Store failures halt only this
// controller's progression.
func (o *Orchestrator) awardPoint(controllerID string) {
	var current int
	err := o.withRetry("fetch current round", func(ctx context.Context) error {
		var err error
		current, err = o.st.CurrentRound(ctx, controllerID)
		return err
	})
	if err != nil {
		return
	}
	if err := o.withRetry("increment points", func(ctx context.Context) error {
		return o.st.IncrementPoints(ctx, controllerID, current)
	}); err != nil {
		return
	}

	log.Printf("orchestrator: sequence match, point for %s in round %d", controllerID, current)
	o.pushScore(controllerID, current)
}

// eliminate settles a controller as lost: closes its session, unbinds it in
// the registry, and pushes a loss notice when one is wanted and the device
// is reachable.
func (o *Orchestrator) eliminate(controllerID, notice string) {
	o.round.settle(controllerID, false)
	o.closeSessionAndUnbind(controllerID)

	log.Printf("orchestrator: player on %s eliminated, %d active player(s) remain",
		controllerID, o.round.activePlayers)

	if notice != "" && o.reg.IsLive(controllerID) {
		if err := o.publishJSON(bus.DisplayTopic(controllerID), bus.QoSAtLeastOnce,
			bus.DisplayPayload{Message: notice}); err != nil {
			log.Printf("orchestrator: loss notice to %s failed: %v", controllerID, err)
		}
	}
}

// closeSessionAndUnbind ends the controller's open session and clears its
// registry assignment, freeing it for a new login.
func (o *Orchestrator) closeSessionAndUnbind(controllerID string) {
	if err := o.withRetry("close session", func(ctx context.Context) error {
		return o.st.CloseSession(ctx, controllerID)
	}); err != nil && !errors.Is(err, store.ErrNoOpenSession) {
		log.Printf("orchestrator: session close for %s failed: %v", controllerID, err)
	}
	o.reg.MarkUnassigned(controllerID)
}

func (o *Orchestrator) handleAnswerDeadline(token uint64) {
	if o.state != stateAwaiting || o.round == nil || o.round.token != token {
		return // round already resolved
	}

	pending := make([]string, 0, len(o.round.awaiting))
	for id := range o.round.awaiting {
		pending = append(pending, id)
	}
	slices.Sort(pending)

	log.Printf("orchestrator: answer deadline reached, eliminating %d silent controller(s)", len(pending))
	for _, id := range pending {
		o.eliminate(id, "Too slow!")
	}
	o.checkRoundComplete()
}

// checkRoundComplete resolves the round when no further progress is
// possible: every awaited controller has settled, or nobody is left.
func (o *Orchestrator) checkRoundComplete() {
	r := o.round
	if r == nil || o.state != stateAwaiting {
		return
	}
	if r.activePlayers <= 0 {
		o.gameOver()
		return
	}
	if !r.awaitingEmpty() {
		return
	}
	o.resolveRound()
}

// resolveRound advances survivors into the next round or ends the game at
// the round cap.
func (o *Orchestrator) resolveRound() {
	r := o.round
	next := r.number + 1

	if next > o.cfg.RoundCap {
		log.Printf("orchestrator: round cap %d reached", o.cfg.RoundCap)
		o.gameOver()
		return
	}

	survivors := make([]string, 0, len(r.survivors))
	for _, id := range r.survivors {
		err := o.withRetry("advance round", func(ctx context.Context) error {
			_, err := o.st.AdvanceRound(ctx, id)
			return err
		})
		if err != nil {
			log.Printf("orchestrator: advancing %s failed, dropping from next round", id)
			continue
		}
		survivors = append(survivors, id)
	}

	if len(survivors) == 0 {
		log.Println("orchestrator: no controllers could advance")
		o.gameOver()
		return
	}

	o.beginRound(next, survivors, true)
}

// gameOver notifies every controller that still has an open session,
// persists high scores, and returns to idle. Sessions stay open so the same
// players can be carried into a fresh game; the next game start resets each
// carried session to a new round-1 lineage.
func (o *Orchestrator) gameOver() {
	finalRound := 0
	if o.round != nil {
		finalRound = o.round.number
	}
	log.Printf("orchestrator: game over after round %d", finalRound)

	var open []string
	err := o.withRetry("list open sessions", func(ctx context.Context) error {
		var err error
		open, err = o.st.ActiveControllers(ctx)
		return err
	})
	if err == nil {
		slices.Sort(open)
		for _, id := range open {
			if o.reg.IsLive(id) {
				if err := o.publishJSON(bus.DisplayTopic(id), bus.QoSAtLeastOnce,
					bus.DisplayPayload{Round: finalRound, Message: "Game Over!"}); err != nil {
					log.Printf("orchestrator: game-over notice to %s failed: %v", id, err)
				}
			}
			if err := o.withRetry("update high score", func(ctx context.Context) error {
				return o.st.UpdateHighScore(ctx, id)
			}); err != nil {
				log.Printf("orchestrator: high score update for %s failed: %v", id, err)
			}
		}
	}

	o.notifyFrontend(bus.NotifyGameOver, fmt.Sprintf("Game over after round %d", finalRound))

	o.state = stateIdle
	o.round = nil
}

// pushScore publishes a controller's score display for a round, gated on
// liveness like every per-controller send.
func (o *Orchestrator) pushScore(controllerID string, round int) {
	var info store.DisplayInfo
	err := o.withRetry("fetch display info", func(ctx context.Context) error {
		var err error
		info, err = o.st.DisplayInfo(ctx, controllerID, round)
		return err
	})
	if err != nil {
		return
	}
	if !o.reg.IsLive(controllerID) {
		log.Printf("orchestrator: controller %s not live, skipping display update", controllerID)
		return
	}
	if err := o.publishJSON(bus.DisplayTopic(controllerID), bus.QoSAtLeastOnce,
		bus.DisplayPayload{Username: info.Username, Points: info.Points, Round: info.Round}); err != nil {
		log.Printf("orchestrator: display update to %s failed: %v", controllerID, err)
	}
}

func (o *Orchestrator) notifyFrontend(action, message string) {
	if err := o.publishJSON(bus.TopicNotifications, bus.QoSAtLeastOnce,
		bus.NotificationPayload{Action: action, Message: message}); err != nil {
		log.Printf("orchestrator: frontend notification failed: %v", err)
	}
}

func (o *Orchestrator) publishJSON(topic string, qos byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", topic, err)
	}
	return o.pub.Publish(topic, qos, payload)
}

// storeOp runs one persistence call under the configured timeout.
func (o *Orchestrator) storeOp(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

// withRetry runs a persistence call and retries exactly once on transient
// failure. Typed domain errors are deterministic and not retried.
func (o *Orchestrator) withRetry(op string, fn func(ctx context.Context) error) error {
	err := o.storeOp(fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrControllerBusy) ||
		errors.Is(err, store.ErrNoOpenSession) {
		return err
	}

	log.Printf("orchestrator: %s failed, retrying once: %v", op, err)
	if err = o.storeOp(fn); err != nil {
		log.Printf("orchestrator: %s failed after retry: %v", op, err)
	}
	return err
}
