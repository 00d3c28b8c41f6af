// Package main implements simctl, a controller simulator for exercising the
// Lumo server without hardware.
//
// simctl emulates one or more controllers on the MQTT bus: each simulated
// controller announces itself on controller/connect, heartbeats on
// controller/heartbeat, listens for countdown actions and sequence
// broadcasts, and answers sequences automatically. An error rate flag makes
// a fraction of answers wrong, so elimination paths can be exercised too.
//
// Example usage:
//
//	# Three well-behaved controllers against a local broker
//	simctl -broker tcp://localhost:1883 -count 3
//
//	# One clumsy controller that flubs 30% of its answers
//	simctl -count 1 -error-rate 0.3
//
// Players still have to be bound via the HTTP login endpoint (or an RFID
// payload published manually) before a game can start.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/lumo/internal/bus"
)

func main() {
	var (
		broker    = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		count     = flag.Int("count", 1, "number of simulated controllers")
		prefix    = flag.String("prefix", "sim", "controller id prefix")
		heartbeat = flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
		delay     = flag.Duration("answer-delay", 500*time.Millisecond, "thinking time before answering")
		errorRate = flag.Float64("error-rate", 0, "fraction of answers to get wrong (0..1)")
		seed      = flag.Int64("seed", 0, "rng seed, 0 for time-based")
	)
	flag.Parse()

	if *count < 1 {
		log.Fatal("count must be >= 1")
	}
	if *errorRate < 0 || *errorRate > 1 {
		log.Fatal("error-rate must be within [0, 1]")
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		id := fmt.Sprintf("%s-%d", *prefix, i+1)
		sim := &simController{
			id:          id,
			heartbeat:   *heartbeat,
			answerDelay: *delay,
			errorRate:   *errorRate,
			rng:         rand.New(rand.NewSource(*seed + int64(i))),
			done:        done,
		}

		client, err := bus.Dial(bus.Config{
			BrokerURL: *broker,
			ClientID:  "simctl-" + id,
		})
		if err != nil {
			log.Fatalf("connect %s: %v", id, err)
		}
		defer client.Close()
		sim.client = client

		if err := sim.start(); err != nil {
			log.Fatalf("start %s: %v", id, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.heartbeatLoop()
		}()
	}

	log.Printf("simctl: %d controller(s) running against %s", *count, *broker)
	<-stop
	close(done)
	wg.Wait()
	log.Println("simctl stopped")
}

// simController is one emulated device. Mutable state is confined to paho's
// dispatch goroutine plus the heartbeat loop, with the rng guarded since
// both touch it.
type simController struct {
	id          string
	client      *bus.Client
	heartbeat   time.Duration
	answerDelay time.Duration
	errorRate   float64
	done        chan struct{}

	mu  sync.Mutex
	rng *rand.Rand
}

// start announces the controller and subscribes to its server-facing topics.
func (s *simController) start() error {
	if err := s.client.Subscribe(bus.ActionTopic(s.id), bus.QoSAtLeastOnce, s.onAction); err != nil {
		return err
	}
	if err := s.client.Subscribe(bus.SequenceTopic(s.id), bus.QoSAtLeastOnce, s.onSequence); err != nil {
		return err
	}
	if err := s.client.Subscribe(bus.DisplayTopic(s.id), bus.QoSAtLeastOnce, s.onDisplay); err != nil {
		return err
	}

	// Raw id, exactly what the firmware sends
	return s.client.Publish(bus.TopicConnect, bus.QoSExactlyOnce, []byte(s.id))
}

func (s *simController) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			payload, _ := json.Marshal(bus.HeartbeatPayload{ControllerID: s.id})
			if err := s.client.Publish(bus.TopicHeartbeat, bus.QoSAtLeastOnce, payload); err != nil {
				log.Printf("%s: heartbeat failed: %v", s.id, err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *simController) onAction(_ string, payload []byte) {
	var p bus.ActionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("%s: bad action payload: %v", s.id, err)
		return
	}
	log.Printf("%s: action %q", s.id, p.Action)
}

// onSequence answers a broadcast sequence after the configured thinking
// time, corrupting the first color at the configured error rate.
func (s *simController) onSequence(_ string, payload []byte) {
	var colors []string
	if err := json.Unmarshal(payload, &colors); err != nil || len(colors) == 0 {
		log.Printf("%s: bad sequence payload %q", s.id, payload)
		return
	}
	log.Printf("%s: sequence received: %v", s.id, colors)

	answer := append([]string(nil), colors...)
	if s.flubAnswer() {
		answer[0] = "PURPLE"
		log.Printf("%s: answering wrong on purpose", s.id)
	}

	select {
	case <-time.After(s.answerDelay):
	case <-s.done:
		return
	}

	out, _ := json.Marshal(bus.AnswerPayload{ControllerID: s.id, Sequence: answer})
	if err := s.client.Publish(bus.TopicColorSequence, bus.QoSExactlyOnce, out); err != nil {
		log.Printf("%s: answer failed: %v", s.id, err)
	}
}

func (s *simController) onDisplay(_ string, payload []byte) {
	var p bus.DisplayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("%s: bad display payload: %v", s.id, err)
		return
	}
	if p.Message != "" {
		log.Printf("%s: display: %s", s.id, p.Message)
		return
	}
	log.Printf("%s: display: %s round %d points %d", s.id, p.Username, p.Round, p.Points)
}

func (s *simController) flubAnswer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.errorRate
}
