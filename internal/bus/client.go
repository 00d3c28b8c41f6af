package bus

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageFunc handles one inbound message. Handlers must not block for long:
// paho dispatches messages on shared goroutines and a stalled handler delays
// every later message on the connection.
type MessageFunc func(topic string, payload []byte)

// Publisher is the outbound half of the messaging port. The orchestrator
// depends on this interface only, so tests substitute an in-memory fake.
type Publisher interface {
	// Publish sends payload to topic at the given QoS. It returns an error
	// if the publish could not be confirmed within the client's timeout.
	Publish(topic string, qos byte, payload []byte) error
}

// Subscriber is the inbound half of the messaging port, consumed by the
// message router to attach topic handlers.
type Subscriber interface {
	// Subscribe registers handler for topic at the given QoS.
	Subscribe(topic string, qos byte, handler MessageFunc) error
}

// Config holds the broker connection settings.
type Config struct {
	BrokerURL string        // e.g. "tcp://localhost:1883"
	ClientID  string        // unique per process
	Username  string        // optional broker credentials
	Password  string        // optional broker credentials
	Timeout   time.Duration // per-operation confirmation timeout
}

// Client wraps a paho MQTT connection, implementing Publisher and Subscriber.
//
// Reconnect behavior: the underlying client reconnects automatically, and
// Client replays every subscription on each (re)connect. Brokers drop
// subscriptions with the session on unclean disconnects, so resubscribing
// unconditionally is the only safe option.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Client struct {
	c       mqtt.Client
	timeout time.Duration

	mu   sync.Mutex // protects subs
	subs []subscription
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageFunc
}

// Dial connects to the broker and returns a ready Client.
//
// Returns an error if the initial connection cannot be established within
// the configured timeout; after that, reconnects are handled internally.
func Dial(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := &Client{timeout: cfg.Timeout}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetOrderMatters(true).
		SetOnConnectHandler(func(mqtt.Client) {
			client.resubscribe()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("bus: connection lost: %v", err)
		})

	client.c = mqtt.NewClient(opts)

	token := client.c.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect to %s: timeout after %v", cfg.BrokerURL, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}

	return client, nil
}

// Publish sends payload to topic and waits for broker confirmation.
func (cl *Client) Publish(topic string, qos byte, payload []byte) error {
	token := cl.c.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(cl.timeout) {
		return fmt.Errorf("publish to %s: timeout after %v", topic, cl.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic and remembers the subscription so it
// can be replayed after a reconnect.
func (cl *Client) Subscribe(topic string, qos byte, handler MessageFunc) error {
	cl.mu.Lock()
	cl.subs = append(cl.subs, subscription{topic: topic, qos: qos, handler: handler})
	cl.mu.Unlock()

	return cl.subscribe(topic, qos, handler)
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (cl *Client) Close() {
	cl.c.Disconnect(250)
}

func (cl *Client) subscribe(topic string, qos byte, handler MessageFunc) error {
	token := cl.c.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(cl.timeout) {
		return fmt.Errorf("subscribe to %s: timeout after %v", topic, cl.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return nil
}

func (cl *Client) resubscribe() {
	cl.mu.Lock()
	subs := append([]subscription(nil), cl.subs...)
	cl.mu.Unlock()

	for _, s := range subs {
		if err := cl.subscribe(s.topic, s.qos, s.handler); err != nil {
			log.Printf("bus: resubscribe %s failed: %v", s.topic, err)
		}
	}
}
