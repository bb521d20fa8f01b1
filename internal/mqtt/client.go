package mqtt

import (
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/carla-go/internal/events"
)

const defaultTimeout = 10 * time.Second

// DefaultBrokerURL is used when Options.BrokerURL is empty.
const DefaultBrokerURL = "tcp://localhost:1883"

// Publisher sends a single message.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Subscriber registers a handler for a topic filter.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// Options configures a Client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	Timeout   time.Duration

	// OnConnect runs on every successful (re)connect.
	OnConnect func()
}

// Client wraps the Paho MQTT client.
type Client struct {
	client  paho.Client
	broker  string
	timeout time.Duration
	mu      sync.Mutex
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(o Options) *Client {
	if o.BrokerURL == "" {
		o.BrokerURL = DefaultBrokerURL
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 60 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}

	opts := paho.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetKeepAlive(o.KeepAlive).
		SetOnConnectHandler(func(paho.Client) {
			events.Emit("info", "mqtt.connected", "", map[string]interface{}{
				"broker":    o.BrokerURL,
				"client_id": o.ClientID,
			})
			if o.OnConnect != nil {
				o.OnConnect()
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			events.Emit("warning", "mqtt.disconnected", err.Error(), map[string]interface{}{
				"broker": o.BrokerURL,
			})
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	return &Client{
		client:  paho.NewClient(opts),
		broker:  o.BrokerURL,
		timeout: o.Timeout,
	}
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return &ConnectTimeoutError{Broker: c.broker}
	}
	return token.Error()
}

// Publish sends payload and waits for the broker to acknowledge it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(c.timeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct {
	Broker string
}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout: " + e.Broker
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// ConnectWithLog attempts to connect, logging errors but not crashing.
// Returns true if connected.
func (c *Client) ConnectWithLog() bool {
	if err := c.Connect(); err != nil {
		log.Printf("mqtt: failed to connect to %s: %v", c.broker, err)
		return false
	}
	return true
}
