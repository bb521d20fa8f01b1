package mqtt

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/carla-go/carla"
	"github.com/AaronLay10/carla-go/internal/events"
)

func init() {
	events.SetOutput(io.Discard)
}

// MockMQTTClient is a mock MQTT client for testing subscriptions and publishes.
type MockMQTTClient struct {
	mu            sync.Mutex
	subscriptions map[string]paho.MessageHandler
	subscribeErr  error
	subscribes    int
	published     []Message
	publishErr    error
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		subscriptions: make(map[string]paho.MessageHandler),
	}
}

func (m *MockMQTTClient) Subscribe(topic string, handler paho.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes++
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.subscriptions[topic] = handler
	return nil
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, Message{Topic: topic, Payload: payload, QoS: qos, Retain: retained})
	return nil
}

func (m *MockMQTTClient) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message{}, m.published...)
}

// SimulateMessage delivers payload on topic through the handler registered for filter.
func (m *MockMQTTClient) SimulateMessage(filter, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.subscriptions[filter]
	m.mu.Unlock()
	if ok {
		handler(nil, &mockMessage{topic: topic, payload: payload})
	}
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return true }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

func announcement(t *testing.T, id, version string) []byte {
	t.Helper()
	info := carla.Resolve(func(string) (string, bool) { return version, true })
	b, err := json.Marshal(NewAnnouncement(id, info))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func countEvents(name string) int {
	n := 0
	for _, e := range events.Snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

func TestPeerSubscriber_Subscribe_Idempotent(t *testing.T) {
	mock := NewMockMQTTClient()
	s := NewPeerSubscriber(mock, NewPeerRegistry(), carla.Resolve(nil), "carla", "self")

	for i := 0; i < 3; i++ {
		if err := s.Subscribe(); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	if mock.subscribes != 1 {
		t.Errorf("expected 1 broker subscribe, got %d", mock.subscribes)
	}
	if _, ok := mock.subscriptions["carla/clients/+/version"]; !ok {
		t.Errorf("expected subscription to peer filter, got %v", mock.subscriptions)
	}
	if !s.IsSubscribed() {
		t.Error("expected IsSubscribed to be true")
	}

	s.ClearSubscriptions()
	if s.IsSubscribed() {
		t.Error("expected IsSubscribed to be false after clear")
	}
	if err := s.Subscribe(); err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}
	if mock.subscribes != 2 {
		t.Errorf("expected resubscribe after clear, got %d subscribes", mock.subscribes)
	}
}

func TestPeerSubscriber_Subscribe_Error(t *testing.T) {
	mock := NewMockMQTTClient()
	mock.subscribeErr = errors.New("not connected")
	s := NewPeerSubscriber(mock, NewPeerRegistry(), carla.Resolve(nil), "carla", "self")

	if err := s.Subscribe(); err == nil {
		t.Fatal("expected error")
	}
	if s.IsSubscribed() {
		t.Error("failed subscribe must not be recorded")
	}
}

func TestPeerSubscriber_RecordsPeers(t *testing.T) {
	events.Clear()
	mock := NewMockMQTTClient()
	registry := NewPeerRegistry()
	s := NewPeerSubscriber(mock, registry, carla.Resolve(nil), "carla", "self")
	if err := s.Subscribe(); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	filter := PeerTopicFilter("carla")
	mock.SimulateMessage(filter, "carla/clients/ego/version", announcement(t, "ego", "0.9.16"))
	mock.SimulateMessage(filter, "carla/clients/npc/version", announcement(t, "npc", "0.9.15"))

	if registry.Count() != 2 {
		t.Fatalf("expected 2 peers, got %d", registry.Count())
	}
	ego := registry.Get("ego")
	if ego == nil || ego.Version != "0.9.16" || ego.Topic != "carla/clients/ego/version" {
		t.Errorf("unexpected ego peer: %+v", ego)
	}
	if len(ego.Exports) != 4 {
		t.Errorf("expected exports to be carried, got %v", ego.Exports)
	}

	if got := countEvents("peer.announced"); got != 2 {
		t.Errorf("expected 2 peer.announced, got %d", got)
	}
	if got := countEvents("peer.mismatch"); got != 1 {
		t.Errorf("expected 1 peer.mismatch, got %d", got)
	}

	mismatched := registry.Mismatched("0.9.16")
	if len(mismatched) != 1 || mismatched[0].ClientID != "npc" {
		t.Errorf("unexpected mismatched peers: %v", mismatched)
	}
}

func TestPeerSubscriber_IgnoresSelfAndForeignTopics(t *testing.T) {
	mock := NewMockMQTTClient()
	registry := NewPeerRegistry()
	s := NewPeerSubscriber(mock, registry, carla.Resolve(nil), "carla", "self")
	s.Subscribe()

	filter := PeerTopicFilter("carla")
	mock.SimulateMessage(filter, "carla/clients/self/version", announcement(t, "self", "0.9.16"))
	mock.SimulateMessage(filter, "other/clients/x/version", announcement(t, "x", "0.9.16"))

	if registry.Count() != 0 {
		t.Errorf("expected no peers, got %d", registry.Count())
	}
}

func TestPeerSubscriber_RejectsBadPayloads(t *testing.T) {
	events.Clear()
	mock := NewMockMQTTClient()
	registry := NewPeerRegistry()
	s := NewPeerSubscriber(mock, registry, carla.Resolve(nil), "carla", "self")
	s.Subscribe()

	filter := PeerTopicFilter("carla")
	mock.SimulateMessage(filter, "carla/clients/ego/version", []byte("not json"))
	mock.SimulateMessage(filter, "carla/clients/ego/version", announcement(t, "impostor", "0.9.16"))

	if registry.Count() != 0 {
		t.Errorf("expected no peers, got %d", registry.Count())
	}
	if got := countEvents("mqtt.error"); got != 2 {
		t.Errorf("expected 2 mqtt.error events, got %d", got)
	}
}

func TestPeerSubscriber_EmptyPayloadRemovesPeer(t *testing.T) {
	mock := NewMockMQTTClient()
	registry := NewPeerRegistry()
	s := NewPeerSubscriber(mock, registry, carla.Resolve(nil), "carla", "self")
	s.Subscribe()

	filter := PeerTopicFilter("carla")
	mock.SimulateMessage(filter, "carla/clients/ego/version", announcement(t, "ego", "0.9.16"))
	mock.SimulateMessage(filter, "carla/clients/ego/version", nil)

	if registry.Exists("ego") {
		t.Error("expected ego to be removed")
	}
}
