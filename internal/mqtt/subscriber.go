package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/carla-go/carla"
	"github.com/AaronLay10/carla-go/internal/events"
)

// PeerSubscriber listens for other clients' version announcements.
// Subscription is idempotent across reconnects.
type PeerSubscriber struct {
	mu         sync.Mutex
	client     Subscriber
	registry   *PeerRegistry
	local      carla.Info
	prefix     string
	selfID     string
	subscribed bool
	now        func() time.Time
}

// NewPeerSubscriber creates a subscriber that compares peers against local.
func NewPeerSubscriber(client Subscriber, registry *PeerRegistry, local carla.Info, prefix, selfID string) *PeerSubscriber {
	return &PeerSubscriber{
		client:   client,
		registry: registry,
		local:    local,
		prefix:   prefix,
		selfID:   selfID,
		now:      time.Now,
	}
}

// Subscribe subscribes to the peer topic filter if not already subscribed.
func (s *PeerSubscriber) Subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribed {
		return nil
	}

	handler := func(_ paho.Client, msg paho.Message) {
		s.handle(msg.Topic(), msg.Payload())
	}
	if err := s.client.Subscribe(PeerTopicFilter(s.prefix), handler); err != nil {
		return err
	}

	s.subscribed = true
	return nil
}

// IsSubscribed returns true if the peer filter is subscribed.
func (s *PeerSubscriber) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// ClearSubscriptions resets subscription tracking.
// Call this on disconnect to allow re-subscription on reconnect.
func (s *PeerSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = false
}

func (s *PeerSubscriber) handle(topic string, payload []byte) {
	id, ok := ClientIDFromTopic(s.prefix, topic)
	if !ok || id == s.selfID {
		return
	}

	// An empty retained message clears the announcement.
	if len(payload) == 0 {
		s.registry.Unregister(id)
		return
	}

	a, err := ParseAnnouncement(payload)
	if err != nil {
		events.Emit("error", "mqtt.error", "invalid peer announcement", map[string]interface{}{
			"topic": topic,
			"error": err.Error(),
		})
		return
	}
	if a.ClientID != id {
		events.Emit("error", "mqtt.error", "announcement client_id does not match topic", map[string]interface{}{
			"topic":     topic,
			"client_id": a.ClientID,
		})
		return
	}

	s.registry.Register(&Peer{
		Announcement: *a,
		Topic:        topic,
		LastSeen:     s.now(),
	})

	events.Emit("info", "peer.announced", "", map[string]interface{}{
		"client_id": a.ClientID,
		"version":   a.Version,
	})

	if a.Version != s.local.Version {
		events.Emit("warning", "peer.mismatch", "peer runs a different binding version", map[string]interface{}{
			"client_id":     a.ClientID,
			"peer_version":  a.Version,
			"local_version": s.local.Version,
		})
	}
}
