package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AaronLay10/carla-go/internal/events"
)

// gatedPublisher blocks every Publish until release is closed.
type gatedPublisher struct {
	*MockMQTTClient
	entered chan struct{}
	release chan struct{}
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{
		MockMQTTClient: NewMockMQTTClient(),
		entered:        make(chan struct{}, 16),
		release:        make(chan struct{}),
	}
}

func (g *gatedPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	g.entered <- struct{}{}
	<-g.release
	return g.MockMQTTClient.Publish(topic, qos, retained, payload)
}

func TestMetricsPublisher_EnqueueBeforeStart(t *testing.T) {
	mock := NewMockMQTTClient()
	p := NewMetricsPublisher(mock, "eabs/nxp/events", 4)

	if p.Enqueue(Message{Topic: "t"}) {
		t.Error("enqueue should fail when not running")
	}
	if p.Dropped() != 0 {
		t.Errorf("not-running rejections are not drops, got %d", p.Dropped())
	}
}

func TestMetricsPublisher_SendTimestamp(t *testing.T) {
	mock := NewMockMQTTClient()
	p := NewMetricsPublisher(mock, "eabs/nxp/events", 4)
	p.now = func() time.Time { return time.Unix(0, 1234) }

	p.Start(context.Background())
	if !p.SendTimestamp(`brake "strong"`, 7) {
		t.Fatal("SendTimestamp should succeed")
	}
	p.Stop()

	msgs := mock.Published()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Topic != "eabs/nxp/events" || msgs[0].QoS != 0 || msgs[0].Retain {
		t.Errorf("unexpected message envelope: %+v", msgs[0])
	}

	want := `{"ts":1234,"event":"brake \"strong\"","value":7}`
	if string(msgs[0].Payload) != want {
		t.Errorf("payload = %s, want %s", msgs[0].Payload, want)
	}

	var decoded timestampEvent
	if err := json.Unmarshal(msgs[0].Payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.Published() != 1 {
		t.Errorf("Published = %d, want 1", p.Published())
	}
}

func TestMetricsPublisher_DropsWhenFull(t *testing.T) {
	g := newGatedPublisher()
	p := NewMetricsPublisher(g, "m", 2)
	p.Start(context.Background())

	if !p.Enqueue(Message{Topic: "m", Payload: []byte("1")}) {
		t.Fatal("first enqueue should succeed")
	}

	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up first message")
	}

	// Worker is blocked; the queue holds two more.
	if !p.Enqueue(Message{Topic: "m", Payload: []byte("2")}) {
		t.Error("second enqueue should succeed")
	}
	if !p.Enqueue(Message{Topic: "m", Payload: []byte("3")}) {
		t.Error("third enqueue should succeed")
	}
	if p.Enqueue(Message{Topic: "m", Payload: []byte("4")}) {
		t.Error("fourth enqueue should be dropped")
	}
	if p.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", p.Dropped())
	}
	if p.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", p.Pending())
	}

	close(g.release)
	p.Stop()

	msgs := g.Published()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 published after flush, got %d", len(msgs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if string(msgs[i].Payload) != want {
			t.Errorf("message %d = %s, want %s", i, msgs[i].Payload, want)
		}
	}
}

func TestMetricsPublisher_StartStopIdempotent(t *testing.T) {
	mock := NewMockMQTTClient()
	p := NewMetricsPublisher(mock, "m", 0)

	p.Stop()
	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	if p.Enqueue(Message{Topic: "m"}) {
		t.Error("enqueue after stop should fail")
	}
	if p.maxQueue != DefaultQueueSize {
		t.Errorf("maxQueue = %d, want default %d", p.maxQueue, DefaultQueueSize)
	}
}

func TestMetricsPublisher_ContextCancelStops(t *testing.T) {
	mock := NewMockMQTTClient()
	p := NewMetricsPublisher(mock, "m", 4)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !p.Enqueue(Message{Topic: "m"}) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("publisher kept accepting messages after context cancel")
}

func TestMetricsPublisher_PublishErrorsCounted(t *testing.T) {
	mock := NewMockMQTTClient()
	mock.publishErr = errors.New("broker gone")
	p := NewMetricsPublisher(mock, "m", 4)

	p.Start(context.Background())
	p.SendTimestamp("a", 1)
	p.SendTimestamp("b", 2)
	p.Stop()

	if p.Failed() != 2 {
		t.Errorf("Failed = %d, want 2", p.Failed())
	}
	if p.Published() != 0 {
		t.Errorf("Published = %d, want 0", p.Published())
	}
}

func droppedReports() []events.Event {
	var out []events.Event
	for _, e := range events.Snapshot() {
		if e.Name == "metric.dropped" {
			out = append(out, e)
		}
	}
	return out
}

func TestMetricsPublisher_ContextCancelReportsDrops(t *testing.T) {
	g := newGatedPublisher()
	p := NewMetricsPublisher(g, "m", 1)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	p.Enqueue(Message{Topic: "m", Payload: []byte("1")})
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up first message")
	}
	p.Enqueue(Message{Topic: "m", Payload: []byte("2")})
	if p.Enqueue(Message{Topic: "m", Payload: []byte("3")}) {
		t.Fatal("third enqueue should be dropped")
	}

	// Let the worker flush and go idle before the context ends.
	close(g.release)
	deadline := time.Now().Add(2 * time.Second)
	for p.Published() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Published() != 2 {
		t.Fatalf("Published = %d, want 2", p.Published())
	}

	events.Clear()
	cancel()
	p.Stop()

	reports := droppedReports()
	if len(reports) != 1 {
		t.Fatalf("expected one metric.dropped event, got %d", len(reports))
	}
	if got := reports[0].Fields["dropped"]; got != uint64(1) {
		t.Errorf("dropped field = %v, want 1", got)
	}
}

func TestMetricsPublisher_StopReportsDropsOnce(t *testing.T) {
	g := newGatedPublisher()
	p := NewMetricsPublisher(g, "m", 1)
	p.Start(context.Background())

	p.Enqueue(Message{Topic: "m", Payload: []byte("1")})
	<-g.entered
	p.Enqueue(Message{Topic: "m", Payload: []byte("2")})
	p.Enqueue(Message{Topic: "m", Payload: []byte("3")})

	events.Clear()
	close(g.release)
	p.Stop()
	p.Stop()

	if got := len(droppedReports()); got != 1 {
		t.Errorf("expected one metric.dropped event, got %d", got)
	}
}
