package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/carla-go/internal/events"
)

// DefaultQueueSize bounds the metrics queue when no size is given.
const DefaultQueueSize = 1024

// Message is a queued MQTT message.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MetricsPublisher sends client metrics from a background goroutine.
// Enqueue never blocks; when the queue is full the message is dropped
// and counted.
type MetricsPublisher struct {
	pub      Publisher
	topic    string
	maxQueue int
	now      func() time.Time

	mu      sync.Mutex
	queue   []Message
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	notify  chan struct{}

	dropped   atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
}

// NewMetricsPublisher creates a publisher that sends timestamp events to topic.
func NewMetricsPublisher(pub Publisher, topic string, maxQueue int) *MetricsPublisher {
	if maxQueue <= 0 {
		maxQueue = DefaultQueueSize
	}
	return &MetricsPublisher{
		pub:      pub,
		topic:    topic,
		maxQueue: maxQueue,
		now:      time.Now,
		notify:   make(chan struct{}, 1),
	}
}

// Start launches the worker. Calling Start on a running publisher is a no-op.
func (p *MetricsPublisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(ctx, p.stopCh, p.done)
}

// Stop halts the worker after flushing queued messages and waits for it to
// exit. Calling Stop on a stopped publisher is a no-op.
func (p *MetricsPublisher) Stop() {
	p.mu.Lock()
	if p.running {
		p.running = false
		close(p.stopCh)
	}
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Enqueue queues msg for sending. It reports false if the publisher is not
// running or the queue is full.
func (p *MetricsPublisher) Enqueue(msg Message) bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	if len(p.queue) >= p.maxQueue {
		p.mu.Unlock()
		p.dropped.Add(1)
		return false
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

type timestampEvent struct {
	TS    int64  `json:"ts"`
	Event string `json:"event"`
	Value int64  `json:"value"`
}

// SendTimestamp queues {"ts":<unix ns>,"event":tag,"value":value}.
func (p *MetricsPublisher) SendTimestamp(tag string, value int64) bool {
	payload, err := json.Marshal(timestampEvent{
		TS:    p.now().UnixNano(),
		Event: tag,
		Value: value,
	})
	if err != nil {
		return false
	}
	return p.Enqueue(Message{Topic: p.topic, Payload: payload})
}

// Dropped returns the number of messages rejected because the queue was full.
func (p *MetricsPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Published returns the number of messages the broker accepted.
func (p *MetricsPublisher) Published() uint64 {
	return p.published.Load()
}

// Failed returns the number of messages whose publish returned an error.
func (p *MetricsPublisher) Failed() uint64 {
	return p.failed.Load()
}

// Pending returns the number of queued messages.
func (p *MetricsPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *MetricsPublisher) loop(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)
	defer p.reportDropped()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			p.drain()
			return
		case <-stopCh:
			p.drain()
			return
		case <-p.notify:
			p.drain()
		}
	}
}

// reportDropped runs on every worker exit, whether Stop or ctx ended it.
func (p *MetricsPublisher) reportDropped() {
	if n := p.dropped.Load(); n > 0 {
		events.Emit("warning", "metric.dropped", "metrics queue overflowed", map[string]interface{}{
			"dropped": n,
			"topic":   p.topic,
		})
	}
}

func (p *MetricsPublisher) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		msg := p.queue[0]
		p.queue[0] = Message{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.send(msg)
	}
}

func (p *MetricsPublisher) send(msg Message) {
	if err := p.pub.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload); err != nil {
		p.failed.Add(1)
		events.Emit("error", "mqtt.error", "metric publish failed", map[string]interface{}{
			"topic": msg.Topic,
			"error": err.Error(),
		})
		return
	}
	p.published.Add(1)
}
