package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/carla-go/internal/events"
)

const (
	// Number of recent events replayed on connection unless ?recent= is given
	defaultRecentEvents = 50

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Metadata only; any origin may read it.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamFilter selects which events a client receives.
type streamFilter struct {
	recent int
	prefix string
}

func parseStreamFilter(r *http.Request) streamFilter {
	f := streamFilter{recent: defaultRecentEvents}
	q := r.URL.Query()
	if v := q.Get("recent"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.recent = n
		}
	}
	f.prefix = q.Get("prefix")
	return f
}

func (f streamFilter) match(e events.Event) bool {
	return strings.HasPrefix(e.Name, f.prefix)
}

// wsConn wraps one client connection. Only the handler goroutine writes.
type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) writeText(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// wsEventsHandler streams events to a WebSocket client. It replays up to
// ?recent=N buffered events, then forwards live ones. ?prefix= restricts
// both to event names with that prefix.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter := parseStreamFilter(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	c := wsConn{conn: conn}

	sub := events.Subscribe(filter.prefix)
	cleanup := func() {
		events.Unsubscribe(sub)
		conn.Close()
	}

	if filter.recent > 0 {
		for _, e := range events.RecentEvents(filter.recent) {
			if !filter.match(e) {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Printf("ws skipping unencodable event %s: %v", e.Name, err)
				continue
			}
			if err := c.writeText(data); err != nil {
				log.Printf("ws write recent event failed: %v", err)
				cleanup()
				return
			}
		}
	}

	// Reader handles pongs and notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			cleanup()
			return

		case e, ok := <-sub.C:
			if !ok {
				// Closed by CloseAllSubscribers on shutdown.
				conn.Close()
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Printf("ws skipping unencodable event %s: %v", e.Name, err)
				continue
			}
			if err := c.writeText(data); err != nil {
				log.Printf("ws write event failed: %v", err)
				cleanup()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cleanup()
				return
			}
		}
	}
}
