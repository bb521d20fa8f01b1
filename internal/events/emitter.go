package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Store persists events. *postgres.Client implements it.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error
}

var buffer = NewRingBuffer(256)

var (
	store          Store
	storeMu        sync.RWMutex
	storeErrLogged bool

	outMu sync.Mutex
	out   io.Writer = os.Stderr
)

// SetStore sets the store used for event persistence. Pass nil to disable.
func SetStore(s Store) {
	storeMu.Lock()
	store = s
	storeErrLogged = false
	storeMu.Unlock()
}

// SetOutput sets where emitted events are written as JSON lines.
// Pass nil to silence output.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)
	persist(ts, e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outMu.Lock()
	if out != nil {
		_, _ = out.Write(append(b, '\n'))
	}
	outMu.Unlock()

	return b, nil
}

func persist(ts time.Time, e Event) {
	storeMu.RLock()
	s := store
	storeMu.RUnlock()

	if s == nil {
		return
	}

	err := s.Append(ts, e.Level, e.Name, e.Message, e.Fields)
	if err == nil {
		return
	}

	// Report once. Goes straight into the buffer, not through Emit,
	// so a failing store cannot recurse.
	storeMu.Lock()
	if storeErrLogged {
		storeMu.Unlock()
		return
	}
	storeErrLogged = true
	storeMu.Unlock()

	buffer.Add(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "error",
		Name:      "system.error",
		Message:   "event store append failed",
		Fields: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return buffer.Total()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
