package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// binding metadata
	"binding.resolved": {},
	"binding.mismatch": {},
	"binding.exported": {},

	// mqtt transport
	"mqtt.connected":    {},
	"mqtt.disconnected": {},
	"mqtt.error":        {},

	// client metrics
	"metric.published": {},
	"metric.dropped":   {},

	// peer bindings
	"peer.announced": {},
	"peer.mismatch":  {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
