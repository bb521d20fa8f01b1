package api

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AaronLay10/carla-go/internal/events"
)

// metricsHandler returns Prometheus-compatible metrics in text format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.startTime).Seconds()
	eventsTotal := events.TotalCount()
	wsClients := events.SubscriberCount()

	var published, dropped, failed uint64
	if s.metrics != nil {
		published = s.metrics.Published()
		dropped = s.metrics.Dropped()
		failed = s.metrics.Failed()
	}

	mqttConnected := 0
	if s.mqtt != nil && s.mqtt.IsConnected() {
		mqttConnected = 1
	}

	peers := 0
	if s.peers != nil {
		peers = len(s.peers.All())
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		if labels != "" {
			fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
		} else {
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
	}

	instance := fmt.Sprintf(`instance="%s"`, escapeLabel(hostname))

	writeMetric("carla_binding_info", "gauge",
		"Binding version metadata; always 1",
		1,
		fmt.Sprintf(`%s,version="%s",major="%d",minor="%d",patch="%d"`,
			instance, escapeLabel(s.info.Version), s.info.Major, s.info.Minor, s.info.Patch))

	writeMetric("carla_uptime_seconds", "gauge",
		"Number of seconds since the process started", uptime, instance)

	writeMetric("carla_events_total", "counter",
		"Total number of events emitted since startup", eventsTotal, instance)

	writeMetric("carla_metrics_published_total", "counter",
		"Client metric messages accepted by the broker", published, instance)

	writeMetric("carla_metrics_dropped_total", "counter",
		"Client metric messages dropped because the queue was full", dropped, instance)

	writeMetric("carla_metrics_failed_total", "counter",
		"Client metric messages whose publish failed", failed, instance)

	writeMetric("carla_mqtt_connected", "gauge",
		"Whether MQTT broker is connected (1) or not (0)", mqttConnected, instance)

	writeMetric("carla_peers", "gauge",
		"Number of peer clients that announced a binding version", peers, instance)

	writeMetric("carla_ws_clients", "gauge",
		"Number of active WebSocket client connections", wsClients, instance)

	writeMetric("carla_ws_dropped_total", "counter",
		"Events dropped for slow WebSocket clients", events.DroppedDeliveries(), instance)
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}
