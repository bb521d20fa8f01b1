// Package api serves binding metadata, events and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/AaronLay10/carla-go/carla"
	"github.com/AaronLay10/carla-go/internal/events"
	"github.com/AaronLay10/carla-go/internal/mqtt"
	"github.com/AaronLay10/carla-go/internal/version"
)

// MetricsSource reports client metric counters.
type MetricsSource interface {
	Published() uint64
	Dropped() uint64
	Failed() uint64
}

// ConnState reports transport connectivity.
type ConnState interface {
	IsConnected() bool
}

// PeerSource lists known peer announcements.
type PeerSource interface {
	All() []*mqtt.Peer
}

// Options configures a Server. Only Info is required.
type Options struct {
	Info    carla.Info
	Metrics MetricsSource
	MQTT    ConnState
	Peers   PeerSource

	// TLS enables HTTPS when non-nil.
	TLS *TLSFiles
}

// Server exposes the resolved binding metadata of this process.
type Server struct {
	info      carla.Info
	metrics   MetricsSource
	mqtt      ConnState
	peers     PeerSource
	tls       *TLSFiles
	startTime time.Time
}

// NewServer creates a Server for opts.
func NewServer(opts Options) *Server {
	return &Server{
		info:      opts.Info,
		metrics:   opts.Metrics,
		mqtt:      opts.MQTT,
		peers:     opts.Peers,
		tls:       opts.TLS,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Build     string `json:"build"`
	Timestamp string `json:"ts"`
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	carla.Info
	Exports    []string `json:"exports"`
	Consistent bool     `json:"consistent"`
	CheckError string   `json:"check_error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// getOnly rejects anything but GET.
func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		h(w, r)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "carla-go",
		Hostname:  host,
		Build:     version.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{
		Info:       s.info,
		Exports:    carla.Exports(),
		Consistent: true,
	}
	if err := s.info.Check(); err != nil {
		resp.Consistent = false
		resp.CheckError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) exportsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, carla.Exports())
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot())
}

func (s *Server) peersHandler(w http.ResponseWriter, r *http.Request) {
	peers := []*mqtt.Peer{}
	if s.peers != nil {
		peers = s.peers.All()
	}
	writeJSON(w, http.StatusOK, peers)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(s.healthHandler))
	mux.HandleFunc("/version", getOnly(s.versionHandler))
	mux.HandleFunc("/exports", getOnly(s.exportsHandler))
	mux.HandleFunc("/events", getOnly(s.eventsHandler))
	mux.HandleFunc("/events/ws", wsEventsHandler)
	mux.HandleFunc("/peers", getOnly(s.peersHandler))
	mux.HandleFunc("/metrics", s.metricsHandler)
	return mux
}

// ListenAndServe serves on port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.tls != nil {
		cfg, err := s.tls.Load()
		if err != nil {
			return err
		}
		srv.TLSConfig = cfg
	}

	errCh := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			log.Printf("API listening on %s (TLS)\n", srv.Addr)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		log.Printf("API listening on %s\n", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Stream handlers block on their subscriptions.
	events.CloseAllSubscribers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
