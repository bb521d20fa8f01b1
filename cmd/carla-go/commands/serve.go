package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/carla-go/carla"
	"github.com/AaronLay10/carla-go/internal/api"
	"github.com/AaronLay10/carla-go/internal/config"
	"github.com/AaronLay10/carla-go/internal/events"
	"github.com/AaronLay10/carla-go/internal/mqtt"
	"github.com/AaronLay10/carla-go/internal/storage/postgres"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve binding metadata over HTTP and MQTT until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cc.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, opts.lookup)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, lookup carla.LookupFunc) error {
	closeLog, err := openEventLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	events.Emit("info", "system.startup", "carla-go starting", startupFields(cfg))
	reportBinding(cfg.Binding)

	if cfg.Postgres.Enabled {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		settings := postgres.SettingsFromEnv(lookup)
		if cfg.Postgres.Password != "" {
			settings.Password = cfg.Postgres.Password
		}
		pg, err := postgres.New(pgCtx, settings, cfg.Binding.Version)
		cancel()
		if err != nil {
			// Events still go to the log and ring buffer.
			events.Emit("error", "system.error", "postgres unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			events.SetStore(pg)
			defer func() {
				events.SetStore(nil)
				pg.Close()
			}()
		}
	}

	peers := mqtt.NewPeerRegistry()
	var subscriber *mqtt.PeerSubscriber
	var client *mqtt.Client

	client = mqtt.NewClient(mqtt.Options{
		BrokerURL: cfg.MQTT.URL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		KeepAlive: time.Duration(cfg.MQTT.KeepaliveSec) * time.Second,
		OnConnect: func() {
			subscriber.ClearSubscriptions()
			if err := subscriber.Subscribe(); err != nil {
				events.Emit("error", "mqtt.error", "peer subscribe failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			if err := mqtt.Announce(client, cfg.MQTT.TopicPrefix, cfg.MQTT.ClientID, cfg.Binding); err != nil {
				events.Emit("error", "mqtt.error", "announce failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		},
	})
	subscriber = mqtt.NewPeerSubscriber(client, peers, cfg.Binding, cfg.MQTT.TopicPrefix, cfg.MQTT.ClientID)

	// paho keeps retrying in the background when this times out.
	client.ConnectWithLog()
	defer client.Disconnect()

	publisher := mqtt.NewMetricsPublisher(client, cfg.MQTT.EventsTopic, cfg.MQTT.QueueSize)
	publisher.Start(ctx)
	defer publisher.Stop()
	publisher.SendTimestamp("binding.startup", 1)

	srv := api.NewServer(api.Options{
		Info:    cfg.Binding,
		Metrics: publisher,
		MQTT:    client,
		Peers:   peers,
		TLS:     tlsFiles(lookup),
	})

	err = srv.ListenAndServe(ctx, cfg.API.Port)

	events.Emit("info", "system.shutdown", "carla-go stopping", nil)
	return err
}

// startupFields describes the process and the simulator it is configured
// for. The simulator is never contacted.
func startupFields(cfg *config.Config) map[string]interface{} {
	hostname, _ := os.Hostname()
	return map[string]interface{}{
		"hostname":   hostname,
		"pid":        os.Getpid(),
		"simulator":  fmt.Sprintf("%s:%d", cfg.Carla.Host, cfg.Carla.Port),
		"role_name":  cfg.Carla.RoleName,
		"sync_mode":  cfg.Carla.SyncMode,
		"logging_to": logTarget(cfg),
	}
}

func logTarget(cfg *config.Config) string {
	if cfg.Logging.Enabled && cfg.Logging.ToFile {
		return cfg.Logging.File
	}
	return "stderr"
}

// reportBinding logs the resolved version. A disagreement with the
// components is reported, never corrected.
func reportBinding(info carla.Info) {
	events.Emit("info", "binding.resolved", "", map[string]interface{}{
		"version": info.Version,
		"major":   info.Major,
		"minor":   info.Minor,
		"patch":   info.Patch,
	})
	events.Emit("debug", "binding.exported", "", map[string]interface{}{
		"names": carla.Exports(),
	})

	if err := info.Check(); err != nil {
		events.Emit("warning", "binding.mismatch", err.Error(), map[string]interface{}{
			"version": info.Version,
		})
	}
}

// openEventLog sends event lines to logging.file when file logging is on.
// The returned func restores stderr and closes the file.
func openEventLog(cfg *config.Config) (func(), error) {
	if !cfg.Logging.Enabled || !cfg.Logging.ToFile {
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	events.SetOutput(f)

	return func() {
		events.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

func tlsFiles(lookup carla.LookupFunc) *api.TLSFiles {
	files, ok := api.TLSFilesFromEnv(lookup)
	if !ok {
		return nil
	}
	return &files
}
