package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/carla-go/internal/mqtt"
)

func newAnnounceCmd(opts *rootOptions) *cobra.Command {
	var (
		clientID string
		remove   bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Publish this client's binding version to the MQTT broker",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if clientID == "" {
				clientID = cfg.MQTT.ClientID
			}
			if err := mqtt.ValidateClientID(clientID); err != nil {
				return err
			}

			client := mqtt.NewClient(mqtt.Options{
				BrokerURL: cfg.MQTT.URL,
				ClientID:  clientID,
				Username:  cfg.MQTT.Username,
				Password:  cfg.MQTT.Password,
				KeepAlive: time.Duration(cfg.MQTT.KeepaliveSec) * time.Second,
				Timeout:   timeout,
			})
			if err := client.Connect(); err != nil {
				return err
			}
			defer client.Disconnect()

			topic := mqtt.VersionTopic(cfg.MQTT.TopicPrefix, clientID)
			if remove {
				if err := client.Publish(topic, 1, true, nil); err != nil {
					return err
				}
				fmt.Fprintf(cc.OutOrStdout(), "cleared %s\n", topic)
				return nil
			}

			if err := mqtt.Announce(client, cfg.MQTT.TopicPrefix, clientID, cfg.Binding); err != nil {
				return err
			}
			fmt.Fprintf(cc.OutOrStdout(), "announced %s on %s\n", cfg.Binding, topic)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "client id to announce as (default from config)")
	cmd.Flags().BoolVar(&remove, "clear", false, "remove the retained announcement instead")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "broker operation timeout")

	return cmd
}
