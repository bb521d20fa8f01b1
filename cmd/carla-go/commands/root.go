// Package commands implements the carla-go command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/carla-go/carla"
	"github.com/AaronLay10/carla-go/internal/config"
	"github.com/AaronLay10/carla-go/internal/version"
)

type rootOptions struct {
	lookup     carla.LookupFunc
	configPath string
}

// NewRootCmd returns the root command. lookup supplies environment values;
// pass os.LookupEnv outside of tests.
func NewRootCmd(lookup carla.LookupFunc) *cobra.Command {
	opts := &rootOptions{lookup: lookup}

	cmd := &cobra.Command{
		Use:           "carla-go",
		Short:         "Inspect and announce CARLA client binding metadata",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(
		newVersionCmd(opts),
		newExportsCmd(),
		newAnnounceCmd(opts),
		newServeCmd(opts),
	)

	return cmd
}

// loadConfig returns defaults, or the config file when one is given, with
// the environment applied on top.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		cfg, err = config.Load(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(o.lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
