package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/carla-go/carla"
)

// newVersionCmd prints the resolved version string.
func newVersionCmd(opts *rootOptions) *cobra.Command {
	var asJSON, check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the CARLA binding version",
		Args:  cobra.NoArgs,
		RunE: func(cc *cobra.Command, _ []string) error {
			info := carla.Resolve(opts.lookup)

			if asJSON {
				b, err := json.Marshal(info)
				if err != nil {
					return err
				}
				fmt.Fprintln(cc.OutOrStdout(), string(b))
			} else {
				fmt.Fprintln(cc.OutOrStdout(), info.String())
			}

			if check {
				return info.Check()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print version and components as JSON")
	cmd.Flags().BoolVar(&check, "check", false, "fail if the version string disagrees with the components")

	return cmd
}

func newExportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exports",
		Short: "List the public version names",
		Args:  cobra.NoArgs,
		Run: func(cc *cobra.Command, _ []string) {
			for _, name := range carla.Exports() {
				fmt.Fprintln(cc.OutOrStdout(), name)
			}
		},
	}
}
