package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUnsetCmd() *cobra.Command {
	desc := `Unset a state

  Removes each iterated object's unset_state, per unset_mode (spec §4.8;
  default mode "fi": force-remove, ignoring absence).`

	cmd := &cobra.Command{
		Use:   "unset",
		Short: "Unset a state",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resolveParams(cmd)
			if err != nil {
				return printErr(err, "Unable to resolve parameters")
			}

			if err := buildOrchestrator(params).Unset(cmd.Context(), params); err != nil {
				return printErr(err, "Unable to unset state")
			}

			fmt.Println("state removed")

			return nil
		},
	}

	return withScenarioFlag(cmd)
}

func init() {
	rootCmd.AddCommand(newUnsetCmd())
}
