package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPushCmd() *cobra.Command {
	desc := `Push a named state

  Iterates then sets push_state under push_mode, skipping reserved state
  names ("root", "boot"); plain set does not skip them (spec §4.8, §8 E6).`

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push a named state",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resolveParams(cmd)
			if err != nil {
				return printErr(err, "Unable to resolve parameters")
			}

			if err := buildOrchestrator(params).Push(cmd.Context(), params); err != nil {
				return printErr(err, "Unable to push state")
			}

			fmt.Println("state pushed")

			return nil
		},
	}

	return withScenarioFlag(cmd)
}

func init() {
	rootCmd.AddCommand(newPushCmd())
}
