package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	desc := `Check state consistency

  Reports true only if every iterated object's check_state (or, if unset,
  its own existence under check_mode) checks out (spec §4.8).`

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check state consistency",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resolveParams(cmd)
			if err != nil {
				return printErr(err, "Unable to resolve parameters")
			}

			ok, err := buildOrchestrator(params).Check(cmd.Context(), params)
			if err != nil {
				return printErr(err, "Unable to check state")
			}

			if ok {
				color.Green("true")
			} else {
				color.Red("false")
			}

			if !ok {
				return fmt.Errorf("check failed")
			}

			return nil
		},
	}

	return withScenarioFlag(cmd)
}

func init() {
	rootCmd.AddCommand(newCheckCmd())
}
