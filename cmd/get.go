package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	desc := `Get a state

  Materialises each iterated object's get_state onto it, per get_mode
  (spec §4.8; default mode "ra": abort if missing, reuse — i.e. restore —
  if present).`

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get a state",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resolveParams(cmd)
			if err != nil {
				return printErr(err, "Unable to resolve parameters")
			}

			if err := buildOrchestrator(params).Get(cmd.Context(), params); err != nil {
				return printErr(err, "Unable to get state")
			}

			fmt.Println("state retrieved")

			return nil
		},
	}

	return withScenarioFlag(cmd)
}

func init() {
	rootCmd.AddCommand(newGetCmd())
}
