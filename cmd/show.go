package cmd

import (
	"os"

	"vtstate/util"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	desc := `Show visible states

  Lists, for every object named by the parameter map's hierarchy chain, the
  state names currently visible at its configured locations (spec §4.8).`

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show visible states",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resolveParams(cmd)
			if err != nil {
				return printErr(err, "Unable to resolve parameters")
			}

			names, err := buildOrchestrator(params).Show(cmd.Context(), params)
			if err != nil {
				return printErr(err, "Unable to show states")
			}

			util.PrintTableOfStates(os.Stdout, names)

			return nil
		},
	}

	return withScenarioFlag(cmd)
}

func init() {
	rootCmd.AddCommand(newShowCmd())
}
