package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPopCmd() *cobra.Command {
	desc := `Pop the named state

  Iterates then gets then unsets get_state, skipping reserved state names
  (spec §4.8, §8 invariant 4: "pop ≡ get then unset").`

	cmd := &cobra.Command{
		Use:   "pop",
		Short: "Pop the named state",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resolveParams(cmd)
			if err != nil {
				return printErr(err, "Unable to resolve parameters")
			}

			if err := buildOrchestrator(params).Pop(cmd.Context(), params); err != nil {
				return printErr(err, "Unable to pop state")
			}

			fmt.Println("state popped")

			return nil
		},
	}

	return withScenarioFlag(cmd)
}

func init() {
	rootCmd.AddCommand(newPopCmd())
}
