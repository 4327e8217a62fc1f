package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSetCmd() *cobra.Command {
	desc := `Set a state

  Captures each iterated object's current contents as its set_state, per
  set_mode (spec §4.8; default mode "ff": force-capture, requiring the
  object's root to already exist).`

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a state",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resolveParams(cmd)
			if err != nil {
				return printErr(err, "Unable to resolve parameters")
			}

			if err := buildOrchestrator(params).Set(cmd.Context(), params); err != nil {
				return printErr(err, "Unable to set state")
			}

			fmt.Println("state captured")

			return nil
		},
	}

	return withScenarioFlag(cmd)
}

func init() {
	rootCmd.AddCommand(newSetCmd())
}
