package cmd

import (
	"errors"
	"fmt"
	"os"

	"vtstate/store"
	"vtstate/types"
	"vtstate/util"
	"vtstate/util/editor"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Scenario persistence reuses phenix/cmd/config.go's list/get/delete
// shape (SPEC_FULL.md §2 [C8] expansion), collapsed to the single
// Scenario record kind this store holds.
func newScenarioCmd() *cobra.Command {
	desc := `Scenario management

  A scenario is a named, saved parameter map (SPEC_FULL.md §2 [C8]
  expansion): a reusable unit of work for the state-verb subcommands'
  --scenario flag.`

	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Scenario management",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	return cmd
}

func newScenarioSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current --params/flag parameter map as a named scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := buildParams()
			if err != nil {
				return printErr(err, "Unable to resolve parameters")
			}

			if err := buildOrchestrator(params).SaveScenario(args[0], params); err != nil {
				return printErr(err, "Unable to save the "+args[0]+" scenario")
			}

			fmt.Printf("The %s scenario was saved\n", args[0])

			return nil
		},
	}

	return cmd
}

func newScenarioListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show table of saved scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := store.List()
			if err != nil {
				return printErr(err, "Unable to list known scenarios")
			}

			fmt.Println()

			if len(scenarios) == 0 {
				fmt.Println("There are no scenarios available")
			} else {
				util.PrintTableOfScenarios(os.Stdout, scenarios)
			}

			fmt.Println()

			return nil
		},
	}

	return cmd
}

func newScenarioShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a saved scenario's parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Get(args[0])
			if err != nil {
				return printErr(err, "Unable to get the "+args[0]+" scenario")
			}

			m, err := yaml.Marshal(s)
			if err != nil {
				return printErr(err, "Unable to convert scenario to YAML")
			}

			fmt.Println(string(m))

			return nil
		},
	}

	return cmd
}

func newScenarioEditCmd() *cobra.Command {
	desc := `Edit a scenario

  Opens a saved scenario's parameter map, YAML-encoded, in your $EDITOR
  (phenix/cmd/config.go's "config edit" shape), saving it back only if
  you changed it.`

	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Edit a scenario",
		Long:  desc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Get(args[0])
			if err != nil {
				return printErr(err, "Unable to get the "+args[0]+" scenario")
			}

			before, err := yaml.Marshal(s.Params)
			if err != nil {
				return printErr(err, "Unable to convert scenario to YAML")
			}

			after, err := editor.EditData(before)
			if err != nil {
				if errors.Is(err, editor.ErrNoChange) {
					fmt.Printf("The %s scenario was not updated\n", args[0])
					return nil
				}

				return printErr(err, "Unable to edit the "+args[0]+" scenario")
			}

			var params types.Params

			if err := yaml.Unmarshal(after, &params); err != nil {
				return printErr(err, "Unable to parse edited scenario YAML")
			}

			if err := buildOrchestrator(params).SaveScenario(args[0], params); err != nil {
				return printErr(err, "Unable to save the "+args[0]+" scenario")
			}

			fmt.Printf("The %s scenario was updated\n", args[0])

			return nil
		},
	}

	return cmd
}

func newScenarioDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.Delete(args[0]); err != nil {
				return printErr(err, "Unable to delete the "+args[0]+" scenario")
			}

			fmt.Printf("The %s scenario was deleted\n", args[0])

			return nil
		},
	}

	return cmd
}

func init() {
	scenarioCmd := newScenarioCmd()

	scenarioCmd.AddCommand(newScenarioSaveCmd())
	scenarioCmd.AddCommand(newScenarioListCmd())
	scenarioCmd.AddCommand(newScenarioShowCmd())
	scenarioCmd.AddCommand(newScenarioEditCmd())
	scenarioCmd.AddCommand(newScenarioDeleteCmd())

	rootCmd.AddCommand(scenarioCmd)
}
