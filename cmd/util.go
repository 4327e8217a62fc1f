package cmd

import (
	"fmt"

	"vtstate/types"
	"vtstate/util"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// withScenarioFlag adds a --scenario flag to cmd; the scenario's saved
// parameters, if named, are read by resolveParams before the --params
// file and flag-derived parameters are overlaid on top, so a saved
// scenario is a reusable base a one-off invocation can still override.
func withScenarioFlag(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String("scenario", "", "load a previously saved scenario's parameters as a base")
	return cmd
}

// resolveParams builds the final parameter map for a state-verb
// subcommand: a named scenario (if any), overlaid by --params and the
// swarm/shared-pool/lock flags.
func resolveParams(cmd *cobra.Command) (types.Params, error) {
	base := types.Params{}

	name := MustGetString(cmd.Flags(), "scenario")
	if name != "" {
		loaded, err := buildOrchestrator(nil).LoadScenario(name)
		if err != nil {
			return nil, fmt.Errorf("loading scenario %q: %w", name, err)
		}

		base = base.Merge(loaded)
	}

	flagParams, err := buildParams()
	if err != nil {
		return nil, err
	}

	return base.Merge(flagParams), nil
}

// printErr humanizes err the way phenix/util.HumanizeError does: the full
// chain is logged (via HumanizeError's implicit LogErrorGetID call) and a
// short correlated message is printed in red, while the original error is
// still returned so the process exits non-zero.
func printErr(err error, desc string) error {
	h := util.HumanizeError(err, desc)
	color.Red(h.Humanize())
	return h
}
