package util

import (
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"vtstate/store"
)

// PrintTableOfScenarios writes the given scenarios to the given writer as an
// ASCII table, grounded on phenix/util.PrintTableOfConfigs's
// Kind/Version/Name/Created column convention, adapted to the
// Scenario record's Name/Created/Updated fields (spec §2 C8 scenario
// persistence: "vtstate scenario list").
func PrintTableOfScenarios(writer io.Writer, scenarios []store.Scenario) {
	table := tablewriter.NewWriter(writer)

	table.SetHeader([]string{"Name", "Params", "Created", "Updated"})

	for _, s := range scenarios {
		var keys []string

		for k := range s.Params {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		table.Append([]string{s.Name, strings.Join(keys, ", "), s.Created, s.Updated})
	}

	table.Render()
}

// PrintTableOfStates writes, per object, the names of states found for it,
// as an ASCII table (spec §4.8 "show": "for
// each object, the set of state names visible at each queried location").
// names maps an object's display name to the states found for it.
func PrintTableOfStates(writer io.Writer, names map[string][]string) {
	table := tablewriter.NewWriter(writer)

	table.SetHeader([]string{"Object", "States"})
	table.SetAutoWrapText(false)

	var objects []string

	for obj := range names {
		objects = append(objects, obj)
	}

	sort.Strings(objects)

	for _, obj := range objects {
		states := append([]string{}, names[obj]...)
		sort.Strings(states)

		table.Append([]string{obj, strings.Join(states, "\n")})
	}

	table.Render()
}
