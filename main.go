// Command vtstate is the CLI entry point: show/check/get/set/unset/push/pop
// plus scenario save/list/show/delete, wiring internal/orchestrator over a
// minimega-style monitor-socket VM runtime (spec §1, §6).
package main

import "vtstate/cmd"

func main() {
	cmd.Execute()
}
