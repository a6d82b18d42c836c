package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"probmc/checking"
	"probmc/examples/dice"
	"probmc/examples/fd"
	"probmc/examples/sensor"
	"probmc/examples/simple1b"
	"probmc/examples/twostate"
	"probmc/model"
)

// A model that can be checked from the command line
type entry struct {
	description string
	program     func() model.Program
	queries     func() []checking.PathFormula
	invariants  func() []checking.StateFormula
}

var models = map[string]entry{
	"twostate": {
		description: "two states, S0 moves to the absorbing S1 with probability 0.4",
		program:     twostate.Program,
		queries:     twostate.Queries,
		invariants:  twostate.Invariants,
	},
	"simple1b": {
		description: "a probabilistic split followed by a nondeterministic split",
		program:     simple1b.Program,
		queries:     simple1b.Queries,
		invariants:  simple1b.Invariants,
	},
	"dice": {
		description: "Knuth and Yao's fair die from coin flips",
		program:     dice.Program,
		queries:     dice.Queries,
		invariants:  dice.Invariants,
	},
	"sensor": {
		description: "temperature alarm with a sensor that may get stuck or noisy",
		program:     sensor.Program,
		queries:     sensor.Queries,
		invariants:  sensor.Invariants,
	},
	"fd": {
		description: "heartbeat failure detector over a lossy link",
		program:     fd.Program,
		queries:     fd.Queries,
		invariants:  fd.Invariants,
	},
}

func lookupModel(name string) (entry, error) {
	e, ok := models[name]
	if !ok {
		return entry{}, fmt.Errorf("unknown model %q, available models: %v", name, strings.Join(modelNames(), ", "))
	}
	return e, nil
}

func modelNames() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the available models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		for _, name := range modelNames() {
			fmt.Fprintf(out, "%-10s %s\n", name, models[name].description)
		}
		return nil
	},
}
