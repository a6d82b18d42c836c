package builder

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"probmc/state"
)

// Streams the discovered state graph in the Graphviz dot format while the traversal runs.
// Parallel edges created by different paths are written separately.
type GraphvizExporter struct {
	sync.Mutex
	w          *bufio.Writer
	labelNames []string
	started    bool
	err        error
}

func NewGraphvizExporter(w io.Writer, labelNames []string) *GraphvizExporter {
	return &GraphvizExporter{w: bufio.NewWriter(w), labelNames: labelNames}
}

func (ge *GraphvizExporter) start() {
	if !ge.started {
		ge.started = true
		ge.printf("digraph statespace {\n\tinit [shape=point];\n")
	}
}

func (ge *GraphvizExporter) printf(format string, args ...any) {
	if ge.err != nil {
		return
	}
	_, ge.err = fmt.Fprintf(ge.w, format, args...)
}

func (ge *GraphvizExporter) ProcessState(index int, vector []byte, labels state.LabelSet) error {
	ge.Lock()
	defer ge.Unlock()
	ge.start()

	names := []string{}
	for i, name := range ge.labelNames {
		if labels.Has(i) {
			names = append(names, name)
		}
	}
	label := fmt.Sprintf("%v", index)
	if len(names) > 0 {
		label += " {" + strings.Join(names, ",") + "}"
	}
	ge.printf("\ts%v [label=%q];\n", index, label)
	return ge.err
}

func (ge *GraphvizExporter) ProcessTransition(t *state.Transition) error {
	ge.Lock()
	defer ge.Unlock()
	ge.start()

	from := fmt.Sprintf("s%v", t.Source)
	if t.Source == state.InitialSource {
		from = "init"
	}
	style := ""
	if t.Faults.Len() > 0 {
		style = ", color=red"
	}
	ge.printf("\t%v -> s%v [label=\"%v\"%v];\n", from, t.Target, t.Probability, style)
	return ge.err
}

// Close the graph and flush the output
func (ge *GraphvizExporter) Finalize() error {
	ge.Lock()
	defer ge.Unlock()
	ge.start()
	ge.printf("}\n")
	if ge.err != nil {
		return ge.err
	}
	return ge.w.Flush()
}
