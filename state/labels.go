package state

import (
	"fmt"
	"math/bits"
	"strings"
)

// The maximal number of formula labels and faults that can be tracked during a traversal.
const MaxLabels = 64

// A set of formula labels that hold in a state.
//
// Label positions are fixed when the traversal is started.
type LabelSet uint64

func (ls LabelSet) Has(i int) bool {
	return ls&(1<<uint(i)) != 0
}

func (ls LabelSet) With(i int) LabelSet {
	return ls | 1<<uint(i)
}

func (ls LabelSet) Len() int {
	return bits.OnesCount64(uint64(ls))
}

func (ls LabelSet) String() string {
	return formatBits(uint64(ls))
}

// A set of faults, identified by their position in the failure manager.
type FaultSet uint64

func (fs FaultSet) Has(i int) bool {
	return fs&(1<<uint(i)) != 0
}

func (fs FaultSet) With(i int) FaultSet {
	return fs | 1<<uint(i)
}

func (fs FaultSet) Len() int {
	return bits.OnesCount64(uint64(fs))
}

func (fs FaultSet) String() string {
	return formatBits(uint64(fs))
}

func formatBits(b uint64) string {
	parts := []string{}
	for b != 0 {
		i := bits.TrailingZeros64(b)
		parts = append(parts, fmt.Sprint(i))
		b &^= 1 << uint(i)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
