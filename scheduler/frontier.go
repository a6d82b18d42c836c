package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// A state waiting to be expanded
type Item struct {
	Index int
	State []byte
}

// The order in which states are taken from the frontier
type Order int

const (
	DepthFirst Order = iota
	BreadthFirst
)

func (o Order) String() string {
	if o == BreadthFirst {
		return "breadth-first"
	}
	return "depth-first"
}

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "depth-first", "dfs", "":
		return DepthFirst, nil
	case "breadth-first", "bfs":
		return BreadthFirst, nil
	}
	return 0, fmt.Errorf("scheduler: invalid search order %q", s)
}

var (
	NoWorkError    = errors.New("scheduler: No more states to be expanded")
	CancelledError = errors.New("scheduler: The traversal was cancelled")
)

// The states that have been discovered but not yet expanded.
// Shared by all workers of a traversal.
type Frontier struct {
	order Order

	// unexpanded states. items[head:] are pending
	items []Item
	head  int

	// Used to wait for a change in f.ongoing, f.items or f.cancelled. The condition is len(pending) == 0 and f.ongoing > 0
	cond *sync.Cond

	// Number of workers currently expanding a state. I.e. workers not waiting for a new state
	ongoing int

	cancelled bool
}

func NewFrontier(order Order) *Frontier {
	return &Frontier{
		order: order,
		items: make([]Item, 0),
		cond:  sync.NewCond(new(sync.Mutex)),
	}
}

// Add states to be expanded
func (f *Frontier) Push(items ...Item) {
	f.cond.L.Lock()
	defer f.cond.L.Unlock()

	if f.cancelled || len(items) == 0 {
		return
	}
	f.items = append(f.items, items...)
	f.cond.Broadcast()
}

// Get the next state to be expanded. The caller must call Done when it has finished expanding the state.
// Blocks while there are no pending states but some worker is still expanding a state.
// Returns NoWorkError when all states have been expanded and CancelledError if the frontier was cancelled.
func (f *Frontier) Pop() (Item, error) {
	f.cond.L.Lock()
	defer f.cond.L.Unlock()

	// If there are no pending states, wait until there are.
	// If at the same time no worker is expanding a state there will never be a new pending state
	// All reachable states have therefore been expanded
	for f.pending() == 0 && f.ongoing > 0 && !f.cancelled {
		f.cond.Wait()
	}
	if f.cancelled {
		return Item{}, CancelledError
	}
	if f.pending() == 0 {
		return Item{}, NoWorkError
	}

	var item Item
	if f.order == BreadthFirst {
		item = f.items[f.head]
		f.items[f.head] = Item{}
		f.head++
		if f.head > len(f.items)/2 {
			f.items = append(f.items[:0], f.items[f.head:]...)
			f.head = 0
		}
	} else {
		item = f.items[len(f.items)-1]
		f.items = f.items[:len(f.items)-1]
	}

	f.ongoing++
	return item, nil
}

// Finish the expansion of a state that was returned by Pop
func (f *Frontier) Done() {
	f.cond.L.Lock()
	defer f.cond.L.Unlock()

	f.ongoing--
	f.cond.Broadcast()
}

// Stop the traversal. Pending states are dropped and all waiting workers are woken up.
func (f *Frontier) Cancel() {
	f.cond.L.Lock()
	defer f.cond.L.Unlock()

	f.cancelled = true
	f.items = nil
	f.head = 0
	f.cond.Broadcast()
}

// Number of pending states
func (f *Frontier) Len() int {
	f.cond.L.Lock()
	defer f.cond.L.Unlock()
	return f.pending()
}

// Number of states currently being expanded
func (f *Frontier) Ongoing() int {
	f.cond.L.Lock()
	defer f.cond.L.Unlock()
	return f.ongoing
}

func (f *Frontier) pending() int {
	return len(f.items) - f.head
}
