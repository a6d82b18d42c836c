// Package storage maps serialized states to dense indices.
//
// Both strategies use a capacity-bounded open-addressed hash table whose slots are
// claimed with an atomic compare-and-swap, so that concurrent insertions of equal
// vectors always agree on one index.
package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type StateStorage interface {
	// Returns the index of the vector, inserting it if it has not been seen before.
	// isNew is true for exactly one caller per distinct vector.
	LookupOrInsert(vector []byte) (index int, isNew bool, err error)
	// Number of states stored so far
	Len() int
	// Maximal number of states that can be stored
	Capacity() int
	// Returns the vector stored for the index.
	// Returns false if the strategy does not keep vectors.
	Vector(index int) ([]byte, bool)
	// Estimated number of bytes used by the storage
	MemoryUsage() uint64
}

// The maximal number of distinct states a storage can hold.
type Capacity int

const (
	Small  Capacity = 1 << 14
	Medium Capacity = 1 << 18
	Large  Capacity = 1 << 22
)

// A custom capacity of n states
func Custom(n int) Capacity {
	return Capacity(n)
}

func (c Capacity) String() string {
	switch c {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	}
	return strconv.Itoa(int(c))
}

// Parse a capacity from its name or a number of states
func ParseCapacity(s string) (Capacity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small":
		return Small, nil
	case "medium", "":
		return Medium, nil
	case "large":
		return Large, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("storage: invalid capacity %q", s)
	}
	return Custom(n), nil
}

// How states are identified in the table.
type Strategy int

const (
	// Store the full vectors and compare them on fingerprint matches.
	Exact Strategy = iota
	// Only store a 128 bit fingerprint of every vector.
	// Distinct vectors with the same fingerprint are merged.
	CompactHash
)

func (s Strategy) String() string {
	switch s {
	case Exact:
		return "exact"
	case CompactHash:
		return "compact"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact", "":
		return Exact, nil
	case "compact", "compacthash", "compact-hash":
		return CompactHash, nil
	}
	return 0, fmt.Errorf("storage: invalid storage strategy %q", s)
}

// Create a new storage using the strategy.
// vectorSize is the size of every vector inserted into the storage.
func New(strategy Strategy, capacity Capacity, vectorSize int) (StateStorage, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("storage: invalid capacity %v", int(capacity))
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("storage: invalid state vector size %v", vectorSize)
	}
	switch strategy {
	case Exact:
		return NewExact(int(capacity), vectorSize), nil
	case CompactHash:
		return NewCompact(int(capacity), vectorSize), nil
	}
	return nil, fmt.Errorf("storage: unknown strategy %v", strategy)
}

var ErrCapacityExhausted = errors.New("storage: state capacity exhausted")

// Returned when the storage can not accommodate another distinct state.
type CapacityExhaustedError struct {
	Capacity int
	States   int
}

func (ce *CapacityExhaustedError) Error() string {
	return fmt.Sprintf("storage: state capacity of %v states exhausted after storing %v states, retry with a larger capacity", ce.Capacity, ce.States)
}

func (ce *CapacityExhaustedError) Is(target error) bool {
	return target == ErrCapacityExhausted
}

// Number of slots of the table used for the capacity. Always a power of two.
func tableSize(capacity int) int {
	size := 1
	for size < 2*capacity {
		size <<= 1
	}
	return size
}
