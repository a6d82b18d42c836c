package storage

import (
	"bytes"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	// Stored in an index slot while the owner of the slot has not assigned an index yet
	indexPending = 0
	// Stored in an index slot if the owner could not assign an index
	indexExhausted = math.MaxUint64

	// Number of state vectors allocated at once by the arena
	chunkStates = 4096
)

// Stores the full state vectors.
//
// Fingerprints are only used to find candidate slots, equality is decided by comparing the vectors.
type ExactStorage struct {
	vectorSize int
	capacity   int
	mask       uint64

	fingerprints []atomic.Uint64
	indices      []atomic.Uint64
	next         atomic.Int64

	arena arena
}

func NewExact(capacity int, vectorSize int) *ExactStorage {
	size := tableSize(capacity)
	return &ExactStorage{
		vectorSize:   vectorSize,
		capacity:     capacity,
		mask:         uint64(size - 1),
		fingerprints: make([]atomic.Uint64, size),
		indices:      make([]atomic.Uint64, size),
		arena:        newArena(capacity, vectorSize),
	}
}

func (s *ExactStorage) LookupOrInsert(vector []byte) (int, bool, error) {
	fp := fingerprint(vector)
	for probe := uint64(0); probe <= s.mask; probe++ {
		slot := (fp + probe) & s.mask
		current := s.fingerprints[slot].Load()
		if current == 0 {
			if s.fingerprints[slot].CompareAndSwap(0, fp) {
				return s.claim(slot, vector)
			}
			current = s.fingerprints[slot].Load()
		}
		if current != fp {
			continue
		}
		index, err := awaitIndex(&s.indices[slot], s.capacity, s.Len)
		if err != nil {
			return 0, false, err
		}
		if bytes.Equal(s.arena.get(index), vector) {
			return index, false, nil
		}
	}
	return 0, false, &CapacityExhaustedError{Capacity: s.capacity, States: s.Len()}
}

// Assign a new index to the slot that was claimed by the caller
func (s *ExactStorage) claim(slot uint64, vector []byte) (int, bool, error) {
	index := s.next.Add(1) - 1
	if index >= int64(s.capacity) {
		s.indices[slot].Store(indexExhausted)
		return 0, false, &CapacityExhaustedError{Capacity: s.capacity, States: s.Len()}
	}
	copy(s.arena.get(int(index)), vector)
	s.indices[slot].Store(uint64(index) + 1)
	return int(index), true, nil
}

func (s *ExactStorage) Len() int {
	return min(int(s.next.Load()), s.capacity)
}

func (s *ExactStorage) Capacity() int {
	return s.capacity
}

// Returns a copy of the vector with the provided index
func (s *ExactStorage) Vector(index int) ([]byte, bool) {
	if index < 0 || index >= s.Len() {
		return nil, false
	}
	return bytes.Clone(s.arena.get(index)), true
}

func (s *ExactStorage) MemoryUsage() uint64 {
	return uint64(len(s.fingerprints))*16 + s.arena.allocated()
}

// Wait until the owner of the slot has published its index
func awaitIndex(index *atomic.Uint64, capacity int, stored func() int) (int, error) {
	for {
		v := index.Load()
		switch v {
		case indexPending:
			runtime.Gosched()
			continue
		case indexExhausted:
			return 0, &CapacityExhaustedError{Capacity: capacity, States: stored()}
		}
		return int(v - 1), nil
	}
}

// Never 0, since 0 marks an empty slot
func fingerprint(vector []byte) uint64 {
	fp := xxhash.Sum64(vector)
	if fp == 0 {
		fp = 1
	}
	return fp
}

// Vector memory that is allocated in chunks as the storage grows.
type arena struct {
	vectorSize int
	chunks     []atomic.Pointer[[]byte]
}

func newArena(capacity int, vectorSize int) arena {
	return arena{
		vectorSize: vectorSize,
		chunks:     make([]atomic.Pointer[[]byte], (capacity+chunkStates-1)/chunkStates),
	}
}

func (a *arena) get(index int) []byte {
	c := &a.chunks[index/chunkStates]
	chunk := c.Load()
	if chunk == nil {
		buf := make([]byte, chunkStates*a.vectorSize)
		if c.CompareAndSwap(nil, &buf) {
			chunk = &buf
		} else {
			chunk = c.Load()
		}
	}
	offset := (index % chunkStates) * a.vectorSize
	return (*chunk)[offset : offset+a.vectorSize : offset+a.vectorSize]
}

func (a *arena) allocated() uint64 {
	var n uint64
	for i := range a.chunks {
		if a.chunks[i].Load() != nil {
			n += uint64(chunkStates * a.vectorSize)
		}
	}
	return n
}
