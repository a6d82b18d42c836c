package storage

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Seed of the second digest of the compact fingerprint
const compactSeed = 0x9E3779B97F4A7C15

var digests = sync.Pool{
	New: func() any { return xxhash.NewWithSeed(compactSeed) },
}

// Stores a 128 bit fingerprint of every state instead of the state itself.
//
// Two distinct vectors are merged if both 64 bit halves of their fingerprints collide.
// For n stored states the probability of any false merge is bounded by n²/2¹²⁹.
// Vectors can not be retrieved unless the storage is wrapped with an Archive.
type CompactStorage struct {
	capacity int
	mask     uint64

	high    []atomic.Uint64
	low     []atomic.Uint64
	indices []atomic.Uint64
	next    atomic.Int64
}

func NewCompact(capacity int, vectorSize int) *CompactStorage {
	size := tableSize(capacity)
	return &CompactStorage{
		capacity: capacity,
		mask:     uint64(size - 1),
		high:     make([]atomic.Uint64, size),
		low:      make([]atomic.Uint64, size),
		indices:  make([]atomic.Uint64, size),
	}
}

func (s *CompactStorage) LookupOrInsert(vector []byte) (int, bool, error) {
	hi := fingerprint(vector)
	lo := secondFingerprint(vector)
	for probe := uint64(0); probe <= s.mask; probe++ {
		slot := (hi + probe) & s.mask
		current := s.high[slot].Load()
		if current == 0 {
			if s.high[slot].CompareAndSwap(0, hi) {
				s.low[slot].Store(lo)
				return s.claim(slot)
			}
			current = s.high[slot].Load()
		}
		if current != hi {
			continue
		}
		// The low half is stored before the index is published
		index, err := awaitIndex(&s.indices[slot], s.capacity, s.Len)
		if err != nil {
			return 0, false, err
		}
		if s.low[slot].Load() == lo {
			return index, false, nil
		}
	}
	return 0, false, &CapacityExhaustedError{Capacity: s.capacity, States: s.Len()}
}

func (s *CompactStorage) claim(slot uint64) (int, bool, error) {
	index := s.next.Add(1) - 1
	if index >= int64(s.capacity) {
		s.indices[slot].Store(indexExhausted)
		return 0, false, &CapacityExhaustedError{Capacity: s.capacity, States: s.Len()}
	}
	s.indices[slot].Store(uint64(index) + 1)
	return int(index), true, nil
}

func (s *CompactStorage) Len() int {
	return min(int(s.next.Load()), s.capacity)
}

func (s *CompactStorage) Capacity() int {
	return s.capacity
}

func (s *CompactStorage) Vector(index int) ([]byte, bool) {
	return nil, false
}

func (s *CompactStorage) MemoryUsage() uint64 {
	return uint64(len(s.high)) * 24
}

func secondFingerprint(vector []byte) uint64 {
	d := digests.Get().(*xxhash.Digest)
	defer digests.Put(d)
	d.ResetWithSeed(compactSeed)
	d.Write(vector)
	return d.Sum64()
}
