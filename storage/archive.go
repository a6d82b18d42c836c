package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Records the vector of every state by its index.
// Used together with the compact strategy so that counterexamples can be reconstructed.
type Archive struct {
	db *badger.DB
}

// Open an archive at the path. An empty path keeps the archive in memory.
func OpenArchive(path string) (*Archive, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("storage: create archive directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("storage: open archive: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Put(index int, vector []byte) error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(archiveKey(index), vector)
	})
}

// Returns the vector stored for the index and false if the index is not archived
func (a *Archive) Get(index int) ([]byte, bool, error) {
	var vector []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(archiveKey(index))
		if err != nil {
			return err
		}
		vector, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: read state %v from archive: %w", index, err)
	}
	return vector, true, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func archiveKey(index int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(index))
	return key
}

type archivedStorage struct {
	StateStorage
	archive *Archive
}

// Wrap the storage so that every new state is written to the archive.
// Vectors the storage does not keep are read back from the archive.
func WithArchive(s StateStorage, a *Archive) StateStorage {
	return &archivedStorage{StateStorage: s, archive: a}
}

func (s *archivedStorage) LookupOrInsert(vector []byte) (int, bool, error) {
	index, isNew, err := s.StateStorage.LookupOrInsert(vector)
	if err != nil || !isNew {
		return index, isNew, err
	}
	if err := s.archive.Put(index, vector); err != nil {
		return index, isNew, fmt.Errorf("storage: archive state %v: %w", index, err)
	}
	return index, isNew, nil
}

func (s *archivedStorage) Vector(index int) ([]byte, bool) {
	if vector, ok := s.StateStorage.Vector(index); ok {
		return vector, true
	}
	vector, ok, err := s.archive.Get(index)
	if err != nil {
		return nil, false
	}
	return vector, ok
}
