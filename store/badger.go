// Package store provides durable and in-memory implementations of the
// consensus persister. A replica must never lose its safety state across
// restarts, so the durable implementation writes synchronously.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/miles-six/hotshot/consensus"
)

var (
	keySafety   = []byte("hotshot/safety")
	keyLiveness = []byte("hotshot/liveness")
)

// Badger persists consensus state in a badger database with synchronous
// writes. The same database may be shared with the application; the keys
// are prefixed to stay out of its way.
type Badger struct {
	db *badger.DB
}

var _ consensus.Persister = (*Badger)(nil)

// OpenBadger opens (or creates) a database at the given directory.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening consensus store at %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

// NewBadger wraps an already opened database.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

func (s *Badger) PutSafetyData(data *consensus.SafetyData) error {
	return s.put(keySafety, data)
}

func (s *Badger) GetSafetyData() (*consensus.SafetyData, error) {
	var data consensus.SafetyData
	found, err := s.get(keySafety, &data)
	if err != nil || !found {
		return nil, err
	}
	return &data, nil
}

func (s *Badger) PutLivenessData(data *consensus.LivenessData) error {
	return s.put(keyLiveness, data)
}

func (s *Badger) GetLivenessData() (*consensus.LivenessData, error) {
	var data consensus.LivenessData
	found, err := s.get(keyLiveness, &data)
	if err != nil || !found {
		return nil, err
	}
	return &data, nil
}

func (s *Badger) put(key []byte, entity interface{}) error {
	val, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("could not encode entity: %w", err)
	}
	err = s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("could not store data: %w", err)
	}
	return nil
}

// get decodes the entity under the key, reporting false when the key has
// never been written.
func (s *Badger) get(key []byte, entity interface{}) (bool, error) {
	found := false
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not retrieve data: %w", err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, entity)
		})
	})
	return found, err
}

// Close flushes and closes the underlying database.
func (s *Badger) Close() error {
	return s.db.Close()
}
