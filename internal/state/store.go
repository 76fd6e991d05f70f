// Package state keeps the last accepted decision per target.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

var bucketLastAccepted = []byte("last_accepted")

// UpdateFunc computes the next accepted decision from the previous one. prev
// is nil when the target has no accepted decision yet. Returning a nil next
// keeps the current value. It runs under the target lock and must not block.
type UpdateFunc func(prev *models.Decision) (next *models.Decision, err error)

// Store is a target-scoped last-accepted cache with one writer per target.
// When opened with a path it is persisted to bbolt and reloaded on start.
type Store struct {
	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	decisions map[string]models.Decision
	db        *bolt.DB
}

// NewMemoryStore returns a store that is not persisted.
func NewMemoryStore() *Store {
	return &Store{
		locks:     make(map[string]*sync.Mutex),
		decisions: make(map[string]models.Decision),
	}
}

// Open returns a store persisted at path, loading any saved decisions.
func Open(path string) (*Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	s := NewMemoryStore()
	s.db = db
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketLastAccepted)
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketLastAccepted, err)
		}
		return b.ForEach(func(k, v []byte) error {
			var d models.Decision
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode state for %s: %w", k, err)
			}
			s.decisions[string(k)] = d
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns a copy of the last accepted decision for target.
func (s *Store) Get(target string) (models.Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[target]
	if !ok {
		return models.Decision{}, false
	}
	return d.Clone(), true
}

// Update runs fn with the previous decision under the target lock and stores
// its result. Different targets never contend.
func (s *Store) Update(target string, fn UpdateFunc) error {
	lock := s.lockFor(target)
	lock.Lock()
	defer lock.Unlock()

	var prev *models.Decision
	if d, ok := s.Get(target); ok {
		prev = &d
	}

	next, err := fn(prev)
	if err != nil || next == nil {
		return err
	}

	stored := next.Clone()
	if err := s.persist(target, stored); err != nil {
		return err
	}
	s.mu.Lock()
	s.decisions[target] = stored
	s.mu.Unlock()
	return nil
}

func (s *Store) lockFor(target string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[target]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[target] = lock
	}
	return lock
}

func (s *Store) persist(target string, d models.Decision) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLastAccepted).Put([]byte(target), data)
	})
}
