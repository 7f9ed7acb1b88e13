package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/sitewatch/internal/repo"
)

// Store keeps state in process memory. Used for dry runs and tests.
type Store struct {
	mu      sync.RWMutex
	records repo.Records
	saves   int
	// SaveErr, when set, is returned by every Save.
	SaveErr error
}

func New() *Store {
	return &Store{records: repo.Records{}}
}

// Seed returns a store preloaded with records.
func Seed(records repo.Records) *Store {
	return &Store{records: records.Clone()}
}

func (m *Store) Load(ctx context.Context) (repo.Records, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records.Clone(), nil
}

func (m *Store) Save(ctx context.Context, records repo.Records) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.records = records.Clone()
	m.saves++
	return nil
}

// Saves reports how many successful saves happened.
func (m *Store) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
