package store

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// MemoryStore is an in-memory AppStore for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.Mutex
	doc     Document
	saves   int
	deleted []string
	err     error
}

// NewMemoryStore creates a store pre-populated with apps.
func NewMemoryStore(apps ...types.App) *MemoryStore {
	return &MemoryStore{doc: toDocument(apps)}
}

func (s *MemoryStore) Load(ctx context.Context) ([]types.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromDocument(s.doc), nil
}

func (s *MemoryStore) Save(ctx context.Context, apps []types.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.doc = toDocument(apps)
	s.saves++
	return nil
}

func (s *MemoryStore) DeleteAppData(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, name)
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Deleted returns the names passed to DeleteAppData.
func (s *MemoryStore) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// FailSaves makes every subsequent Save return err.
func (s *MemoryStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
