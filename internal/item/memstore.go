package item

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemStore is an in-process [Store].
type MemStore struct {
	mu    sync.RWMutex
	items []Item
	now   func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore holding items in the given order. Items
// without an id get one.
func NewMemStore(items ...Item) *MemStore {
	s := &MemStore{now: time.Now}
	for i := range items {
		it := items[i]
		_ = s.Put(context.Background(), &it)
	}
	return s
}

func (s *MemStore) index(id string) int {
	return slices.IndexFunc(s.items, func(it Item) bool { return it.ID == id })
}

// Get implements [Source].
func (s *MemStore) Get(_ context.Context, id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return Item{}, fmt.Errorf("item: get %q: %w", id, ErrNotFound)
	}
	return s.items[i], nil
}

// Next implements [Source].
func (s *MemStore) Next(_ context.Context, id string) (Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 || i >= len(s.items)-1 {
		return Item{}, false, nil
	}
	return s.items[i+1], true, nil
}

// Prev implements [Source].
func (s *MemStore) Prev(_ context.Context, id string) (Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i <= 0 {
		return Item{}, false, nil
	}
	return s.items[i-1], true, nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items), nil
}

// Put implements [Store].
func (s *MemStore) Put(_ context.Context, it *Item) error {
	if it.ID == "" {
		it.ID = NewID()
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(it.ID); i >= 0 {
		it.CreatedAt = s.items[i].CreatedAt
		it.UpdatedAt = now
		s.items[i] = *it
		return nil
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = now
	}
	s.items = append(s.items, *it)
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(id); i >= 0 {
		s.items = slices.Delete(s.items, i, i+1)
	}
	return nil
}
