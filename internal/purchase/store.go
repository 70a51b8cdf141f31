package purchase

import (
	"fmt"
	"sync"
	"time"
)

// Store holds purchase records. Each record is written by the one task that
// owns it; readers get copies.
type Store interface {
	Create(id, userID string) (Record, error)
	Transition(id string, u Update) (Record, error)
	Get(id string) (Record, error)
}

// MemoryStore is the in-process Store. Records live for the life of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(id, userID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return Record{}, fmt.Errorf("create %s: %w", id, ErrAlreadyExists)
	}
	now := s.now().UTC()
	rec := &Record{
		ID:        id,
		UserID:    userID,
		Status:    StatusPending,
		Message:   "Purchase initiated",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[id] = rec
	return rec.clone(), nil
}

func (s *MemoryStore) Transition(id string, u Update) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	if !rec.Status.canMoveTo(u.Status) {
		return Record{}, fmt.Errorf("transition %s from %s to %s: %w", id, rec.Status, u.Status, ErrInvalidTransition)
	}
	switch u.Status {
	case StatusCompleted:
		if u.Result == nil {
			return Record{}, fmt.Errorf("transition %s to completed without a result: %w", id, ErrInvalidTransition)
		}
	case StatusFailed:
		if u.Error == "" {
			return Record{}, fmt.Errorf("transition %s to failed without an error: %w", id, ErrInvalidTransition)
		}
	}

	rec.Status = u.Status
	if u.Message != "" {
		rec.Message = u.Message
	}
	if u.Status == StatusCompleted {
		res := *u.Result
		rec.Result = &res
	}
	if u.Status == StatusFailed {
		rec.Error = u.Error
	}
	if now := s.now().UTC(); now.After(rec.UpdatedAt) {
		rec.UpdatedAt = now
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return rec.clone(), nil
}
