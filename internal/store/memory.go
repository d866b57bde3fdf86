package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/model"
)

// MemoryStore implements PositionStore with an in-memory map plus an
// insertion-order slice. Used for testing and development. Not suitable for
// production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*model.Position
	order []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) Open(_ context.Context, p OpenParams) (model.Position, error) {
	pos, err := newPosition(p)
	if err != nil {
		return model.Position{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[pos.ID]; exists {
		return model.Position{}, storageErr("open position", fmt.Errorf("duplicate id %s", pos.ID))
	}
	stored := clonePosition(pos)
	s.byID[pos.ID] = &stored
	s.order = append(s.order, pos.ID)
	return pos, nil
}

func (s *MemoryStore) Close(_ context.Context, id string, closedAt time.Time, closePrice decimal.Decimal) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}

	// Work on a copy so a failed close leaves the record untouched.
	next := clonePosition(*stored)
	if err := applyClose(&next, closedAt, closePrice); err != nil {
		return model.Position{}, err
	}
	*stored = next
	return clonePosition(next), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return clonePosition(*p), nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Position, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clonePosition(*s.byID[id]))
	}
	return out, nil
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]model.OpenPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []model.OpenPosition
	for _, id := range s.order {
		p := s.byID[id]
		if p.Status != model.StatusOpen {
			continue
		}
		open = append(open, model.OpenPosition{ID: p.ID, OpenedAt: p.OpenedAt, Side: p.Side})
	}
	sortOpen(open)
	return open, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return nil
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// clonePosition copies p so callers cannot mutate stored state.
func clonePosition(p model.Position) model.Position {
	if p.ClosedAt != nil {
		at := *p.ClosedAt
		p.ClosedAt = &at
	}
	return p
}
