// internal/match/repository.go
package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/salvo/internal/apperr"
	"github.com/jason-s-yu/salvo/internal/models"
)

// Repository is the transactional key-value persistence the Store runs on.
// Implementations must make Update atomic per code: fn sees the committed
// record and its changes are either stored whole or not at all.
type Repository interface {
	// Get returns apperr.ErrNotFound for unknown codes.
	Get(ctx context.Context, code string) (*models.Match, error)
	// Create returns apperr.ErrConflict if the code already exists.
	Create(ctx context.Context, m *models.Match) error
	// Update runs fn against the current record and persists the result if
	// fn returns nil. It returns apperr.ErrNotFound for unknown codes.
	Update(ctx context.Context, code string, fn func(m *models.Match) error) (*models.Match, error)
	// DeleteStale removes matches last updated before the cutoff.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// MemoryRepository keeps matches in process. Records are copied on the way in
// and out so callers never share state with the map.
type MemoryRepository struct {
	mu      sync.Mutex
	matches map[string]*models.Match
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{matches: make(map[string]*models.Match)}
}

func (r *MemoryRepository) Get(_ context.Context, code string) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[code]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", code, apperr.ErrNotFound)
	}
	return m.Clone(), nil
}

func (r *MemoryRepository) Create(_ context.Context, m *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.matches[m.Code]; exists {
		return fmt.Errorf("match %s: %w", m.Code, apperr.ErrConflict)
	}
	r.matches[m.Code] = m.Clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, code string, fn func(m *models.Match) error) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.matches[code]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", code, apperr.ErrNotFound)
	}
	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	r.matches[code] = work
	return work.Clone(), nil
}

func (r *MemoryRepository) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for code, m := range r.matches {
		if m.UpdatedAt.Before(before) {
			delete(r.matches, code)
			n++
		}
	}
	return n, nil
}
