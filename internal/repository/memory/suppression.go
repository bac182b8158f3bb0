package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository in memory.
type SuppressionRepo struct {
	mu      sync.RWMutex
	entries map[string]*domain.SuppressionEntry
}

func NewSuppressionRepo() *SuppressionRepo {
	return &SuppressionRepo{entries: make(map[string]*domain.SuppressionEntry)}
}

func (r *SuppressionRepo) Get(_ context.Context, address string) (*domain.SuppressionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[address]
	if !ok {
		return nil, suppression.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *SuppressionRepo) Save(_ context.Context, e *domain.SuppressionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries[cp.Address] = &cp
	return nil
}

func (r *SuppressionRepo) ListSuppressed(_ context.Context, limit, offset int) ([]domain.SuppressionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SuppressionEntry
	for _, e := range r.entries {
		if e.Suppressed {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
