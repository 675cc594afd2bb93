package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/canopy-network/spendq/pkg/db/models/facts"
)

// FactStore keeps facts in process memory. It backs tests and the
// `spendq ask --demo` path.
type FactStore struct {
	mu    sync.RWMutex
	facts map[string][]facts.Fact

	// Err, when set, is returned by FactsForTenant.
	Err error
}

func NewFactStore() *FactStore {
	return &FactStore{facts: map[string][]facts.Fact{}}
}

func (s *FactStore) InsertFacts(_ context.Context, rows []facts.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range rows {
		s.facts[f.TenantID] = append(s.facts[f.TenantID], f)
	}
	return nil
}

func (s *FactStore) Tenants(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.facts))
	for t := range s.facts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (s *FactStore) FactsForTenant(_ context.Context, tenantID string) ([]facts.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]facts.Fact, len(s.facts[tenantID]))
	copy(out, s.facts[tenantID])
	return out, nil
}

func (s *FactStore) Close() error { return nil }
