package memory

import (
	"context"
	"sync"

	"loclab.gg/stringsmith/internal/language"
)

// Stores hands out one shared Store per language pair, opening each on
// first use. Every job translating the same pair reads and writes the same
// instance.
type Stores struct {
	mu     sync.Mutex
	opts   []Option
	stores map[string]*Store
}

func NewStores(opts ...Option) *Stores {
	return &Stores{
		opts:   opts,
		stores: make(map[string]*Store),
	}
}

// Get returns the store for the pair, loading it on the first call.
// Repeated calls for the same pair return the same instance.
func (s *Stores) Get(ctx context.Context, source, target string) (*Store, error) {
	pair, err := language.NewPair(source, target)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if store, ok := s.stores[pair.Key()]; ok {
		return store, nil
	}
	store := Open(ctx, pair, s.opts...)
	s.stores[pair.Key()] = store
	return store, nil
}

// SaveAll flushes every open store; used at shutdown so batched usage
// counters reach disk. All stores are flushed even when one fails; the
// first failure is returned.
func (s *Stores) SaveAll(ctx context.Context) error {
	s.mu.Lock()
	stores := make([]*Store, 0, len(s.stores))
	for _, store := range s.stores {
		stores = append(stores, store)
	}
	s.mu.Unlock()

	var firstErr error
	for _, store := range stores {
		if err := store.Save(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
