package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/gophsync/internal/common"
)

// Factory builds a request-scoped provider client from a decrypted access
// token. Clients are never shared between requests.
type Factory func(ctx context.Context, accessToken string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

func (r *Registry) Register(kind Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New returns common.ErrInvalidArgument for unregistered kinds.
func (r *Registry) New(ctx context.Context, kind Kind, accessToken string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: provider %q is not enabled", common.ErrInvalidArgument, kind)
	}
	return f(ctx, accessToken)
}

func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds lists registered kinds in name order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
