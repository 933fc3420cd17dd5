package entity

import (
	"context"
	"sync"
)

// resolution is the per-request operation context: a cache of resolved
// relationship lookups and the set of reference keys currently being
// resolved higher up the call chain. It travels implicitly with the
// context.Context so arbitrarily deep relationship chains within one logical
// request share it, while concurrent requests never do.
type resolution struct {
	mu         sync.Mutex
	cache      map[string]any
	inProgress map[string]struct{}
}

type resolutionCtxKey struct{}

// WithResolution returns a context carrying a fresh operation context. Every
// pipeline operation installs one automatically when none is present;
// callers who want several top-level operations to share one cache can
// install it themselves.
func WithResolution(ctx context.Context) context.Context {
	if resolutionFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, resolutionCtxKey{}, &resolution{
		cache:      make(map[string]any),
		inProgress: make(map[string]struct{}),
	})
}

func resolutionFrom(ctx context.Context) *resolution {
	res, _ := ctx.Value(resolutionCtxKey{}).(*resolution)
	return res
}

func (r *resolution) cached(k string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache[k]
	return v, ok
}

func (r *resolution) store(k string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[k] = v
}

// begin marks k as being resolved. It returns false when k is already in
// progress, which signals a circular reference.
func (r *resolution) begin(k string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inProgress[k]; busy {
		return false
	}
	r.inProgress[k] = struct{}{}
	return true
}

func (r *resolution) end(k string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inProgress, k)
}
