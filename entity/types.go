package entity

import (
	"context"

	"github.com/jacentio/arbor/key"
)

// Item is a single entity instance's property set. The "id" field holds the
// entity's own id; the "locations" field, when present, holds the ancestor
// chain as a key.Chain.
type Item map[string]any

// ID returns the item's own id, or "" when unset.
func (i Item) ID() string {
	id, _ := i["id"].(string)
	return id
}

// Locations returns the item's ancestor chain, or nil when unset.
func (i Item) Locations() key.Chain {
	ch, _ := i["locations"].(key.Chain)
	return ch
}

// Key derives the item's key under the given coordinate.
func (i Item) Key(coord key.Coordinate) key.Key {
	if coord.IsComposite() {
		return key.NewComposite(coord.Own(), i.ID(), i.Locations()...)
	}
	return key.NewPrimary(coord.Own(), i.ID())
}

func (i Item) clone() Item {
	if i == nil {
		return nil
	}
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// Query holds equality filters for listing operations. An empty query
// matches everything in scope.
type Query map[string]any

// Options carries caller-supplied, operation-scoped options through to
// pre-create hooks.
type Options map[string]any

// Backend is the storage-specific implementation operations contract wrapped
// by an Instance. Implementations perform the real reads and writes; the
// wrapping pipeline owns validation, hooks, and upsert composition.
//
// Get must return an error satisfying errors.Is(err, ErrNotFound) when the
// item does not exist, so that upsert can branch on it reliably.
type Backend interface {
	Create(ctx context.Context, item Item) (Item, error)
	Get(ctx context.Context, k key.Key) (Item, error)
	Update(ctx context.Context, k key.Key, patch Item) (Item, error)
	Remove(ctx context.Context, k key.Key) (Item, error)
	All(ctx context.Context, q Query, ch key.Chain) ([]Item, error)
	One(ctx context.Context, q Query, ch key.Chain) (Item, error)
	Find(ctx context.Context, q Query, ch key.Chain) ([]Item, error)
	FindOne(ctx context.Context, q Query, ch key.Chain) (Item, error)
}
