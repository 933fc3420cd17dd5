package entity

import (
	"context"

	"github.com/jacentio/arbor/key"
)

// Hook signatures. Pre-hooks may transform their input; the transformed
// value, not the original, is what reaches validation and the backend.
type (
	PreCreateHook  func(ctx context.Context, item Item, opts Options) (Item, error)
	PostCreateHook func(ctx context.Context, created Item) error
	PreUpdateHook  func(ctx context.Context, k key.Key, patch Item) (Item, error)
	PostUpdateHook func(ctx context.Context, updated Item) error
	PreRemoveHook  func(ctx context.Context, k key.Key) error
	PostRemoveHook func(ctx context.Context, removed Item) error

	// ChangeHook observes the true pre-update and post-update snapshots.
	// Registering it makes update pay for one extra fetch; unregistered,
	// update performs no snapshot read.
	ChangeHook func(ctx context.Context, before, after Item) error
)

// Hooks binds lifecycle callbacks to an entity's operations.
type Hooks struct {
	PreCreate  PreCreateHook
	PostCreate PostCreateHook
	PreUpdate  PreUpdateHook
	PostUpdate PostUpdateHook
	PreRemove  PreRemoveHook
	PostRemove PostRemoveHook
	OnChange   ChangeHook
}

// merged overlays h on top of defaults, slot by slot, with h winning.
func (h Hooks) merged(defaults Hooks) Hooks {
	out := defaults
	if h.PreCreate != nil {
		out.PreCreate = h.PreCreate
	}
	if h.PostCreate != nil {
		out.PostCreate = h.PostCreate
	}
	if h.PreUpdate != nil {
		out.PreUpdate = h.PreUpdate
	}
	if h.PostUpdate != nil {
		out.PostUpdate = h.PostUpdate
	}
	if h.PreRemove != nil {
		out.PreRemove = h.PreRemove
	}
	if h.PostRemove != nil {
		out.PostRemove = h.PostRemove
	}
	if h.OnChange != nil {
		out.OnChange = h.OnChange
	}
	return out
}

// defaultHooks strips relationship-populated properties before persistence
// so derived data never reaches the backend. Caller-supplied hooks replace
// these slot by slot.
func defaultHooks(derived []string) Hooks {
	if len(derived) == 0 {
		return Hooks{}
	}
	strip := func(item Item) Item {
		out := item.clone()
		for _, p := range derived {
			delete(out, p)
		}
		return out
	}
	return Hooks{
		PreCreate: func(_ context.Context, item Item, _ Options) (Item, error) {
			return strip(item), nil
		},
		PreUpdate: func(_ context.Context, _ key.Key, patch Item) (Item, error) {
			return strip(patch), nil
		},
	}
}

// Legacy boolean validators. A false result rejects the operation with the
// matching validation kind; an error result is treated the same but keeps
// the error as the cause.
type (
	CreateValidator func(ctx context.Context, item Item) (bool, error)
	UpdateValidator func(ctx context.Context, k key.Key, patch Item) (bool, error)
	RemoveValidator func(ctx context.Context, k key.Key) (bool, error)
)

// Validators binds the legacy boolean validators to an entity.
type Validators struct {
	OnCreate CreateValidator
	OnUpdate UpdateValidator
	OnRemove RemoveValidator
}
