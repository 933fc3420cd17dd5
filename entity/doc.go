// Package entity mediates every operation on hierarchically addressed items.
//
// Arbor sits between a caller and a storage-specific backend. It validates
// that keys match the entity's declared containment hierarchy, decorates
// every operation with a fixed lifecycle of hooks and validators, and
// resolves declarative relationships between entities with request-scoped
// caching and circular-reference protection.
//
// # Operation lifecycle
//
// Every wrapped operation follows one linear order:
//
//	pre-hook → validate → backend call → post-hook → change detection (update only)
//
// Reads (Get, All, One, Find, FindOne) run no hooks so read paths stay
// cheap. Upsert is composed from Get plus Create or Update, branching only
// on a not-found result; any other failure propagates unchanged.
//
// # Declaring an entity
//
//	orders, err := entity.New(entity.Config{
//	    Coordinate: key.NewCoordinate("order", "company"),
//	    Backend:    backend,
//	    Hooks: entity.Hooks{
//	        OnChange: func(ctx context.Context, before, after entity.Item) error {
//	            // diff before/after
//	            return nil
//	        },
//	    },
//	    References: []entity.Reference{
//	        {SourceField: "statusId", Target: key.NewCoordinate("status"), Property: "status"},
//	    },
//	    Registry: registry,
//	})
//
// # Relationships
//
// An [Aggregation] populates a property via a location-based query: a
// sibling query at the item's own location, or a child query scoped under
// the item when the target's ancestor chain contains the item's own type.
// A [Reference] populates a property via a key-based lookup using a stored
// foreign-key value. All resolutions triggered by one logical request share
// one operation context (cache plus in-progress set) propagated implicitly
// through the context.Context; concurrent requests never share one.
//
// # Errors
//
// Failures carry a kind, the operation, and the entity coordinate; see
// [Error]. Backends signal missing items with [ErrNotFound], and
// [IsNotFound] matches it through any wrapping.
package entity
