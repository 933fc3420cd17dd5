package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/key"
	"github.com/jacentio/arbor/schema"
)

// ActionFunc is a named extension operation scoped to one item. Actions may
// mutate; facets are read-only by convention. Both share this signature.
type ActionFunc func(ctx context.Context, item Item, params map[string]any) (any, error)

// CollectionFunc is a named extension operation scoped to a location chain
// rather than one item.
type CollectionFunc func(ctx context.Context, params map[string]any, ch key.Chain) (any, error)

// Config declares one entity binding. Coordinate and Backend are required;
// everything else is optional.
type Config struct {
	Coordinate key.Coordinate
	Backend    Backend

	// Hooks are merged over built-in defaults slot by slot, with these
	// winning. The defaults strip relationship-populated properties
	// before persistence.
	Hooks Hooks

	// Validators are the legacy boolean validators, run after the schema.
	Validators Validators

	// CreateSchema and UpdateSchema gate create and update. They are
	// separate on purpose: a create schema may require fields a partial
	// update legitimately omits.
	CreateSchema schema.Schema
	UpdateSchema schema.Schema

	Actions    map[string]ActionFunc
	Facets     map[string]ActionFunc
	AllActions map[string]CollectionFunc
	AllFacets  map[string]CollectionFunc

	Aggregations []Aggregation
	References   []Reference

	// Registry locates target entities for relationship resolution.
	// Required when Aggregations or References are declared.
	Registry *Registry

	Logger *slog.Logger
}

// Instance wraps a backend with the fixed operation lifecycle: pre-hook,
// validation, backend call, post-hook, change detection, and relationship
// resolution. Every entity exposes the same operation surface regardless of
// backend capability.
type Instance struct {
	coord        key.Coordinate
	backend      Backend
	hooks        Hooks
	validators   Validators
	createSchema schema.Schema
	updateSchema schema.Schema
	actions      map[string]ActionFunc
	facets       map[string]ActionFunc
	allActions   map[string]CollectionFunc
	allFacets    map[string]CollectionFunc
	aggregations []Aggregation
	references   []Reference
	registry     *Registry
	logger       *slog.Logger
}

// New builds an Instance, validating the configuration up front so that
// malformed bindings fail at registration time rather than at call time.
func New(cfg Config) (*Instance, error) {
	coord := cfg.Coordinate
	if len(coord) == 0 || coord.Own() == "" {
		return nil, newError(KindConfig, "new", coord, "coordinate must name the entity's own type", nil)
	}
	for _, anc := range coord.Ancestors() {
		if anc == "" {
			return nil, newError(KindConfig, "new", coord, "coordinate contains an empty ancestor type", nil)
		}
	}
	if cfg.Backend == nil {
		return nil, newError(KindConfig, "new", coord, "backend is required", nil)
	}
	for _, m := range []map[string]ActionFunc{cfg.Actions, cfg.Facets} {
		for name, fn := range m {
			if name == "" || fn == nil {
				return nil, newError(KindConfig, "new", coord, "actions and facets need a name and a function", nil)
			}
		}
	}
	for _, m := range []map[string]CollectionFunc{cfg.AllActions, cfg.AllFacets} {
		for name, fn := range m {
			if name == "" || fn == nil {
				return nil, newError(KindConfig, "new", coord, "actions and facets need a name and a function", nil)
			}
		}
	}

	var derived []string
	seen := map[string]bool{}
	for _, agg := range cfg.Aggregations {
		if agg.Property == "" || len(agg.Target) == 0 {
			return nil, newError(KindConfig, "new", coord, "aggregation needs a property and a target coordinate", nil)
		}
		if seen[agg.Property] {
			return nil, newError(KindConfig, "new", coord,
				fmt.Sprintf("relationship property %q declared twice", agg.Property), nil)
		}
		seen[agg.Property] = true
		derived = append(derived, agg.Property)
	}
	for _, ref := range cfg.References {
		if ref.Property == "" || ref.SourceField == "" || len(ref.Target) == 0 {
			return nil, newError(KindConfig, "new", coord, "reference needs a property, a source field, and a target coordinate", nil)
		}
		if seen[ref.Property] {
			return nil, newError(KindConfig, "new", coord,
				fmt.Sprintf("relationship property %q declared twice", ref.Property), nil)
		}
		seen[ref.Property] = true
		derived = append(derived, ref.Property)
	}
	if len(derived) > 0 && cfg.Registry == nil {
		return nil, newError(KindConfig, "new", coord, "relationships require a registry", nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Instance{
		coord:        coord,
		backend:      cfg.Backend,
		hooks:        cfg.Hooks.merged(defaultHooks(derived)),
		validators:   cfg.Validators,
		createSchema: cfg.CreateSchema,
		updateSchema: cfg.UpdateSchema,
		actions:      cfg.Actions,
		facets:       cfg.Facets,
		allActions:   cfg.AllActions,
		allFacets:    cfg.AllFacets,
		aggregations: cfg.Aggregations,
		references:   cfg.References,
		registry:     cfg.Registry,
		logger:       logger,
	}, nil
}

// Coordinate returns the entity's declared type chain.
func (i *Instance) Coordinate() key.Coordinate {
	return i.coord
}

// Create runs preCreate, schema and boolean validation, the backend create,
// postCreate, and relationship resolution, in that order. Items without an
// id are assigned a UUID before persistence.
func (i *Instance) Create(ctx context.Context, item Item, opts Options) (Item, error) {
	ctx = WithResolution(ctx)

	if i.hooks.PreCreate != nil {
		var err error
		if item, err = i.hooks.PreCreate(ctx, item, opts); err != nil {
			return nil, newError(KindHook, "create", i.coord, "preCreate failed", err)
		}
	}

	if item.ID() == "" {
		item = item.clone()
		item["id"] = uuid.NewString()
		i.logger.Debug("assigned id on create", "type", i.coord.Own(), "id", item["id"])
	}

	if err := key.ValidateKey(item.Key(i.coord), i.coord, "create"); err != nil {
		return nil, wrapKeyError(err, "create", i.coord)
	}
	if err := i.checkSchema(ctx, i.createSchema, item, KindCreateValidation, "create"); err != nil {
		return nil, err
	}
	if i.validators.OnCreate != nil {
		ok, err := i.validators.OnCreate(ctx, item)
		if err != nil {
			return nil, newError(KindCreateValidation, "create", i.coord, "validator failed", err)
		}
		if !ok {
			return nil, newError(KindCreateValidation, "create", i.coord, "validator rejected item", nil)
		}
	}

	created, err := i.backend.Create(ctx, item)
	if err != nil {
		return nil, err
	}

	if i.hooks.PostCreate != nil {
		if err := i.hooks.PostCreate(ctx, created); err != nil {
			return nil, newError(KindHook, "create", i.coord, "postCreate failed", err)
		}
	}
	if err := i.resolve(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// Get validates the key and returns the backend's item with relationships
// resolved. No hooks run on reads.
func (i *Instance) Get(ctx context.Context, k key.Key) (Item, error) {
	ctx = WithResolution(ctx)

	if err := key.ValidateKey(k, i.coord, "get"); err != nil {
		return nil, wrapKeyError(err, "get", i.coord)
	}
	item, err := i.backend.Get(ctx, k)
	if err != nil {
		return nil, wrapBackendError(err, KindGet, "get", i.coord)
	}
	if err := i.resolve(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Update runs preUpdate, validation, the backend update, postUpdate, and,
// when an OnChange hook is registered, change detection against the true
// pre-update snapshot. The snapshot fetch is paid only when the hook exists.
func (i *Instance) Update(ctx context.Context, k key.Key, patch Item) (Item, error) {
	ctx = WithResolution(ctx)

	if i.hooks.PreUpdate != nil {
		var err error
		if patch, err = i.hooks.PreUpdate(ctx, k, patch); err != nil {
			return nil, newError(KindHook, "update", i.coord, "preUpdate failed", err)
		}
	}

	if err := key.ValidateKey(k, i.coord, "update"); err != nil {
		return nil, wrapKeyError(err, "update", i.coord)
	}
	if err := i.checkSchema(ctx, i.updateSchema, patch, KindUpdateValidation, "update"); err != nil {
		return nil, err
	}
	if i.validators.OnUpdate != nil {
		ok, err := i.validators.OnUpdate(ctx, k, patch)
		if err != nil {
			return nil, newError(KindUpdateValidation, "update", i.coord, "validator failed", err)
		}
		if !ok {
			return nil, newError(KindUpdateValidation, "update", i.coord, "validator rejected patch", nil)
		}
	}

	var before Item
	if i.hooks.OnChange != nil {
		var err error
		if before, err = i.backend.Get(ctx, k); err != nil {
			return nil, wrapBackendError(err, KindUpdate, "update", i.coord)
		}
		before = before.clone()
	}

	updated, err := i.backend.Update(ctx, k, patch)
	if err != nil {
		return nil, wrapBackendError(err, KindUpdate, "update", i.coord)
	}

	if i.hooks.PostUpdate != nil {
		if err := i.hooks.PostUpdate(ctx, updated); err != nil {
			return nil, newError(KindHook, "update", i.coord, "postUpdate failed", err)
		}
	}
	if i.hooks.OnChange != nil {
		if err := i.hooks.OnChange(ctx, before, updated); err != nil {
			return nil, newError(KindHook, "update", i.coord, "onChange failed", err)
		}
	}
	if err := i.resolve(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove runs preRemove, validation, the backend remove, and postRemove.
// Removal must return the removed item as proof of success; a backend that
// returns none fails the operation.
func (i *Instance) Remove(ctx context.Context, k key.Key) (Item, error) {
	if i.hooks.PreRemove != nil {
		if err := i.hooks.PreRemove(ctx, k); err != nil {
			return nil, newError(KindHook, "remove", i.coord, "preRemove failed", err)
		}
	}

	if err := key.ValidateKey(k, i.coord, "remove"); err != nil {
		return nil, wrapKeyError(err, "remove", i.coord)
	}
	if i.validators.OnRemove != nil {
		ok, err := i.validators.OnRemove(ctx, k)
		if err != nil {
			return nil, newError(KindRemoveValidation, "remove", i.coord, "validator failed", err)
		}
		if !ok {
			return nil, newError(KindRemoveValidation, "remove", i.coord, "validator rejected removal", nil)
		}
	}

	removed, err := i.backend.Remove(ctx, k)
	if err != nil {
		return nil, wrapBackendError(err, KindRemove, "remove", i.coord)
	}
	if removed == nil {
		return nil, newError(KindRemove, "remove", i.coord, "backend returned no removed item", nil)
	}

	if i.hooks.PostRemove != nil {
		if err := i.hooks.PostRemove(ctx, removed); err != nil {
			return nil, newError(KindHook, "remove", i.coord, "postRemove failed", err)
		}
	}
	return removed, nil
}

// All lists items in the scope of the location chain. The chain may be a
// strict prefix of the coordinate's ancestor chain.
func (i *Instance) All(ctx context.Context, q Query, ch key.Chain) ([]Item, error) {
	if err := key.ValidateChain(ch, i.coord, "all"); err != nil {
		return nil, wrapKeyError(err, "all", i.coord)
	}
	return i.backend.All(ctx, q, ch)
}

// One returns the single item matching the query in scope.
func (i *Instance) One(ctx context.Context, q Query, ch key.Chain) (Item, error) {
	if err := key.ValidateChain(ch, i.coord, "one"); err != nil {
		return nil, wrapKeyError(err, "one", i.coord)
	}
	item, err := i.backend.One(ctx, q, ch)
	if err != nil {
		return nil, wrapBackendError(err, KindGet, "one", i.coord)
	}
	return item, nil
}

// Find lists items matching the query in scope.
func (i *Instance) Find(ctx context.Context, q Query, ch key.Chain) ([]Item, error) {
	if err := key.ValidateChain(ch, i.coord, "find"); err != nil {
		return nil, wrapKeyError(err, "find", i.coord)
	}
	return i.backend.Find(ctx, q, ch)
}

// FindOne returns the first item matching the query in scope, or nil when
// nothing matches.
func (i *Instance) FindOne(ctx context.Context, q Query, ch key.Chain) (Item, error) {
	if err := key.ValidateChain(ch, i.coord, "findOne"); err != nil {
		return nil, wrapKeyError(err, "findOne", i.coord)
	}
	return i.backend.FindOne(ctx, q, ch)
}

// Upsert gets the item by key and updates it, or creates it when the get
// reports not-found specifically. Any other get failure propagates
// unchanged: connectivity or permission errors must never be masked as
// "not found". Whichever path is taken receives the full caller-supplied
// property set; upsert never merges partial state.
func (i *Instance) Upsert(ctx context.Context, k key.Key, item Item) (Item, error) {
	ctx = WithResolution(ctx)

	existing, err := i.Get(ctx, k)
	if err != nil {
		if !IsNotFound(err) {
			return nil, err
		}
		i.logger.Debug("upsert creating", "type", i.coord.Own(), "id", k.ID)
		create := item.clone()
		if create == nil {
			create = Item{}
		}
		create["id"] = k.ID
		if len(k.Locations) > 0 {
			create["locations"] = k.Locations
		}
		return i.Create(ctx, create, nil)
	}

	i.logger.Debug("upsert updating", "type", i.coord.Own(), "id", k.ID)
	return i.Update(ctx, existing.Key(i.coord), item)
}

// Action invokes the named item-scoped mutating extension. The item is
// fetched first; a missing item fails the action.
func (i *Instance) Action(ctx context.Context, name string, k key.Key, params map[string]any) (any, error) {
	return i.invokeKeyed(ctx, "action", i.actions, name, k, params)
}

// Facet invokes the named item-scoped read-only extension.
func (i *Instance) Facet(ctx context.Context, name string, k key.Key, params map[string]any) (any, error) {
	return i.invokeKeyed(ctx, "facet", i.facets, name, k, params)
}

// AllAction invokes the named location-scoped mutating extension.
func (i *Instance) AllAction(ctx context.Context, name string, params map[string]any, ch key.Chain) (any, error) {
	return i.invokeScoped(ctx, "allAction", i.allActions, name, params, ch)
}

// AllFacet invokes the named location-scoped read-only extension.
func (i *Instance) AllFacet(ctx context.Context, name string, params map[string]any, ch key.Chain) (any, error) {
	return i.invokeScoped(ctx, "allFacet", i.allFacets, name, params, ch)
}

func (i *Instance) invokeKeyed(ctx context.Context, op string, m map[string]ActionFunc, name string, k key.Key, params map[string]any) (any, error) {
	if err := key.ValidateKey(k, i.coord, op); err != nil {
		return nil, wrapKeyError(err, op, i.coord)
	}
	if m == nil {
		// Not configured at all: safe no-op stub so every entity exposes
		// a uniform surface.
		return nil, nil
	}
	fn, ok := m[name]
	if !ok {
		return nil, newError(KindValidation, op, i.coord,
			fmt.Sprintf("unknown %s %q; registered: %s", op, name, registeredNames(m)), nil)
	}
	item, err := i.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	return fn(ctx, item, params)
}

func (i *Instance) invokeScoped(ctx context.Context, op string, m map[string]CollectionFunc, name string, params map[string]any, ch key.Chain) (any, error) {
	if err := key.ValidateChain(ch, i.coord, op); err != nil {
		return nil, wrapKeyError(err, op, i.coord)
	}
	if m == nil {
		return nil, nil
	}
	fn, ok := m[name]
	if !ok {
		names := make([]string, 0, len(m))
		for n := range m {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, newError(KindValidation, op, i.coord,
			fmt.Sprintf("unknown %s %q; registered: [%s]", op, name, strings.Join(names, ", ")), nil)
	}
	return fn(ctx, params, ch)
}

// checkSchema normalizes a schema rejection into one validation error
// carrying field-level detail.
func (i *Instance) checkSchema(ctx context.Context, s schema.Schema, value Item, kind ErrorKind, op string) error {
	if s == nil {
		return nil
	}
	issues, err := s.Check(ctx, value)
	if err != nil {
		return newError(kind, op, i.coord, "schema check failed", err)
	}
	if len(issues) == 0 {
		return nil
	}
	e := newError(kind, op, i.coord, "schema rejected value", nil)
	for _, iss := range issues {
		e.Issues = append(e.Issues, Issue{Path: iss.Path, Message: iss.Message, Code: iss.Code})
	}
	return e
}

func registeredNames(m map[string]ActionFunc) string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ", ") + "]"
}
