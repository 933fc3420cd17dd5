package entity

import (
	"context"
	"fmt"

	"github.com/jacentio/arbor/key"
)

// Cardinality selects between single-item and list aggregations.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return fmt.Sprintf("Cardinality(%d)", int(c))
	}
}

// Aggregation populates Property with a location-based query against the
// target coordinate. When the target's ancestor chain contains the current
// entity's own type the query is a child query scoped under the current
// item; otherwise it is a sibling query at the item's own location.
type Aggregation struct {
	Target      key.Coordinate
	Property    string
	Cardinality Cardinality
}

// Reference populates Property with a key-based single-item lookup, using
// the value stored in SourceField as the primary id of the target's own
// type. For composite targets the lookup uses the global-search escape and
// relies on the documented precondition that the target type's ids are
// globally unique across its ancestors.
type Reference struct {
	SourceField string
	Target      key.Coordinate
	Property    string
}

// resolve populates all relationship properties on item, sharing the
// request's operation context for caching and cycle breaking.
func (i *Instance) resolve(ctx context.Context, item Item) error {
	if item == nil || (len(i.aggregations) == 0 && len(i.references) == 0) {
		return nil
	}
	res := resolutionFrom(ctx)
	if res == nil {
		return newError(KindConfig, "resolve", i.coord, "no operation context on resolution", nil)
	}
	for _, agg := range i.aggregations {
		if err := i.resolveAggregation(ctx, res, item, agg); err != nil {
			return err
		}
	}
	for _, ref := range i.references {
		if err := i.resolveReference(ctx, res, item, ref); err != nil {
			return err
		}
	}
	return nil
}

// resolveAggregation runs the location-based query for one aggregation.
// Aggregations are location scoped, not identity following, so they cannot
// form a reference cycle and skip in-progress tracking.
func (i *Instance) resolveAggregation(ctx context.Context, res *resolution, item Item, agg Aggregation) error {
	if i.registry == nil {
		return newError(KindConfig, "resolve", i.coord,
			fmt.Sprintf("aggregation %q requires a registry", agg.Property), nil)
	}
	target, err := i.registry.Get(agg.Target)
	if err != nil {
		return err
	}

	own := item.Key(i.coord)
	chain := item.Locations()
	if containsType(agg.Target.Ancestors(), i.coord.Own()) {
		// Child query: the current item becomes the nearest location.
		chain = append(key.Chain{own.Location()}, chain...)
	}

	cacheKey := fmt.Sprintf("agg:%s:%s:%s", agg.Target, agg.Cardinality, own)
	if v, ok := res.cached(cacheKey); ok {
		item[agg.Property] = v
		return nil
	}

	var result any
	switch agg.Cardinality {
	case Many:
		result, err = target.All(ctx, Query{}, chain)
	default:
		var one Item
		one, err = target.One(ctx, Query{}, chain)
		if IsNotFound(err) {
			// A one-cardinality aggregation with nothing in scope is a
			// null property, not a failed parent load.
			one, err = nil, nil
		}
		if one != nil {
			result = one
		}
	}
	if err != nil {
		return err
	}

	res.store(cacheKey, result)
	item[agg.Property] = result
	return nil
}

// resolveReference runs the key-based lookup for one reference.
func (i *Instance) resolveReference(ctx context.Context, res *resolution, item Item, ref Reference) error {
	raw, ok := item[ref.SourceField]
	if !ok || raw == nil {
		item[ref.Property] = nil
		return nil
	}
	id, ok := raw.(string)
	if !ok {
		id = fmt.Sprintf("%v", raw)
	}

	var k key.Key
	if ref.Target.IsComposite() {
		k = key.NewGlobal(ref.Target.Own(), id)
	} else {
		k = key.NewPrimary(ref.Target.Own(), id)
	}

	cacheKey := "ref:" + k.String()
	if v, ok := res.cached(cacheKey); ok {
		item[ref.Property] = v
		return nil
	}
	if !res.begin(cacheKey) {
		// Circular reference: resolution of this exact key is already
		// underway higher up the call chain. Break the cycle with a
		// key-only placeholder.
		item[ref.Property] = Item{"type": k.Type, "id": k.ID}
		return nil
	}
	defer res.end(cacheKey)

	if i.registry == nil {
		return newError(KindConfig, "resolve", i.coord,
			fmt.Sprintf("reference %q requires a registry", ref.Property), nil)
	}
	target, err := i.registry.Get(ref.Target)
	if err != nil {
		return err
	}

	got, err := target.Get(ctx, k)
	if err != nil {
		return err
	}
	res.store(cacheKey, got)
	item[ref.Property] = got
	return nil
}

func containsType(types []string, typ string) bool {
	for _, t := range types {
		if t == typ {
			return true
		}
	}
	return false
}
