// Package key defines the addressing model for hierarchically contained
// entities: coordinates, primary and composite keys, and location chains.
package key

import (
	"fmt"
	"strings"
)

// Coordinate is an ordered type chain describing an entity. Index 0 is the
// entity's own type; the remainder is the containment chain from nearest
// ancestor to most distant ancestor. Coordinates are fixed when the entity
// binding is declared and must not be mutated afterward.
type Coordinate []string

// NewCoordinate builds a coordinate from an entity's own type and its
// ancestor chain, nearest first.
func NewCoordinate(own string, ancestors ...string) Coordinate {
	c := make(Coordinate, 0, 1+len(ancestors))
	c = append(c, own)
	c = append(c, ancestors...)
	return c
}

// Own returns the entity's own type.
func (c Coordinate) Own() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Ancestors returns the containment chain, nearest ancestor first.
func (c Coordinate) Ancestors() []string {
	if len(c) <= 1 {
		return nil
	}
	return c[1:]
}

// IsComposite reports whether entities at this coordinate require composite
// keys (i.e. the coordinate declares at least one ancestor).
func (c Coordinate) IsComposite() bool {
	return len(c) > 1
}

func (c Coordinate) String() string {
	return strings.Join(c, "/")
}

// Containment renders the coordinate's hierarchy as plain language, e.g.
// "order is contained in region is contained in company".
func (c Coordinate) Containment() string {
	return strings.Join(c, " is contained in ")
}

// Example renders a corrected-usage key literal for this coordinate, used in
// validation error messages.
func (c Coordinate) Example() string {
	if !c.IsComposite() {
		return fmt.Sprintf(`{type: %s, id: "..."}`, c.Own())
	}
	locs := make([]string, 0, len(c)-1)
	for _, anc := range c.Ancestors() {
		locs = append(locs, fmt.Sprintf(`{type: %s, id: "..."}`, anc))
	}
	return fmt.Sprintf(`{type: %s, id: "...", locations: [%s]}`, c.Own(), strings.Join(locs, ", "))
}

// Location is one ancestor position in a composite key or location chain.
type Location struct {
	Type string
	ID   string
}

// Ref returns the type-qualified reference for this location, e.g. "company#c1".
func (l Location) Ref() string {
	return l.Type + "#" + l.ID
}

// Chain is an ordered ancestor sequence, nearest ancestor first. It scopes
// listing and range operations and may be a strict prefix of the coordinate's
// full ancestor chain.
type Chain []Location

func (ch Chain) String() string {
	parts := make([]string, len(ch))
	for i, l := range ch {
		parts[i] = l.Ref()
	}
	return strings.Join(parts, "/")
}

// ParseChain parses a serialized chain like "region#r1/company#c1". It is
// the inverse of Chain.String and returns nil for an empty string.
func ParseChain(s string) Chain {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "/")
	ch := make(Chain, 0, len(parts))
	for _, p := range parts {
		typ, id, _ := strings.Cut(p, "#")
		ch = append(ch, Location{Type: typ, ID: id})
	}
	return ch
}

// Kind discriminates the two key variants.
type Kind int

const (
	// Primary identifies an entity with no ancestors.
	Primary Kind = iota

	// Composite identifies an entity with ancestors via an ordered
	// location chain.
	Composite
)

func (k Kind) String() string {
	switch k {
	case Primary:
		return "primary"
	case Composite:
		return "composite"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Key identifies one entity instance. It is a tagged union: a Primary key
// carries only type and id, a Composite key additionally carries an ordered
// ancestor location chain. A Composite key with an empty chain is the
// explicit global-search escape: the ancestor context is unknown and lookups
// search across all locations.
type Key struct {
	kind      Kind
	Type      string
	ID        string
	Locations Chain
}

// NewPrimary builds a primary key.
func NewPrimary(typ, id string) Key {
	return Key{kind: Primary, Type: typ, ID: id}
}

// NewComposite builds a composite key with the given ancestor locations,
// nearest first.
func NewComposite(typ, id string, locations ...Location) Key {
	return Key{kind: Composite, Type: typ, ID: id, Locations: locations}
}

// NewGlobal builds a composite key with an empty location chain, the marker
// for "ambiguous location, search globally". Resolving it assumes the id is
// globally unique across the type's ancestors; that uniqueness is a
// precondition this package does not enforce.
func NewGlobal(typ, id string) Key {
	return Key{kind: Composite, Type: typ, ID: id}
}

// Kind returns the key's variant tag.
func (k Key) Kind() Kind {
	return k.kind
}

// IsGlobal reports whether this is a composite key with the empty-chain
// global-search escape.
func (k Key) IsGlobal() bool {
	return k.kind == Composite && len(k.Locations) == 0
}

// Ref returns the type-qualified reference, e.g. "order#o1".
func (k Key) Ref() string {
	return k.Type + "#" + k.ID
}

// Location returns the key's own position as a chain element, used when a
// child query is scoped under this entity.
func (k Key) Location() Location {
	return Location{Type: k.Type, ID: k.ID}
}

// String serializes the key including its location chain. The serialization
// is stable and used as a cache key by relationship resolution.
func (k Key) String() string {
	if len(k.Locations) == 0 {
		return k.Ref()
	}
	return k.Ref() + "@" + k.Locations.String()
}
