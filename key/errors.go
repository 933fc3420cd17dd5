package key

import (
	"fmt"
	"strings"
)

// TypeError reports a key whose shape does not match the entity's declared
// cardinality: a primary key offered to a composite coordinate or the
// converse.
type TypeError struct {
	Op         string
	Coordinate Coordinate
	Expected   Kind
	Got        Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf(
		"arbor: %s: %s key given for coordinate [%s] which requires a %s key; use %s",
		e.Op, e.Got, e.Coordinate, e.Expected, e.Coordinate.Example(),
	)
}

// Mismatch is one wrong position in a location chain.
type Mismatch struct {
	Position int
	Expected string
	Got      string
}

// OrderError reports a composite key or location chain whose ancestor
// ordering or length disagrees with the coordinate. LengthGot is -1 when the
// lengths agree and only positions mismatch.
type OrderError struct {
	Op         string
	Coordinate Coordinate
	Chain      Chain
	LengthGot  int
	Mismatches []Mismatch
}

func (e *OrderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "arbor: %s: location chain does not match coordinate [%s]", e.Op, e.Coordinate)

	if e.LengthGot >= 0 {
		fmt.Fprintf(&b, ": length mismatch, expected %d locations, got %d", len(e.Coordinate.Ancestors()), e.LengthGot)
	}
	for _, m := range e.Mismatches {
		fmt.Fprintf(&b, "; position %d expected %s, got %s", m.Position, m.Expected, m.Got)
	}

	b.WriteString(". Expected order:")
	for i, anc := range e.Coordinate.Ancestors() {
		got := "(missing)"
		if i < len(e.Chain) {
			got = e.Chain[i].Type
		}
		fmt.Fprintf(&b, " [%d] %s (got %s)", i, anc, got)
	}
	fmt.Fprintf(&b, ". Containment: %s. Use %s", e.Coordinate.Containment(), e.Coordinate.Example())
	return b.String()
}
