package key

// ValidateKey checks a key's shape and, for composite keys, its location
// chain against the coordinate. It returns *TypeError when the key variant
// disagrees with the coordinate's cardinality and *OrderError when the chain
// is the wrong length or out of order. A composite key with an empty chain
// is the global-search escape and always passes.
func ValidateKey(k Key, coord Coordinate, op string) error {
	expected := Primary
	if coord.IsComposite() {
		expected = Composite
	}
	if k.Kind() != expected {
		return &TypeError{Op: op, Coordinate: coord, Expected: expected, Got: k.Kind()}
	}
	if k.Kind() == Primary || k.IsGlobal() {
		return nil
	}
	return validateChain(k.Locations, coord, op, true)
}

// ValidateChain checks a standalone location chain against the coordinate.
// Unlike a composite key's chain, a standalone chain may be a strict prefix
// of the ancestor chain (a partial-scope query); it is still rejected when
// longer than expected or out of order.
func ValidateChain(ch Chain, coord Coordinate, op string) error {
	return validateChain(ch, coord, op, false)
}

func validateChain(ch Chain, coord Coordinate, op string, exact bool) error {
	ancestors := coord.Ancestors()

	lengthGot := -1
	if len(ch) > len(ancestors) || (exact && len(ch) != len(ancestors)) {
		lengthGot = len(ch)
	}

	var mismatches []Mismatch
	for i, loc := range ch {
		if i >= len(ancestors) {
			break
		}
		if loc.Type != ancestors[i] {
			mismatches = append(mismatches, Mismatch{Position: i, Expected: ancestors[i], Got: loc.Type})
		}
	}

	if lengthGot >= 0 || len(mismatches) > 0 {
		return &OrderError{
			Op:         op,
			Coordinate: coord,
			Chain:      ch,
			LengthGot:  lengthGot,
			Mismatches: mismatches,
		}
	}
	return nil
}
