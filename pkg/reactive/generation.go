package reactive

// Generation identifies one published revision of a cell's value. A new
// cell starts at generation 0 and every published change advances it by one.
type Generation uint64

// Next returns the generation following g.
func (g Generation) Next() Generation {
	return g + 1
}

// After reports whether g is newer than other.
func (g Generation) After(other Generation) bool {
	return g > other
}
