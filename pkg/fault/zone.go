package fault

import (
	"fmt"

	"github.com/kacperjurak/linaccore/pkg/element"
)

// Zone returns the first and last element indices of the compensation zone
// of the given altered cavities. The zone starts at the first altered
// cavity and ends with the lattice of the last one. Outside of a lattice it
// ends with the last element before the next cavity.
func Zone(l *element.Linac, altered []int) (first, last int, err error) {
	if len(altered) == 0 {
		return 0, 0, fmt.Errorf("fault: zone of no cavity")
	}
	s := sorted(altered)
	first, lastCav := s[0], s[len(s)-1]
	e, ok := l.ByIndex(lastCav)
	if !ok || !e.IsCavity() {
		return 0, 0, fmt.Errorf("%w: %d is not a cavity of %s", ErrInvalidStrategy, lastCav, l.Name())
	}
	if e.Lattice >= 0 {
		if end, ok := l.LastOfLattice(e.Lattice); ok {
			return first, end, nil
		}
	}

	last = lastCav
	elts := l.Elements()
	for _, next := range elts[l.Position(lastCav)+1:] {
		if next.IsCavity() {
			break
		}
		if !next.IsCommand() {
			last = next.Index
		}
	}
	return first, last, nil
}
