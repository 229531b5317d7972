package element

import (
	"fmt"

	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/diag"
)

// Commands that only carry metadata for the TraceWin tooling.
var silentCommands = map[string]bool{
	"ADJUST":                 true,
	"ADJUST_STEERER":         true,
	"DUMMY_COMMAND":          true,
	"ERROR_BEAM_STAT":        true,
	"ERROR_CAV_NCPL_STAT":    true,
	"ERROR_QUAD_NCPL_STAT":   true,
	"ERROR_GAUSSIAN_CUT_OFF": true,
	"FIELD_MAP_PATH":         true,
	"MARKER":                 true,
}

// Linac is an ordered, immutable list of elements and commands.
type Linac struct {
	name   string
	fBunch float64
	elts   []*Element
}

// NewLinac copies elts, assigns indices and applies the LATTICE, LATTICE_END,
// FREQ, SET_SYNC_PHASE and END commands. Elements and commands the
// calculators cannot handle are kept as no-ops and reported to d.
func NewLinac(name string, elts []*Element, fBunch float64, d *diag.Collector) (*Linac, error) {
	if fBunch <= 0 {
		return nil, fmt.Errorf("linac %s: bunch frequency must be positive, got %g", name, fBunch)
	}
	l := &Linac{name: name, fBunch: fBunch, elts: make([]*Element, 0, len(elts))}

	lattice := -1
	var (
		perLattice, inLattice int
		section               int
		sectionUsed, syncNext bool
		fRF                   float64
	)
	for i, src := range elts {
		if src == nil {
			return nil, fmt.Errorf("linac %s: element %d is nil", name, i)
		}
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("linac %s: %w", name, err)
		}
		e := *src
		e.Index = len(l.elts)
		e.Lattice = -1

		if e.Kind == Command {
			cmd := e.Command
			switch cmd.Name {
			case "END":
				if rest := len(elts) - i - 1; rest > 0 {
					d.Warn("ElementsAfterEnd", name, "%d element(s) after END ignored", rest)
				}
				l.elts = append(l.elts, &e)
				return l, nil
			case "LATTICE":
				if len(cmd.Args) < 1 || cmd.Args[0] < 1 {
					return nil, fmt.Errorf("linac %s: LATTICE at %d needs a positive element count", name, e.Index)
				}
				perLattice = int(cmd.Args[0])
				lattice++
				inLattice = 0
			case "LATTICE_END":
				perLattice = 0
			case "FREQ":
				if len(cmd.Args) < 1 || cmd.Args[0] <= 0 {
					return nil, fmt.Errorf("linac %s: FREQ at %d needs a positive frequency", name, e.Index)
				}
				fRF = cmd.Args[0]
				if sectionUsed {
					section++
					sectionUsed = false
				}
			case "SET_SYNC_PHASE":
				syncNext = true
			default:
				if !silentCommands[cmd.Name] {
					d.Warn(CodeUnimplementedCommand, cmd.Name, "command at index %d is ignored", e.Index)
				}
			}
			e.Section = section
			l.elts = append(l.elts, &e)
			continue
		}

		if perLattice > 0 {
			if inLattice == perLattice {
				lattice++
				inLattice = 0
			}
			e.Lattice = lattice
			inLattice++
		}
		e.Section = section
		sectionUsed = true

		switch e.Kind {
		case FieldMap:
			fm := *e.FieldMap
			fm.Settings = fm.Settings.Clone()
			switch {
			case fRF > 0:
				fm.Settings.SetFrequencies(fBunch, fRF)
			case fm.Settings.FCavity() <= 0:
				fm.Settings.SetFrequencies(fBunch, fBunch)
			default:
				fm.Settings.SetFrequencies(fBunch, fm.Settings.FCavity())
			}
			if syncNext {
				fm.Settings.SetPhaseAs(cavity.PhiS, fm.Settings.Phase())
				syncNext = false
			}
			e.FieldMap = &fm
		case Unknown:
			d.Warn(CodeUnimplementedElement, e.Name, "element at index %d is propagated as a zero length no-op", e.Index)
		}
		l.elts = append(l.elts, &e)
	}
	return l, nil
}

func (l *Linac) Name() string { return l.name }

// FBunch is the bunch frequency in MHz.
func (l *Linac) FBunch() float64 { return l.fBunch }

func (l *Linac) Len() int { return len(l.elts) }

// Elements returns the elements in beam order. The slice must not be modified.
func (l *Linac) Elements() []*Element { return l.elts }

// ByIndex returns the element with the given linac index.
func (l *Linac) ByIndex(idx int) (*Element, bool) {
	for _, e := range l.elts {
		if e.Index == idx {
			return e, true
		}
	}
	return nil, false
}

// Position returns the position in Elements of the element with index idx.
func (l *Linac) Position(idx int) int {
	for i, e := range l.elts {
		if e.Index == idx {
			return i
		}
	}
	return -1
}

// Cavities returns the field map elements.
func (l *Linac) Cavities() []*Element {
	var out []*Element
	for _, e := range l.elts {
		if e.IsCavity() {
			out = append(out, e)
		}
	}
	return out
}

// CavityIndices returns the indices of the field map elements.
func (l *Linac) CavityIndices() []int {
	var out []int
	for _, e := range l.elts {
		if e.IsCavity() {
			out = append(out, e.Index)
		}
	}
	return out
}

// NominalSet returns fresh copies of the nominal settings of every cavity.
func (l *Linac) NominalSet() cavity.Set {
	set := make(cavity.Set)
	for _, e := range l.elts {
		if e.IsCavity() {
			set[e.Index] = e.FieldMap.Settings.Clone()
		}
	}
	return set
}

// Length is the total length in m.
func (l *Linac) Length() float64 {
	var s float64
	for _, e := range l.elts {
		s += e.Length
	}
	return s
}

// LastOfLattice returns the index of the last element belonging to lattice.
func (l *Linac) LastOfLattice(lattice int) (int, bool) {
	last, found := -1, false
	for _, e := range l.elts {
		if e.Lattice == lattice && !e.IsCommand() {
			last, found = e.Index, true
		}
	}
	return last, found
}

// Sub returns the sub-linac of elements with index in [first, last]. The
// elements are shared with l.
func (l *Linac) Sub(first, last int) (*Linac, error) {
	if first > last {
		return nil, fmt.Errorf("linac %s: empty range [%d, %d]", l.name, first, last)
	}
	sub := &Linac{name: fmt.Sprintf("%s[%d:%d]", l.name, first, last), fBunch: l.fBunch}
	for _, e := range l.elts {
		if e.Index >= first && e.Index <= last {
			sub.elts = append(sub.elts, e)
		}
	}
	if len(sub.elts) == 0 {
		return nil, fmt.Errorf("linac %s: no element in [%d, %d]", l.name, first, last)
	}
	return sub, nil
}

// First and Last return the first and last element indices.
func (l *Linac) First() int { return l.elts[0].Index }
func (l *Linac) Last() int  { return l.elts[len(l.elts)-1].Index }
