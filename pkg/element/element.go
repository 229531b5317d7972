// Package element describes the beam line: elements, commands and the
// linac they are assembled into.
package element

import (
	"fmt"
	"strings"

	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/field"
)

// Kind tags the variant of an Element.
type Kind int

const (
	Drift Kind = iota
	Quad
	Solenoid
	Bend
	FieldMap
	Command
	Unknown
)

var kindNames = map[Kind]string{
	Drift:    "drift",
	Quad:     "quad",
	Solenoid: "solenoid",
	Bend:     "bend",
	FieldMap: "field_map",
	Command:  "command",
	Unknown:  "unknown",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts the lower case names and the TraceWin keywords.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "drift":
		return Drift, nil
	case "quad":
		return Quad, nil
	case "solenoid":
		return Solenoid, nil
	case "bend":
		return Bend, nil
	case "field_map", "fieldmap":
		return FieldMap, nil
	case "command":
		return Command, nil
	case "unknown":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("element: unknown kind %q", s)
}

type QuadParams struct {
	Gradient float64 // T/m
}

type SolenoidParams struct {
	Field float64 // T
}

type BendParams struct {
	Angle      float64 // rad
	Radius     float64 // m
	FieldIndex float64
}

// FieldMapParams is an RF cavity described by an on-axis field map.
// Settings holds the nominal tuning; runs work on copies.
type FieldMapParams struct {
	Path     string
	Field    *field.Field
	Settings *cavity.Settings
	Geometry int
}

type CommandParams struct {
	Name string
	Args []float64
}

// Element is a closed tagged variant: exactly one payload matching Kind is
// set. Geometry is immutable once the element is part of a Linac.
type Element struct {
	Name     string
	Kind     Kind
	Length   float64 // m
	Aperture float64 // mm

	// Set by NewLinac.
	Index   int
	Lattice int
	Section int

	Quad     *QuadParams
	Solenoid *SolenoidParams
	Bend     *BendParams
	FieldMap *FieldMapParams
	Command  *CommandParams
}

func NewDrift(name string, length float64) *Element {
	return &Element{Name: name, Kind: Drift, Length: length}
}

func NewQuad(name string, length, gradient float64) *Element {
	return &Element{Name: name, Kind: Quad, Length: length, Quad: &QuadParams{Gradient: gradient}}
}

func NewSolenoid(name string, length, b float64) *Element {
	return &Element{Name: name, Kind: Solenoid, Length: length, Solenoid: &SolenoidParams{Field: b}}
}

func NewBend(name string, length, angle, fieldIndex float64) *Element {
	p := &BendParams{Angle: angle, FieldIndex: fieldIndex}
	if angle != 0 {
		p.Radius = length / angle
	}
	return &Element{Name: name, Kind: Bend, Length: length, Bend: p}
}

// NewFieldMap builds a cavity. f may be nil until the map is loaded.
func NewFieldMap(name string, length float64, f *field.Field, settings *cavity.Settings) *Element {
	return &Element{
		Name:     name,
		Kind:     FieldMap,
		Length:   length,
		FieldMap: &FieldMapParams{Field: f, Settings: settings},
	}
}

func NewCommand(name string, args ...float64) *Element {
	return &Element{
		Name:    strings.ToUpper(name),
		Kind:    Command,
		Command: &CommandParams{Name: strings.ToUpper(name), Args: args},
	}
}

// NewUnknown keeps an element the calculators do not implement. It is
// propagated as a zero length no-op.
func NewUnknown(name string, length float64) *Element {
	return &Element{Name: name, Kind: Unknown, Length: length}
}

// IsCavity reports whether the element is a field map.
func (e *Element) IsCavity() bool { return e.Kind == FieldMap && e.FieldMap != nil }

// IsCommand reports whether the element is a command.
func (e *Element) IsCommand() bool { return e.Kind == Command }

// Validate checks that the payload matches Kind.
func (e *Element) Validate() error {
	if e.Length < 0 {
		return fmt.Errorf("element %s: negative length %g", e.Name, e.Length)
	}
	ok := true
	switch e.Kind {
	case Quad:
		ok = e.Quad != nil
	case Solenoid:
		ok = e.Solenoid != nil
	case Bend:
		ok = e.Bend != nil
	case FieldMap:
		ok = e.FieldMap != nil && e.FieldMap.Settings != nil
	case Command:
		ok = e.Command != nil
	}
	if !ok {
		return fmt.Errorf("element %s: missing %s parameters", e.Name, e.Kind)
	}
	return nil
}

func (e *Element) String() string {
	return fmt.Sprintf("%s#%d(%s, %.4gm)", e.Name, e.Index, e.Kind, e.Length)
}
