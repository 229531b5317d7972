package processing

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/diag"
	"github.com/kacperjurak/linaccore/pkg/element"
	"github.com/kacperjurak/linaccore/pkg/envelope"
	"github.com/kacperjurak/linaccore/pkg/field"
	"github.com/kacperjurak/linaccore/pkg/models"
)

// fieldLengthTol is the accepted gap, in m, between a field map extent and
// the length of its element.
const fieldLengthTol = 1e-6

// BuildLinac turns the elements of a study into a linac. Field map files
// are read through cache.
func BuildLinac(name string, data []models.ElementData, fBunch float64, cache *field.Cache, d *diag.Collector) (*element.Linac, error) {
	if len(data) == 0 {
		return nil, errors.New("no elements provided")
	}
	elts := make([]*element.Element, 0, len(data))
	for i, ed := range data {
		e, err := buildElement(ed, fBunch, cache)
		if err != nil {
			return nil, fmt.Errorf("element %d (%s): %w", i, ed.Name, err)
		}
		elts = append(elts, e)
	}
	return element.NewLinac(name, elts, fBunch, d)
}

func buildElement(ed models.ElementData, fBunch float64, cache *field.Cache) (*element.Element, error) {
	kind, err := element.ParseKind(ed.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case element.Drift:
		return element.NewDrift(ed.Name, ed.Length), nil
	case element.Quad:
		return element.NewQuad(ed.Name, ed.Length, ed.Gradient), nil
	case element.Solenoid:
		return element.NewSolenoid(ed.Name, ed.Length, ed.Field), nil
	case element.Bend:
		return element.NewBend(ed.Name, ed.Length, ed.Angle, ed.FieldIndex), nil
	case element.Command:
		return element.NewCommand(ed.Name, ed.Args...), nil
	case element.FieldMap:
		return buildFieldMap(ed, fBunch, cache)
	}
	return element.NewUnknown(ed.Name, ed.Length), nil
}

func loadField(name, path string, samples *models.FieldSamples, cache *field.Cache) (*field.Field, error) {
	switch {
	case samples != nil:
		return field.New(name, samples.Z, samples.E)
	case path != "":
		return cache.Get(path)
	}
	return nil, fmt.Errorf("%w: no path and no samples", field.ErrFieldMapLoad)
}

// superposedField is the field of ed, or the sum of its shifted superposed
// maps when it has some.
func superposedField(ed models.ElementData, cache *field.Cache) (*field.Field, error) {
	if len(ed.Superpose) == 0 {
		return loadField(ed.Name, ed.Path, ed.Samples, cache)
	}
	fields := make([]*field.Field, 0, len(ed.Superpose))
	for i, sm := range ed.Superpose {
		f, err := loadField(fmt.Sprintf("%s#%d", ed.Name, i), sm.Path, sm.Samples, cache)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f.Shift(sm.Offset))
	}
	return field.Superpose(fields...)
}

func buildFieldMap(ed models.ElementData, fBunch float64, cache *field.Cache) (*element.Element, error) {
	if ed.Cavity == nil {
		return nil, fmt.Errorf("%w: field map without cavity settings", cavity.ErrMissingAttribute)
	}
	f, err := superposedField(ed, cache)
	if err != nil {
		return nil, err
	}
	if err := field.CheckLength(f, ed.Length, fieldLengthTol); err != nil {
		return nil, err
	}

	ref := cavity.Phi0Rel
	if ed.Cavity.Reference != "" {
		if ref, err = cavity.ParseReference(ed.Cavity.Reference); err != nil {
			return nil, err
		}
	}
	fCavity := ed.Cavity.FCavity
	if fCavity == 0 {
		fCavity = fBunch
	}
	settings := cavity.New(ed.Cavity.KE, ed.Cavity.Phase, ref, fBunch, fCavity)
	return element.NewFieldMap(ed.Name, ed.Length, f, settings), nil
}

// Calculator builds the envelope calculator of c.
func Calculator(c *config.Config, d *diag.Collector) (envelope.Calculator, error) {
	sigma := make(map[beam.Plane]*mat.Dense, len(c.Beam.SigmaIn))
	for name, tw := range c.Beam.SigmaIn {
		p, err := beam.ParsePlane(name)
		if err != nil {
			return nil, err
		}
		sigma[p] = beam.Sigma(tw.Alpha, tw.Beta, tw.Eps)
	}
	return envelope.New(envelope.Config{
		Method:        envelope.Method(c.Calculator.Method),
		NStepsPerCell: c.Calculator.NStepsPerCell,
		Particle:      c.Beam.Particle,
		SigmaIn:       sigma,
		Diag:          d,
	}, c.Calculator.ThreeD)
}
