package objective

import (
	"fmt"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/simout"
)

// Preset names.
const (
	SimpleADS               = "simple_ADS"
	EnergyMismatch          = "energy_mismatch"
	EnergyPhase             = "energy_phase"
	EnergySyncPhaseMismatch = "energy_sync_phase_mismatch"
)

// Default relative limits of the synchronous phase, in % of the reference.
const (
	defaultPhiSRelLo = 0.0
	defaultPhiSRelHi = 140.0
)

// Context is what a preset needs to know about the compensation zone.
type Context struct {
	Reference *simout.Output
	// Exit is the element at the exit of which the objectives are evaluated.
	Exit         int
	Compensating []int
	// PhiSLimits are absolute synchronous phase bounds per cavity. Cavities
	// without an entry get percentage limits around the reference.
	PhiSLimits map[int][2]float64
}

type builder func(c Context) ([]Objective, error)

var presets = map[string]builder{
	SimpleADS: func(c Context) ([]Objective, error) {
		return collect(wKin(c), phiAbs(c), mismatchZ(c))
	},
	EnergyMismatch: func(c Context) ([]Objective, error) {
		return collect(wKin(c), mismatchZ(c))
	},
	EnergyPhase: func(c Context) ([]Objective, error) {
		return collect(wKin(c), phiAbs(c))
	},
	EnergySyncPhaseMismatch: func(c Context) ([]Objective, error) {
		objs, err := collect(wKin(c), mismatchZ(c))
		if err != nil {
			return nil, err
		}
		for _, idx := range c.Compensating {
			obj, err := phiSBetween(c, idx)
			if err != nil {
				return nil, err
			}
			objs = append(objs, obj)
		}
		return objs, nil
	},
}

// Preset builds the objectives of the named preset.
func Preset(name string, c Context) ([]Objective, error) {
	b, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	if c.Reference == nil {
		return nil, fmt.Errorf("objective: preset %s needs a reference output", name)
	}
	return b(c)
}

// Presets lists the known preset names.
func Presets() []string {
	return []string{SimpleADS, EnergyMismatch, EnergyPhase, EnergySyncPhaseMismatch}
}

type made struct {
	obj Objective
	err error
}

func collect(ms ...made) ([]Objective, error) {
	out := make([]Objective, 0, len(ms))
	for _, m := range ms {
		if m.err != nil {
			return nil, m.err
		}
		out = append(out, m.obj)
	}
	return out, nil
}

func wKin(c Context) made {
	o, err := NewDifferenceWithRef(simout.WKin, c.Exit, simout.Out, 1, c.Reference)
	return made{o, err}
}

func phiAbs(c Context) made {
	o, err := NewDifferenceWithRef(simout.PhiAbs, c.Exit, simout.Out, 1, c.Reference)
	return made{o, err}
}

func mismatchZ(c Context) made {
	o, err := NewMismatch(c.Exit, simout.Out, beam.ZDelta, 1, c.Reference)
	return made{o, err}
}

func phiSBetween(c Context, idx int) (Objective, error) {
	if lim, ok := c.PhiSLimits[idx]; ok {
		return NewQuantityIsBetween(simout.PhiS, idx, simout.Out, lim[0], lim[1], 1)
	}
	return RelativeToReference(simout.PhiS, idx, simout.Out, defaultPhiSRelLo, defaultPhiSRelHi, 1, c.Reference)
}
