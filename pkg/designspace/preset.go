package designspace

import (
	"fmt"
	"math"

	"github.com/kacperjurak/linaccore/pkg/simout"
)

// Preset names.
const (
	AbsPhaseAmplitude                    = "abs_phase_amplitude"
	RelPhaseAmplitude                    = "rel_phase_amplitude"
	SyncPhaseAmplitude                   = "sync_phase_amplitude"
	AbsPhaseAmplitudeWithConstrainedPhiS = "abs_phase_amplitude_with_constrained_sync_phase"
)

// Limits define the box around the nominal settings, in % and deg.
type Limits struct {
	MaxDecreaseKEPercent   float64 `json:"max_decrease_k_e_in_percent"`
	MaxIncreaseKEPercent   float64 `json:"max_increase_k_e_in_percent"`
	MaxIncreasePhiSPercent float64 `json:"max_increase_sync_phase_in_percent"`
	MaxAbsolutePhiSDeg     float64 `json:"max_absolute_sync_phase_in_deg"`
	MinAbsolutePhiSDeg     float64 `json:"min_absolute_sync_phase_in_deg"`
	// KEMaxWrtSection takes the upper k_e bound from the highest nominal
	// k_e of the cavity section.
	KEMaxWrtSection bool `json:"maximum_k_e_is_calculated_wrt_maximum_k_e_of_section"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxDecreaseKEPercent:   30,
		MaxIncreaseKEPercent:   30,
		MaxIncreasePhiSPercent: 40,
		MaxAbsolutePhiSDeg:     0,
		MinAbsolutePhiSDeg:     -90,
	}
}

// Presets lists the known preset names.
func Presets() []string {
	return []string{AbsPhaseAmplitude, RelPhaseAmplitude, SyncPhaseAmplitude, AbsPhaseAmplitudeWithConstrainedPhiS}
}

// FromPreset builds the design space of the compensating cavities from their
// settings in the reference output. sections maps a cavity to its section
// and is only read when KEMaxWrtSection is set.
func FromPreset(name string, ref *simout.Output, compensating []int, lim Limits, sections map[int]int) (*Space, error) {
	var phase string
	constrained := false
	switch name {
	case AbsPhaseAmplitude:
		phase = Phi0Abs
	case RelPhaseAmplitude:
		phase = Phi0Rel
	case SyncPhaseAmplitude:
		phase = PhiS
	case AbsPhaseAmplitudeWithConstrainedPhiS:
		phase, constrained = Phi0Abs, true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}

	sectionMax := make(map[int]float64)
	if lim.KEMaxWrtSection {
		for _, idx := range ref.CavityIndices() {
			c, _ := ref.Cavity(idx)
			sec := sections[idx]
			sectionMax[sec] = math.Max(sectionMax[sec], c.KE)
		}
	}

	var vars []Variable
	var cons []Constraint
	for _, idx := range compensating {
		c, ok := ref.Cavity(idx)
		if !ok {
			return nil, fmt.Errorf("designspace: %d is not a cavity of the reference", idx)
		}
		keMax := c.KE * (1 + lim.MaxIncreaseKEPercent/100)
		if lim.KEMaxWrtSection {
			keMax = sectionMax[sections[idx]] * (1 + lim.MaxIncreaseKEPercent/100)
		}
		vars = append(vars, Variable{
			Name:   KE,
			Cavity: idx,
			X0:     c.KE,
			Min:    c.KE * (1 - lim.MaxDecreaseKEPercent/100),
			Max:    keMax,
		})

		switch phase {
		case Phi0Abs:
			vars = append(vars, Variable{Name: Phi0Abs, Cavity: idx, X0: finiteOr(c.Phi0Abs, 0), Min: -2 * math.Pi, Max: 2 * math.Pi})
		case Phi0Rel:
			vars = append(vars, Variable{Name: Phi0Rel, Cavity: idx, X0: finiteOr(wrap2Pi(c.Phi0Rel), 0), Min: 0, Max: 2 * math.Pi})
		case PhiS:
			lo, hi, err := phiSLimits(c, lim)
			if err != nil {
				return nil, err
			}
			vars = append(vars, Variable{Name: PhiS, Cavity: idx, X0: math.Max(lo, math.Min(hi, c.PhiS)), Min: lo, Max: hi})
		}
		if constrained {
			lo, hi, err := phiSLimits(c, lim)
			if err != nil {
				return nil, err
			}
			cons = append(cons, Constraint{Name: PhiS, Cavity: idx, Min: lo, Max: hi})
		}
	}
	return New(vars, cons)
}

// phiSLimits: phi_s may grow in absolute value by MaxIncreasePhiSPercent,
// and always stays within the absolute bounds.
func phiSLimits(c simout.CavitySnapshot, lim Limits) (float64, float64, error) {
	if math.IsNaN(c.PhiS) {
		return 0, 0, fmt.Errorf("designspace: reference phi_s of cavity %d is unknown", c.Index)
	}
	lo := lim.MinAbsolutePhiSDeg * math.Pi / 180
	hi := lim.MaxAbsolutePhiSDeg * math.Pi / 180
	lo = math.Max(lo, c.PhiS*(1+lim.MaxIncreasePhiSPercent/100))
	if lo > hi {
		return 0, 0, fmt.Errorf("designspace: empty phi_s range for cavity %d", c.Index)
	}
	return lo, hi, nil
}

func finiteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

func wrap2Pi(x float64) float64 {
	x = math.Mod(x, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	return x
}
