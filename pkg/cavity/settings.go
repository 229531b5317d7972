// Package cavity holds the RF tuning state of field map cavities.
//
// Exactly one phase representation of a cavity is authoritative at any time:
// the absolute entry phase phi_0_abs, the relative entry phase phi_0_rel or
// the synchronous phase phi_s. The other two are derived on demand and
// memoised; every mutation goes through a setter that drops the memo.
package cavity

import (
	"fmt"
	"math"
)

// Reference selects the authoritative phase.
type Reference int

const (
	Phi0Abs Reference = iota
	Phi0Rel
	PhiS
)

func (r Reference) String() string {
	switch r {
	case Phi0Abs:
		return "phi_0_abs"
	case Phi0Rel:
		return "phi_0_rel"
	case PhiS:
		return "phi_s"
	}
	return fmt.Sprintf("Reference(%d)", int(r))
}

// ParseReference accepts the names returned by Reference.String.
func ParseReference(s string) (Reference, error) {
	for _, r := range []Reference{Phi0Abs, Phi0Rel, PhiS} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("cavity: unknown phase reference %q", s)
}

// SyncPhaseFunc integrates the cavity with the given relative entry phase
// and returns the resulting synchronous phase.
type SyncPhaseFunc func(phi0Rel float64) (float64, error)

type memo struct {
	abs, rel, s          float64
	hasAbs, hasRel, hasS bool
}

// Settings is the mutable tuning state of one cavity.
type Settings struct {
	kE     float64
	ref    Reference
	phase  float64
	status Status

	fBunch  float64
	fCavity float64

	phiRF    float64
	hasPhiRF bool
	sync     SyncPhaseFunc

	vCav float64
	m    memo
}

// New creates settings with amplitude kE and the phase given in the ref
// convention. Frequencies are in MHz.
func New(kE, phase float64, ref Reference, fBunch, fCavity float64) *Settings {
	return &Settings{
		kE:      kE,
		ref:     ref,
		phase:   phase,
		status:  Nominal,
		fBunch:  fBunch,
		fCavity: fCavity,
		vCav:    math.NaN(),
	}
}

// KE is the field amplitude.
func (s *Settings) KE() float64 { return s.kE }

// EffectiveKE is the amplitude used by the integration: 0 for a failed cavity.
func (s *Settings) EffectiveKE() float64 {
	if s.status == Failed {
		return 0
	}
	return s.kE
}

// Reference returns the authoritative representation.
func (s *Settings) Reference() Reference { return s.ref }

// Phase returns the authoritative phase value.
func (s *Settings) Phase() float64 { return s.phase }

// Status returns the activation state.
func (s *Settings) Status() Status { return s.status }

// FBunch and FCavity return the frequencies in MHz.
func (s *Settings) FBunch() float64  { return s.fBunch }
func (s *Settings) FCavity() float64 { return s.fCavity }

// PhiRF returns the RF phase of the synchronous particle at cavity entry.
func (s *Settings) PhiRF() (float64, bool) { return s.phiRF, s.hasPhiRF }

// VCav is the accelerating voltage in MV found by the last integration, NaN
// when unknown or when the cavity is failed.
func (s *Settings) VCav() float64 { return s.vCav }

// SetKE changes the amplitude. Derived phi_s is dropped.
func (s *Settings) SetKE(kE float64) {
	s.kE = kE
	s.invalidate()
}

// SetStatus changes the activation state.
func (s *Settings) SetStatus(st Status) {
	s.status = st
	s.invalidate()
}

// SetPhase overwrites the value of the authoritative phase.
func (s *Settings) SetPhase(v float64) {
	s.phase = v
	s.invalidate()
}

// SetPhaseAs sets the phase and makes ref the authoritative representation.
func (s *Settings) SetPhaseAs(ref Reference, v float64) {
	s.ref = ref
	s.phase = v
	s.invalidate()
}

// SetFrequencies changes the bunch and cavity frequencies (MHz).
func (s *Settings) SetFrequencies(fBunch, fCavity float64) {
	s.fBunch, s.fCavity = fBunch, fCavity
	s.invalidate()
}

// SetPhiRF stores the RF phase of the synchronous particle at entry, in the
// cavity frequency convention.
func (s *Settings) SetPhiRF(phiRF float64) {
	s.phiRF = phiRF
	s.hasPhiRF = true
	s.invalidate()
}

// SetPhiRFFromBunch converts a bunch phase at entry and stores it.
func (s *Settings) SetPhiRFFromBunch(phiBunch float64) {
	s.SetPhiRF(s.BunchPhaseToRFPhase(phiBunch))
}

// SetSyncPhaseFunc installs the integration used to convert phi_s to
// phi_0_rel. It is valid for the current entry conditions only.
func (s *Settings) SetSyncPhaseFunc(fn SyncPhaseFunc) {
	s.sync = fn
	s.invalidate()
}

// SetCavityParameters stores the voltage and synchronous phase found by an
// integration. They stay valid until the next mutation.
func (s *Settings) SetCavityParameters(vCav, phiS float64) {
	s.vCav = vCav
	if s.ref != PhiS {
		s.m.s, s.m.hasS = phiS, true
	}
}

// SetReference switches the authoritative representation. The value of the
// new reference is computed from the current one beforehand, so it fails
// with ErrMissingAttribute when the conversion is not possible.
func (s *Settings) SetReference(ref Reference) error {
	if ref == s.ref {
		return nil
	}
	var (
		v   float64
		err error
	)
	switch ref {
	case Phi0Abs:
		v, err = s.Phi0Abs()
	case Phi0Rel:
		v, err = s.Phi0Rel()
	case PhiS:
		v, err = s.PhiS()
	default:
		return fmt.Errorf("cavity: invalid reference %v", ref)
	}
	if err != nil {
		return err
	}
	s.ref, s.phase = ref, v
	s.m = memo{}
	return nil
}

// Phi0Rel returns the relative entry phase.
func (s *Settings) Phi0Rel() (float64, error) {
	if s.ref == Phi0Rel {
		return s.phase, nil
	}
	if s.m.hasRel {
		return s.m.rel, nil
	}
	var v float64
	switch s.ref {
	case Phi0Abs:
		if !s.hasPhiRF {
			return 0, missing("phi_rf", s.ref)
		}
		v = AbsToRel(s.phase, s.phiRF)
	case PhiS:
		if s.sync == nil {
			return 0, missing("a synchronous phase solver", s.ref)
		}
		rel, err := solvePhi0Rel(s.sync, s.phase)
		if err != nil {
			return 0, err
		}
		v = rel
	}
	s.m.rel, s.m.hasRel = v, true
	return v, nil
}

// Phi0Abs returns the absolute entry phase.
func (s *Settings) Phi0Abs() (float64, error) {
	if s.ref == Phi0Abs {
		return s.phase, nil
	}
	if s.m.hasAbs {
		return s.m.abs, nil
	}
	if !s.hasPhiRF {
		return 0, missing("phi_rf", s.ref)
	}
	rel, err := s.Phi0Rel()
	if err != nil {
		return 0, err
	}
	v := RelToAbs(rel, s.phiRF)
	s.m.abs, s.m.hasAbs = v, true
	return v, nil
}

// PhiS returns the synchronous phase. Unless it is the reference, it is only
// known after an integration or through the installed solver.
func (s *Settings) PhiS() (float64, error) {
	if s.ref == PhiS {
		return s.phase, nil
	}
	if s.m.hasS {
		return s.m.s, nil
	}
	if s.sync == nil {
		return 0, missing("an integration", s.ref)
	}
	rel, err := s.Phi0Rel()
	if err != nil {
		return 0, err
	}
	v, err := s.sync(rel)
	if err != nil {
		return 0, err
	}
	s.m.s, s.m.hasS = v, true
	return v, nil
}

// RFPhaseToBunchPhase converts a phase expressed at the cavity frequency.
func (s *Settings) RFPhaseToBunchPhase(phi float64) float64 {
	return phi * s.fBunch / s.fCavity
}

// BunchPhaseToRFPhase converts a phase expressed at the bunch frequency.
func (s *Settings) BunchPhaseToRFPhase(phi float64) float64 {
	return phi * s.fCavity / s.fBunch
}

// Clone returns an independent copy. The synchronous phase solver is not
// copied: it belongs to the run that installed it.
func (s *Settings) Clone() *Settings {
	c := *s
	c.sync = nil
	if c.ref == PhiS {
		c.m.hasRel, c.m.hasAbs = false, false
	}
	return &c
}

func (s *Settings) invalidate() {
	s.m = memo{}
	s.vCav = math.NaN()
}

func (s *Settings) String() string {
	return fmt.Sprintf("k_e=%.5g %s=%.5f (%s)", s.kE, s.ref, s.phase, s.status)
}

// AbsToRel converts an absolute entry phase with the RF phase at entry.
func AbsToRel(phi0Abs, phiRF float64) float64 {
	return mod2Pi(phi0Abs + phiRF)
}

// RelToAbs converts a relative entry phase with the RF phase at entry.
func RelToAbs(phi0Rel, phiRF float64) float64 {
	return mod2Pi(phi0Rel - phiRF)
}

func mod2Pi(x float64) float64 {
	v := math.Mod(x, 2*math.Pi)
	if v < 0 {
		v += 2 * math.Pi
	}
	return v
}
