// Package beam holds the kinematics of the synchronous particle and the
// propagation of beam matrices through transfer matrices.
package beam

import (
	"fmt"
	"math"
)

// C is the speed of light in m/s.
const C = 2.99792458e8

// Particle describes the synchronous particle and the bunch frequency.
type Particle struct {
	ERest  float64 `json:"e_rest_mev"`
	QAdim  float64 `json:"q_adim"`
	FBunch float64 `json:"f_bunch_mhz"`
}

// Proton returns a proton beam bunched at fBunch MHz.
func Proton(fBunch float64) Particle {
	return Particle{ERest: 938.27208816, QAdim: 1, FBunch: fBunch}
}

func (p Particle) Validate() error {
	if p.ERest <= 0 {
		return fmt.Errorf("beam: rest energy must be positive, got %g", p.ERest)
	}
	if p.QAdim == 0 {
		return fmt.Errorf("beam: charge must be non zero")
	}
	if p.FBunch <= 0 {
		return fmt.Errorf("beam: bunch frequency must be positive, got %g", p.FBunch)
	}
	return nil
}

// Gamma is the Lorentz factor of a particle with kinetic energy wKin (MeV).
func (p Particle) Gamma(wKin float64) float64 { return 1 + wKin/p.ERest }

// KinEnergy is the kinetic energy in MeV.
func (p Particle) KinEnergy(gamma float64) float64 { return (gamma - 1) * p.ERest }

// OmegaBunch is the bunch angular frequency in rad/s.
func (p Particle) OmegaBunch() float64 { return 2 * math.Pi * p.FBunch * 1e6 }

// Lambda is the bunch wavelength in m.
func (p Particle) Lambda() float64 { return C / (p.FBunch * 1e6) }

// BRho is the magnetic rigidity in T.m.
func (p Particle) BRho(gamma float64) float64 {
	return 1e6 * p.ERest * Beta(gamma) * gamma / C
}

// Beta is the reduced velocity.
func Beta(gamma float64) float64 { return math.Sqrt(1 - 1/(gamma*gamma)) }

// EmittanceZDeltaToPhiW converts an emittance in [z-delta] (m) into [phi-W]
// (deg.MeV).
func (p Particle) EmittanceZDeltaToPhiW(eps, gamma float64) float64 {
	return eps * 360 * Beta(gamma) * gamma * p.ERest / p.Lambda()
}
