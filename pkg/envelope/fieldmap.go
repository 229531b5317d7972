package envelope

import (
	"math"
	"math/cmplx"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/field"
	"gonum.org/v1/gonum/mat"
)

// gap holds the energy and phase of one integration step, in RF phase.
type gap struct {
	z        float64 // step entrance, relative to the cavity entrance
	gammaIn  float64
	gammaOut float64
	gammaMid float64
	phiMid   float64
}

type integration struct {
	gamma []float64 // n+1 points, gamma[0] is the entrance
	phi   []float64 // RF phase relative to the entrance
	gaps  []gap
	itg   complex128
}

// cavityRun gathers the constants of one field map crossing.
type cavityRun struct {
	f       *field.Field
	kE      float64
	phi0    float64
	omegaRF float64
	dz      float64
	n       int
	kk      float64 // q dz / E_rest * k_e
	dPhi    float64 // omega_rf dz / c
}

func newCavityRun(p beam.Particle, f *field.Field, kE, phi0, fCavity, length float64, n int) cavityRun {
	dz := length / float64(n)
	omegaRF := 2 * math.Pi * fCavity * 1e6
	return cavityRun{
		f:       f,
		kE:      kE,
		phi0:    phi0,
		omegaRF: omegaRF,
		dz:      dz,
		n:       n,
		kk:      p.QAdim * dz / p.ERest * kE,
		dPhi:    omegaRF * dz / beam.C,
	}
}

func (c cavityRun) du(z, g, p float64) (float64, float64) {
	return c.f.Timed(z, p, c.kk, c.phi0), c.dPhi / beam.Beta(g)
}

func (c cavityRun) fieldStep(z, p float64) complex128 {
	return c.f.TimedComplex(z, p, c.kE*c.dz, c.phi0)
}

// rk4 integrates the classical fourth order scheme, one step per dz.
func (c cavityRun) rk4(gammaIn float64) integration {
	out := integration{
		gamma: make([]float64, c.n+1),
		phi:   make([]float64, c.n+1),
		gaps:  make([]gap, c.n),
	}
	out.gamma[0] = gammaIn
	half := 0.5 * c.dz
	for i := 0; i < c.n; i++ {
		z := float64(i) * c.dz
		g, p := out.gamma[i], out.phi[i]
		k1g, k1p := c.du(z, g, p)
		k2g, k2p := c.du(z+half, g+0.5*k1g, p+0.5*k1p)
		k3g, k3p := c.du(z+half, g+0.5*k2g, p+0.5*k2p)
		k4g, k4p := c.du(z+c.dz, g+k3g, p+k3p)
		dg := (k1g + 2*k2g + 2*k3g + k4g) / 6
		dp := (k1p + 2*k2p + 2*k3p + k4p) / 6

		out.gamma[i+1] = g + dg
		out.phi[i+1] = p + dp
		out.itg += c.fieldStep(z, p)
		out.gaps[i] = gap{z: z, gammaIn: g, gammaOut: g + dg, gammaMid: g + 0.5*dg, phiMid: p + 0.5*dp}
	}
	return out
}

// leapfrog keeps the energy on half steps and the phase on whole steps. When
// rewind is set the energy is first brought back half a step.
func (c cavityRun) leapfrog(gammaIn float64, rewind bool) integration {
	out := integration{
		gamma: make([]float64, c.n+1),
		phi:   make([]float64, c.n+1),
		gaps:  make([]gap, c.n),
	}
	out.gamma[0] = gammaIn
	gHalf := gammaIn
	if rewind {
		gHalf -= 0.5 * c.kk * c.f.E(0) * math.Cos(c.phi0)
	}
	for i := 0; i < c.n; i++ {
		z := float64(i) * c.dz
		p := out.phi[i]
		dg, _ := c.du(z, gHalf, p)
		gNext := gHalf + dg
		dp := c.dPhi / beam.Beta(gNext)

		out.gamma[i+1] = gNext
		out.phi[i+1] = p + dp
		out.itg += c.fieldStep(z, p)
		out.gaps[i] = gap{z: z, gammaIn: out.gamma[i], gammaOut: gNext, gammaMid: gNext, phiMid: p + 0.5*dp}
		gHalf = gNext
	}
	return out
}

// scaledField is the complex field at the middle of the gap times
// q dz k_e / E_rest, divided by gamma_m beta_m^2.
func (c cavityRun) scaledField(g gap) (complex128, float64) {
	bm := beam.Beta(g.gammaMid)
	e := c.kk * c.f.E(g.z+0.5*c.dz) / (g.gammaMid * bm * bm)
	return complex(e, 0) * cmplx.Exp(complex(0, g.phiMid+c.phi0)), bm
}

// thinLensZ is drift(gamma_out, dz/2) . [[k3, 0], [k1, k2]] . drift(gamma_in, dz/2).
func (c cavityRun) thinLensZ(g gap) *mat.Dense {
	e, bm := c.scaledField(g)
	k1 := imag(e) * c.omegaRF / (bm * beam.C)
	k2 := 1 - (2-bm*bm)*real(e)
	k3 := (1 - real(e)) / k2
	half := 0.5 * c.dz
	lens := mat.NewDense(2, 2, []float64{k3, 0, k1, k2})
	return mul3(driftZ(g.gammaOut, half), lens, driftZ(g.gammaIn, half))
}

// thinLens6 adds the transverse kick of the gap to thinLensZ.
func (c cavityRun) thinLens6(g gap) *mat.Dense {
	e, bm := c.scaledField(g)
	k1 := imag(e) * c.omegaRF / (bm * beam.C)
	k2 := 1 - (2-bm*bm)*real(e)
	k3 := (1 - real(e)) / k2

	// Slightly inside the step so the last one stays in the map.
	dE := (c.f.E(g.z+0.9999998*c.dz) - c.f.E(g.z)) / c.dz
	cosM, sinM := math.Cos(g.phiMid+c.phi0), math.Sin(g.phiMid+c.phi0)
	kSpeed := c.kk * c.f.E(g.z+0.5*c.dz) / (g.gammaMid * bm * bm)
	k1a := c.kk * dE * cosM / (g.gammaMid * bm * bm)
	k1xy := -0.5*k1a + kSpeed*bm*c.omegaRF/(2*beam.C)*sinM
	k2xy := 1 - real(e)

	lens := mat.NewDense(6, 6, nil)
	lens.Set(0, 0, 1)
	lens.Set(1, 0, k1xy)
	lens.Set(1, 1, k2xy)
	lens.Set(2, 2, 1)
	lens.Set(3, 2, k1xy)
	lens.Set(3, 3, k2xy)
	lens.Set(4, 4, k3)
	lens.Set(5, 4, k1)
	lens.Set(5, 5, k2)
	half := 0.5 * c.dz
	return mul3(drift6(g.gammaOut, half), lens, drift6(g.gammaIn, half))
}

// syncPhase returns the voltage in MV and the synchronous phase of a field
// integral. A zero integral has no phase and gives NaN.
func syncPhase(itg complex128) (float64, float64) {
	if itg == 0 {
		return 0, math.NaN()
	}
	return cmplx.Abs(itg), cmplx.Phase(itg)
}
