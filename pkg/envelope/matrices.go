package envelope

import (
	"math"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/element"
	"gonum.org/v1/gonum/mat"
)

// driftZ is [[1, ds/gamma^2], [0, 1]].
func driftZ(gamma, ds float64) *mat.Dense {
	return mat.NewDense(2, 2, []float64{1, ds / (gamma * gamma), 0, 1})
}

// drift6 is the 6x6 drift, [[1, ds], [0, 1]] transversally.
func drift6(gamma, ds float64) *mat.Dense {
	m := beam.Identity(6)
	m.Set(0, 1, ds)
	m.Set(2, 3, ds)
	m.Set(4, 5, ds/(gamma*gamma))
	return m
}

// bendZ is the longitudinal matrix of a sector bend with field index n.
func bendZ(gamma, ds float64, b *element.BendParams, length float64) *mat.Dense {
	m := beam.Identity(2)
	if b.Angle == 0 || length == 0 {
		m.Set(0, 1, ds/(gamma*gamma))
		return m
	}
	h := b.Angle / length
	kx2 := h * h * (1 - b.FieldIndex)
	beta2 := 1 - 1/(gamma*gamma)
	var r float64
	switch {
	case kx2 > 0:
		kx := math.Sqrt(kx2)
		f1 := -h * h * ds / kx2
		f2 := h * h * math.Sin(kx*ds) / (kx2 * kx)
		f3 := ds * (1 - h*h/kx2)
		r = f1*beta2 + f2 + f3/(gamma*gamma)
	case kx2 < 0:
		// n > 1: sin(kx ds)/kx^3 continues into -sinh(k ds)/k^3.
		k := math.Sqrt(-kx2)
		f1 := -h * h * ds / kx2
		f2 := h * h * math.Sinh(k*ds) / (kx2 * k)
		f3 := ds * (1 - h*h/kx2)
		r = f1*beta2 + f2 + f3/(gamma*gamma)
	default:
		// n = 1: limit kx -> 0 of the expression above.
		r = -h*h*ds*ds*ds/6 + ds/(gamma*gamma)
	}
	m.Set(0, 1, r)
	return m
}

// bendTransverse is the uncoupled transverse part of a sector bend:
// kx^2 = h^2 (1 - n) horizontally and ky^2 = h^2 n vertically.
func bendTransverse(m *mat.Dense, ds float64, b *element.BendParams, length float64) {
	if b.Angle == 0 || length == 0 {
		return
	}
	h := b.Angle / length
	beam.SetBlock(m, beam.X, focusing(h*h*(1-b.FieldIndex), ds))
	beam.SetBlock(m, beam.Y, focusing(h*h*b.FieldIndex, ds))
}

// focusing is the 2x2 matrix of a constant focusing strength k2 (1/m^2):
// cos-like for k2 > 0, cosh-like for k2 < 0, a drift for 0.
func focusing(k2, ds float64) *mat.Dense {
	switch {
	case k2 > 0:
		k := math.Sqrt(k2)
		c, s := math.Cos(k*ds), math.Sin(k*ds)
		return mat.NewDense(2, 2, []float64{c, s / k, -k * s, c})
	case k2 < 0:
		k := math.Sqrt(-k2)
		c, s := math.Cosh(k*ds), math.Sinh(k*ds)
		return mat.NewDense(2, 2, []float64{c, s / k, k * s, c})
	}
	return mat.NewDense(2, 2, []float64{1, ds, 0, 1})
}

// quad6 focuses in x when q*G > 0.
func quad6(p beam.Particle, gamma, ds, gradient float64) *mat.Dense {
	m := drift6(gamma, ds)
	if gradient == 0 {
		return m
	}
	k2 := math.Abs(gradient / p.BRho(gamma))
	if p.QAdim*gradient > 0 {
		beam.SetBlock(m, beam.X, focusing(k2, ds))
		beam.SetBlock(m, beam.Y, focusing(-k2, ds))
	} else {
		beam.SetBlock(m, beam.X, focusing(-k2, ds))
		beam.SetBlock(m, beam.Y, focusing(k2, ds))
	}
	return m
}

// solenoid6 couples x and y with K = B / (2 B rho).
func solenoid6(p beam.Particle, gamma, ds, b float64) *mat.Dense {
	m := drift6(gamma, ds)
	if b == 0 {
		return m
	}
	k := b / (2 * p.BRho(gamma))
	c, s := math.Cos(k*ds), math.Sin(k*ds)
	sc := s * c
	t := [4][4]float64{
		{c * c, sc / k, sc, s * s / k},
		{-k * sc, c * c, -k * s * s, sc},
		{-sc, -s * s / k, c * c, sc / k},
		{k * s * s, -sc, -k * sc, c * c},
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m.Set(i, j, t[i][j])
		}
	}
	return m
}

func mul3(a, b, c mat.Matrix) *mat.Dense {
	var ab, abc mat.Dense
	ab.Mul(a, b)
	abc.Mul(&ab, c)
	return &abc
}
