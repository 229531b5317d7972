package beam

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// detEpsilon is the determinant below which a beam matrix is degenerate.
const detEpsilon = 1e-20

// Twiss holds the Courant-Snyder parameters and the rms emittance of one
// phase space.
type Twiss struct {
	Alpha      float64
	Beta       float64
	Gamma      float64
	Emittance  float64
	Degenerate bool
}

// TwissFromSigma computes eps = sqrt(det sigma), beta = s11/eps,
// gamma = s22/eps and alpha = -s12/eps. A determinant below 1e-20 or a
// negative one flags the result as degenerate, with NaN parameters.
func TwissFromSigma(s mat.Matrix) (Twiss, error) {
	r, c := s.Dims()
	if r != 2 || c != 2 {
		return Twiss{}, fmt.Errorf("beam: sigma must be 2x2, got %dx%d", r, c)
	}
	det := s.At(0, 0)*s.At(1, 1) - s.At(0, 1)*s.At(1, 0)
	if math.IsNaN(det) || det < 0 || math.Abs(det) < detEpsilon {
		nan := math.NaN()
		return Twiss{Alpha: nan, Beta: nan, Gamma: nan, Emittance: 0, Degenerate: true}, nil
	}
	eps := math.Sqrt(det)
	return Twiss{
		Alpha:     -s.At(0, 1) / eps,
		Beta:      s.At(0, 0) / eps,
		Gamma:     s.At(1, 1) / eps,
		Emittance: eps,
	}, nil
}

// Sigma builds the beam matrix eps * [[beta, -alpha], [-alpha, gamma]].
// Gamma is recomputed from alpha and beta.
func Sigma(alpha, beta, eps float64) *mat.Dense {
	gamma := (1 + alpha*alpha) / beta
	return mat.NewDense(2, 2, []float64{
		eps * beta, -eps * alpha,
		-eps * alpha, eps * gamma,
	})
}

// Mismatch returns the mismatch factor of fix with respect to ref:
// R = beta_r gamma_f + gamma_r beta_f - 2 alpha_r alpha_f, clamped to 2,
// M = sqrt((R + sqrt(R^2 - 4)) / 2) - 1. Degenerate inputs give NaN.
func Mismatch(ref, fix Twiss) float64 {
	if ref.Degenerate || fix.Degenerate {
		return math.NaN()
	}
	r := ref.Beta*fix.Gamma + ref.Gamma*fix.Beta - 2*ref.Alpha*fix.Alpha
	if r < 2 {
		r = 2
	}
	return math.Sqrt(0.5*(r+math.Sqrt(r*r-4))) - 1
}

// MismatchAll applies Mismatch point by point; both slices must have the
// same length.
func MismatchAll(ref, fix []Twiss) ([]float64, error) {
	if len(ref) != len(fix) {
		return nil, fmt.Errorf("beam: mismatch needs equal meshes, got %d and %d points", len(ref), len(fix))
	}
	out := make([]float64, len(ref))
	for i := range ref {
		out[i] = Mismatch(ref[i], fix[i])
	}
	return out, nil
}
