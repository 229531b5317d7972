package cavity

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
)

const (
	syncScanPoints  = 72
	syncNewtonIters = 30
	syncTol         = 1e-10
)

// wrapPi maps an angle difference into (-pi, pi].
func wrapPi(x float64) float64 {
	v := math.Mod(x+math.Pi, 2*math.Pi)
	if v <= 0 {
		v += 2 * math.Pi
	}
	return v - math.Pi
}

// solvePhi0Rel finds phi_0_rel in [0, 2pi) such that sync(phi_0_rel) equals
// target. A coarse scan gives the starting point of a Newton refinement; a
// bisection on the bracketing scan interval takes over when Newton leaves the
// bracket or does not converge.
func solvePhi0Rel(sync SyncPhaseFunc, target float64) (float64, error) {
	var ferr error
	residual := func(x float64) float64 {
		phiS, err := sync(mod2Pi(x))
		if err != nil {
			if ferr == nil {
				ferr = err
			}
			return math.NaN()
		}
		return wrapPi(phiS - target)
	}

	step := 2 * math.Pi / syncScanPoints
	xs := make([]float64, syncScanPoints+1)
	rs := make([]float64, syncScanPoints+1)
	best := -1
	for i := range xs {
		xs[i] = float64(i) * step
		rs[i] = residual(xs[i])
		if ferr != nil {
			return 0, fmt.Errorf("cavity: synchronous phase scan: %w", ferr)
		}
		if math.IsNaN(rs[i]) {
			continue
		}
		if best < 0 || math.Abs(rs[i]) < math.Abs(rs[best]) {
			best = i
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("cavity: synchronous phase %.4f: no finite value found during scan", target)
	}

	// Bracket around the best point. Sign flips across +-pi are not roots.
	lo, hi := -1, -1
	for _, j := range []int{best - 1, best} {
		if j < 0 || j+1 >= len(xs) {
			continue
		}
		a, b := rs[j], rs[j+1]
		if a*b <= 0 && math.Abs(a-b) < math.Pi {
			lo, hi = j, j+1
			break
		}
	}

	x := xs[best]
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}
	for it := 0; it < syncNewtonIters; it++ {
		r := residual(x)
		if ferr != nil {
			return 0, fmt.Errorf("cavity: synchronous phase refinement: %w", ferr)
		}
		if math.Abs(r) < syncTol {
			return mod2Pi(x), nil
		}
		d := fd.Derivative(residual, x, settings)
		if ferr != nil {
			return 0, fmt.Errorf("cavity: synchronous phase refinement: %w", ferr)
		}
		if d == 0 || math.IsNaN(d) {
			break
		}
		next := x - r/d
		if lo >= 0 && (next < xs[lo] || next > xs[hi]) {
			break
		}
		x = next
	}
	if lo < 0 {
		if math.Abs(residual(x)) < 1e-6 {
			return mod2Pi(x), nil
		}
		return 0, fmt.Errorf("cavity: synchronous phase %.4f is not reachable", target)
	}

	a, b := xs[lo], xs[hi]
	ra := rs[lo]
	for it := 0; it < 100 && b-a > syncTol; it++ {
		m := 0.5 * (a + b)
		rm := residual(m)
		if ferr != nil {
			return 0, fmt.Errorf("cavity: synchronous phase bisection: %w", ferr)
		}
		if ra*rm <= 0 {
			b = m
		} else {
			a, ra = m, rm
		}
	}
	return mod2Pi(0.5 * (a + b)), nil
}
