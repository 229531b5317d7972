package linaccore

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
)

// maxGridSize bounds the number of points the explorator evaluates.
const maxGridSize = 1 << 20

// exploratorSolve evaluates the full grid and keeps the point with the
// lowest norm, preferring points that satisfy the constraints. Phase ranges
// wider than 2pi are reduced to [0, 2pi].
func (s *Solver) exploratorSolve() Result {
	if !s.settings.Quiet {
		log.Println("Explorator Solve Mode")
	}
	n := s.dim()
	pts := s.settings.GridPoints
	if pts < 2 {
		pts = 2
	}
	total := 1
	for i := 0; i < n; i++ {
		total *= pts
		if total > maxGridSize {
			return errorResult(s.start(), fmt.Errorf("%w: explorator grid over %d variables exceeds %d points", ErrInvalidProblem, n, maxGridSize))
		}
	}

	axes := make([][]float64, n)
	for i := range axes {
		lo, hi := s.problem.Lower[i], s.problem.Upper[i]
		if s.problem.Phase != nil && s.problem.Phase[i] && hi-lo >= 2*math.Pi {
			lo, hi = 0, 2*math.Pi
		}
		axes[i] = make([]float64, pts)
		floats.Span(axes[i], lo, hi)
	}

	var (
		best         []float64
		bestF        = math.Inf(1)
		bestFeasible bool
	)
	x := make([]float64, n)
	idx := make([]int, n)
	for k := 0; k < total; k++ {
		for i := range x {
			x[i] = axes[i][idx[i]]
		}
		r, g := s.evaluate(x)
		f := floats.Norm(sanitize(r), 2)
		feasible := true
		for _, v := range g {
			if !(v <= 0) {
				feasible = false
			}
		}
		if (feasible && !bestFeasible) || (feasible == bestFeasible && f < bestF) {
			best = append(best[:0], x...)
			bestF = f
			bestFeasible = feasible
		}
		for i := n - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < pts {
				break
			}
			idx[i] = 0
		}
	}

	return Result{
		X:      best,
		Status: OK,
		Solved: true,
		Iters:  total,
		Payload: map[string]interface{}{
			"gridPoints": pts,
			"feasible":   bestFeasible,
		},
	}
}
