package linaccore

import "math"

const boundsPenalty = 1e6

// clip returns x projected on the box and the squared distance between the
// two.
func (s *Solver) clip(x []float64) ([]float64, float64) {
	out := make([]float64, len(x))
	dist := 0.0
	for i, v := range x {
		lo, hi := s.problem.Lower[i], s.problem.Upper[i]
		switch {
		case v < lo:
			dist += (lo - v) * (lo - v)
			v = lo
		case v > hi:
			dist += (v - hi) * (v - hi)
			v = hi
		}
		out[i] = v
	}
	return out, dist
}

// toBox maps an unbounded u on the box with x = lo + (hi-lo)(sin u + 1)/2.
func (s *Solver) toBox(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, v := range u {
		lo, hi := s.problem.Lower[i], s.problem.Upper[i]
		x[i] = lo + (hi-lo)*(math.Sin(v)+1)/2
	}
	return x
}

// fromBox is the inverse of toBox on [-pi/2, pi/2].
func (s *Solver) fromBox(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, v := range x {
		lo, hi := s.problem.Lower[i], s.problem.Upper[i]
		if hi == lo {
			continue
		}
		t := 2*(v-lo)/(hi-lo) - 1
		u[i] = math.Asin(math.Max(-1, math.Min(1, t)))
	}
	return u
}

func (s *Solver) width(i int) float64 {
	return s.problem.Upper[i] - s.problem.Lower[i]
}

// start clips x0 on the box.
func (s *Solver) start() []float64 {
	x, _ := s.clip(s.problem.X0)
	return x
}
