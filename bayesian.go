package linaccore

import (
	"log"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/samplemv"
)

const (
	gpLengthScale = 0.2
	gpNoise       = 1e-6
	eiXi          = 0.01
	eiCandidates  = 256
)

// gp is a Gaussian process with an RBF kernel over the unit cube, fitted on
// standardised targets.
type gp struct {
	xs    [][]float64
	chol  mat.Cholesky
	alpha *mat.VecDense
	mean  float64
	std   float64
}

func rbf(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return math.Exp(-d * d / (2 * gpLengthScale * gpLengthScale))
}

func fitGP(xs [][]float64, ys []float64) (*gp, bool) {
	n := len(xs)
	g := &gp{xs: xs}
	g.mean, g.std = stat.MeanStdDev(ys, nil)
	if g.std == 0 || math.IsNaN(g.std) {
		g.std = 1
	}
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := rbf(xs[i], xs[j])
			if i == j {
				v += gpNoise
			}
			k.SetSym(i, j, v)
		}
	}
	if ok := g.chol.Factorize(k); !ok {
		return nil, false
	}
	y := mat.NewVecDense(n, nil)
	for i, v := range ys {
		y.SetVec(i, (v-g.mean)/g.std)
	}
	g.alpha = mat.NewVecDense(n, nil)
	if err := g.chol.SolveVecTo(g.alpha, y); err != nil {
		return nil, false
	}
	return g, true
}

// predict returns the standardised mean and standard deviation at x.
func (g *gp) predict(x []float64) (float64, float64) {
	n := len(g.xs)
	k := mat.NewVecDense(n, nil)
	for i, xi := range g.xs {
		k.SetVec(i, rbf(x, xi))
	}
	mu := mat.Dot(k, g.alpha)
	v := mat.NewVecDense(n, nil)
	if err := g.chol.SolveVecTo(v, k); err != nil {
		return mu, 0
	}
	variance := 1 + gpNoise - mat.Dot(k, v)
	if variance < 0 {
		variance = 0
	}
	return mu, math.Sqrt(variance)
}

// expectedImprovement below best, all in standardised units.
func expectedImprovement(mu, sigma, best float64) float64 {
	if sigma == 0 {
		return 0
	}
	imp := best - mu - eiXi
	z := imp / sigma
	return imp*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}

func (s *Solver) baseBayesSolve() Result {
	if !s.settings.Quiet {
		log.Println("Bayesian Solve Mode")
	}
	n := s.dim()
	src := rand.NewPCG(s.settings.Seed, s.settings.Seed+2)
	rng := rand.New(src)

	unit := make([]r1.Interval, n)
	for i := range unit {
		unit[i] = r1.Interval{Min: 0, Max: 1}
	}
	initial := mat.NewDense(s.settings.InitPoints, n, nil)
	lhs := samplemv.LatinHypercube{Q: distmv.NewUniform(unit, src), Src: src}
	lhs.Sample(initial)

	var xs [][]float64
	var norms []float64
	observe := func(u []float64) {
		x := s.fromUnit(u)
		xs = append(xs, u)
		norms = append(norms, math.Sqrt(s.cost(x)))
	}
	observe(s.toUnit(s.start()))
	for i := 0; i < s.settings.InitPoints; i++ {
		observe(mat.Row(nil, i, initial))
	}

	for iter := 0; iter < s.settings.NIter; iter++ {
		g, ok := fitGP(xs, norms)
		if !ok {
			observe(randomUnit(rng, n))
			continue
		}
		bestIdx := argmin(norms)
		best := (norms[bestIdx] - g.mean) / g.std

		var next []float64
		bestEI := -1.0
		for c := 0; c < eiCandidates; c++ {
			var u []float64
			if c%2 == 0 {
				u = randomUnit(rng, n)
			} else {
				u = make([]float64, n)
				for j := range u {
					u[j] = math.Max(0, math.Min(1, xs[bestIdx][j]+0.05*rng.NormFloat64()))
				}
			}
			mu, sigma := g.predict(u)
			if ei := expectedImprovement(mu, sigma, best); ei > bestEI {
				bestEI = ei
				next = u
			}
		}
		observe(next)
	}

	bestIdx := argmin(norms)
	return Result{
		X:      s.fromUnit(xs[bestIdx]),
		Status: OK,
		Solved: true,
		Iters:  s.settings.NIter,
		Payload: map[string]interface{}{
			"initPoints": s.settings.InitPoints,
			"nIter":      s.settings.NIter,
		},
	}
}

func randomUnit(rng *rand.Rand, n int) []float64 {
	u := make([]float64, n)
	for i := range u {
		u[i] = rng.Float64()
	}
	return u
}

func (s *Solver) toUnit(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, v := range x {
		if w := s.width(i); w > 0 {
			u[i] = (v - s.problem.Lower[i]) / w
		}
	}
	return u
}

func (s *Solver) fromUnit(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, v := range u {
		x[i] = s.problem.Lower[i] + v*s.width(i)
	}
	return x
}
