package linaccore

import (
	"log"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

const (
	deCrossover = 0.7
	deTol       = 0.01
)

// baseDESolve runs best/1/bin differential evolution with dithered
// mutation. It stops when the spread of the population norms is small
// compared to their mean.
func (s *Solver) baseDESolve() Result {
	if !s.settings.Quiet {
		log.Println("Differential Evolution Solve Mode")
	}
	n := s.dim()
	rng := rand.New(rand.NewPCG(s.settings.Seed, s.settings.Seed+1))

	size := s.settings.Population
	if size == 0 {
		size = 15 * n
	}
	if size < 5 {
		size = 5
	}

	pop := make([][]float64, size)
	energies := make([]float64, size)
	pop[0] = s.start()
	for i := 1; i < size; i++ {
		x := make([]float64, n)
		for j := range x {
			x[j] = s.problem.Lower[j] + rng.Float64()*s.width(j)
		}
		pop[i] = x
	}
	for i, x := range pop {
		energies[i] = s.cost(x)
	}

	best := argmin(energies)
	solved := false
	gen := 0
	trial := make([]float64, n)
	for gen = 1; gen <= s.settings.MaxIterations; gen++ {
		if s.settings.MaxFuncEval > 0 && s.evals >= s.settings.MaxFuncEval {
			break
		}
		mut := 0.5 + 0.5*rng.Float64()
		for i := range pop {
			r1, r2 := pick2(rng, size, i)
			jRand := rng.IntN(n)
			for j := 0; j < n; j++ {
				if j == jRand || rng.Float64() < deCrossover {
					v := pop[best][j] + mut*(pop[r1][j]-pop[r2][j])
					trial[j] = math.Max(s.problem.Lower[j], math.Min(s.problem.Upper[j], v))
				} else {
					trial[j] = pop[i][j]
				}
			}
			e := s.cost(trial)
			if e <= energies[i] {
				copy(pop[i], trial)
				energies[i] = e
				if e <= energies[best] {
					best = i
				}
			}
		}
		mean, std := stat.MeanStdDev(energies, nil)
		if std <= s.settings.FTol+deTol*math.Abs(mean) {
			solved = true
			break
		}
	}

	status := OK
	if !solved {
		status = NotConverged
	}
	return Result{
		X:      append([]float64(nil), pop[best]...),
		Status: status,
		Solved: solved,
		Iters:  min(gen, s.settings.MaxIterations),
		Payload: map[string]interface{}{
			"population": size,
		},
	}
}

func argmin(v []float64) int {
	best := 0
	for i := range v {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

// pick2 draws two distinct indices of [0, n) that differ from skip.
func pick2(rng *rand.Rand, n, skip int) (int, int) {
	a := rng.IntN(n)
	for a == skip {
		a = rng.IntN(n)
	}
	b := rng.IntN(n)
	for b == skip || b == a {
		b = rng.IntN(n)
	}
	return a, b
}
