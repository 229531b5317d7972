package linaccore

import (
	"log"
	"math/rand/v2"

	"gonum.org/v1/gonum/optimize"
)

func (s *Solver) baseCMASolve() Result {
	if !s.settings.Quiet {
		log.Println("CMA-ES Solve Mode")
	}
	problem := optimize.Problem{
		Func: s.cost,
	}

	method := &optimize.CmaEsChol{
		InitStepSize: 0.25 * s.minWidth(),
		Population:   s.settings.Population,
		Src:          rand.NewPCG(s.settings.Seed, s.settings.Seed),
	}

	// the best point stalls for whole generations, so only a long plateau stops
	settings := s.optimizeSettings()
	settings.Converger = &optimize.FunctionConverge{
		Absolute:   s.settings.FTol * s.settings.FTol,
		Iterations: 200,
	}
	if settings.FuncEvaluations == 0 {
		settings.FuncEvaluations = 2000 * len(s.problem.X0)
	}

	res, err := optimize.Minimize(problem, s.start(), settings, method)
	if res == nil {
		return s.fromOptimize(res, err, "CMA-ES")
	}
	// polish the best sample with a small simplex
	if local, lerr := s.nelderMead(res.X, 0.01*s.minWidth()); local != nil && local.F < res.F {
		local.MajorIterations += res.MajorIterations
		res, err = local, lerr
	}
	out := s.fromOptimize(res, err, "CMA-ES")
	out.FuncEval = s.evals
	return out
}
