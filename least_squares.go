package linaccore

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

func (s *Solver) baseLMSolve(x0 []float64) (res Result) {
	if !s.settings.Quiet {
		log.Println("Base LM Solve Mode")
	}
	r0 := s.residuals(x0)
	size := len(r0)
	if size == 0 {
		return errorResult(x0, fmt.Errorf("%w: no residual", ErrInvalidProblem))
	}

	fnc := func(dst, u []float64) {
		r := s.residuals(s.toBox(u))
		for i := range dst {
			if i < len(r) && !math.IsNaN(r[i]) {
				dst[i] = r[i]
			} else {
				dst[i] = divergencePenalty
			}
		}
	}

	jac := lm.NumJac{Func: fnc}

	problem := lm.LMProblem{
		Dim:        len(x0),
		Size:       size,
		Func:       fnc,
		Jac:        jac.Jac,
		InitParams: s.fromBox(x0),
		Tau:        1e-3,
		Eps1:       s.settings.GTol,
		Eps2:       s.settings.XTol,
	}

	// Recover from LM panics (e.g., singular matrix)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("LM optimization panicked: %v", r)
			res = errorResult(x0, fmt.Errorf("levenberg-marquardt: %v", r))
		}
	}()

	// ObjectiveTol bounds 0.5*|r|^2, FTol bounds |r|
	tol := 0.5 * s.settings.FTol * s.settings.FTol
	out, err := lm.LM(problem, &lm.Settings{Iterations: s.settings.MaxIterations, ObjectiveTol: tol})
	if err != nil {
		return errorResult(x0, fmt.Errorf("levenberg-marquardt: %w", err))
	}

	x := s.toBox(out.X)
	r := s.residuals(x)
	f := floats.Norm(r, 2)
	solved := out.Status == optimize.StepConvergence && !math.IsNaN(f) && !math.IsInf(f, 0)
	status := OK
	if !solved {
		status = NotConverged
	}
	return Result{
		X:         x,
		F:         f,
		Residuals: r,
		Status:    status,
		Solved:    solved,
		FuncEval:  s.evals,
		Payload:   map[string]interface{}{"status": out.Status.String()},
	}
}

// lmSolve restarts least squares from a perturbed point until the norm goes
// below MinFunc or the restart budget is spent.
func (s *Solver) lmSolve() Result {
	if !s.settings.Quiet {
		log.Println("LM Solve Mode")
	}
	rng := rand.New(rand.NewPCG(s.settings.Seed, s.settings.Seed^0x9e3779b97f4a7c15))

	x0 := s.start()
	best := Result{F: math.Inf(1)}
	runs := 0
	for iter := 0; iter <= s.settings.Restarts; iter++ {
		runs++
		res := s.baseLMSolve(x0)
		if res.Status != ERROR && res.F < best.F {
			best = res
		}
		if best.Status == "" {
			best = res
		}
		if !s.settings.Quiet && s.settings.Restarts > 0 {
			log.Println("iter:", iter, "res:", res.F, "bestRes", best.F)
		}
		if best.F < s.settings.MinFunc {
			break
		}
		x0 = s.perturb(best.X, rng)
	}
	best.Iters = runs
	best.FuncEval = s.evals
	return best
}

// perturb moves every variable by up to 10% of its range around x.
func (s *Solver) perturb(x []float64, rng *rand.Rand) []float64 {
	if x == nil {
		x = s.start()
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + 0.1*s.width(i)*(2*rng.Float64()-1)
	}
	clipped, _ := s.clip(out)
	return clipped
}
