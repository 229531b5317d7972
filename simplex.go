package linaccore

import (
	"log"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

func (s *Solver) optimizeSettings() *optimize.Settings {
	return &optimize.Settings{
		MajorIterations: s.settings.MaxIterations,
		FuncEvaluations: s.settings.MaxFuncEval,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.settings.FTol,
			Relative:   s.settings.FTol,
			Iterations: 50,
		},
		// A residual evaluation mutates the cavity set of the run.
		Concurrent: 0,
	}
}

func (s *Solver) baseNMSolve() Result {
	if !s.settings.Quiet {
		log.Println("Nelder-Mead Solve Mode")
	}
	res, err := s.nelderMead(s.start(), s.simplexSize())
	return s.fromOptimize(res, err, "Nelder-Mead")
}

func (s *Solver) nelderMead(x0 []float64, size float64) (*optimize.Result, error) {
	n := float64(len(x0))

	problem := optimize.Problem{
		Func: s.cost,
	}

	method := &optimize.NelderMead{SimplexSize: size}
	if n > 1 {
		method.Reflection = 1
		method.Expansion = 1 + 2/n
		method.Contraction = 0.75 - 1/(2*n)
		method.Shrink = 1 - 1/n
	}

	return optimize.Minimize(problem, x0, s.optimizeSettings(), method)
}

func (s *Solver) simplexSize() float64 { return 0.05 * s.minWidth() }

// minWidth is the narrowest non-empty range, 1 when every range is empty.
func (s *Solver) minWidth() float64 {
	size := math.Inf(1)
	for i := range s.problem.X0 {
		if w := s.width(i); w > 0 && w < size {
			size = w
		}
	}
	if math.IsInf(size, 1) {
		return 1
	}
	return size
}

func (s *Solver) baseLBFGSSolve() Result {
	if !s.settings.Quiet {
		log.Println("Base LBFGS Solve Mode")
	}
	grad := func(grad, x []float64) {
		fd.Gradient(grad, s.cost, x, &fd.Settings{
			Formula: fd.Central,
		})
	}

	problem := optimize.Problem{
		Func: s.cost,
		Grad: grad,
	}

	settings := s.optimizeSettings()
	settings.GradientThreshold = s.settings.GTol

	res, err := optimize.Minimize(problem, s.start(), settings, &optimize.LBFGS{})
	return s.fromOptimize(res, err, "LBFGS")
}

func (s *Solver) fromOptimize(res *optimize.Result, err error, name string) Result {
	if res == nil {
		log.Printf("%s optimization failed: %v", name, err)
		return errorResult(s.start(), err)
	}
	if err != nil && !s.settings.Quiet {
		log.Printf("%s optimization error: %v", name, err)
	}

	x, _ := s.clip(res.X)
	payload := map[string]interface{}{
		"majorIterations": res.MajorIterations,
		"funcEvaluations": res.FuncEvaluations,
		"status":          res.Status.String(),
	}
	solved := err == nil && converged(res.Status)
	status := OK
	if !solved {
		status = NotConverged
	}
	return Result{
		X:        x,
		Status:   status,
		Solved:   solved,
		Iters:    res.MajorIterations,
		FuncEval: res.FuncEvaluations,
		Payload:  payload,
	}
}

func converged(st optimize.Status) bool {
	switch st {
	case optimize.Success, optimize.FunctionThreshold, optimize.FunctionConvergence,
		optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}
