// Package linaccore holds the optimisation algorithms used to retune the
// cavities of a compensation zone. A Problem is a vector of residuals over a
// box; every algorithm minimises their euclidean norm.
package linaccore

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrUnknownMethod  = errors.New("linaccore: unknown optimisation method")
	ErrInvalidProblem = errors.New("linaccore: invalid problem")
)

// Status of a Result.
const (
	OK           = "OK"
	NotConverged = "NOT_CONVERGED"
	ERROR        = "ERROR"
)

// divergencePenalty replaces every residual that could not be computed.
const divergencePenalty = 1e10

// Method names accepted by NewSolver.
const (
	LeastSquares          = "least_squares"
	LM                    = "lm"
	DownhillSimplex       = "downhill_simplex"
	NelderMead            = "nelder_mead"
	DifferentialEvolution = "differential_evolution"
	Bayesian              = "bayesian"
	CMAES                 = "cma_es"
	Explorator            = "explorator"
	LBFGS                 = "lbfgs"
)

// Problem is a bounded least squares problem. Constraints are satisfied
// when every component is <= 0.
type Problem struct {
	Residuals   func(x []float64) []float64
	Constraints func(x []float64) []float64
	X0          []float64
	Lower       []float64
	Upper       []float64
	// Phase marks the variables that are angles in rad.
	Phase []bool
}

func (p Problem) validate() error {
	n := len(p.X0)
	if p.Residuals == nil {
		return fmt.Errorf("%w: no residual function", ErrInvalidProblem)
	}
	if n == 0 {
		return fmt.Errorf("%w: no variable", ErrInvalidProblem)
	}
	if len(p.Lower) != n || len(p.Upper) != n {
		return fmt.Errorf("%w: %d variables, %d lower and %d upper bounds", ErrInvalidProblem, n, len(p.Lower), len(p.Upper))
	}
	if p.Phase != nil && len(p.Phase) != n {
		return fmt.Errorf("%w: phase mask has %d entries for %d variables", ErrInvalidProblem, len(p.Phase), n)
	}
	for i := range p.X0 {
		if p.Lower[i] > p.Upper[i] {
			return fmt.Errorf("%w: variable %d has lower bound %g > upper bound %g", ErrInvalidProblem, i, p.Lower[i], p.Upper[i])
		}
	}
	return nil
}

// Settings tune the algorithms. Zero values select the defaults.
type Settings struct {
	MaxIterations int
	MaxFuncEval   int
	FTol          float64
	GTol          float64
	XTol          float64
	Seed          uint64
	Population    int
	InitPoints    int
	NIter         int
	GridPoints    int
	// Restarts of least squares from a perturbed point while the norm stays
	// above MinFunc.
	Restarts int
	MinFunc  float64
	Quiet    bool
}

// DefaultSettings returns the tolerances used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations: 1000,
		FTol:          1e-10,
		GTol:          1e-8,
		XTol:          1e-8,
		Seed:          42,
		InitPoints:    50,
		NIter:         300,
		GridPoints:    20,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxIterations == 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.FTol == 0 {
		s.FTol = d.FTol
	}
	if s.GTol == 0 {
		s.GTol = d.GTol
	}
	if s.XTol == 0 {
		s.XTol = d.XTol
	}
	if s.Seed == 0 {
		s.Seed = d.Seed
	}
	if s.InitPoints == 0 {
		s.InitPoints = d.InitPoints
	}
	if s.NIter == 0 {
		s.NIter = d.NIter
	}
	if s.GridPoints == 0 {
		s.GridPoints = d.GridPoints
	}
	return s
}

// Result of one optimisation. F is the norm of Residuals.
type Result struct {
	X         []float64
	F         float64
	Residuals []float64
	Status    string
	Solved    bool
	Iters     int
	FuncEval  int
	Method    string
	Runtime   float64
	Payload   interface{}
}

type Solver struct {
	method   string
	problem  Problem
	settings Settings
	evals    int
}

// NewSolver checks the problem and the method name.
func NewSolver(method string, p Problem, s Settings) (*Solver, error) {
	method = strings.ToLower(method)
	switch method {
	case LeastSquares, LM, DownhillSimplex, NelderMead, DifferentialEvolution,
		Bayesian, CMAES, Explorator, LBFGS:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Solver{method: method, problem: p, settings: s.withDefaults()}, nil
}

func (s *Solver) Method() string { return s.method }

// Solve runs the configured algorithm. Failing to converge is reported in
// the result, not as an error.
func (s *Solver) Solve() Result {
	start := time.Now()
	s.evals = 0
	var res Result
	switch s.method {
	case LeastSquares, LM:
		res = s.lmSolve()
	case DownhillSimplex, NelderMead:
		res = s.baseNMSolve()
	case DifferentialEvolution:
		res = s.baseDESolve()
	case Bayesian:
		res = s.baseBayesSolve()
	case CMAES:
		res = s.baseCMASolve()
	case Explorator:
		res = s.exploratorSolve()
	case LBFGS:
		res = s.baseLBFGSSolve()
	}
	res.Method = s.method
	res.Runtime = time.Since(start).Seconds()
	if res.FuncEval == 0 {
		res.FuncEval = s.evals
	}
	if res.X != nil && res.Residuals == nil {
		res.Residuals = s.residuals(res.X)
		res.F = floats.Norm(res.Residuals, 2)
	}
	if !s.settings.Quiet {
		log.Printf("%s: status=%s norm=%.6g iters=%d evals=%d runtime=%.2fs", s.method, res.Status, res.F, res.Iters, res.FuncEval, res.Runtime)
	}
	return res
}

func (s *Solver) dim() int { return len(s.problem.X0) }

// evaluate returns the objective residuals and the constraint values at x.
func (s *Solver) evaluate(x []float64) ([]float64, []float64) {
	s.evals++
	r := s.problem.Residuals(x)
	if s.problem.Constraints == nil {
		return r, nil
	}
	return r, s.problem.Constraints(x)
}

// residuals are the objective residuals followed by max(0, g) for every
// constraint.
func (s *Solver) residuals(x []float64) []float64 {
	r, g := s.evaluate(x)
	if g == nil {
		return r
	}
	out := make([]float64, len(r), len(r)+len(g))
	copy(out, r)
	for _, v := range g {
		out = append(out, math.Max(0, v))
	}
	return out
}

// cost is the squared norm of the residuals at the clipped point plus a
// quadratic penalty for the distance to the box.
func (s *Solver) cost(x []float64) float64 {
	clipped, dist := s.clip(x)
	r := sanitize(s.residuals(clipped))
	return floats.Dot(r, r) + boundsPenalty*dist
}

func sanitize(r []float64) []float64 {
	for i, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			r[i] = divergencePenalty
		}
	}
	return r
}

func errorResult(x0 []float64, err error) Result {
	log.Printf("ERROR: %v", err)
	return Result{
		X:       append([]float64(nil), x0...),
		F:       math.Inf(1),
		Status:  ERROR,
		Payload: err.Error(),
	}
}

// Clone returns a solver for the same problem with another method.
func (s *Solver) Clone(method string) (*Solver, error) {
	return NewSolver(method, s.problem, s.settings)
}
