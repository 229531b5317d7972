package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kacperjurak/linaccore"
	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/designspace"
	"github.com/kacperjurak/linaccore/pkg/envelope"
	"github.com/kacperjurak/linaccore/pkg/fault"
	"github.com/kacperjurak/linaccore/pkg/history"
	"github.com/kacperjurak/linaccore/pkg/objective"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// ArrayFlags collects every occurrence of a float flag
type ArrayFlags []float64

func (a *ArrayFlags) String() string {
	return "ArrayFlags"
}

func (a *ArrayFlags) Set(value string) error {
	if val, err := strconv.ParseFloat(value, 64); err == nil {
		*a = append(*a, val)
		return nil
	} else {
		return err
	}
}

// IntFlags collects every occurrence of an int flag. A comma separated
// value adds several.
type IntFlags []int

func (a *IntFlags) String() string {
	parts := make([]string, len(*a))
	for i, v := range *a {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (a *IntFlags) Set(value string) error {
	for _, s := range strings.Split(value, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		*a = append(*a, v)
	}
	return nil
}

// Twiss gives the entrance beam of one phase space.
type Twiss struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Eps   float64 `json:"eps"`
}

// BeamConfig holds the particle and its state at the linac entrance
type BeamConfig struct {
	beam.Particle
	WKinIn   float64          `json:"w_kin_in"`
	PhiAbsIn float64          `json:"phi_abs_in"`
	SigmaIn  map[string]Twiss `json:"sigma_in"`
}

type CalculatorConfig struct {
	Method        string `json:"method"`
	NStepsPerCell int    `json:"n_steps_per_cell"`
	ThreeD        bool   `json:"3d"`
}

type DesignSpaceConfig struct {
	Preset string `json:"preset"`
	// VariablesFile and ConstraintsFile replace the preset when set.
	VariablesFile   string             `json:"variables_filepath"`
	ConstraintsFile string             `json:"constraints_filepath"`
	Limits          designspace.Limits `json:"limits"`
}

// WtfConfig tells what to fit: the failed cavities, how their compensating
// cavities are chosen and what the compensation must restore.
type WtfConfig struct {
	Failed             []int   `json:"failed"`
	Strategy           string  `json:"strategy"`
	K                  int     `json:"k"`
	L                  int     `json:"l"`
	ManualFailed       [][]int `json:"manual_failed"`
	ManualCompensating [][]int `json:"manual_compensating"`
	Objective          string  `json:"objective_preset"`
	PhaseReference     string  `json:"reference_phase_policy"`
}

type OptimisationConfig struct {
	Method        string  `json:"method"`
	MaxIterations int     `json:"max_iterations"`
	MaxFuncEval   int     `json:"max_function_evaluations"`
	FTol          float64 `json:"ftol"`
	GTol          float64 `json:"gtol"`
	XTol          float64 `json:"xtol"`
	Seed          uint64  `json:"seed"`
	Restarts      int     `json:"restarts"`
	MinFunc       float64 `json:"min_func"`
	Parallel      bool    `json:"parallel"`
	Workers       int     `json:"workers"`
}

type HistoryConfig struct {
	Backend      string `json:"backend"`
	Dir          string `json:"dir"`
	SaveInterval int    `json:"save_interval"`
}

type ReportConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
}

// Config holds all configuration settings of a compensation study
type Config struct {
	Beam         BeamConfig         `json:"beam"`
	Calculator   CalculatorConfig   `json:"calculator"`
	DesignSpace  DesignSpaceConfig  `json:"design_space"`
	Wtf          WtfConfig          `json:"wtf"`
	Optimisation OptimisationConfig `json:"optimisation"`
	History      HistoryConfig      `json:"history"`
	Report       ReportConfig       `json:"report"`
	Quiet        bool               `json:"quiet"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string
	WorkerCount     int
	WebhookURL      string
	EnableMetrics   bool
	EnableProfiling bool
	ProfilingPort   string
	// TimingFile receives one line per processed batch.
	TimingFile string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Beam: BeamConfig{
			Particle: beam.Proton(352.2),
			WKinIn:   20,
			SigmaIn:  map[string]Twiss{beam.ZDelta.String(): {Alpha: 0, Beta: 1, Eps: 1e-6}},
		},
		Calculator: CalculatorConfig{Method: string(envelope.RK4)},
		DesignSpace: DesignSpaceConfig{
			Preset: designspace.RelPhaseAmplitude,
			Limits: designspace.DefaultLimits(),
		},
		Wtf: WtfConfig{
			Strategy:       fault.StrategyKOutOfN,
			K:              4,
			L:              2,
			Objective:      objective.EnergyPhase,
			PhaseReference: fault.AsInOriginal,
		},
		Optimisation: OptimisationConfig{
			Method:  linaccore.LeastSquares,
			Workers: 5,
		},
		History: HistoryConfig{
			Backend: history.Memory,
			Dir:     "history",
		},
		Report: ReportConfig{Dir: "figures"},
	}
}

// DefaultServerConfig returns server configuration with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "8080",
		WorkerCount:     5,
		WebhookURL:      "http://webplot:3001/webhook",
		EnableMetrics:   true,
		EnableProfiling: false,
		ProfilingPort:   "6060",
		TimingFile:      "concurrent_timing_results.csv",
	}
}

// Load overlays the JSON file at path on the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Solver returns the optimisation settings in the form the solvers take.
func (c *Config) Solver() linaccore.Settings {
	o := c.Optimisation
	return linaccore.Settings{
		MaxIterations: o.MaxIterations,
		MaxFuncEval:   o.MaxFuncEval,
		FTol:          o.FTol,
		GTol:          o.GTol,
		XTol:          o.XTol,
		Seed:          o.Seed,
		Restarts:      o.Restarts,
		MinFunc:       o.MinFunc,
		Quiet:         c.Quiet,
	}
}

// Strategy builds the compensating cavities selection.
func (c *Config) Strategy() (fault.Strategy, error) {
	return fault.NewStrategy(c.Wtf.Strategy, c.Wtf.K, c.Wtf.L, c.Wtf.ManualFailed, c.Wtf.ManualCompensating)
}

// Validate checks the values that can be checked without a linac.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Beam.Particle.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Beam.WKinIn <= 0 {
		errs = append(errs, fmt.Errorf("beam: w_kin_in must be positive, got %g", c.Beam.WKinIn))
	}
	for name, tw := range c.Beam.SigmaIn {
		if _, err := beam.ParsePlane(name); err != nil {
			errs = append(errs, err)
		}
		if tw.Beta <= 0 || tw.Eps < 0 {
			errs = append(errs, fmt.Errorf("beam: %s twiss beta must be positive and eps not negative", name))
		}
	}
	if c.Calculator.ThreeD && len(c.Beam.SigmaIn) > 0 && len(c.Beam.SigmaIn) < 3 {
		errs = append(errs, errors.New("calculator: 3d needs the x, y and zdelta entrance beams"))
	}
	switch envelope.Method(c.Calculator.Method) {
	case envelope.RK4, envelope.Leapfrog, "":
	default:
		errs = append(errs, fmt.Errorf("calculator: unknown method %q", c.Calculator.Method))
	}

	if c.DesignSpace.VariablesFile == "" && !contains(designspace.Presets(), c.DesignSpace.Preset) {
		errs = append(errs, fmt.Errorf("design_space: %w %q", designspace.ErrUnknownPreset, c.DesignSpace.Preset))
	}
	if !contains(objective.Presets(), c.Wtf.Objective) {
		errs = append(errs, fmt.Errorf("wtf: %w %q", objective.ErrUnknownPreset, c.Wtf.Objective))
	}
	if _, err := c.Strategy(); err != nil {
		errs = append(errs, err)
	}
	if p := c.Wtf.PhaseReference; p != "" && p != fault.AsInOriginal {
		if _, err := cavity.ParseReference(p); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := linaccore.NewSolver(c.Optimisation.Method, probe, linaccore.Settings{}); errors.Is(err, linaccore.ErrUnknownMethod) {
		errs = append(errs, err)
	}
	if c.Optimisation.Workers < 0 {
		errs = append(errs, fmt.Errorf("optimisation: workers must not be negative, got %d", c.Optimisation.Workers))
	}
	switch c.History.Backend {
	case history.Memory, history.CSV, history.SQLite, "":
	default:
		errs = append(errs, fmt.Errorf("history: unknown backend %q", c.History.Backend))
	}
	if c.History.Backend != history.Memory && c.History.Backend != "" && c.History.Dir == "" {
		errs = append(errs, errors.New("history: dir is required"))
	}
	if c.Report.Enabled && c.Report.Dir == "" {
		errs = append(errs, errors.New("report: dir is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// probe is the smallest valid problem, used to check a method name.
var probe = linaccore.Problem{
	Residuals: func(x []float64) []float64 { return x },
	X0:        []float64{0},
	Lower:     []float64{-1},
	Upper:     []float64{1},
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
