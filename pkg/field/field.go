// Package field holds on-axis longitudinal electric field maps.
//
// A Field is built once from sampled values and is never mutated afterwards,
// so the same *Field can be shared by every cavity using the same file and by
// concurrent simulations.
package field

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/interp"
)

// Field is an interpolated spatial field profile, normalised so that the
// cavity amplitude k_e multiplies it directly.
type Field struct {
	name   string
	z      []float64
	e      []float64
	z0     float64
	nCell  int
	interp interp.PiecewiseLinear
	loaded bool
}

// New builds a field from strictly increasing positions and matching samples.
func New(name string, z, e []float64) (*Field, error) {
	if len(z) != len(e) {
		return nil, loadErr(name, 0, "got %d positions for %d samples", len(z), len(e))
	}
	if len(z) < 2 {
		return nil, loadErr(name, 0, "need at least two samples, got %d", len(z))
	}
	for i := 1; i < len(z); i++ {
		if !(z[i] > z[i-1]) {
			return nil, loadErr(name, 0, "positions must be strictly increasing (index %d)", i)
		}
	}
	f := &Field{
		name:  name,
		z:     append([]float64(nil), z...),
		e:     append([]float64(nil), e...),
		nCell: countCells(e),
	}
	if err := f.interp.Fit(f.z, f.e); err != nil {
		return nil, loadErr(name, 0, "interpolation: %v", err)
	}
	f.loaded = true
	return f, nil
}

// Load reads a 1D field map from disk.
func Load(path string) (*Field, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer fh.Close()
	return Parse(fh, path)
}

// Parse reads the ASCII field map format: first line "<n_z> <z_max>", second
// line the normalisation factor, then n_z+1 samples, one per line.
func Parse(r io.Reader, name string) (*Field, error) {
	scanner := bufio.NewScanner(r)
	var (
		nZ      int
		zMax    float64
		norm    float64
		samples []float64
		line    int
	)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		switch {
		case line == 1:
			fields := strings.Fields(text)
			if len(fields) < 2 {
				return nil, loadErr(name, line, "header must hold n_z and z_max, got %q", text)
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil || n < 1 {
				return nil, loadErr(name, line, "invalid n_z %q", fields[0])
			}
			zm, err := strconv.ParseFloat(fields[len(fields)-1], 64)
			if err != nil || zm <= 0 {
				return nil, loadErr(name, line, "invalid z_max %q", fields[len(fields)-1])
			}
			nZ, zMax = n, zm
		case line == 2:
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, loadErr(name, line, "invalid norm %q", text)
			}
			if v == 0 {
				return nil, loadErr(name, line, "norm must be non zero")
			}
			norm = v
		default:
			if text == "" {
				continue
			}
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, loadErr(name, line, "invalid sample %q", text)
			}
			samples = append(samples, v/norm)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	if line < 2 {
		return nil, loadErr(name, line, "truncated header")
	}
	if len(samples) != nZ+1 {
		return nil, loadErr(name, 0, "header announces %d samples, found %d", nZ+1, len(samples))
	}
	z := make([]float64, nZ+1)
	for i := range z {
		z[i] = zMax * float64(i) / float64(nZ)
	}
	return New(name, z, samples)
}

// Name returns the file name or label the field was built from.
func (f *Field) Name() string { return f.name }

// Loaded reports whether the field holds usable samples.
func (f *Field) Loaded() bool { return f != nil && f.loaded }

// NCell is the number of accelerating cells, that is the number of groups of
// consecutive samples sharing the same sign.
func (f *Field) NCell() int { return f.nCell }

// Start is the first sampled position, shift included.
func (f *Field) Start() float64 { return f.z[0] + f.z0 }

// End is the last sampled position, shift included.
func (f *Field) End() float64 { return f.z[len(f.z)-1] + f.z0 }

// Length is the sampled extent.
func (f *Field) Length() float64 { return f.z[len(f.z)-1] - f.z[0] }

// Samples returns copies of the sample positions (shift included) and values.
func (f *Field) Samples() (z, e []float64) {
	z = make([]float64, len(f.z))
	for i, v := range f.z {
		z[i] = v + f.z0
	}
	return z, append([]float64(nil), f.e...)
}

// E gives the normalised field at position pos. It is 0 outside the sampled
// range.
func (f *Field) E(pos float64) float64 {
	x := pos - f.z0
	if x < f.z[0] || x > f.z[len(f.z)-1] {
		return 0
	}
	return f.interp.Predict(x)
}

// Timed returns the real field felt at position pos and RF phase phi:
// amplitude*E(pos)*cos(phi + phi0).
func (f *Field) Timed(pos, phi, amplitude, phi0 float64) float64 {
	return amplitude * f.E(pos) * math.Cos(phi+phi0)
}

// TimedComplex is the complex counterpart of Timed.
func (f *Field) TimedComplex(pos, phi, amplitude, phi0 float64) complex128 {
	v := amplitude * f.E(pos)
	s, c := math.Sincos(phi + phi0)
	return complex(v*c, v*s)
}

// Shift returns a copy translated by z0: the new field at z equals the
// original at z - z0. Shifts compose.
func (f *Field) Shift(z0 float64) *Field {
	g := *f
	g.z0 = f.z0 + z0
	return &g
}

// CheckLength fails with ErrFieldMapLoad when the sampled extent does not
// match the element length within tol (absolute, in metres).
func CheckLength(f *Field, elementLength, tol float64) error {
	if !f.Loaded() {
		return loadErr("<nil>", 0, "field not loaded")
	}
	if math.Abs(f.Length()-elementLength) > tol {
		return loadErr(f.name, 0, "element length %.6g m inconsistent with field extent %.6g m", elementLength, f.Length())
	}
	return nil
}

func countCells(e []float64) int {
	if len(e) == 0 {
		return 0
	}
	n := 1
	prev := e[0] > 0
	for _, v := range e[1:] {
		cur := v > 0
		if cur != prev {
			n++
			prev = cur
		}
	}
	return n
}

func (f *Field) String() string {
	return fmt.Sprintf("Field(%s, %d samples, %d cells, z0=%.4g)", f.name, len(f.z), f.nCell, f.z0)
}
