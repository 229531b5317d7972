package beam

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Plane is a 2D phase space.
type Plane int

const (
	ZDelta Plane = iota
	X
	Y
)

func (p Plane) String() string {
	switch p {
	case ZDelta:
		return "zdelta"
	case X:
		return "x"
	case Y:
		return "y"
	}
	return fmt.Sprintf("Plane(%d)", int(p))
}

// ParsePlane accepts the names returned by Plane.String.
func ParsePlane(s string) (Plane, error) {
	for _, p := range []Plane{ZDelta, X, Y} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("beam: unknown plane %q", s)
}

// offset of the plane block in a 6x6 matrix.
func (p Plane) offset() int {
	switch p {
	case X:
		return 0
	case Y:
		return 2
	}
	return 4
}

// TransferMatrix holds the individual step matrices of a structure and their
// cumulated products. All matrices are 2x2 or all are 6x6.
type TransferMatrix struct {
	individual []*mat.Dense
	cumulated  []*mat.Dense
}

// NewTransferMatrix computes cumulated[0] = first and
// cumulated[i+1] = individual[i] * cumulated[i].
func NewTransferMatrix(first *mat.Dense, individual []*mat.Dense) (*TransferMatrix, error) {
	n, c := first.Dims()
	if n != c || (n != 2 && n != 6) {
		return nil, fmt.Errorf("beam: transfer matrix must be 2x2 or 6x6, got %dx%d", n, c)
	}
	tm := &TransferMatrix{
		individual: individual,
		cumulated:  make([]*mat.Dense, len(individual)+1),
	}
	tm.cumulated[0] = mat.DenseCopyOf(first)
	for i, m := range individual {
		r, c := m.Dims()
		if r != n || c != n {
			return nil, fmt.Errorf("beam: step %d is %dx%d in a %dx%d transfer matrix", i, r, c, n, n)
		}
		var next mat.Dense
		next.Mul(m, tm.cumulated[i])
		tm.cumulated[i+1] = &next
	}
	return tm, nil
}

// Size is 2 or 6.
func (t *TransferMatrix) Size() int {
	n, _ := t.cumulated[0].Dims()
	return n
}

// Len is the number of mesh points, len(individual)+1.
func (t *TransferMatrix) Len() int { return len(t.cumulated) }

func (t *TransferMatrix) Individual(i int) *mat.Dense { return t.individual[i] }

func (t *TransferMatrix) Cumulated(i int) *mat.Dense { return t.cumulated[i] }

// CumulatedAll returns every cumulated matrix. The slice must not be modified.
func (t *TransferMatrix) CumulatedAll() []*mat.Dense { return t.cumulated }

// Last is the cumulated matrix at the exit.
func (t *TransferMatrix) Last() *mat.Dense { return t.cumulated[len(t.cumulated)-1] }

// Block returns a copy of the 2x2 block of plane p. A 2x2 matrix is the
// longitudinal plane.
func Block(m mat.Matrix, p Plane) *mat.Dense {
	n, _ := m.Dims()
	if n == 2 {
		return mat.DenseCopyOf(m)
	}
	o := p.offset()
	b := mat.NewDense(2, 2, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			b.Set(i, j, m.At(o+i, o+j))
		}
	}
	return b
}

// SetBlock writes a 2x2 block of a 6x6 matrix.
func SetBlock(m *mat.Dense, p Plane, b mat.Matrix) {
	o := p.offset()
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			m.Set(o+i, o+j, b.At(i, j))
		}
	}
}

// Identity returns an n x n identity matrix.
func Identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// PropagateSigma computes sigma_i = M_i sigma_in M_i^T for every cumulated
// matrix.
func PropagateSigma(sigmaIn mat.Matrix, cumulated []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(cumulated))
	for i, m := range cumulated {
		var tmp, s mat.Dense
		tmp.Mul(m, sigmaIn)
		s.Mul(&tmp, m.T())
		out[i] = &s
	}
	return out
}
