package report

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kacperjurak/linaccore/pkg/beam"
	"github.com/kacperjurak/linaccore/pkg/cavity"
	"github.com/kacperjurak/linaccore/pkg/element"
	"github.com/kacperjurak/linaccore/pkg/envelope"
	"github.com/kacperjurak/linaccore/pkg/field"
	"github.com/kacperjurak/linaccore/pkg/history"
	"github.com/kacperjurak/linaccore/pkg/simout"
	"gonum.org/v1/gonum/mat"
)

var pngMagic = []byte("\x89PNG")

func outputs(t *testing.T) (ref, fixed *simout.Output) {
	t.Helper()
	z := make([]float64, 21)
	e := make([]float64, 21)
	for i := range z {
		z[i] = 0.1 * float64(i) / 20
		e[i] = math.Sin(math.Pi * float64(i) / 20)
	}
	f, err := field.New("sine", z, e)
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	l, err := element.NewLinac("test", []*element.Element{
		element.NewDrift("d", 0.3),
		element.NewFieldMap("cav", 0.1, f, cavity.New(2, 0.3, cavity.Phi0Rel, 352.2, 352.2)),
		element.NewDrift("d", 0.3),
	}, 352.2, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	calc, err := envelope.NewEnvelope1D(envelope.Config{
		Particle: beam.Proton(352.2),
		SigmaIn:  map[beam.Plane]*mat.Dense{beam.ZDelta: beam.Sigma(0, 1, 1e-6)},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	in := simout.Entry{WKin: 20}
	if ref, err = calc.Run(l, l.NominalSet(), in); err != nil {
		t.Fatalf("reference run: %v", err)
	}
	set := l.NominalSet().Clone()
	set[1].SetKE(1.5)
	if fixed, err = calc.Run(l, set, in); err != nil {
		t.Fatalf("fixed run: %v", err)
	}
	return ref, fixed
}

func TestConvergence(t *testing.T) {
	entries := []history.Entry{
		{Index: 0, Residuals: []float64{1, 1}},
		{Index: 1, Residuals: []float64{0.1, 0}},
		{Index: 2, Residuals: []float64{0, 0}},
		{Index: 3, Residuals: []float64{math.NaN()}},
	}
	data, err := Convergence(entries, "Fault 0")
	if err != nil {
		t.Fatalf("convergence: %v", err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Fatal("expected a png image")
	}
}

func TestConvergenceWithoutEntries(t *testing.T) {
	if _, err := Convergence(nil, ""); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestProfile(t *testing.T) {
	ref, fixed := outputs(t)
	data, err := Profile(simout.WKin, ref, fixed, nil)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Fatal("expected a png image")
	}
	if _, err := Profile(simout.WKin, nil, fixed, nil); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestWrite(t *testing.T) {
	ref, fixed := outputs(t)
	dir := filepath.Join(t.TempDir(), "figures")
	histories := map[int][]history.Entry{
		1: {{Index: 0, Residuals: []float64{2}}, {Index: 1, Residuals: []float64{0.5}}},
		0: nil,
	}
	files, err := Write(dir, ref, fixed, ref, histories)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := []string{"w_kin.png", "phi_abs.png", "convergence_1.png"}
	if len(files) != len(want) {
		t.Fatalf("files = %v", files)
	}
	for i, name := range want {
		if files[i] != filepath.Join(dir, name) {
			t.Fatalf("files[%d] = %s, want %s", i, files[i], name)
		}
		if _, err := os.Stat(files[i]); err != nil {
			t.Fatalf("stat: %v", err)
		}
	}
}
