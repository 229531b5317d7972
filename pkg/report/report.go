// Package report draws the figures of a compensation study: the
// convergence of every fault optimisation and the energy and phase
// profiles of the fixed linac against the reference one.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/kacperjurak/linaccore/pkg/history"
	"github.com/kacperjurak/linaccore/pkg/objective"
	"github.com/kacperjurak/linaccore/pkg/simout"
)

var ErrNoData = errors.New("report: nothing to plot")

var (
	referenceColor = color.RGBA{R: 70, G: 70, B: 70, A: 255}
	fixedColor     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	brokenColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

const (
	width  = 800
	height = 400
)

// Convergence plots the norm of the residuals of every evaluation stored in
// entries. Zero norms are drawn at the smallest positive norm since the
// y axis is logarithmic.
func Convergence(entries []history.Entry, title string) ([]byte, error) {
	if len(entries) == 0 {
		return nil, ErrNoData
	}

	pts := make(plotter.XYs, len(entries))
	floor := math.Inf(1)
	for i, e := range entries {
		n := objective.Norm(e.Residuals)
		pts[i] = plotter.XY{X: float64(e.Index), Y: n}
		if n > 0 && n < floor {
			floor = n
		}
	}
	if math.IsInf(floor, 1) {
		floor = 1
	}
	for i := range pts {
		if !(pts[i].Y > 0) || math.IsInf(pts[i].Y, 0) {
			pts[i].Y = floor
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Evaluation"
	p.Y.Label.Text = "Residual norm"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create convergence line: %w", err)
	}
	line.Color = fixedColor
	line.LineStyle.Width = vg.Points(1.5)
	p.Add(line)

	return render(p)
}

// Profile plots quantity q along the linac for the reference output, the
// fixed one and, when not nil, the broken one.
func Profile(q simout.Quantity, ref, fixed, broken *simout.Output) ([]byte, error) {
	if ref == nil || fixed == nil {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s along the linac", q)
	p.X.Label.Text = "z (m)"
	p.Y.Label.Text = label(q)
	p.Add(plotter.NewGrid())

	series := []struct {
		name string
		out  *simout.Output
		col  color.Color
		dash bool
	}{
		{"Reference", ref, referenceColor, true},
		{"Broken", broken, brokenColor, false},
		{"Fixed", fixed, fixedColor, false},
	}
	for _, s := range series {
		if s.out == nil {
			continue
		}
		pts, err := profile(s.out, q)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", s.name, q, err)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s line: %w", s.name, err)
		}
		line.Color = s.col
		line.LineStyle.Width = vg.Points(1.5)
		if s.dash {
			line.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
		}
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true
	p.Legend.XOffs = vg.Points(10)

	return render(p)
}

func profile(o *simout.Output, q simout.Quantity) (plotter.XYs, error) {
	z, err := o.Get(simout.Z)
	if err != nil {
		return nil, err
	}
	y, err := o.Get(q)
	if err != nil {
		return nil, err
	}
	if len(y) != len(z) {
		return nil, fmt.Errorf("%d values for %d mesh points", len(y), len(z))
	}
	pts := make(plotter.XYs, len(z))
	for i := range z {
		pts[i] = plotter.XY{X: z[i], Y: y[i]}
	}
	return pts, nil
}

func label(q simout.Quantity) string {
	switch q {
	case simout.WKin:
		return "Kinetic energy (MeV)"
	case simout.PhiAbs:
		return "Absolute phase (rad)"
	case simout.Mismatch:
		return "Mismatch factor"
	}
	return string(q)
}

func render(p *plot.Plot) ([]byte, error) {
	writer, err := p.WriterTo(vg.Points(width), vg.Points(height), "png")
	if err != nil {
		return nil, fmt.Errorf("failed to create plot writer: %w", err)
	}
	buf := new(bytes.Buffer)
	if _, err := writer.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to write plot to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

// Write draws the profiles of w_kin and phi_abs, and one convergence figure
// per fault, into dir. The names of the written files are returned.
func Write(dir string, ref, fixed, broken *simout.Output, histories map[int][]history.Entry) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var files []string
	save := func(name string, data []byte) error {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		files = append(files, path)
		return nil
	}

	for _, q := range []simout.Quantity{simout.WKin, simout.PhiAbs} {
		data, err := Profile(q, ref, fixed, broken)
		if err != nil {
			return files, err
		}
		if err := save(fmt.Sprintf("%s.png", q), data); err != nil {
			return files, err
		}
	}

	ids := make([]int, 0, len(histories))
	for id := range histories {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		data, err := Convergence(histories[id], fmt.Sprintf("Fault %d", id))
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return files, err
		}
		if err := save(fmt.Sprintf("convergence_%d.png", id), data); err != nil {
			return files, err
		}
	}
	return files, nil
}
