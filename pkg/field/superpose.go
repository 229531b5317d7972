package field

import (
	"fmt"
	"sort"
	"strings"
)

// Superpose sums several (already shifted) fields on the union of their
// sampling meshes. It is used for overlapping field maps that share one
// longitudinal slot. The cell count is the sum of the cell counts of fields.
func Superpose(fields ...*Field) (*Field, error) {
	if len(fields) == 0 {
		return nil, loadErr("superpose", 0, "no field to superpose")
	}
	var mesh []float64
	names := make([]string, 0, len(fields))
	nCell := 0
	for _, f := range fields {
		if !f.Loaded() {
			return nil, loadErr("superpose", 0, "field %d not loaded", len(names))
		}
		z, _ := f.Samples()
		mesh = append(mesh, z...)
		names = append(names, f.Name())
		nCell += f.NCell()
	}
	sort.Float64s(mesh)
	mesh = dedup(mesh, 1e-12)

	e := make([]float64, len(mesh))
	for i, z := range mesh {
		for _, f := range fields {
			e[i] += f.E(z)
		}
	}
	out, err := New(fmt.Sprintf("superposed(%s)", strings.Join(names, "+")), mesh, e)
	if err != nil {
		return nil, err
	}
	out.nCell = nCell
	return out, nil
}

func dedup(sorted []float64, tol float64) []float64 {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v-out[len(out)-1] > tol {
			out = append(out, v)
		}
	}
	return out
}
