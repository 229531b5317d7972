package designspace

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var header = []string{"name", "cavity", "x_0", "min", "max"}

// File names used by WriteDir.
const (
	VariablesFile   = "variables.csv"
	ConstraintsFile = "constraints.csv"
)

// WriteDir saves the variables and constraints tables in dir.
func (s *Space) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, VariablesFile), s.variableRows()); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, ConstraintsFile), s.constraintRows())
}

// WriteVariables writes the variables table.
func (s *Space) WriteVariables(w io.Writer) error {
	return writeRows(w, s.variableRows())
}

func (s *Space) variableRows() [][]string {
	rows := [][]string{header}
	for _, v := range s.Variables {
		rows = append(rows, []string{v.Name, strconv.Itoa(v.Cavity), ftoa(v.X0), ftoa(v.Min), ftoa(v.Max)})
	}
	return rows
}

func (s *Space) constraintRows() [][]string {
	rows := [][]string{header}
	for _, c := range s.Constraints {
		rows = append(rows, []string{c.Name, strconv.Itoa(c.Cavity), "", ftoa(c.Min), ftoa(c.Max)})
	}
	return rows
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func writeFile(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeRows(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("designspace: write %s: %w", path, err)
	}
	return f.Close()
}

func writeRows(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// ReadFiles loads a design space from a variables table and an optional
// constraints table (empty path).
func ReadFiles(variablesPath, constraintsPath string) (*Space, error) {
	vf, err := os.Open(variablesPath)
	if err != nil {
		return nil, err
	}
	defer vf.Close()
	var cr io.Reader
	if constraintsPath != "" {
		cf, err := os.Open(constraintsPath)
		if err != nil {
			return nil, err
		}
		defer cf.Close()
		cr = cf
	}
	return Read(vf, cr)
}

// Read parses the tables. Rows of the constraints table ignore x_0.
func Read(variables, constraints io.Reader) (*Space, error) {
	rows, err := readRows(variables)
	if err != nil {
		return nil, fmt.Errorf("designspace: variables: %w", err)
	}
	var vars []Variable
	for i, row := range rows {
		name, idx, vals, err := parseRow(row, true)
		if err != nil {
			return nil, fmt.Errorf("designspace: variables line %d: %w", i+2, err)
		}
		vars = append(vars, Variable{Name: name, Cavity: idx, X0: vals[0], Min: vals[1], Max: vals[2]})
	}

	var cons []Constraint
	if constraints != nil {
		rows, err := readRows(constraints)
		if err != nil {
			return nil, fmt.Errorf("designspace: constraints: %w", err)
		}
		for i, row := range rows {
			name, idx, vals, err := parseRow(row, false)
			if err != nil {
				return nil, fmt.Errorf("designspace: constraints line %d: %w", i+2, err)
			}
			cons = append(cons, Constraint{Name: name, Cavity: idx, Min: vals[1], Max: vals[2]})
		}
	}
	return New(vars, cons)
}

func readRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty table")
	}
	for i, h := range header {
		if rows[0][i] != h {
			return nil, fmt.Errorf("column %d is %q, want %q", i+1, rows[0][i], h)
		}
	}
	return rows[1:], nil
}

func parseRow(row []string, needX0 bool) (string, int, [3]float64, error) {
	var vals [3]float64
	idx, err := strconv.Atoi(row[1])
	if err != nil {
		return "", 0, vals, fmt.Errorf("cavity: %w", err)
	}
	for i, col := range row[2:] {
		if i == 0 && !needX0 && col == "" {
			continue
		}
		v, err := strconv.ParseFloat(col, 64)
		if err != nil {
			return "", 0, vals, fmt.Errorf("%s: %w", header[i+2], err)
		}
		vals[i] = v
	}
	return row[0], idx, vals, nil
}
