// Package dataset loads aligned reference, mixture, and ground-truth matrices
// from CSV. Feature selection, coordinate alignment, and transformation are
// upstream concerns; this package only parses and enforces the structural
// preconditions the solver core requires.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/celldecon/celldecon/internal/deconv"
)

// table is a parsed CSV with a header of column labels and a first column of
// row labels.
type table struct {
	rowLabels []string
	colLabels []string
	data      *mat.Dense
}

// LoadReference reads a features x cell-types signature matrix.
func LoadReference(path string) (*deconv.ReferenceMatrix, error) {
	t, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	return deconv.NewReferenceMatrix(t.rowLabels, t.colLabels, t.data)
}

// LoadMixture reads a features x samples bulk measurement matrix.
func LoadMixture(path string) (*deconv.MixtureMatrix, error) {
	t, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	return deconv.NewMixtureMatrix(t.rowLabels, t.colLabels, t.data)
}

// LoadProportions reads a samples x cell-types matrix, e.g. ground truth or a
// previously exported result.
func LoadProportions(path string) (*deconv.ProportionsMatrix, error) {
	t, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	p := deconv.NewProportionsMatrix(t.rowLabels, t.colLabels)
	p.Data.Copy(t.data)
	return p, nil
}

// loadTable parses a labeled CSV. The header's first cell is ignored (it names
// the row-label column); every other cell must parse as a float.
func loadTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}
	if len(records) < 2 || len(records[0]) < 2 {
		return nil, fmt.Errorf("dataset: %s: need a header row and at least one data row and column", path)
	}

	colLabels := records[0][1:]
	rows := len(records) - 1
	cols := len(colLabels)
	rowLabels := make([]string, rows)
	data := mat.NewDense(rows, cols, nil)

	for i, rec := range records[1:] {
		if len(rec) != cols+1 {
			return nil, fmt.Errorf("dataset: %s row %d: expected %d fields, got %d", path, i+2, cols+1, len(rec))
		}
		rowLabels[i] = rec[0]
		for j, cell := range rec[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: %s row %d col %q: %w", path, i+2, colLabels[j], err)
			}
			data.Set(i, j, v)
		}
	}
	return &table{rowLabels: rowLabels, colLabels: colLabels, data: data}, nil
}
