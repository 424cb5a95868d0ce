// Package timeseries parses time-series data from its accepted source
// shapes (CSV file, CSV text, nested rows, pre-built feature set) and
// normalizes each dataset into the canonical feature map.
package timeseries

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cepheid-ml/cepheid/pkg/feature"
)

// ParseFile reads a comma-separated file of 2 or 3 numeric columns
// (time, measurement, optional error). Columns beyond the third are
// ignored; a row with fewer than two columns is a FormatError.
func ParseFile(path string) (feature.Series, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return feature.Series{}, fmt.Errorf("read time-series file: %w", err)
	}
	return parseRows(splitCells(string(data)), true)
}

// ParseText parses in-memory CSV text with the same column rules as
// ParseFile, except that rows of more than three columns are rejected.
func ParseText(text string) (feature.Series, error) {
	return parseRows(splitCells(text), false)
}

// FromRows builds a series from per-epoch rows of the form
// [t, m] or [t, m, e]. Row widths must be uniform.
func FromRows(rows [][]float64) (feature.Series, error) {
	cells := make([]row, len(rows))
	for i, r := range rows {
		cells[i] = row{line: i + 1, values: r}
	}
	return buildSeries(cells, false)
}

type row struct {
	line   int
	values []float64
}

// splitCells breaks CSV text into trimmed non-blank rows of cells.
func splitCells(text string) []stringRow {
	var rows []stringRow
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cells := strings.Split(line, ",")
		for j := range cells {
			cells[j] = strings.TrimSpace(cells[j])
		}
		rows = append(rows, stringRow{line: i + 1, cells: cells})
	}
	return rows
}

type stringRow struct {
	line  int
	cells []string
}

// parseRows converts string cells to numbers and assembles the series.
// truncate allows rows wider than three columns, keeping the first three.
func parseRows(rows []stringRow, truncate bool) (feature.Series, error) {
	parsed := make([]row, len(rows))
	for i, r := range rows {
		values := make([]float64, 0, len(r.cells))
		for _, cell := range r.cells {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return feature.Series{}, &FormatError{Line: r.line, Reason: fmt.Sprintf("non-numeric value %q", cell)}
			}
			values = append(values, v)
		}
		parsed[i] = row{line: r.line, values: values}
	}
	return buildSeries(parsed, truncate)
}

// buildSeries enforces the column rules and splits rows into the
// aligned t/m/e triple.
func buildSeries(rows []row, truncate bool) (feature.Series, error) {
	if len(rows) == 0 {
		return feature.Series{}, &FormatError{Reason: "no data rows"}
	}

	width := 0
	for i := range rows {
		n := len(rows[i].values)
		if n < 2 {
			return feature.Series{}, &FormatError{Line: rows[i].line, Reason: "fewer than two columns"}
		}
		if n > 3 {
			if !truncate {
				return feature.Series{}, &FormatError{Line: rows[i].line, Reason: "more than three columns"}
			}
			rows[i].values = rows[i].values[:3]
			n = 3
		}
		if width == 0 {
			width = n
		} else if n != width {
			return feature.Series{}, &FormatError{Line: rows[i].line, Reason: "rows mix two and three columns"}
		}
	}

	var s feature.Series
	for _, r := range rows {
		s.T = append(s.T, r.values[0])
		s.M = append(s.M, r.values[1])
		if width == 3 {
			s.E = append(s.E, r.values[2])
		}
	}
	return s, nil
}
