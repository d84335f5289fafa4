// Package tsv gives the FDR controller the little table access it needs:
// header lookup, single-column scans and row counts. It is deliberately
// not a scientific file-format parser; tables are plain tab-separated
// text with one header line.
package tsv

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Header returns the column names of the table's first line.
func Header(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tsv: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("tsv: reading header of %s: %w", path, err)
		}
		return nil, fmt.Errorf("tsv: %s is empty", path)
	}
	return strings.Split(sc.Text(), "\t"), nil
}

// ColumnIndex finds a column by name in a header.
func ColumnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if h == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("tsv: no column %q", name)
}

// Column returns every data-row value of the named column, in file order.
func Column(path, name string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tsv: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("tsv: reading %s: %w", path, err)
		}
		return nil, fmt.Errorf("tsv: %s is empty", path)
	}
	idx, err := ColumnIndex(strings.Split(sc.Text(), "\t"), name)
	if err != nil {
		return nil, fmt.Errorf("tsv: %s: %w", path, err)
	}

	var vals []string
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if idx >= len(fields) {
			vals = append(vals, "")
			continue
		}
		vals = append(vals, fields[idx])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tsv: reading %s: %w", path, err)
	}
	return vals, nil
}

// RowCount counts data rows, excluding the header line.
func RowCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("tsv: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := -1 // header does not count
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("tsv: counting %s: %w", path, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// ColumnHasVariance reports whether the named column carries informative
// values: at least one entry that is neither empty, NA, nor numeric zero.
func ColumnHasVariance(path, name string) (bool, error) {
	vals, err := Column(path, name)
	if err != nil {
		return false, err
	}
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" || v == "NA" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			// Non-numeric content is informative by definition.
			return true, nil
		}
		if f != 0 {
			return true, nil
		}
	}
	return false, nil
}
