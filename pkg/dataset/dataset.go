// Package dataset holds the in-memory tabular value that flows between
// pipeline steps: an ordered list of named columns and an ordered list of
// rows of scalar values (string, int64, float64, bool, time.Time, nil).
package dataset

import (
	"fmt"
	"time"
)

type Row map[string]any

type Dataset struct {
	Columns []string
	Rows    []Row
}

func New(columns ...string) *Dataset {
	return &Dataset{Columns: append([]string(nil), columns...)}
}

func (d *Dataset) NumRows() int { return len(d.Rows) }

func (d *Dataset) NumColumns() int { return len(d.Columns) }

func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds a row. Values for columns the dataset does not know yet are
// ignored; missing columns are left absent and read back as null.
func (d *Dataset) Append(r Row) {
	d.Rows = append(d.Rows, r)
}

// Clone returns a deep copy. Executors operate on clones so a retried step
// always sees the same upstream state.
func (d *Dataset) Clone() *Dataset {
	out := New(d.Columns...)
	out.Rows = make([]Row, len(d.Rows))
	for i, r := range d.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		out.Rows[i] = nr
	}
	return out
}

// Value returns the cell at (row, column), nil when absent.
func (d *Dataset) Value(row int, column string) any {
	if row < 0 || row >= len(d.Rows) {
		return nil
	}
	return d.Rows[row][column]
}

// Equal compares column names, order, and cell values. Numeric cells
// compare by value across int64/float64 so codecs that widen integers
// still round-trip.
func (d *Dataset) Equal(other *Dataset) bool {
	if other == nil || len(d.Columns) != len(other.Columns) || len(d.Rows) != len(other.Rows) {
		return false
	}
	for i, c := range d.Columns {
		if other.Columns[i] != c {
			return false
		}
	}
	for i := range d.Rows {
		for _, c := range d.Columns {
			if !valuesEqual(d.Rows[i][c], other.Rows[i][c]) {
				return false
			}
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if af, aok := AsFloat(a); aok {
		bf, bok := AsFloat(b)
		return bok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, bok := b.(time.Time)
		return bok && at.Equal(bt)
	}
	return a == b
}

// IsNull treats nil and untyped missing cells as null.
func IsNull(v any) bool { return v == nil }

// AsFloat widens any numeric cell to float64 for comparisons and
// arithmetic. Booleans and strings are not numeric.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// Compare orders two cells: numerics by value, times chronologically,
// everything else by string form. Returns false when the pair has no
// sensible ordering (a null on either side).
func Compare(a, b any) (int, bool) {
	if IsNull(a) || IsNull(b) {
		return 0, false
	}
	if af, aok := AsFloat(a); aok {
		if bf, bok := AsFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Compare(bt), true
		}
	}
	as, bs := Format(a), Format(b)
	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	}
	return 0, true
}

// Format renders a cell for display, string comparison, and delimited
// output. Null renders empty.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
