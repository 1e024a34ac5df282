package engine

import (
	"sort"
	"strconv"

	"github.com/Knetic/govaluate"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// execTransform applies the declared operations in order, each to the
// result of the previous one.
func execTransform(step models.Step, in *dataset.Dataset) (*dataset.Dataset, map[string]any, error) {
	if err := requireInput(step, in); err != nil {
		return nil, nil, err
	}
	if len(step.Operations) == 0 {
		return nil, nil, configErrorf("transform step %q requires at least one operation", step.Name)
	}

	d := in.Clone()
	for _, op := range step.Operations {
		next, err := applyTransform(d, op)
		if err != nil {
			return nil, nil, err
		}
		d = next
	}

	return d, map[string]any{
		"rows":               d.NumRows(),
		"columns":            d.NumColumns(),
		"operations_applied": len(step.Operations),
	}, nil
}

func applyTransform(d *dataset.Dataset, op models.TransformOp) (*dataset.Dataset, error) {
	switch op.Type {
	case "rename_columns":
		return renameColumns(d, op)
	case "drop_columns":
		return dropColumns(d, op)
	case "add_column":
		return addColumn(d, op)
	case "convert_types":
		return convertTypes(d, op)
	case "fill_na":
		return fillNA(d, op)
	case "drop_na":
		return dropNA(d, op)
	case "sort":
		return sortRows(d, op)
	}
	return nil, configErrorf("unknown transform operation %q", op.Type)
}

func renameColumns(d *dataset.Dataset, op models.TransformOp) (*dataset.Dataset, error) {
	if len(op.Mapping) == 0 {
		return nil, configErrorf("rename_columns requires a mapping")
	}
	for i, col := range d.Columns {
		if to, ok := op.Mapping[col]; ok {
			d.Columns[i] = to
		}
	}
	for _, row := range d.Rows {
		for from, to := range op.Mapping {
			if v, ok := row[from]; ok {
				delete(row, from)
				row[to] = v
			}
		}
	}
	return d, nil
}

func dropColumns(d *dataset.Dataset, op models.TransformOp) (*dataset.Dataset, error) {
	drop := map[string]bool{}
	for _, c := range op.Columns {
		drop[c] = true
	}
	kept := d.Columns[:0]
	for _, c := range d.Columns {
		if !drop[c] {
			kept = append(kept, c)
		}
	}
	d.Columns = kept
	for _, row := range d.Rows {
		for c := range drop {
			delete(row, c)
		}
	}
	return d, nil
}

// addColumn computes a new column either from a constant value or from a
// govaluate expression over the row's existing columns.
func addColumn(d *dataset.Dataset, op models.TransformOp) (*dataset.Dataset, error) {
	if op.Name == "" {
		return nil, configErrorf("add_column requires a name")
	}
	if d.HasColumn(op.Name) {
		return nil, configErrorf("add_column: column %q already exists", op.Name)
	}

	if op.Expression == "" {
		for _, row := range d.Rows {
			row[op.Name] = op.Value
		}
		d.Columns = append(d.Columns, op.Name)
		return d, nil
	}

	expr, err := govaluate.NewEvaluableExpression(op.Expression)
	if err != nil {
		return nil, configErrorf("add_column: bad expression %q: %v", op.Expression, err)
	}
	for _, row := range d.Rows {
		params := make(map[string]any, len(row))
		for k, v := range row {
			if f, ok := dataset.AsFloat(v); ok {
				params[k] = f
			} else {
				params[k] = v
			}
		}
		result, err := expr.Evaluate(params)
		if err != nil {
			return nil, configErrorf("add_column: evaluate %q: %v", op.Expression, err)
		}
		row[op.Name] = result
	}
	d.Columns = append(d.Columns, op.Name)
	return d, nil
}

func convertTypes(d *dataset.Dataset, op models.TransformOp) (*dataset.Dataset, error) {
	if len(op.Mapping) == 0 {
		return nil, configErrorf("convert_types requires a mapping")
	}
	for col, target := range op.Mapping {
		if !d.HasColumn(col) {
			continue
		}
		for _, row := range d.Rows {
			v, err := coerce(row[col], target)
			if err != nil {
				return nil, configErrorf("convert_types: column %q: %v", col, err)
			}
			row[col] = v
		}
	}
	return d, nil
}

func coerce(v any, target string) (any, error) {
	if dataset.IsNull(v) {
		return nil, nil
	}
	switch target {
	case "string":
		return dataset.Format(v), nil
	case "int":
		if f, ok := dataset.AsFloat(v); ok {
			return int64(f), nil
		}
		if s, ok := v.(string); ok {
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, err
			}
			return i, nil
		}
	case "float":
		if f, ok := dataset.AsFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	case "bool":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	default:
		return nil, configErrorf("unknown target type %q", target)
	}
	return nil, configErrorf("cannot convert %T to %s", v, target)
}

func fillNA(d *dataset.Dataset, op models.TransformOp) (*dataset.Dataset, error) {
	if op.Value == nil {
		return nil, configErrorf("fill_na requires a value")
	}
	cols := op.Columns
	if len(cols) == 0 {
		cols = d.Columns
	}
	for _, row := range d.Rows {
		for _, col := range cols {
			if dataset.IsNull(row[col]) {
				row[col] = op.Value
			}
		}
	}
	return d, nil
}

func dropNA(d *dataset.Dataset, op models.TransformOp) (*dataset.Dataset, error) {
	cols := op.Columns
	if len(cols) == 0 {
		cols = d.Columns
	}
	kept := d.Rows[:0]
	for _, row := range d.Rows {
		hasNull := false
		for _, col := range cols {
			if dataset.IsNull(row[col]) {
				hasNull = true
				break
			}
		}
		if !hasNull {
			kept = append(kept, row)
		}
	}
	d.Rows = kept
	return d, nil
}

// sortRows orders rows by the listed columns, nulls last. Ties keep the
// incoming order.
func sortRows(d *dataset.Dataset, op models.TransformOp) (*dataset.Dataset, error) {
	if len(op.Columns) == 0 {
		return nil, configErrorf("sort requires columns")
	}
	ascending := op.Ascending == nil || *op.Ascending
	sort.SliceStable(d.Rows, func(i, j int) bool {
		for _, col := range op.Columns {
			a, b := d.Rows[i][col], d.Rows[j][col]
			if dataset.IsNull(a) || dataset.IsNull(b) {
				if dataset.IsNull(a) && dataset.IsNull(b) {
					continue
				}
				return dataset.IsNull(b)
			}
			c, ok := dataset.Compare(a, b)
			if !ok || c == 0 {
				continue
			}
			if ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return d, nil
}
