package engine

import (
	"strings"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// execFilter keeps a row iff every condition holds. Comparisons are
// type-aware: numeric columns compare numerically, contains is substring
// match on the string form, null cells never satisfy a value comparison.
func execFilter(step models.Step, in *dataset.Dataset) (*dataset.Dataset, map[string]any, error) {
	if err := requireInput(step, in); err != nil {
		return nil, nil, err
	}
	if len(step.Conditions) == 0 {
		return nil, nil, configErrorf("filter step %q requires at least one condition", step.Name)
	}
	for _, cond := range step.Conditions {
		if cond.Column == "" {
			return nil, nil, configErrorf("filter step %q: condition missing column", step.Name)
		}
		if !in.HasColumn(cond.Column) {
			return nil, nil, configErrorf("filter step %q: unknown column %q", step.Name, cond.Column)
		}
	}

	out := dataset.New(in.Columns...)
	for _, row := range in.Rows {
		keep := true
		for _, cond := range step.Conditions {
			ok, err := matchCondition(row, cond)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			// Copy the row so the output never aliases the upstream
			// dataset, which is held for retries.
			kept := make(dataset.Row, len(row))
			for k, v := range row {
				kept[k] = v
			}
			out.Append(kept)
		}
	}

	return out, map[string]any{
		"original_rows":      in.NumRows(),
		"filtered_rows":      out.NumRows(),
		"rows_removed":       in.NumRows() - out.NumRows(),
		"conditions_applied": len(step.Conditions),
	}, nil
}

func matchCondition(row dataset.Row, cond models.FilterCondition) (bool, error) {
	cell := row[cond.Column]

	switch cond.Operator {
	case "is_null":
		return dataset.IsNull(cell), nil
	case "not_null":
		return !dataset.IsNull(cell), nil
	case "equals":
		return cellEquals(cell, cond.Value), nil
	case "not_equals":
		return !dataset.IsNull(cell) && !cellEquals(cell, cond.Value), nil
	case "greater_than":
		c, ok := dataset.Compare(cell, cond.Value)
		return ok && c > 0, nil
	case "less_than":
		c, ok := dataset.Compare(cell, cond.Value)
		return ok && c < 0, nil
	case "greater_equal":
		c, ok := dataset.Compare(cell, cond.Value)
		return ok && c >= 0, nil
	case "less_equal":
		c, ok := dataset.Compare(cell, cond.Value)
		return ok && c <= 0, nil
	case "in":
		for _, v := range cond.Values {
			if cellEquals(cell, v) {
				return true, nil
			}
		}
		return false, nil
	case "not_in":
		if dataset.IsNull(cell) {
			return false, nil
		}
		for _, v := range cond.Values {
			if cellEquals(cell, v) {
				return false, nil
			}
		}
		return true, nil
	case "contains":
		if dataset.IsNull(cell) {
			return false, nil
		}
		return strings.Contains(dataset.Format(cell), dataset.Format(cond.Value)), nil
	}
	return false, configErrorf("unknown filter operator %q", cond.Operator)
}

func cellEquals(cell, value any) bool {
	if dataset.IsNull(cell) || dataset.IsNull(value) {
		return dataset.IsNull(cell) && dataset.IsNull(value)
	}
	if cf, ok := dataset.AsFloat(cell); ok {
		if vf, vok := dataset.AsFloat(value); vok {
			return cf == vf
		}
		return false
	}
	if cb, ok := cell.(bool); ok {
		vb, vok := value.(bool)
		return vok && cb == vb
	}
	return dataset.Format(cell) == dataset.Format(value)
}
