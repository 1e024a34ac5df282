package engine

import (
	"math"
	"sort"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// execAggregate groups rows by the group_by columns and applies one
// aggregation function per declared column. Output rows appear in the
// order their group key was first encountered. With no group_by columns
// the whole dataset collapses to a single row and the result columns are
// named <column>_<func>; grouped results keep the original column names.
func execAggregate(step models.Step, in *dataset.Dataset) (*dataset.Dataset, map[string]any, error) {
	if err := requireInput(step, in); err != nil {
		return nil, nil, err
	}
	if len(step.Aggregations) == 0 {
		return nil, nil, configErrorf("aggregate step %q requires aggregations", step.Name)
	}
	for _, col := range step.GroupBy {
		if !in.HasColumn(col) {
			return nil, nil, configErrorf("aggregate step %q: unknown group column %q", step.Name, col)
		}
	}

	// Aggregation targets in a stable order; the config is a map.
	targets := make([]string, 0, len(step.Aggregations))
	for col := range step.Aggregations {
		if !in.HasColumn(col) {
			return nil, nil, configErrorf("aggregate step %q: unknown column %q", step.Name, col)
		}
		targets = append(targets, col)
	}
	sort.Strings(targets)
	for _, col := range targets {
		if fn := step.Aggregations[col]; !validAggFn(fn) {
			return nil, nil, configErrorf("aggregate step %q: unknown function %q", step.Name, fn)
		}
	}

	var out *dataset.Dataset
	var err error
	if len(step.GroupBy) == 0 {
		out, err = aggregateAll(in, targets, step.Aggregations)
	} else {
		out, err = aggregateGrouped(in, step.GroupBy, targets, step.Aggregations)
	}
	if err != nil {
		return nil, nil, err
	}

	return out, map[string]any{
		"original_rows":   in.NumRows(),
		"aggregated_rows": out.NumRows(),
		"group_columns":   step.GroupBy,
		"aggregations":    step.Aggregations,
	}, nil
}

func validAggFn(fn string) bool {
	switch fn {
	case "sum", "count", "mean", "min", "max", "std":
		return true
	}
	return false
}

func aggregateAll(in *dataset.Dataset, targets []string, fns map[string]string) (*dataset.Dataset, error) {
	row := dataset.Row{}
	cols := make([]string, 0, len(targets))
	for _, col := range targets {
		fn := fns[col]
		v, err := applyAgg(in.Rows, col, fn)
		if err != nil {
			return nil, err
		}
		name := col + "_" + fn
		cols = append(cols, name)
		row[name] = v
	}
	out := dataset.New(cols...)
	out.Append(row)
	return out, nil
}

func aggregateGrouped(in *dataset.Dataset, groupBy, targets []string, fns map[string]string) (*dataset.Dataset, error) {
	out := dataset.New(append(append([]string{}, groupBy...), targets...)...)

	order := []string{}
	groups := map[string][]dataset.Row{}
	keys := map[string]dataset.Row{}
	for _, row := range in.Rows {
		key := ""
		for _, col := range groupBy {
			key += cellKey(row[col]) + "\x1f"
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
			keys[key] = row
		}
		groups[key] = append(groups[key], row)
	}

	for _, key := range order {
		row := dataset.Row{}
		for _, col := range groupBy {
			row[col] = keys[key][col]
		}
		for _, col := range targets {
			v, err := applyAgg(groups[key], col, fns[col])
			if err != nil {
				return nil, err
			}
			row[col] = v
		}
		out.Append(row)
	}
	return out, nil
}

// applyAgg computes one aggregate over the non-null cells of a column.
// count works on any type; min/max order numerics numerically and
// everything else lexically; the rest require numeric cells.
func applyAgg(rows []dataset.Row, col, fn string) (any, error) {
	switch fn {
	case "count":
		n := int64(0)
		for _, r := range rows {
			if !dataset.IsNull(r[col]) {
				n++
			}
		}
		return n, nil
	case "min", "max":
		var best any
		for _, r := range rows {
			v := r[col]
			if dataset.IsNull(v) {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c, ok := dataset.Compare(v, best)
			if !ok {
				continue
			}
			if (fn == "min" && c < 0) || (fn == "max" && c > 0) {
				best = v
			}
		}
		return best, nil
	}

	nums := make([]float64, 0, len(rows))
	for _, r := range rows {
		v := r[col]
		if dataset.IsNull(v) {
			continue
		}
		f, ok := dataset.AsFloat(v)
		if !ok {
			return nil, configErrorf("aggregate %s: column %q has non-numeric value %v", fn, col, v)
		}
		nums = append(nums, f)
	}
	if len(nums) == 0 {
		return nil, nil
	}

	sum := 0.0
	for _, f := range nums {
		sum += f
	}
	switch fn {
	case "sum":
		return sum, nil
	case "mean":
		return sum / float64(len(nums)), nil
	case "std":
		if len(nums) < 2 {
			return 0.0, nil
		}
		mean := sum / float64(len(nums))
		ss := 0.0
		for _, f := range nums {
			ss += (f - mean) * (f - mean)
		}
		return math.Sqrt(ss / float64(len(nums)-1)), nil
	}
	return nil, configErrorf("unknown aggregate function %q", fn)
}
