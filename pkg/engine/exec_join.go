package engine

import (
	"github.com/tabflow/tabflow/pkg/codec"
	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// execJoin combines the current dataset with a right-hand side named by
// right_source: the output of an earlier step when the name matches one,
// otherwise a source path loaded with load semantics. Column name
// collisions on the right side get a "_right" suffix; null keys never
// match. Unmatched rows carry nulls for the other side's columns.
func execJoin(step models.Step, in *dataset.Dataset, ec *Context) (*dataset.Dataset, map[string]any, error) {
	if err := requireInput(step, in); err != nil {
		return nil, nil, err
	}
	if step.RightSource == "" {
		return nil, nil, configErrorf("join step %q requires right_source", step.Name)
	}
	leftOn := step.LeftOn
	if leftOn == "" {
		return nil, nil, configErrorf("join step %q requires left_on", step.Name)
	}
	rightOn := step.RightOn
	if rightOn == "" {
		rightOn = leftOn
	}
	joinType := step.JoinType
	if joinType == "" {
		joinType = "inner"
	}
	switch joinType {
	case "inner", "left", "right", "outer":
	default:
		return nil, nil, configErrorf("join step %q: unknown join type %q", step.Name, joinType)
	}

	right, err := rightDataset(step, ec)
	if err != nil {
		return nil, nil, err
	}
	if !in.HasColumn(leftOn) {
		return nil, nil, &JoinKeyError{Column: leftOn, Side: "left"}
	}
	if !right.HasColumn(rightOn) {
		return nil, nil, &JoinKeyError{Column: rightOn, Side: "right"}
	}

	// Right columns that collide with left names are suffixed; the right
	// key column is dropped when it has the same name as the left key.
	rename := map[string]string{}
	rightCols := []string{}
	for _, c := range right.Columns {
		if c == rightOn && c == leftOn {
			continue
		}
		name := c
		if in.HasColumn(c) {
			name = c + "_right"
		}
		rename[c] = name
		rightCols = append(rightCols, name)
	}
	out := dataset.New(append(append([]string{}, in.Columns...), rightCols...)...)

	rightIdx := map[string][]int{}
	for i, r := range right.Rows {
		if dataset.IsNull(r[rightOn]) {
			continue
		}
		k := cellKey(r[rightOn])
		rightIdx[k] = append(rightIdx[k], i)
	}

	matchedRight := make([]bool, len(right.Rows))
	emit := func(left, rrow dataset.Row) {
		row := dataset.Row{}
		for _, c := range in.Columns {
			if left != nil {
				row[c] = left[c]
			}
		}
		if rrow != nil {
			for from, to := range rename {
				row[to] = rrow[from]
			}
			// A merged key column takes its value from whichever side
			// the row came from.
			if left == nil && leftOn == rightOn {
				row[leftOn] = rrow[rightOn]
			}
		}
		out.Append(row)
	}

	if joinType != "right" {
		for _, left := range in.Rows {
			matches := []int(nil)
			if !dataset.IsNull(left[leftOn]) {
				matches = rightIdx[cellKey(left[leftOn])]
			}
			if len(matches) == 0 {
				if joinType == "left" || joinType == "outer" {
					emit(left, nil)
				}
				continue
			}
			for _, ri := range matches {
				matchedRight[ri] = true
				emit(left, right.Rows[ri])
			}
		}
	}
	if joinType == "right" {
		leftIdx := map[string][]int{}
		for i, l := range in.Rows {
			if dataset.IsNull(l[leftOn]) {
				continue
			}
			k := cellKey(l[leftOn])
			leftIdx[k] = append(leftIdx[k], i)
		}
		for _, rrow := range right.Rows {
			matches := []int(nil)
			if !dataset.IsNull(rrow[rightOn]) {
				matches = leftIdx[cellKey(rrow[rightOn])]
			}
			if len(matches) == 0 {
				emit(nil, rrow)
				continue
			}
			for _, li := range matches {
				emit(in.Rows[li], rrow)
			}
		}
	}
	if joinType == "outer" {
		for i, rrow := range right.Rows {
			if !matchedRight[i] {
				emit(nil, rrow)
			}
		}
	}

	return out, map[string]any{
		"left_rows":   in.NumRows(),
		"right_rows":  right.NumRows(),
		"result_rows": out.NumRows(),
		"join_type":   joinType,
	}, nil
}

func rightDataset(step models.Step, ec *Context) (*dataset.Dataset, error) {
	if d, ok := ec.Datasets[step.RightSource]; ok {
		return d, nil
	}
	format := step.RightFormat
	if format == "" {
		f, err := codec.DetectFormat(step.RightSource)
		if err != nil {
			return nil, err
		}
		format = f
	}
	c, err := codec.ForFormat(format)
	if err != nil {
		return nil, err
	}
	data, err := ec.FS.ReadFile(resolveDataPath(ec.UploadDir, step.RightSource))
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}
