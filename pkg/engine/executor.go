package engine

import (
	"strconv"
	"time"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// runStep dispatches on the step kind. The set of kinds is closed, so an
// unknown kind is a configuration error, not a lookup miss. Executors
// never mutate their input dataset; a retried step re-runs from the same
// upstream state.
func runStep(step models.Step, in *dataset.Dataset, ec *Context) (*dataset.Dataset, map[string]any, error) {
	switch step.Type {
	case models.StepLoad:
		return execLoad(step, ec)
	case models.StepSave:
		return execSave(step, in, ec)
	case models.StepTransform:
		return execTransform(step, in)
	case models.StepFilter:
		return execFilter(step, in)
	case models.StepAggregate:
		return execAggregate(step, in)
	case models.StepJoin:
		return execJoin(step, in, ec)
	}
	return nil, nil, configErrorf("unknown step type %q", string(step.Type))
}

// requireInput guards the step kinds that consume the upstream dataset.
func requireInput(step models.Step, in *dataset.Dataset) error {
	if in == nil {
		return configErrorf("%s step %q has no input dataset; it must follow a load step", step.Type, step.Name)
	}
	return nil
}

// cellKey renders a cell for grouping and join matching. The type tag
// keeps values of different types apart even when they share a string
// form: int64(1) never groups or joins with "1". Numerics share one tag,
// so int64(1) and float64(1) still match each other.
func cellKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "n:"
	case bool:
		return "b:" + strconv.FormatBool(t)
	case string:
		return "s:" + t
	case time.Time:
		return "t:" + strconv.FormatInt(t.UnixNano(), 10)
	default:
		if f, ok := dataset.AsFloat(v); ok {
			return "f:" + strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "s:" + dataset.Format(v)
	}
}
