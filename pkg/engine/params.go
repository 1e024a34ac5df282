package engine

import (
	"regexp"
	"strings"

	"github.com/tabflow/tabflow/pkg/models"
)

var paramToken = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolve substitutes every ${name} token with the matching parameter
// value. A token with no matching key fails the whole resolution.
func Resolve(s string, params map[string]string) (string, error) {
	var missing string
	out := paramToken.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[2 : len(tok)-1]
		v, ok := params[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return tok
		}
		return v
	})
	if missing != "" {
		return "", &UnresolvedParameterError{Name: missing}
	}
	return out, nil
}

// ResolveStep returns a copy of the step with parameters substituted into
// its path-like and value-like string fields. Structural keys (column
// names, operator names, mappings) are never touched. Resolution happens
// before the executor runs, so a bad token aborts the step before any I/O.
func ResolveStep(step models.Step, params map[string]string) (models.Step, error) {
	out := step
	var err error

	if out.SourcePath, err = Resolve(step.SourcePath, params); err != nil {
		return out, err
	}
	if out.OutputPath, err = Resolve(step.OutputPath, params); err != nil {
		return out, err
	}
	if out.RightSource, err = Resolve(step.RightSource, params); err != nil {
		return out, err
	}

	if len(step.Conditions) > 0 {
		out.Conditions = make([]models.FilterCondition, len(step.Conditions))
		copy(out.Conditions, step.Conditions)
		for i := range out.Conditions {
			if out.Conditions[i].Value, err = resolveValue(out.Conditions[i].Value, params); err != nil {
				return out, err
			}
			if len(out.Conditions[i].Values) > 0 {
				vals := make([]any, len(out.Conditions[i].Values))
				for j, v := range out.Conditions[i].Values {
					if vals[j], err = resolveValue(v, params); err != nil {
						return out, err
					}
				}
				out.Conditions[i].Values = vals
			}
		}
	}

	if len(step.Operations) > 0 {
		out.Operations = make([]models.TransformOp, len(step.Operations))
		copy(out.Operations, step.Operations)
		for i := range out.Operations {
			if out.Operations[i].Expression, err = Resolve(out.Operations[i].Expression, params); err != nil {
				return out, err
			}
			if out.Operations[i].Value, err = resolveValue(out.Operations[i].Value, params); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func resolveValue(v any, params map[string]string) (any, error) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "${") {
		return v, nil
	}
	return Resolve(s, params)
}
