package engine

import (
	"github.com/tabflow/tabflow/pkg/codec"
	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// execSave writes the current dataset and passes it through unchanged so
// further steps can chain after a save.
func execSave(step models.Step, in *dataset.Dataset, ec *Context) (*dataset.Dataset, map[string]any, error) {
	if err := requireInput(step, in); err != nil {
		return nil, nil, err
	}
	if step.OutputPath == "" {
		return nil, nil, configErrorf("save step %q requires output_path", step.Name)
	}

	format := step.Format
	if format == "" {
		f, err := codec.DetectFormat(step.OutputPath)
		if err != nil {
			return nil, nil, err
		}
		format = f
	}
	c, err := codec.ForFormat(format)
	if err != nil {
		return nil, nil, err
	}

	data, err := c.Encode(in)
	if err != nil {
		return nil, nil, err
	}
	path := resolveDataPath(ec.OutputDir, step.OutputPath)
	if err := ec.FS.WriteFile(path, data); err != nil {
		return nil, nil, err
	}

	return in, map[string]any{
		"output_path":   path,
		"rows_saved":    in.NumRows(),
		"columns_saved": in.NumColumns(),
		"bytes_written": len(data),
		"format":        string(format),
	}, nil
}
