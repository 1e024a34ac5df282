package engine

import (
	"github.com/tabflow/tabflow/pkg/codec"
	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

func execLoad(step models.Step, ec *Context) (*dataset.Dataset, map[string]any, error) {
	if step.SourcePath == "" {
		return nil, nil, configErrorf("load step %q requires source_path", step.Name)
	}

	format := step.Format
	if format == "" {
		f, err := codec.DetectFormat(step.SourcePath)
		if err != nil {
			return nil, nil, err
		}
		format = f
	}
	c, err := codec.ForFormat(format)
	if err != nil {
		return nil, nil, err
	}

	path := resolveDataPath(ec.UploadDir, step.SourcePath)
	data, err := ec.FS.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	d, err := c.Decode(data)
	if err != nil {
		return nil, nil, err
	}

	return d, map[string]any{
		"rows":         d.NumRows(),
		"columns":      d.NumColumns(),
		"column_names": d.Columns,
	}, nil
}
