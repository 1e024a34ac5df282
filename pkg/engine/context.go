package engine

import (
	"path/filepath"
	"strings"

	"github.com/tabflow/tabflow/pkg/dataset"
)

// Context carries everything a step executor may need besides its input:
// the execution's parameters, the datasets produced by earlier steps
// (keyed by step name, used by join), the file system, and the base
// directories for source and output paths.
type Context struct {
	ExecutionID string
	PipelineID  string
	Params      map[string]string
	Datasets    map[string]*dataset.Dataset
	FS          FS
	UploadDir   string
	OutputDir   string
}

// resolveDataPath is the single place where base directories are applied:
// a path is used verbatim when absolute or already under base, otherwise
// it is joined onto base. Keeping the prefix check and the join together
// is what prevents a base directory from being applied twice.
func resolveDataPath(base, path string) string {
	if base == "" || filepath.IsAbs(path) {
		return path
	}
	if path == base || strings.HasPrefix(path, base+string(filepath.Separator)) || strings.HasPrefix(path, base+"/") {
		return path
	}
	return filepath.Join(base, path)
}
