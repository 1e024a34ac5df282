// Package codec reads and writes datasets in the supported tabular file
// formats. Each codec is a pure bytes <-> dataset mapping; path handling
// and I/O stay with the engine.
package codec

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

type Codec interface {
	Decode(data []byte) (*dataset.Dataset, error)
	Encode(d *dataset.Dataset) ([]byte, error)
}

// FormatError reports malformed or unsupported content.
type FormatError struct {
	Format models.DataFormat
	Err    error
}

func (e *FormatError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("format error: %v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(f models.DataFormat, format string, args ...any) error {
	return &FormatError{Format: f, Err: fmt.Errorf(format, args...)}
}

// ForFormat returns the codec for a declared format.
func ForFormat(f models.DataFormat) (Codec, error) {
	switch f {
	case models.FormatCSV:
		return csvCodec{}, nil
	case models.FormatJSON:
		return jsonCodec{}, nil
	case models.FormatParquet:
		return parquetCodec{}, nil
	case models.FormatXLSX:
		return xlsxCodec{}, nil
	}
	return nil, formatErr(f, "unsupported format %q", string(f))
}

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (models.DataFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return models.FormatCSV, nil
	case ".json":
		return models.FormatJSON, nil
	case ".parquet":
		return models.FormatParquet, nil
	case ".xlsx":
		return models.FormatXLSX, nil
	}
	return "", formatErr("", "unknown file extension %q", filepath.Ext(path))
}
