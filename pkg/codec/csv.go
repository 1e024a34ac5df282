package codec

import (
	"bytes"
	"encoding/csv"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// csvCodec reads delimited text with the first row as header. Cell types
// are inferred (see inferCell); rows shorter than the header pad with
// nulls, rows longer than the header are malformed.
type csvCodec struct{}

func (csvCodec) Decode(data []byte) (*dataset.Dataset, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, formatErr(models.FormatCSV, "parse: %v", err)
	}
	if len(records) == 0 {
		return nil, formatErr(models.FormatCSV, "missing header row")
	}

	out := dataset.New(records[0]...)
	for i, rec := range records[1:] {
		if len(rec) > len(out.Columns) {
			return nil, formatErr(models.FormatCSV, "row %d has %d cells, header has %d", i+1, len(rec), len(out.Columns))
		}
		row := dataset.Row{}
		for j, col := range out.Columns {
			if j < len(rec) {
				row[col] = inferCell(rec[j])
			}
		}
		out.Append(row)
	}
	return out, nil
}

func (csvCodec) Encode(d *dataset.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(d.Columns); err != nil {
		return nil, formatErr(models.FormatCSV, "write header: %v", err)
	}
	rec := make([]string, len(d.Columns))
	for _, row := range d.Rows {
		for i, col := range d.Columns {
			rec[i] = dataset.Format(row[col])
		}
		if err := w.Write(rec); err != nil {
			return nil, formatErr(models.FormatCSV, "write row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, formatErr(models.FormatCSV, "flush: %v", err)
	}
	return buf.Bytes(), nil
}
