package codec

import (
	"bytes"

	"github.com/xuri/excelize/v2"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// xlsxCodec reads the first sheet with the first row as header. Cells come
// back from the sheet as text, so reads re-infer types the same way the
// csv codec does.
type xlsxCodec struct{}

func (xlsxCodec) Decode(data []byte) (*dataset.Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, formatErr(models.FormatXLSX, "open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, formatErr(models.FormatXLSX, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, formatErr(models.FormatXLSX, "read sheet %q: %v", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, formatErr(models.FormatXLSX, "missing header row")
	}

	out := dataset.New(rows[0]...)
	for i, rec := range rows[1:] {
		if len(rec) > len(out.Columns) {
			return nil, formatErr(models.FormatXLSX, "row %d has %d cells, header has %d", i+1, len(rec), len(out.Columns))
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

func (xlsxCodec) Encode(d *dataset.Dataset) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := make([]any, len(d.Columns))
	for i, col := range d.Columns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, formatErr(models.FormatXLSX, "write header: %v", err)
	}

	rec := make([]any, len(d.Columns))
	for i, row := range d.Rows {
		for j, col := range d.Columns {
			rec[j] = row[col]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, formatErr(models.FormatXLSX, "cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &rec); err != nil {
			return nil, formatErr(models.FormatXLSX, "write row %d: %v", i, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, formatErr(models.FormatXLSX, "write workbook: %v", err)
	}
	return buf.Bytes(), nil
}
