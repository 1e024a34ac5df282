package codec

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// Parquet sorts schema fields by name, which would lose the dataset's
// column order across a round-trip. The original order is stored in the
// file's key/value metadata under this key.
const columnOrderKey = "tabflow.column_order"

const columnOrderSep = "\x1f"

// parquetCodec preserves cell types exactly: bool, int64, double, string,
// and millisecond timestamps survive a round-trip unchanged. Column types
// are checked against every cell before anything is written; a column that
// mixes incompatible types is rejected, never coerced. The one sanctioned
// widening is int64 with float64, which becomes a double column.
type parquetCodec struct{}

type colKind int

const (
	kindNone colKind = iota
	kindBool
	kindInt
	kindFloat
	kindTime
	kindString
)

func (k colKind) String() string {
	switch k {
	case kindBool:
		return "bool"
	case kindInt:
		return "int64"
	case kindFloat:
		return "float64"
	case kindTime:
		return "timestamp"
	case kindString:
		return "string"
	}
	return "null"
}

func cellKind(v any) colKind {
	switch v.(type) {
	case nil:
		return kindNone
	case bool:
		return kindBool
	case int, int64:
		return kindInt
	case float32, float64:
		return kindFloat
	case time.Time:
		return kindTime
	default:
		return kindString
	}
}

// columnKind resolves one type for a whole column. A column with only
// nulls is written as string.
func columnKind(d *dataset.Dataset, col string) (colKind, error) {
	kind := kindNone
	for _, r := range d.Rows {
		k := cellKind(r[col])
		switch {
		case k == kindNone || k == kind:
		case kind == kindNone:
			kind = k
		case (kind == kindInt && k == kindFloat) || (kind == kindFloat && k == kindInt):
			kind = kindFloat
		default:
			return kindNone, formatErr(models.FormatParquet,
				"column %q mixes %s and %s values", col, kind, k)
		}
	}
	if kind == kindNone {
		kind = kindString
	}
	return kind, nil
}

func nodeForKind(kind colKind) parquet.Node {
	switch kind {
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	case kindInt:
		return parquet.Int(64)
	case kindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case kindTime:
		return parquet.Timestamp(parquet.Millisecond)
	}
	return parquet.String()
}

func (parquetCodec) Encode(d *dataset.Dataset) ([]byte, error) {
	if len(d.Columns) == 0 {
		return nil, formatErr(models.FormatParquet, "dataset has no columns")
	}

	kinds := make(map[string]colKind, len(d.Columns))
	group := parquet.Group{}
	for _, col := range d.Columns {
		kind, err := columnKind(d, col)
		if err != nil {
			return nil, err
		}
		kinds[col] = kind
		group[col] = parquet.Optional(nodeForKind(kind))
	}
	schema := parquet.NewSchema("dataset", group)

	index := make(map[string]int, len(d.Columns))
	for i, path := range schema.Columns() {
		index[path[0]] = i
	}

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, schema,
		parquet.KeyValueMetadata(columnOrderKey, strings.Join(d.Columns, columnOrderSep)))

	row := make(parquet.Row, len(d.Columns))
	for _, r := range d.Rows {
		for _, col := range d.Columns {
			i := index[col]
			v := r[col]
			if dataset.IsNull(v) {
				row[i] = parquet.ValueOf(nil).Level(0, 0, i)
				continue
			}
			switch kinds[col] {
			case kindTime:
				v = v.(time.Time).UnixMilli()
			case kindFloat:
				f, _ := dataset.AsFloat(v)
				v = f
			case kindString:
				v = dataset.Format(v)
			}
			row[i] = parquet.ValueOf(v).Level(0, 1, i)
		}
		if _, err := w.WriteRows([]parquet.Row{row}); err != nil {
			return nil, formatErr(models.FormatParquet, "write row: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, formatErr(models.FormatParquet, "close: %v", err)
	}
	return buf.Bytes(), nil
}

func (parquetCodec) Decode(data []byte) (*dataset.Dataset, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, formatErr(models.FormatParquet, "open: %v", err)
	}
	schema := f.Schema()

	names := make([]string, len(schema.Columns()))
	for i, path := range schema.Columns() {
		names[i] = path[0]
	}
	timestamp := make(map[string]bool)
	for _, fld := range schema.Fields() {
		if lt := fld.Type().LogicalType(); lt != nil && lt.Timestamp != nil {
			timestamp[fld.Name()] = true
		}
	}

	columns := names
	for _, kv := range f.Metadata().KeyValueMetadata {
		if kv.Key == columnOrderKey && kv.Value != "" {
			columns = strings.Split(kv.Value, columnOrderSep)
		}
	}
	out := dataset.New(columns...)

	buf := make([]parquet.Row, 64)
	for _, rg := range f.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, pr := range buf[:n] {
				row := dataset.Row{}
				for _, v := range pr {
					col := names[v.Column()]
					row[col] = decodeValue(v, timestamp[col])
				}
				out.Append(row)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, formatErr(models.FormatParquet, "read rows: %v", err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, formatErr(models.FormatParquet, "close rows: %v", err)
		}
	}
	return out, nil
}

func decodeValue(v parquet.Value, isTimestamp bool) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		if isTimestamp {
			return time.UnixMilli(v.Int64()).UTC()
		}
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	default:
		return string(v.ByteArray())
	}
}
