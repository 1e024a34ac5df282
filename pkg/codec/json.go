package codec

import (
	"bytes"
	"encoding/json"

	"github.com/tabflow/tabflow/pkg/dataset"
	"github.com/tabflow/tabflow/pkg/models"
)

// jsonCodec maps a top-level array of objects to rows. Nested objects are
// flattened to dot-joined column paths ("parent.child"); arrays are kept
// as their compact JSON text. Column order is the order keys are first
// seen, so encode/decode round-trips are stable.
type jsonCodec struct{}

func (jsonCodec) Decode(data []byte) (*dataset.Dataset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, formatErr(models.FormatJSON, "parse: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, formatErr(models.FormatJSON, "expected a top-level array of records, got %v", tok)
	}

	out := dataset.New()
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, formatErr(models.FormatJSON, "parse: %v", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, formatErr(models.FormatJSON, "record %d is not an object", len(out.Rows))
		}
		row := dataset.Row{}
		if err := flattenObject(dec, "", row, out, seen); err != nil {
			return nil, err
		}
		out.Append(row)
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return nil, formatErr(models.FormatJSON, "parse: %v", err)
	}
	return out, nil
}

// flattenObject consumes tokens up to the object's closing brace, writing
// flattened leaves into row and recording new columns in first-seen order.
func flattenObject(dec *json.Decoder, prefix string, row dataset.Row, d *dataset.Dataset, seen map[string]bool) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return formatErr(models.FormatJSON, "parse: %v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return formatErr(models.FormatJSON, "object key is not a string: %v", tok)
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		tok, err = dec.Token()
		if err != nil {
			return formatErr(models.FormatJSON, "parse: %v", err)
		}
		if delim, ok := tok.(json.Delim); ok && delim == '{' {
			if err := flattenObject(dec, path, row, d, seen); err != nil {
				return err
			}
			continue
		}
		v, err := leafValue(dec, tok)
		if err != nil {
			return err
		}
		if !seen[path] {
			seen[path] = true
			d.Columns = append(d.Columns, path)
		}
		row[path] = v
	}
	_, err := dec.Token() // closing '}'
	return err
}

// leafValue converts one already-read token (and, for arrays, the tokens
// that follow it) into a dataset scalar.
func leafValue(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, formatErr(models.FormatJSON, "bad number %q", t.String())
		}
		return f, nil
	case json.Delim:
		if t != '[' {
			return nil, formatErr(models.FormatJSON, "unexpected token %v", t)
		}
		arr, err := readArray(dec)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(arr)
		if err != nil {
			return nil, formatErr(models.FormatJSON, "encode array: %v", err)
		}
		return string(raw), nil
	}
	return nil, formatErr(models.FormatJSON, "unexpected token %v", tok)
}

func readArray(dec *json.Decoder) ([]any, error) {
	out := []any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, formatErr(models.FormatJSON, "parse: %v", err)
		}
		if delim, ok := tok.(json.Delim); ok && delim == '{' {
			obj, err := readObject(dec)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
			continue
		}
		v, err := leafValue(dec, tok)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return nil, err
	}
	return out, nil
}

func readObject(dec *json.Decoder) (map[string]any, error) {
	out := map[string]any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, formatErr(models.FormatJSON, "parse: %v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, formatErr(models.FormatJSON, "object key is not a string: %v", tok)
		}
		tok, err = dec.Token()
		if err != nil {
			return nil, formatErr(models.FormatJSON, "parse: %v", err)
		}
		if delim, ok := tok.(json.Delim); ok && delim == '{' {
			nested, err := readObject(dec)
			if err != nil {
				return nil, err
			}
			out[key] = nested
			continue
		}
		v, err := leafValue(dec, tok)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, err
	}
	return out, nil
}

// Encode writes records with keys in column order. The stdlib marshaller
// randomizes map key order, so the objects are written field by field.
func (jsonCodec) Encode(d *dataset.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range d.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range d.Columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(col)
			if err != nil {
				return nil, formatErr(models.FormatJSON, "encode column %q: %v", col, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			val, err := json.Marshal(row[col])
			if err != nil {
				return nil, formatErr(models.FormatJSON, "encode value at row %d column %q: %v", i, col, err)
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
