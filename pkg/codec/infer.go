package codec

import "strconv"

// inferCell turns a textual cell into the narrowest scalar that parses:
// int64, then float64, then bool; empty cells decode as null. This is the
// documented coercion of the text-based formats (csv, xlsx): a string that
// looks numeric does not survive a round-trip as a string.
func inferCell(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true", "True", "TRUE":
		return true
	case "false", "False", "FALSE":
		return false
	}
	return s
}
