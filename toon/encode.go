package toon

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Encode marshals a JSON-like value into the text format.
//
// v may be any value the standard JSON encoder accepts, including
// json.RawMessage for pre-encoded documents. Object member order follows the
// JSON encoding of v: struct fields and raw documents keep their declared
// order, plain maps come out in sorted-key order.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("toon: encode: %w", err)
	}

	val, err := parseJSON(data)
	if err != nil {
		return "", fmt.Errorf("toon: encode: %w", err)
	}

	var lines []string

	switch val.kind {
	case kindObject:
		encodeObjectBlock(&lines, val.obj, 0)
	case kindArray:
		encodeArray(&lines, "", val.arr, 0)
	default:
		lines = append(lines, scalarToken(val))
	}

	if len(lines) == 0 {
		return "", nil
	}

	return strings.Join(lines, "\n") + "\n", nil
}

const indentUnit = "  "

func encodeObjectBlock(lines *[]string, obj []member, indent int) {
	for _, m := range obj {
		encodeField(lines, m.key, m.val, indent)
	}
}

func encodeField(lines *[]string, key string, v value, indent int) {
	pad := strings.Repeat(indentUnit, indent)

	switch v.kind {
	case kindArray:
		encodeArray(lines, keyToken(key), v.arr, indent)

	case kindObject:
		if len(v.obj) == 0 {
			*lines = append(*lines, pad+keyToken(key)+": {}")

			return
		}

		*lines = append(*lines, pad+keyToken(key)+":")
		encodeObjectBlock(lines, v.obj, indent+1)

	default:
		*lines = append(*lines, pad+keyToken(key)+": "+scalarToken(v))
	}
}

// encodeArray writes an array block. prefix is the already-rendered text
// preceding the [count] bracket: a key token for object fields, empty for a
// top-level array, or a list-item dash. Nested content goes one level deeper
// than the header line.
func encodeArray(lines *[]string, prefix string, arr []value, indent int) {
	pad := strings.Repeat(indentUnit, indent)

	if fields, rows, ok := tabularize(arr); ok {
		*lines = append(*lines, fmt.Sprintf("%s%s[%d]{%s}:", pad, prefix, len(arr), strings.Join(fields, ",")))

		inner := pad + indentUnit
		for _, row := range rows {
			*lines = append(*lines, inner+strings.Join(row, ","))
		}

		return
	}

	if allScalars(arr) {
		if len(arr) == 0 {
			*lines = append(*lines, fmt.Sprintf("%s%s[0]:", pad, prefix))

			return
		}

		cells := make([]string, len(arr))
		for i, item := range arr {
			cells[i] = scalarToken(item)
		}

		*lines = append(*lines, fmt.Sprintf("%s%s[%d]: %s", pad, prefix, len(arr), strings.Join(cells, ",")))

		return
	}

	// Mixed or nested content falls back to the one-item-per-dash list form.
	*lines = append(*lines, fmt.Sprintf("%s%s[%d]:", pad, prefix, len(arr)))

	inner := pad + indentUnit

	for _, item := range arr {
		switch item.kind {
		case kindArray:
			encodeArray(lines, "- ", item.arr, indent+1)

		case kindObject:
			if len(item.obj) == 0 {
				*lines = append(*lines, inner+"- {}")

				continue
			}

			*lines = append(*lines, inner+"-")
			encodeObjectBlock(lines, item.obj, indent+2)

		default:
			*lines = append(*lines, inner+"- "+scalarToken(item))
		}
	}
}

func allScalars(arr []value) bool {
	for _, item := range arr {
		if !item.isScalar() {
			return false
		}
	}

	return true
}

// tabularize attempts the header-once, rows-after representation: every item
// must be an object that flattens entirely to scalar leaves under dotted
// keys. The field list is the union of all items' flattened keys in
// first-seen order; an item missing a field gets an empty cell, which decodes
// back to an absent field.
func tabularize(arr []value) (fields []string, rows [][]string, ok bool) {
	if len(arr) == 0 {
		return nil, nil, false
	}

	seen := map[string]bool{}
	flat := make([]map[string]string, len(arr))

	for i, item := range arr {
		if item.kind != kindObject {
			return nil, nil, false
		}

		cells := map[string]string{}
		if !flattenInto(cells, &fields, seen, "", item.obj) {
			return nil, nil, false
		}

		flat[i] = cells
	}

	if len(fields) == 0 {
		return nil, nil, false
	}

	rows = make([][]string, len(arr))

	for i, cells := range flat {
		row := make([]string, len(fields))
		for j, f := range fields {
			row[j] = cells[f]
		}

		rows[i] = row
	}

	return fields, rows, true
}

// flattenInto flattens one object's members into dotted-key scalar cells,
// recording newly seen field names in first-seen order. Arrays, empty nested
// objects, and keys unsafe to print bare disqualify the whole array from
// tabular form.
func flattenInto(cells map[string]string, fields *[]string, seen map[string]bool, prefix string, obj []member) bool {
	for _, m := range obj {
		if keyNeedsQuoting(m.key) {
			return false
		}

		path := m.key
		if prefix != "" {
			path = prefix + "." + m.key
		}

		switch m.val.kind {
		case kindObject:
			if len(m.val.obj) == 0 {
				return false
			}

			if !flattenInto(cells, fields, seen, path, m.val.obj) {
				return false
			}

		case kindArray:
			return false

		default:
			if !seen[path] {
				seen[path] = true
				*fields = append(*fields, path)
			}

			cells[path] = scalarToken(m.val)
		}
	}

	return true
}

func scalarToken(v value) string {
	switch v.kind {
	case kindNull:
		return "null"
	case kindBool:
		return strconv.FormatBool(v.b)
	case kindNumber:
		return v.num
	case kindString:
		if stringNeedsQuoting(v.str) {
			return quote(v.str)
		}

		return v.str
	default:
		return ""
	}
}

// stringNeedsQuoting reports whether a bare rendering of s would be
// misread on decode: as a non-string literal, as format structure, or with
// its whitespace trimmed.
func stringNeedsQuoting(s string) bool {
	if s == "" {
		return true
	}

	if strings.TrimSpace(s) != s {
		return true
	}

	switch strings.ToLower(s) {
	case "true", "false", "null":
		return true
	}

	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}

	if strings.ContainsAny(s, ",\"\n\r\t:{}[]") {
		return true
	}

	return s == "-" || strings.HasPrefix(s, "- ")
}

// keyNeedsQuoting is stricter than the value rule: dots are reserved for
// flattened paths, so keys containing them are always quoted.
func keyNeedsQuoting(s string) bool {
	return stringNeedsQuoting(s) || strings.Contains(s, ".")
}

func keyToken(key string) string {
	if keyNeedsQuoting(key) {
		return quote(key)
	}

	return key
}

// quote wraps s in double quotes with internal quotes doubled. Newlines stay
// literal; the decoder joins physical lines while inside quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
