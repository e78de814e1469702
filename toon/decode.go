package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Decode parses the text format back into plain Go values: map[string]any,
// []any, float64, bool, string, and nil.
//
// A decode consumes the entire text; leftover or misindented lines are
// errors. Empty text decodes to an empty object.
func Decode(text string) (any, error) {
	lines, err := logicalLines(text)
	if err != nil {
		return nil, fmt.Errorf("toon: decode: %w", err)
	}

	if len(lines) == 0 {
		return map[string]any{}, nil
	}

	if lines[0].indent != 0 {
		return nil, fmt.Errorf("toon: decode: line %d: unexpected indentation", lines[0].number)
	}

	p := &parser{lines: lines}

	var out any

	h, headErr := parseHead(lines[0].content, true)

	switch {
	case headErr == nil && h.key == "" && h.isArray():
		p.pos = 1
		out, err = p.parseArrayBody(h, 0)

	case headErr == nil:
		out, err = p.parseObject(0)

	case len(lines) == 1 && bareScalarLine(lines[0].content):
		p.pos = 1
		out, err = parseScalarText(lines[0].content)

	default:
		return nil, fmt.Errorf("toon: decode: line %d: %w", lines[0].number, headErr)
	}

	if err != nil {
		return nil, fmt.Errorf("toon: decode: %w", err)
	}

	if p.pos != len(p.lines) {
		return nil, fmt.Errorf("toon: decode: line %d: trailing content", p.lines[p.pos].number)
	}

	return out, nil
}

// bareScalarLine reports whether a lone line that failed head parsing can be
// read as a top-level scalar. Unquoted structural characters mean the line is
// malformed rather than a scalar: the encoder quotes strings containing them.
func bareScalarLine(content string) bool {
	return strings.HasPrefix(content, `"`) || !strings.ContainsAny(content, ":[")
}

// logicalLine is one format line. Content may span several physical lines
// when a quoted value contains literal newlines; indent is taken from the
// first physical line.
type logicalLine struct {
	number  int
	indent  int
	content string
}

func logicalLines(text string) ([]logicalLine, error) {
	physical := strings.Split(text, "\n")

	var (
		lines   []logicalLine
		open    bool
		current logicalLine
	)

	for i, raw := range physical {
		if open {
			current.content += "\n" + raw
			if quoteParity(raw) {
				open = false

				lines = append(lines, current)
			}

			continue
		}

		if strings.TrimSpace(raw) == "" {
			continue
		}

		spaces := 0
		for spaces < len(raw) && raw[spaces] == ' ' {
			spaces++
		}

		if spaces%2 != 0 {
			return nil, fmt.Errorf("line %d: odd indentation", i+1)
		}

		content := raw[spaces:]
		if strings.HasPrefix(content, "\t") {
			return nil, fmt.Errorf("line %d: tab indentation", i+1)
		}

		current = logicalLine{number: i + 1, indent: spaces / 2, content: content}

		if quoteParity(content) {
			open = true

			continue
		}

		lines = append(lines, current)
	}

	if open {
		return nil, fmt.Errorf("line %d: unterminated quoted value", current.number)
	}

	return lines, nil
}

// quoteParity reports whether s ends inside an open double quote, counting
// every quote character. Doubled quotes inside a quoted value toggle twice
// and cancel out.
func quoteParity(s string) bool {
	open := false

	for _, r := range s {
		if r == '"' {
			open = !open
		}
	}

	return open
}

type parser struct {
	lines []logicalLine
	pos   int
}

func (p *parser) peek() (logicalLine, bool) {
	if p.pos >= len(p.lines) {
		return logicalLine{}, false
	}

	return p.lines[p.pos], true
}

// headKind classifies the recognized line shapes.
type headKind int

const (
	headFieldScalar headKind = iota // key: value
	headFieldBlock                  // key:
	headArrayTable                  // key[N]{f1,f2}:
	headArrayInline                 // key[N]: v1,v2   (or key[0]:)
	headArrayList                   // key[N]:  with dash items below
)

type head struct {
	kind   headKind
	key    string
	count  int
	fields []string
	rest   string
}

func (h head) isArray() bool {
	return h.kind == headArrayTable || h.kind == headArrayInline || h.kind == headArrayList
}

// parseHead splits one line's content into its structural shape. An empty
// key (bare leading bracket) is only legal for top-level and list-item
// arrays.
func parseHead(content string, allowEmptyKey bool) (head, error) {
	var (
		key  string
		rest string
	)

	switch {
	case strings.HasPrefix(content, `"`):
		var err error

		key, rest, err = readQuoted(content)
		if err != nil {
			return head{}, err
		}

	case strings.HasPrefix(content, "["):
		if !allowEmptyKey {
			return head{}, fmt.Errorf("unexpected array header")
		}

		rest = content

	default:
		idx := strings.IndexAny(content, ":[")
		if idx <= 0 {
			return head{}, fmt.Errorf("not a key line")
		}

		key = content[:idx]
		rest = content[idx:]
	}

	if strings.HasPrefix(rest, "[") {
		return parseArrayHead(key, rest)
	}

	if !strings.HasPrefix(rest, ":") {
		return head{}, fmt.Errorf("expected %q after key", ":")
	}

	rest = rest[1:]

	if rest == "" {
		return head{kind: headFieldBlock, key: key}, nil
	}

	if !strings.HasPrefix(rest, " ") {
		return head{}, fmt.Errorf("expected space after %q", ":")
	}

	return head{kind: headFieldScalar, key: key, rest: rest[1:]}, nil
}

func parseArrayHead(key, rest string) (head, error) {
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return head{}, fmt.Errorf("unterminated array count")
	}

	count, err := strconv.Atoi(rest[1:end])
	if err != nil || count < 0 {
		return head{}, fmt.Errorf("bad array count %q", rest[1:end])
	}

	rest = rest[end+1:]

	if strings.HasPrefix(rest, "{") {
		closing := strings.IndexByte(rest, '}')
		if closing < 0 {
			return head{}, fmt.Errorf("unterminated field list")
		}

		fieldText := rest[1:closing]
		if rest[closing+1:] != ":" {
			return head{}, fmt.Errorf("expected %q after field list", ":")
		}

		fields := strings.Split(fieldText, ",")
		if len(fields) == 1 && fields[0] == "" {
			return head{}, fmt.Errorf("empty field list")
		}

		return head{kind: headArrayTable, key: key, count: count, fields: fields}, nil
	}

	switch {
	case rest == ":":
		if count == 0 {
			return head{kind: headArrayInline, key: key, count: 0}, nil
		}

		return head{kind: headArrayList, key: key, count: count}, nil

	case strings.HasPrefix(rest, ": "):
		return head{kind: headArrayInline, key: key, count: count, rest: rest[2:]}, nil

	default:
		return head{}, fmt.Errorf("malformed array header")
	}
}

func (p *parser) parseObject(indent int) (map[string]any, error) {
	obj := map[string]any{}

	for {
		line, ok := p.peek()
		if !ok || line.indent < indent {
			return obj, nil
		}

		if line.indent > indent {
			return nil, fmt.Errorf("line %d: unexpected indentation", line.number)
		}

		h, err := parseHead(line.content, false)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line.number, err)
		}

		p.pos++

		var v any

		switch h.kind {
		case headFieldScalar:
			v, err = parseScalarText(h.rest)

		case headFieldBlock:
			v, err = p.parseNestedObject(indent)

		default:
			v, err = p.parseArrayBody(h, indent)
		}

		if err != nil {
			return nil, err
		}

		obj[h.key] = v
	}
}

// parseNestedObject handles the block after a bare "key:" line: a deeper
// object block, or nothing, which reads as an empty object.
func (p *parser) parseNestedObject(indent int) (any, error) {
	if line, ok := p.peek(); ok && line.indent == indent+1 {
		return p.parseObject(indent + 1)
	}

	return map[string]any{}, nil
}

// parseArrayBody consumes the rows or items belonging to an array header at
// the given indent. The cursor is already past the header line.
func (p *parser) parseArrayBody(h head, indent int) ([]any, error) {
	switch h.kind {
	case headArrayInline:
		return parseInlineArray(h)

	case headArrayTable:
		return p.parseTableRows(h, indent)

	default:
		return p.parseListItems(h, indent)
	}
}

func parseInlineArray(h head) ([]any, error) {
	if h.count == 0 {
		return []any{}, nil
	}

	cells, err := splitCells(h.rest)
	if err != nil {
		return nil, err
	}

	if len(cells) != h.count {
		return nil, fmt.Errorf("array declares %d values, found %d", h.count, len(cells))
	}

	out := make([]any, len(cells))

	for i, cell := range cells {
		v, err := parseScalarText(cell)
		if err != nil {
			return nil, err
		}

		out[i] = v
	}

	return out, nil
}

func (p *parser) parseTableRows(h head, indent int) ([]any, error) {
	out := make([]any, 0, h.count)

	for i := 0; i < h.count; i++ {
		line, ok := p.peek()
		if !ok || line.indent != indent+1 {
			return nil, fmt.Errorf("table declares %d rows, found %d", h.count, i)
		}

		p.pos++

		cells, err := splitCells(line.content)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line.number, err)
		}

		if len(cells) != len(h.fields) {
			return nil, fmt.Errorf("line %d: row has %d cells, header has %d fields", line.number, len(cells), len(h.fields))
		}

		row := map[string]any{}

		for j, cell := range cells {
			// Empty cell means the field is absent from this row; a true
			// empty string is always quoted.
			if cell == "" {
				continue
			}

			v, err := parseScalarText(cell)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line.number, err)
			}

			if err := insertDotted(row, h.fields[j], v); err != nil {
				return nil, fmt.Errorf("line %d: %w", line.number, err)
			}
		}

		out = append(out, row)
	}

	return out, nil
}

func (p *parser) parseListItems(h head, indent int) ([]any, error) {
	out := make([]any, 0, h.count)

	for i := 0; i < h.count; i++ {
		line, ok := p.peek()
		if !ok || line.indent != indent+1 {
			return nil, fmt.Errorf("list declares %d items, found %d", h.count, i)
		}

		item, err := p.parseListItem(line, indent+1)
		if err != nil {
			return nil, err
		}

		out = append(out, item)
	}

	return out, nil
}

func (p *parser) parseListItem(line logicalLine, indent int) (any, error) {
	content := line.content

	switch {
	case content == "-":
		p.pos++

		return p.parseNestedObject(indent)

	case strings.HasPrefix(content, "- ["):
		h, err := parseHead(content[2:], true)
		if err != nil || !h.isArray() {
			return nil, fmt.Errorf("line %d: malformed array item", line.number)
		}

		p.pos++

		return p.parseArrayBody(h, indent)

	case strings.HasPrefix(content, "- "):
		p.pos++

		return parseScalarText(content[2:])

	default:
		return nil, fmt.Errorf("line %d: expected list item", line.number)
	}
}

var numberPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// parseScalarText decodes one scalar token: a quoted string, the empty
// object literal, a null/bool/number literal, or a bare string.
func parseScalarText(text string) (any, error) {
	if strings.HasPrefix(text, `"`) {
		s, rest, err := readQuoted(text)
		if err != nil {
			return nil, err
		}

		if rest != "" {
			return nil, fmt.Errorf("trailing content after quoted value")
		}

		return s, nil
	}

	switch text {
	case "{}":
		return map[string]any{}, nil
	case "null":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	if numberPattern.MatchString(text) {
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", text, err)
		}

		return n, nil
	}

	return text, nil
}

// readQuoted consumes a leading double-quoted token, undoubling internal
// quotes, and returns the remainder of the text.
func readQuoted(s string) (string, string, error) {
	if !strings.HasPrefix(s, `"`) {
		return "", "", fmt.Errorf("expected quoted value")
	}

	var b strings.Builder

	i := 1
	for i < len(s) {
		if s[i] != '"' {
			b.WriteByte(s[i])
			i++

			continue
		}

		if i+1 < len(s) && s[i+1] == '"' {
			b.WriteByte('"')
			i += 2

			continue
		}

		return b.String(), s[i+1:], nil
	}

	return "", "", fmt.Errorf("unterminated quoted value")
}

// splitCells splits a row on commas outside quotes. Cell texts keep their
// quoting for parseScalarText.
func splitCells(s string) ([]string, error) {
	var (
		cells []string
		start int
		open  bool
	)

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			open = !open
		case ',':
			if !open {
				cells = append(cells, s[start:i])
				start = i + 1
			}
		}
	}

	if open {
		return nil, fmt.Errorf("unterminated quoted cell")
	}

	return append(cells, s[start:]), nil
}

// insertDotted writes a value at a dotted path, creating intermediate
// objects. A path segment colliding with an existing scalar is an error.
func insertDotted(obj map[string]any, path string, v any) error {
	segs := strings.Split(path, ".")
	cur := obj

	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok {
			child := map[string]any{}
			cur[seg] = child
			cur = child

			continue
		}

		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q conflicts with a scalar", path)
		}

		cur = child
	}

	last := segs[len(segs)-1]
	if _, exists := cur[last]; exists {
		return fmt.Errorf("duplicate field %q", path)
	}

	cur[last] = v

	return nil
}
