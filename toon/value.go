package toon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// kind enumerates the JSON-like value shapes the codec works on.
type kind int

const (
	kindNull kind = iota
	kindBool
	kindNumber
	kindString
	kindArray
	kindObject
)

// value is the encoder's internal representation. Object members keep their
// order so tabular headers come out in first-seen field order; numbers keep
// their literal decimal text so formatting survives the round trip.
type value struct {
	kind kind
	b    bool
	num  string
	str  string
	arr  []value
	obj  []member
}

type member struct {
	key string
	val value
}

// parseJSON decodes a JSON document into the ordered value model.
//
// The standard decoder is driven token by token because unmarshalling into
// map[string]any would lose object member order.
func parseJSON(data []byte) (value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec)
	if err != nil {
		return value{}, err
	}

	// The document must be exactly one value.
	if _, err := dec.Token(); err != io.EOF {
		return value{}, fmt.Errorf("trailing data after JSON value")
	}

	return v, nil
}

func parseValue(dec *json.Decoder) (value, error) {
	tok, err := dec.Token()
	if err != nil {
		return value{}, err
	}

	return parseFromToken(dec, tok)
}

func parseFromToken(dec *json.Decoder, tok json.Token) (value, error) {
	switch t := tok.(type) {
	case nil:
		return value{kind: kindNull}, nil

	case bool:
		return value{kind: kindBool, b: t}, nil

	case json.Number:
		return value{kind: kindNumber, num: t.String()}, nil

	case string:
		return value{kind: kindString, str: t}, nil

	case json.Delim:
		switch t {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		default:
			return value{}, fmt.Errorf("unexpected delimiter %q", t)
		}

	default:
		return value{}, fmt.Errorf("unexpected token %v", tok)
	}
}

func parseObject(dec *json.Decoder) (value, error) {
	obj := []member{}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return value{}, err
		}

		key, ok := keyTok.(string)
		if !ok {
			return value{}, fmt.Errorf("object key is not a string: %v", keyTok)
		}

		v, err := parseValue(dec)
		if err != nil {
			return value{}, err
		}

		obj = append(obj, member{key: key, val: v})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return value{}, err
	}

	return value{kind: kindObject, obj: obj}, nil
}

func parseArray(dec *json.Decoder) (value, error) {
	arr := []value{}

	for dec.More() {
		v, err := parseValue(dec)
		if err != nil {
			return value{}, err
		}

		arr = append(arr, v)
	}

	// Consume the closing bracket.
	if _, err := dec.Token(); err != nil {
		return value{}, err
	}

	return value{kind: kindArray, arr: arr}, nil
}

func (v value) isScalar() bool {
	switch v.kind {
	case kindNull, kindBool, kindNumber, kindString:
		return true
	default:
		return false
	}
}
