package converter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iago/json2excel-back/internal/domain"
)

const scalarColumn = "value"

// record is one flattened row: ordered keys plus their cell values.
type record struct {
	keys   []string
	values map[string]any
}

func (r *record) set(key string, value any) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// object is a decoded JSON object that remembers the order its keys appeared
// in. A repeated key keeps its first position and its last value.
type object struct {
	keys   []string
	values map[string]any
}

func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for index, key := range o.keys {
		if index > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeDocument parses exactly one JSON value. Objects become *object so
// columns follow the key order of the input.
func decodeDocument(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	document, err := decodeValue(decoder)
	if err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json: trailing data after top-level value")
	}
	return document, nil
}

func decodeValue(decoder *json.Decoder) (any, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := token.(json.Delim)
	if !ok {
		return token, nil
	}

	switch delim {
	case '{':
		decoded := &object{values: make(map[string]any)}
		for decoder.More() {
			token, err := decoder.Token()
			if err != nil {
				return nil, unexpectedEOF(err)
			}
			key, ok := token.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %T, not a string", token)
			}
			value, err := decodeValue(decoder)
			if err != nil {
				return nil, unexpectedEOF(err)
			}
			if _, exists := decoded.values[key]; !exists {
				decoded.keys = append(decoded.keys, key)
			}
			decoded.values[key] = value
		}
		if err := closeDelim(decoder, '}'); err != nil {
			return nil, err
		}
		return decoded, nil
	case '[':
		items := make([]any, 0)
		for decoder.More() {
			value, err := decodeValue(decoder)
			if err != nil {
				return nil, unexpectedEOF(err)
			}
			items = append(items, value)
		}
		if err := closeDelim(decoder, ']'); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected %q", rune(delim))
	}
}

func closeDelim(decoder *json.Decoder, want json.Delim) error {
	token, err := decoder.Token()
	if err != nil {
		return unexpectedEOF(err)
	}
	if token != want {
		return fmt.Errorf("expected %q, got %v", rune(want), token)
	}
	return nil
}

// unexpectedEOF reports input that ends inside an object or array.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// rowsOf splits a document into the items that become rows.
func rowsOf(document any) []any {
	switch value := document.(type) {
	case []any:
		return value
	default:
		return []any{value}
	}
}

type flattener struct {
	separator     string
	maxDepth      int
	arrayHandling domain.ArrayHandling
}

func newFlattener(options domain.ConversionOptions) flattener {
	return flattener{
		separator:     options.NestedSeparator,
		maxDepth:      options.MaxNestingLevel,
		arrayHandling: options.ArrayHandling,
	}
}

func (f flattener) flattenItem(item any) (record, error) {
	row := record{values: make(map[string]any)}
	switch value := item.(type) {
	case *object:
		if err := f.flattenObject(&row, "", value, 1); err != nil {
			return record{}, err
		}
	case []any:
		if err := f.flattenArray(&row, scalarColumn, value, 1); err != nil {
			return record{}, err
		}
	default:
		row.set(scalarColumn, cellValue(value))
	}
	return row, nil
}

func (f flattener) flattenObject(row *record, prefix string, decoded *object, depth int) error {
	for _, key := range decoded.keys {
		name := key
		if prefix != "" {
			name = prefix + f.separator + key
		}
		if err := f.flattenValue(row, name, decoded.values[key], depth); err != nil {
			return err
		}
	}
	return nil
}

func (f flattener) flattenValue(row *record, name string, value any, depth int) error {
	switch typed := value.(type) {
	case *object:
		if depth >= f.maxDepth {
			return setJSON(row, name, typed)
		}
		if len(typed.keys) == 0 {
			row.set(name, "")
			return nil
		}
		return f.flattenObject(row, name, typed, depth+1)
	case []any:
		return f.flattenArray(row, name, typed, depth)
	default:
		row.set(name, cellValue(typed))
		return nil
	}
}

func (f flattener) flattenArray(row *record, name string, items []any, depth int) error {
	switch f.arrayHandling {
	case domain.ArrayJSON:
		return setJSON(row, name, items)
	case domain.ArrayJoin:
		if !allScalars(items) {
			return setJSON(row, name, items)
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, fmt.Sprint(cellValue(item)))
		}
		row.set(name, strings.Join(parts, ", "))
		return nil
	default:
		if depth >= f.maxDepth {
			return setJSON(row, name, items)
		}
		if len(items) == 0 {
			row.set(name, "")
			return nil
		}
		for index, item := range items {
			if err := f.flattenValue(row, name+f.separator+strconv.Itoa(index), item, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
}

func setJSON(row *record, name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	row.set(name, string(encoded))
	return nil
}

func allScalars(items []any) bool {
	for _, item := range items {
		switch item.(type) {
		case *object, []any:
			return false
		}
	}
	return true
}

// cellValue converts a decoded JSON scalar into something excelize writes with
// the right cell type.
func cellValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return ""
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return integer
		}
		if decimal, err := typed.Float64(); err == nil {
			return decimal
		}
		return typed.String()
	default:
		return typed
	}
}
