package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// IRValue is a node of the value tree that the codec lowers Starlark values
// into before canonicalization. Only IRString, IRInt, IRBool, IRArray and
// IRObject implement it.
//
// There is no float and no null: floats travel as shortest round-trip
// strings, and None is an object of kind "none".
type IRValue interface {
	irValue()
}

// IRString is a string leaf.
type IRString string

func (IRString) irValue() {}

// IRInt is an integer leaf. The codec itself writes Starlark ints as decimal
// strings, since they are unbounded.
type IRInt int64

func (IRInt) irValue() {}

// IRBool is a boolean leaf.
type IRBool bool

func (IRBool) irValue() {}

// IRArray is an ordered list of values.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject maps string keys to values. Iterate with SortedKeys.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// SortedKeys returns the keys in canonical order: by UTF-16 code units, not
// by bytes, so non-BMP keys sort the same way every JSON canonicalizer does.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

func compareKeys(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// UnmarshalIRValue decodes a canonical payload read back from the content
// store. Floats and null are rejected, and integers keep full int64
// precision.
func UnmarshalIRValue(data []byte) (IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after payload")
	}
	return fromJSON(raw)
}

func fromJSON(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a payload value")
	case bool:
		return IRBool(val), nil
	case string:
		return IRString(val), nil
	case json.Number:
		if strings.ContainsAny(string(val), ".eE") {
			return nil, fmt.Errorf("floats are not payload values: %s", val)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("integer out of int64 range: %s", val)
		}
		return IRInt(n), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			item, err := fromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = item
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			item, err := fromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			obj[k] = item
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
