package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"max int64", IRInt(9223372036854775807), "9223372036854775807"},
		{"bool true", IRBool(true), "true"},
		{"bool false", IRBool(false), "false"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"array of ints", IRArray{IRInt(1), IRInt(2), IRInt(3)}, "[1,2,3]"},
		{"simple object", IRObject{"a": IRInt(1)}, `{"a":1}`},
		{"go map", map[string]any{"b": true, "a": "x"}, `{"a":"x","b":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := IRObject{
		"z": IRObject{
			"b": IRInt(1),
			"a": IRInt(2),
		},
		"a": IRInt(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000 - UTF-16 order differs from UTF-8
	obj := IRObject{
		"": IRInt(1),
		"𐀀":      IRInt(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	expected := `{"𐀀":2,"` + "" + `":1}`
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonicalEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html is literal", "<a & b>", `"<a & b>"`},
		{"quote", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline and tab", "a\n\tb", `"a\n\tb"`},
		{"control char", "\x01", `"\u0001"`},
		{"line separator literal", "a b", "\"a b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalKeepsStringsVerbatim(t *testing.T) {
	// Payload strings must round-trip exactly, so no NFC folding here.
	composed := "café"
	decomposed := "café"

	result1, err := MarshalCanonical(IRString(composed))
	require.NoError(t, err)
	result2, err := MarshalCanonical(IRString(decomposed))
	require.NoError(t, err)

	assert.NotEqual(t, result1, result2)
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"float64", float64(3.14), "float"},
		{"float32", float32(3.14), "float"},
		{"nil", nil, "null"},
		{"nested float", []any{1, 2.5}, "float"},
		{"invalid utf8", IRString("\xff"), "UTF-8"},
		{"unsupported", struct{}{}, "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMarshalCanonicalRoundTrip(t *testing.T) {
	original := IRObject{
		"kind":  IRString("list"),
		"items": IRArray{IRInt(1), IRString("two"), IRObject{"ok": IRBool(true)}},
	}

	data, err := MarshalCanonical(original)
	require.NoError(t, err)

	decoded, err := UnmarshalIRValue(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	again, err := MarshalCanonical(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}
