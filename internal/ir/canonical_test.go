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
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"uint64", uint64(1700000000), "1700000000"},
		{"bool true", Bool(true), "true"},
		{"bool false", false, "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"string slice", []string{"a", "b"}, `["a","b"]`},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"new_status": String("InProgress"),
		"id":         Int(1),
		"old_status": String("Pending"),
		"nested":     Object{"b": Int(1), "a": Int(2)},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"nested":{"a":2,"b":1},"new_status":"InProgress","old_status":"Pending"}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, U+E000 as 0xE000.
	// UTF-16 puts the emoji first, UTF-8 byte order would not.
	obj := Object{
		"\uE000":     Int(1),
		"\U0001F600": Int(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<a href='x'>&</a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a href='x'>&</a>"`, string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"nil", nil},
		{"float64", 1.5},
		{"float in map", map[string]any{"x": 2.5}},
		{"nil in slice", []any{"a", nil}},
		{"struct", struct{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// e-acute as e + combining acute (NFD) and as a single code point (NFC).
	nfd, err := MarshalCanonical(String("cafe\u0301"))
	require.NoError(t, err)
	nfc, err := MarshalCanonical(String("caf\u00e9"))
	require.NoError(t, err)

	assert.Equal(t, nfc, nfd)
}

func TestMarshalCanonicalStringEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"control", "a\x01b", `"a\u0001b"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"paragraph separator literal", "a\u2029b", "\"a\u2029b\""},
		{"escaped text stays escaped", `a\u2028b`, `"a\\u2028b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalWithGoTypes(t *testing.T) {
	result, err := MarshalCanonical(map[string]any{
		"z":    []any{"x", int64(2), true},
		"a":    1,
		"tags": []string{"urgent"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"tags":["urgent"],"z":["x",2,true]}`, string(result))
}

func TestMarshalCanonicalIdempotency(t *testing.T) {
	obj := Object{"b": Array{String("x"), Int(1)}, "a": Bool(true)}

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
