package codec

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64_ByteOrderMatchesNumericOrder(t *testing.T) {
	c := Uint64()
	values := []uint64{0, 1, 9, 10, 255, 256, math.MaxUint32, math.MaxUint64}

	var prev []byte
	for _, v := range values {
		b, err := c.Encode(v)
		require.NoError(t, err)
		assert.Len(t, b, 8)
		if prev != nil {
			assert.Negative(t, bytes.Compare(prev, b), "encode(%d) should sort after previous", v)
		}
		prev = b

		got, err := c.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestInt64_ByteOrderMatchesNumericOrder(t *testing.T) {
	c := Int64()
	values := []int64{math.MinInt64, -1000, -1, 0, 1, 1000, math.MaxInt64}

	var prev []byte
	for _, v := range values {
		b, err := c.Encode(v)
		require.NoError(t, err)
		if prev != nil {
			assert.Negative(t, bytes.Compare(prev, b), "encode(%d) should sort after previous", v)
		}
		prev = b

		got, err := c.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestFixedWidth_RejectsWrongLength(t *testing.T) {
	_, err := Uint64().Decode([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = Int64().Decode(nil)
	assert.Error(t, err)
}

func TestStringAndBytes(t *testing.T) {
	b, err := String().Encode("héllo")
	require.NoError(t, err)
	assert.Equal(t, []byte("héllo"), b)

	s, err := String().Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	src := []byte{0x00, 0xff}
	out, err := Bytes().Decode(src)
	require.NoError(t, err)
	assert.Equal(t, src, out)

	out[0] = 0x01
	assert.Equal(t, byte(0x00), src[0], "decode must copy")
}

func TestJSON_Canonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"int", 42, "42"},
		{"string", "hello", `"hello"`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"nfc", "é", "\"é\""},
		{"sorted keys", map[string]int{"zebra": 1, "alpha": 2}, `{"alpha":2,"zebra":1}`},
		{"nested", map[string]any{"z": map[string]int{"b": 1, "a": 2}, "a": 3}, `{"a":3,"z":{"a":2,"b":1}}`},
		{"array", []int{3, 1, 2}, "[3,1,2]"},
		{"max int64", int64(math.MaxInt64), "9223372036854775807"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestJSON_StructFieldsSorted(t *testing.T) {
	type point struct {
		Y int `json:"y"`
		X int `json:"x"`
	}
	c := JSON[point]()

	b, err := c.Encode(point{Y: 2, X: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"x":1,"y":2}`, string(b))

	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, point{X: 1, Y: 2}, got)
}

func TestJSON_Deterministic(t *testing.T) {
	c := JSON[map[string]int]()
	m := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4}

	first, err := c.Encode(m)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := c.Encode(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestJSON_TextualOrder(t *testing.T) {
	// Encoded integers order as text, not numerically.
	c := JSON[int]()
	nine, err := c.Encode(9)
	require.NoError(t, err)
	ten, err := c.Encode(10)
	require.NoError(t, err)
	assert.Negative(t, bytes.Compare(ten, nine))
}

func TestJSON_DecodeError(t *testing.T) {
	_, err := JSON[int]().Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	c := Func[int]{
		EncodeFunc: func(v int) ([]byte, error) { return []byte{byte(v)}, nil },
		DecodeFunc: func(b []byte) (int, error) { return int(b[0]), nil },
	}
	b, err := c.Encode(7)
	require.NoError(t, err)
	v, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
