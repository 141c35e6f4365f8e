package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

type jsonCodec[T any] struct{}

// JSON returns a canonical JSON codec for T.
//
// Canonical form:
//  1. Object keys sorted
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings and keys NFC normalized
//  4. Numbers kept verbatim (no float64 round trip)
//  5. No insignificant whitespace
//
// Equal values therefore always produce identical bytes, which the
// deduplicating append log depends on.
func JSON[T any]() Codec[T] { return jsonCodec[T]{} }

func (jsonCodec[T]) Encode(v T) ([]byte, error) {
	return MarshalCanonical(v)
}

func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("json decode: %w", err)
	}
	return v, nil
}

// MarshalCanonical produces canonical JSON for v.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}

	// Round-trip through a generic tree so maps are re-sorted after
	// normalisation and numbers keep their literal form.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(tree)); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize applies NFC to every string and object key.
func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case []any:
		for i := range val {
			val[i] = normalize(val[i])
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[norm.NFC.String(k)] = normalize(elem)
		}
		return out
	default:
		return val
	}
}
