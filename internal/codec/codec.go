// Package codec turns structured values into the byte strings the store
// persists, and back.
//
// The byte form matters: structures that key by encoded values (the append
// log, the two-level map) order entries by the unsigned byte order of the
// encoding. Pick a codec whose byte order matches the order you need:
//
//	Uint64(), Int64()  fixed-width big-endian, byte order == numeric order
//	String(), Bytes()  raw bytes, byte order == lexicographic order
//	JSON[T]()          canonical JSON, byte order == textual order ("10" < "9")
package codec

import (
	"encoding/binary"
	"fmt"
)

// Codec encodes and decodes values of type T.
// Encode must be deterministic: equal values produce identical bytes.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// Func adapts a pair of functions to a Codec.
type Func[T any] struct {
	EncodeFunc func(T) ([]byte, error)
	DecodeFunc func([]byte) (T, error)
}

// Encode implements Codec.
func (f Func[T]) Encode(v T) ([]byte, error) { return f.EncodeFunc(v) }

// Decode implements Codec.
func (f Func[T]) Decode(b []byte) (T, error) { return f.DecodeFunc(b) }

type uint64Codec struct{}

// Uint64 encodes uint64 as 8 big-endian bytes.
func Uint64() Codec[uint64] { return uint64Codec{} }

func (uint64Codec) Encode(v uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, v), nil
}

func (uint64Codec) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("uint64: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

type int64Codec struct{}

// Int64 encodes int64 as 8 big-endian bytes with the sign bit flipped, so
// negative numbers sort before positive ones.
func Int64() Codec[int64] { return int64Codec{} }

func (int64Codec) Encode(v int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, uint64(v)^(1<<63)), nil
}

func (int64Codec) Decode(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("int64: want 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), nil
}

type stringCodec struct{}

// String encodes a string as its raw bytes.
func String() Codec[string] { return stringCodec{} }

func (stringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }

type bytesCodec struct{}

// Bytes passes byte slices through, copying on decode.
func Bytes() Codec[[]byte] { return bytesCodec{} }

func (bytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }
func (bytesCodec) Decode(b []byte) ([]byte, error) { return append([]byte{}, b...), nil }
