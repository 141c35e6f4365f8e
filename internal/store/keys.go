package store

import (
	"encoding/binary"
)

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if no such key exists (prefix is all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// AppendLenPrefixed appends uvarint(len(b)) || b to dst.
// Length-prefixing keeps variable-length key components from colliding
// ("a"+"bc" vs "ab"+"c") and keeps prefix scans inside one component.
func AppendLenPrefixed(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// ReadLenPrefixed splits a length-prefixed component off the front of b.
func ReadLenPrefixed(b []byte) (component, rest []byte, ok bool) {
	n, w := binary.Uvarint(b)
	if w <= 0 || uint64(len(b)-w) < n {
		return nil, nil, false
	}
	return b[w : w+int(n)], b[w+int(n):], true
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
