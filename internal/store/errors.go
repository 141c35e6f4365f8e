package store

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by backend operations after Close.
var ErrClosed = errors.New("store: backend closed")

// CapacityError is returned when a key or value exceeds a structure's
// configured maximum size. The write is rejected before any mutation.
type CapacityError struct {
	// Field is "key" or "value".
	Field string

	// Size is the encoded size that was rejected.
	Size int

	// Max is the configured limit.
	Max int
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %s is %d bytes, max %d", e.Field, e.Size, e.Max)
}

// SerializationError is returned when persisted bytes cannot be decoded into
// the expected shape. It is fatal for the affected record only.
type SerializationError struct {
	// Key is the region-relative key of the record, if known.
	Key []byte

	// Err is the decoder's error.
	Err error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	if len(e.Key) > 0 {
		return fmt.Sprintf("serialization error (key=%x): %v", e.Key, e.Err)
	}
	return fmt.Sprintf("serialization error: %v", e.Err)
}

// Unwrap returns the decoder's error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsCapacityError returns true if the error is a CapacityError.
// Uses errors.As to handle wrapped errors.
func IsCapacityError(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// IsSerializationError returns true if the error is a SerializationError.
// Uses errors.As to handle wrapped errors.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

// Limits bounds the encoded key and value sizes a structure accepts.
// A zero field means unbounded.
type Limits struct {
	MaxKeySize   int
	MaxValueSize int
}

// Check validates key and value against the limits.
func (l Limits) Check(key, value []byte) error {
	if l.MaxKeySize > 0 && len(key) > l.MaxKeySize {
		return &CapacityError{Field: "key", Size: len(key), Max: l.MaxKeySize}
	}
	if l.MaxValueSize > 0 && len(value) > l.MaxValueSize {
		return &CapacityError{Field: "value", Size: len(value), Max: l.MaxValueSize}
	}
	return nil
}
