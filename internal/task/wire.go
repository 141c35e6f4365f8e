package task

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/stablekit/internal/codec"
)

// Record wire format, protobuf encoding:
//
//	Record        { 1: bytes task; 2: Options options; 3: Status status }
//	Options       { 1: varint failures; 2: varint execute_after_secs; 3: RetryStrategy strategy }
//	RetryStrategy { 1: RetryPolicy retry; 2: BackoffPolicy backoff }
//	RetryPolicy   { 1: varint kind; 2: varint retries }
//	BackoffPolicy { 1: varint kind; 2: varint secs; 3: varint multiplier; 4: packed varint steps }
//	Status        { 1: varint kind; 2: varint timestamp_secs }
//
// The three Record fields are always written, and a record missing any of
// them is rejected. Unknown fields are skipped.

// RecordCodec encodes Record[T], delegating the payload to a codec.
type RecordCodec[T any] struct {
	Payload codec.Codec[T]
}

// NewRecordCodec returns a record codec using payload for the task body.
func NewRecordCodec[T any](payload codec.Codec[T]) RecordCodec[T] {
	return RecordCodec[T]{Payload: payload}
}

// Encode implements codec.Codec.
func (c RecordCodec[T]) Encode(r Record[T]) ([]byte, error) {
	payload, err := c.Payload.Encode(r.Task)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, appendOptions(nil, r.Options))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, appendStatus(nil, r.Status))
	return b, nil
}

// Decode implements codec.Codec.
func (c RecordCodec[T]) Decode(b []byte) (Record[T], error) {
	var r Record[T]
	var payload, opts, status []byte
	var havePayload, haveOpts, haveStatus bool
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			payload, havePayload = v, true
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			opts, haveOpts = v, true
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			status, haveStatus = v, true
			return n, nil
		}
		return skipField, nil
	})
	if err != nil {
		return r, fmt.Errorf("decode record: %w", err)
	}
	switch {
	case !havePayload:
		return r, errors.New("decode record: missing task")
	case !haveOpts:
		return r, errors.New("decode record: missing options")
	case !haveStatus:
		return r, errors.New("decode record: missing status")
	}

	if r.Task, err = c.Payload.Decode(payload); err != nil {
		return r, fmt.Errorf("decode task payload: %w", err)
	}
	if r.Options, err = decodeOptions(opts); err != nil {
		return r, fmt.Errorf("decode options: %w", err)
	}
	if r.Status, err = decodeStatus(status); err != nil {
		return r, fmt.Errorf("decode status: %w", err)
	}
	return r, nil
}

// skipField is returned by a field handler that does not recognise a field.
const skipField = math.MinInt32

// consumeFields walks the fields of a message. fn returns the bytes it
// consumed from the field value, or skipField.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == skipField {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

// consumeVarintField reads a varint-typed field value into dst.
func consumeVarintField(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return skipField, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n, nil
}

func appendOptions(b []byte, o Options) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Failures))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, o.ExecuteAfterSecs)

	var strategy []byte
	strategy = protowire.AppendTag(strategy, 1, protowire.BytesType)
	strategy = protowire.AppendBytes(strategy, appendRetry(nil, o.RetryStrategy.Retry))
	strategy = protowire.AppendTag(strategy, 2, protowire.BytesType)
	strategy = protowire.AppendBytes(strategy, appendBackoff(nil, o.RetryStrategy.Backoff))

	b = protowire.AppendTag(b, 3, protowire.BytesType)
	return protowire.AppendBytes(b, strategy)
}

func decodeOptions(b []byte) (Options, error) {
	var o Options
	var failures, after uint64
	var strategy []byte
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarintField(typ, b, &failures)
		case 2:
			return consumeVarintField(typ, b, &after)
		case 3:
			if typ != protowire.BytesType {
				return skipField, nil
			}
			v, n := protowire.ConsumeBytes(b)
			strategy = v
			return n, nil
		}
		return skipField, nil
	})
	if err != nil {
		return o, err
	}
	if failures > math.MaxUint32 {
		return o, fmt.Errorf("failures %d overflows uint32", failures)
	}
	o.Failures = uint32(failures)
	o.ExecuteAfterSecs = after

	var retry, backoff []byte
	err = consumeFields(strategy, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skipField, nil
		}
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			retry = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeBytes(b)
			backoff = v
			return n, nil
		}
		return skipField, nil
	})
	if err != nil {
		return o, err
	}
	if o.RetryStrategy.Retry, err = decodeRetry(retry); err != nil {
		return o, err
	}
	if o.RetryStrategy.Backoff, err = decodeBackoff(backoff); err != nil {
		return o, err
	}
	return o, nil
}

func appendRetry(b []byte, p RetryPolicy) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Kind))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(p.Retries))
}

func decodeRetry(b []byte) (RetryPolicy, error) {
	var kind, retries uint64
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarintField(typ, b, &kind)
		case 2:
			return consumeVarintField(typ, b, &retries)
		}
		return skipField, nil
	})
	if err != nil {
		return RetryPolicy{}, err
	}
	if kind > uint64(RetryInfinite) {
		return RetryPolicy{}, fmt.Errorf("unknown retry policy %d", kind)
	}
	if retries > math.MaxUint32 {
		return RetryPolicy{}, fmt.Errorf("retries %d overflows uint32", retries)
	}
	return RetryPolicy{Kind: RetryKind(kind), Retries: uint32(retries)}, nil
}

func appendBackoff(b []byte, p BackoffPolicy) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Kind))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Secs))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Multiplier))
	if len(p.Steps) > 0 {
		var packed []byte
		for _, s := range p.Steps {
			packed = protowire.AppendVarint(packed, uint64(s))
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

func decodeBackoff(b []byte) (BackoffPolicy, error) {
	var kind, secs, mult uint64
	var steps []uint32
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarintField(typ, b, &kind)
		case 2:
			return consumeVarintField(typ, b, &secs)
		case 3:
			return consumeVarintField(typ, b, &mult)
		case 4:
			if typ != protowire.BytesType {
				return skipField, nil
			}
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				if v > math.MaxUint32 {
					return 0, fmt.Errorf("backoff step %d overflows uint32", v)
				}
				steps = append(steps, uint32(v))
				packed = packed[m:]
			}
			return n, nil
		}
		return skipField, nil
	})
	if err != nil {
		return BackoffPolicy{}, err
	}
	if kind > uint64(BackoffVariable) {
		return BackoffPolicy{}, fmt.Errorf("unknown backoff policy %d", kind)
	}
	if secs > math.MaxUint32 || mult > math.MaxUint32 {
		return BackoffPolicy{}, errors.New("backoff parameter overflows uint32")
	}
	return BackoffPolicy{
		Kind:       BackoffKind(kind),
		Secs:       uint32(secs),
		Multiplier: uint32(mult),
		Steps:      steps,
	}, nil
}

func appendStatus(b []byte, s Status) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Kind))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	return protowire.AppendVarint(b, s.TimestampSecs)
}

func decodeStatus(b []byte) (Status, error) {
	var kind, ts uint64
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarintField(typ, b, &kind)
		case 2:
			return consumeVarintField(typ, b, &ts)
		}
		return skipField, nil
	})
	if err != nil {
		return Status{}, err
	}
	if kind > uint64(StatusRunning) {
		return Status{}, fmt.Errorf("unknown status %d", kind)
	}
	return Status{Kind: StatusKind(kind), TimestampSecs: ts}, nil
}
