package task

import (
	"fmt"
	"math"
	"math/bits"
)

// RetryKind enumerates the retry policy variants.
type RetryKind uint8

const (
	// RetryNone never retries a failed task.
	RetryNone RetryKind = iota
	// RetryMax retries while the failure count is below a limit.
	RetryMax
	// RetryInfinite always retries.
	RetryInfinite
)

// String returns the policy name.
func (k RetryKind) String() string {
	switch k {
	case RetryNone:
		return "none"
	case RetryMax:
		return "max_retries"
	case RetryInfinite:
		return "infinite"
	default:
		return fmt.Sprintf("RetryKind(%d)", uint8(k))
	}
}

// RetryPolicy decides whether a failed task is requeued.
type RetryPolicy struct {
	Kind RetryKind

	// Retries is the retry limit for RetryMax.
	Retries uint32
}

// NoRetry returns the policy that never retries.
func NoRetry() RetryPolicy { return RetryPolicy{Kind: RetryNone} }

// MaxRetries returns a policy allowing up to retries requeues.
func MaxRetries(retries uint32) RetryPolicy {
	return RetryPolicy{Kind: RetryMax, Retries: retries}
}

// InfiniteRetry returns the policy that always retries.
func InfiniteRetry() RetryPolicy { return RetryPolicy{Kind: RetryInfinite} }

// Allows reports whether a task that had failed prior times before the
// current failure may be requeued.
//
// MaxRetries{n} allows exactly n requeues: the failures that bring the
// count to 1..n are retried, the one after is not.
func (p RetryPolicy) Allows(prior uint32) bool {
	switch p.Kind {
	case RetryMax:
		return prior < p.Retries
	case RetryInfinite:
		return true
	default:
		return false
	}
}

// String renders the policy for CLI output.
func (p RetryPolicy) String() string {
	if p.Kind == RetryMax {
		return fmt.Sprintf("max_retries(%d)", p.Retries)
	}
	return p.Kind.String()
}

// BackoffKind enumerates the backoff policy variants.
type BackoffKind uint8

const (
	// BackoffNone requeues with no delay.
	BackoffNone BackoffKind = iota
	// BackoffFixed delays by a constant.
	BackoffFixed
	// BackoffExponential delays by secs * multiplier^failures.
	BackoffExponential
	// BackoffVariable delays by an element of a sequence.
	BackoffVariable
)

// String returns the policy name.
func (k BackoffKind) String() string {
	switch k {
	case BackoffNone:
		return "none"
	case BackoffFixed:
		return "fixed"
	case BackoffExponential:
		return "exponential"
	case BackoffVariable:
		return "variable"
	default:
		return fmt.Sprintf("BackoffKind(%d)", uint8(k))
	}
}

// BackoffPolicy computes the delay before a failed task is eligible again.
type BackoffPolicy struct {
	Kind BackoffKind

	// Secs is the base delay for BackoffFixed and BackoffExponential.
	Secs uint32

	// Multiplier is the growth factor for BackoffExponential.
	Multiplier uint32

	// Steps is the delay sequence for BackoffVariable.
	Steps []uint32
}

// NoBackoff returns the zero-delay policy.
func NoBackoff() BackoffPolicy { return BackoffPolicy{Kind: BackoffNone} }

// FixedBackoff returns a constant-delay policy.
func FixedBackoff(secs uint32) BackoffPolicy {
	return BackoffPolicy{Kind: BackoffFixed, Secs: secs}
}

// ExponentialBackoff returns a policy delaying secs * multiplier^failures.
func ExponentialBackoff(secs, multiplier uint32) BackoffPolicy {
	return BackoffPolicy{Kind: BackoffExponential, Secs: secs, Multiplier: multiplier}
}

// VariableBackoff returns a policy delaying steps[min(failures, len-1)].
func VariableBackoff(steps ...uint32) BackoffPolicy {
	return BackoffPolicy{Kind: BackoffVariable, Steps: steps}
}

// Delay returns the backoff in seconds for a task that had failed prior
// times before the current failure. The result saturates at MaxUint64.
func (p BackoffPolicy) Delay(prior uint32) uint64 {
	switch p.Kind {
	case BackoffFixed:
		return uint64(p.Secs)
	case BackoffExponential:
		return scaledPow(uint64(p.Secs), uint64(p.Multiplier), prior)
	case BackoffVariable:
		if len(p.Steps) == 0 {
			return 0
		}
		idx := int(min(prior, uint32(len(p.Steps)-1)))
		return uint64(p.Steps[idx])
	default:
		return 0
	}
}

// scaledPow returns secs*mult^n by square-and-multiply, saturating at
// MaxUint64.
func scaledPow(secs, mult uint64, n uint32) uint64 {
	switch {
	case secs == 0 || n == 0 || mult == 1:
		return secs
	case mult == 0:
		return 0
	}
	result, base := secs, mult
	for ; n > 0; n >>= 1 {
		if n&1 == 1 {
			hi, lo := bits.Mul64(result, base)
			if hi != 0 {
				return math.MaxUint64
			}
			result = lo
		}
		if n > 1 {
			hi, lo := bits.Mul64(base, base)
			if hi != 0 {
				return math.MaxUint64
			}
			base = lo
		}
	}
	return result
}

// String renders the policy for CLI output.
func (p BackoffPolicy) String() string {
	switch p.Kind {
	case BackoffFixed:
		return fmt.Sprintf("fixed(%ds)", p.Secs)
	case BackoffExponential:
		return fmt.Sprintf("exponential(%ds*%d^n)", p.Secs, p.Multiplier)
	case BackoffVariable:
		return fmt.Sprintf("variable(%v)", p.Steps)
	default:
		return p.Kind.String()
	}
}

// DefaultBackoffSecs is the fixed delay used when no backoff is configured.
const DefaultBackoffSecs = 2

// RetryStrategy pairs a retry policy with a backoff policy.
type RetryStrategy struct {
	Retry   RetryPolicy
	Backoff BackoffPolicy
}

// DefaultRetryStrategy never retries and, if retry is enabled later, backs
// off by DefaultBackoffSecs.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{Retry: NoRetry(), Backoff: FixedBackoff(DefaultBackoffSecs)}
}

// Options are the scheduling options of a task.
//
// Builder methods return a modified copy:
//
//	opts := task.NewOptions().WithMaxRetries(3).WithFixedBackoff(2)
type Options struct {
	// Failures counts failed executions so far.
	Failures uint32

	// ExecuteAfterSecs is the eligibility timestamp. A Waiting task is
	// selectable only when ExecuteAfterSecs <= now.
	ExecuteAfterSecs uint64

	RetryStrategy RetryStrategy
}

// NewOptions returns the default options: no retry, fixed 2s backoff,
// eligible immediately.
func NewOptions() Options {
	return Options{RetryStrategy: DefaultRetryStrategy()}
}

// WithMaxRetries sets the retry policy to MaxRetries(retries).
func (o Options) WithMaxRetries(retries uint32) Options {
	o.RetryStrategy.Retry = MaxRetries(retries)
	return o
}

// WithRetryPolicy sets the retry policy.
func (o Options) WithRetryPolicy(p RetryPolicy) Options {
	o.RetryStrategy.Retry = p
	return o
}

// WithFixedBackoff sets the backoff policy to FixedBackoff(secs).
func (o Options) WithFixedBackoff(secs uint32) Options {
	o.RetryStrategy.Backoff = FixedBackoff(secs)
	return o
}

// WithBackoffPolicy sets the backoff policy.
func (o Options) WithBackoffPolicy(p BackoffPolicy) Options {
	o.RetryStrategy.Backoff = p
	return o
}

// WithExecuteAfter sets the eligibility timestamp.
func (o Options) WithExecuteAfter(secs uint64) Options {
	o.ExecuteAfterSecs = secs
	return o
}

// afterFailure returns the options of a task requeued after failing at now.
func (o Options) afterFailure(now uint64) Options {
	delay := o.RetryStrategy.Backoff.Delay(o.Failures)
	if o.Failures < math.MaxUint32 {
		o.Failures++
	}
	if now > math.MaxUint64-delay {
		o.ExecuteAfterSecs = math.MaxUint64
	} else {
		o.ExecuteAfterSecs = now + delay
	}
	return o
}
