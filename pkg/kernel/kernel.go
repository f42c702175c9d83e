package kernel

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/cuemby/sweep/pkg/types"
)

// Request identifies one kernel invocation: the fully resolved tuple plus
// the partition and sub-computation it belongs to
type Request struct {
	Partition types.PartitionKey   `json:"partition"`
	Sub       string               `json:"sub"`
	Key       types.CacheKey       `json:"key"`
	Tuple     types.ParameterTuple `json:"tuple"`
}

// Kernel computes the result for one distinct cache key. Implementations
// must be free of side effects and safe for concurrent use, since a task may
// be delivered more than once.
type Kernel interface {
	Compute(ctx context.Context, req Request) (*types.TaskResult, error)
}

// KernelFunc adapts a function to the Kernel interface
type KernelFunc func(ctx context.Context, req Request) (*types.TaskResult, error)

func (f KernelFunc) Compute(ctx context.Context, req Request) (*types.TaskResult, error) {
	return f(ctx, req)
}

// ComputationError reports a kernel invocation that raised or produced an
// undefined result. The queue retries it up to its attempt limit.
type ComputationError struct {
	Sub   string
	Tuple types.ParameterTuple
	Err   error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("kernel %s failed for %s: %v", e.Sub, e.Tuple, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// ScaleFactor is the outcome of the scale-factor heuristic: either a
// resolved power-of-two exponent or Unresolvable.
type ScaleFactor struct {
	value    int8
	resolved bool
}

// Resolved returns a resolved scale factor
func Resolved(v int8) ScaleFactor {
	return ScaleFactor{value: v, resolved: true}
}

// Unresolvable means the heuristic has no closed form for the input and a
// computation at the auxiliary length is required
var Unresolvable = ScaleFactor{}

// Get returns the scale factor and whether it was resolved
func (s ScaleFactor) Get() (int8, bool) {
	return s.value, s.resolved
}

// FormatValue renders v as a decimal string. With precision <= 0 it returns
// the shortest string that parses back to v; otherwise it returns precision
// significant digits of the exact binary value.
func FormatValue(v float64, precision int) string {
	if precision <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return new(big.Float).SetFloat64(v).Text('g', precision)
}

func undefined(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
