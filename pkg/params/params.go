// Package params enumerates the parameter space of a sweep.
//
// Generators are pure values: iterating twice yields the same tuples in the
// same nested lexicographic order, so a coordinator that restarts graph
// construction observes exactly the sequence it saw the first time.
package params

import (
	"fmt"
	"iter"
	"math"

	"github.com/cuemby/sweep/pkg/types"
	"gonum.org/v1/gonum/floats"
)

// Generator lazily enumerates the tuples of a sweep
type Generator interface {
	Name() string
	Tuples() iter.Seq[types.ParameterTuple]
	Size() int
}

// AngleGrid is the dense Cartesian grid of initial angles used by the
// pendulum sweep: linspace(0, 2π, Resolution) on both axes.
type AngleGrid struct {
	Resolution int
}

// Axis returns the evenly spaced angles of one axis
func (g AngleGrid) Axis() []float64 {
	switch {
	case g.Resolution <= 0:
		return nil
	case g.Resolution == 1:
		return []float64{0}
	}
	return floats.Span(make([]float64, g.Resolution), 0, 2*math.Pi)
}

func (g AngleGrid) Name() string {
	return fmt.Sprintf("angle-grid-%d", g.Resolution)
}

func (g AngleGrid) Size() int {
	if g.Resolution <= 0 {
		return 0
	}
	return g.Resolution * g.Resolution
}

// Tuples yields (theta1, theta2) with theta1 outermost
func (g AngleGrid) Tuples() iter.Seq[types.ParameterTuple] {
	axis := g.Axis()
	return func(yield func(types.ParameterTuple) bool) {
		for i, theta1 := range axis {
			for j, theta2 := range axis {
				t := types.ParameterTuple{
					Names:  []string{"theta1", "theta2"},
					Values: []float64{theta1, theta2},
					Index:  []int{i, j},
				}
				if !yield(t) {
					return
				}
			}
		}
	}
}

// ModeSweep assigns every mode in 1..MaxMode to each variable. The first
// variable is the outermost loop.
type ModeSweep struct {
	MaxMode   int
	Variables []string
}

func (g ModeSweep) Name() string {
	return fmt.Sprintf("modes-%v-%d", g.Variables, g.MaxMode)
}

func (g ModeSweep) Size() int {
	if g.MaxMode <= 0 || len(g.Variables) == 0 {
		return 0
	}
	n := 1
	for range g.Variables {
		n *= g.MaxMode
	}
	return n
}

func (g ModeSweep) Tuples() iter.Seq[types.ParameterTuple] {
	return func(yield func(types.ParameterTuple) bool) {
		if g.Size() == 0 {
			return
		}
		idx := make([]int, len(g.Variables))
		for i := range idx {
			idx[i] = 1
		}
		for {
			t := types.ParameterTuple{
				Names:  append([]string(nil), g.Variables...),
				Values: make([]float64, len(idx)),
				Index:  append([]int(nil), idx...),
			}
			for i, v := range idx {
				t.Values[i] = float64(v)
			}
			if !yield(t) {
				return
			}

			// odometer increment, last variable fastest
			pos := len(idx) - 1
			for pos >= 0 {
				idx[pos]++
				if idx[pos] <= g.MaxMode {
					break
				}
				idx[pos] = 1
				pos--
			}
			if pos < 0 {
				return
			}
		}
	}
}

// Canonical drops the items that declare a parent. Derivable
// sub-computations are aliased at output time and never computed.
func Canonical[T any](items []T, parent func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if parent(item) == "" {
			out = append(out, item)
		}
	}
	return out
}

// Collect drains a generator into a slice
func Collect(g Generator) []types.ParameterTuple {
	out := make([]types.ParameterTuple, 0, g.Size())
	for t := range g.Tuples() {
		out = append(out, t)
	}
	return out
}
