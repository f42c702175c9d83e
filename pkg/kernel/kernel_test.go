package kernel

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/sweep/pkg/cachekey"
	"github.com/cuemby/sweep/pkg/types"
)

func modeTuple(names []string, modes ...int) types.ParameterTuple {
	values := make([]float64, len(modes))
	for i, m := range modes {
		values[i] = float64(m)
	}
	return types.ParameterTuple{Names: names, Values: values, Index: modes}
}

func integralRequest(beam, sub string, names []string, modes ...int) Request {
	tuple := modeTuple(names, modes...)
	return Request{
		Partition: BeamPartition(beam),
		Sub:       sub,
		Key:       cachekey.Identity(tuple, 5),
		Tuple:     tuple,
	}
}

var (
	pair  = []string{"m", "n"}
	quad4 = []string{"m", "t", "v", "n"}
)

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "0.1", FormatValue(0.1, 0))
	assert.Equal(t, "-2.5", FormatValue(-2.5, 0))
	assert.Equal(t, "0", FormatValue(0, 30))

	long := FormatValue(0.1, 30)
	assert.True(t, strings.HasPrefix(long, "0.10000000000000000555111"), long)
	assert.Greater(t, len(long), len("0.1000000000000000055511"))
}

func TestScaleFactor(t *testing.T) {
	v, ok := Resolved(-1).Get()
	assert.True(t, ok)
	assert.Equal(t, int8(-1), v)

	_, ok = Unresolvable.Get()
	assert.False(t, ok)
}

func TestPendulumAtRest(t *testing.T) {
	p := NewPendulum(DefaultPendulumParams())
	tuple := types.ParameterTuple{Names: []string{"theta1", "theta2"}, Values: []float64{0, 0}, Index: []int{0, 0}}

	res, err := p.Compute(context.Background(), Request{Sub: "pendulum", Tuple: tuple})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, res.Outputs)
}

func TestPendulumConservesEnergy(t *testing.T) {
	p := NewPendulum(PendulumParams{L1: 1, L2: 1, M1: 1, M2: 1, TMax: 1, Dt: 0.001})

	th1, th2 := 0.5, -0.3
	start := p.Energy([4]float64{th1, 0, th2, 0})

	// Rerun to the end state by hand so the velocities are available
	y := [4]float64{th1, 0, th2, 0}
	h := p.Params.Dt
	for i := 0; i < 1000; i++ {
		k1 := p.deriv(y)
		k2 := p.deriv(axpy(y, k1, h/2))
		k3 := p.deriv(axpy(y, k2, h/2))
		k4 := p.deriv(axpy(y, k3, h))
		for j := range y {
			y[j] += h / 6 * (k1[j] + 2*k2[j] + 2*k3[j] + k4[j])
		}
	}
	assert.InDelta(t, start, p.Energy(y), 1e-6)

	f1, f2, err := p.Solve(context.Background(), th1, th2)
	require.NoError(t, err)
	assert.Equal(t, y[0], f1)
	assert.Equal(t, y[2], f2)
}

func TestPendulumErrors(t *testing.T) {
	p := NewPendulum(PendulumParams{L1: 1, L2: 1, M1: 1, M2: 1, TMax: 1, Dt: 0})
	_, err := p.Compute(context.Background(), Request{Sub: "pendulum"})
	var cerr *ComputationError
	require.ErrorAs(t, err, &cerr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = NewPendulum(DefaultPendulumParams()).Solve(ctx, 1, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIntegralKernel(t *testing.T) {
	k := NewIntegralKernel(DefaultCatalog(), 0)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   Request
		value float64
		scale int8
	}{
		{"I1 diagonal", integralRequest("simply_supported", "I1", pair, 1, 1), 0.5, 1},
		{"I1 orthogonal", integralRequest("simply_supported", "I1", pair, 1, 2), 0, 0},
		{"I1 sliding", integralRequest("sliding", "I1", pair, 3, 3), 0.5, 1},
		{"I2 at auxiliary length", integralRequest("simply_supported", "I2", pair, 2, 2), -2 * math.Pi * math.Pi, -1},
		{"I3 matches I2", integralRequest("simply_supported", "I3", pair, 2, 2), -2 * math.Pi * math.Pi, -1},
		{"I4 orthogonal", integralRequest("simply_supported", "I4", quad4, 1, 1, 1, 2), 0, 0},
		{"I4 nonzero", integralRequest("simply_supported", "I4", quad4, 1, 1, 1, 1), 0.375, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := k.Compute(ctx, tt.req)
			require.NoError(t, err)
			assert.InDelta(t, tt.value, res.Value, 1e-10)
			assert.Equal(t, tt.scale, res.ScaleFactor)
			assert.Equal(t, tt.req.Key, res.Key)
			assert.NotEmpty(t, res.ValueStr)
		})
	}
}

func TestIntegralKeyFunctionsAreLawful(t *testing.T) {
	k := NewIntegralKernel(DefaultCatalog(), 0)
	ctx := context.Background()

	eval := func(sub string, names []string, modes ...int) float64 {
		res, err := k.Compute(ctx, integralRequest("sliding", sub, names, modes...))
		require.NoError(t, err)
		return res.Value
	}

	assert.InDelta(t, eval("I4", quad4, 1, 2, 3, 2), eval("I4", quad4, 3, 2, 2, 1), 1e-12)
	assert.InDelta(t, eval("I5", quad4, 1, 2, 3, 2), eval("I5", quad4, 2, 1, 2, 3), 1e-12)
	assert.InDelta(t, eval("I2", pair, 2, 3), eval("I2", pair, 3, 2), 1e-12)
}

type countingIntegrator struct {
	values map[float64]float64
	calls  []float64
}

func (c *countingIntegrator) Integrate(_ *Integral, _ BeamType, _ []int, a float64) (float64, float64) {
	c.calls = append(c.calls, a)
	return c.values[a], 0
}

func TestIntegralKernelAuxiliaryLength(t *testing.T) {
	t.Run("auxiliary length derives scale", func(t *testing.T) {
		fake := &countingIntegrator{values: map[float64]float64{1: 3, 2: 12}}
		k := NewIntegralKernel(DefaultCatalog(), 0)
		k.Integrator = fake

		res, err := k.Compute(context.Background(), integralRequest("sliding", "I2", pair, 1, 1))
		require.NoError(t, err)
		assert.Equal(t, int8(2), res.ScaleFactor)
		assert.Equal(t, []float64{PrimaryLength, AuxiliaryLength}, fake.calls)
	})

	t.Run("resolved guess skips auxiliary length", func(t *testing.T) {
		fake := &countingIntegrator{values: map[float64]float64{1: 3}}
		k := NewIntegralKernel(DefaultCatalog(), 0)
		k.Integrator = fake

		res, err := k.Compute(context.Background(), integralRequest("sliding", "I1", pair, 1, 1))
		require.NoError(t, err)
		assert.Equal(t, int8(1), res.ScaleFactor)
		assert.Len(t, fake.calls, 1)
	})

	t.Run("near zero skips auxiliary length", func(t *testing.T) {
		fake := &countingIntegrator{values: map[float64]float64{1: 1e-12}}
		k := NewIntegralKernel(DefaultCatalog(), 0)
		k.Integrator = fake

		res, err := k.Compute(context.Background(), integralRequest("sliding", "I2", pair, 1, 2))
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Value)
		assert.Equal(t, int8(0), res.ScaleFactor)
		assert.Equal(t, "0", res.ValueStr)
		assert.Len(t, fake.calls, 1)
	})

	t.Run("undefined result", func(t *testing.T) {
		fake := &countingIntegrator{values: map[float64]float64{1: math.NaN()}}
		k := NewIntegralKernel(DefaultCatalog(), 0)
		k.Integrator = fake

		_, err := k.Compute(context.Background(), integralRequest("sliding", "I1", pair, 1, 1))
		var cerr *ComputationError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "I1", cerr.Sub)
	})
}

func TestIntegralKernelUnknown(t *testing.T) {
	k := NewIntegralKernel(DefaultCatalog(), 0)

	_, err := k.Compute(context.Background(), integralRequest("cantilever", "I1", pair, 1, 1))
	assert.Error(t, err)

	_, err = k.Compute(context.Background(), integralRequest("sliding", "I9", pair, 1, 1))
	assert.Error(t, err)
}

func TestCatalogOrdersParentsFirst(t *testing.T) {
	c := DefaultCatalog()
	seen := map[string]bool{}
	for _, i := range c.Integrals() {
		if i.Parent != "" {
			assert.True(t, seen[i.Parent], "%s listed before parent %s", i.ID, i.Parent)
		}
		seen[i.ID] = true
	}
	assert.Equal(t, []string{"simply_supported", "sliding"}, c.BeamIDs())
}
