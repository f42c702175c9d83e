package kernel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cuemby/sweep/pkg/types"
)

const (
	// PrimaryLength is the beam length every integral is evaluated at
	PrimaryLength = 1.0
	// AuxiliaryLength is the auxiliary length used to infer a scale factor
	AuxiliaryLength = 2.0
	// DefaultZeroThreshold is the magnitude below which a result is zero
	DefaultZeroThreshold = 1e-9
)

// IntegralKernel evaluates beam integrals. The request's Partition names the
// beam type and Sub names the integral.
type IntegralKernel struct {
	Catalog    *Catalog
	Integrator Integrator
	// ZeroThreshold normalizes results with smaller magnitude to zero
	ZeroThreshold float64
	// Precision is the number of significant digits in the string forms.
	// Zero gives the shortest round-trip representation.
	Precision int
}

// NewIntegralKernel creates an integral kernel over the given catalog
func NewIntegralKernel(catalog *Catalog, precision int) *IntegralKernel {
	return &IntegralKernel{
		Catalog:       catalog,
		Integrator:    GaussLegendre{},
		ZeroThreshold: DefaultZeroThreshold,
		Precision:     precision,
	}
}

// Compute implements Kernel
func (k *IntegralKernel) Compute(ctx context.Context, req Request) (*types.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	beam, err := k.Catalog.Beam(BeamID(req.Partition))
	if err != nil {
		return nil, err
	}
	integral, err := k.Catalog.Integral(req.Sub)
	if err != nil {
		return nil, err
	}

	modes := req.Tuple.Ints(integral.Variables...)
	for _, m := range modes {
		if m < 1 {
			return nil, &ComputationError{Sub: req.Sub, Tuple: req.Tuple, Err: fmt.Errorf("mode %d out of range", m)}
		}
	}

	value, estimate := k.Integrator.Integrate(integral, beam, modes, PrimaryLength)
	if undefined(value) || undefined(estimate) {
		return nil, &ComputationError{Sub: req.Sub, Tuple: req.Tuple, Err: errors.New("undefined result")}
	}

	var scale int8
	if math.Abs(value) <= k.ZeroThreshold {
		value, estimate = 0, 0
	} else {
		s, resolved := integral.Scale(req.Tuple).Get()
		if !resolved {
			aux, _ := k.Integrator.Integrate(integral, beam, modes, AuxiliaryLength)
			if undefined(aux) || aux == 0 {
				return nil, &ComputationError{Sub: req.Sub, Tuple: req.Tuple, Err: errors.New("auxiliary integral failed")}
			}
			s = int8(math.Round(math.Log2(aux / value)))
		}
		scale = s
	}

	return &types.TaskResult{
		Key:         req.Key,
		Tuple:       req.Tuple,
		Value:       value,
		Error:       estimate,
		ValueStr:    FormatValue(value, k.Precision),
		ErrorStr:    FormatValue(estimate, k.Precision),
		ScaleFactor: scale,
	}, nil
}

// BeamPartition names the partition holding a beam type's integrals
func BeamPartition(beamID string) types.PartitionKey {
	return types.PartitionKey("beam:" + beamID)
}

// BeamID extracts the beam type from a partition key
func BeamID(p types.PartitionKey) string {
	return strings.TrimPrefix(string(p), "beam:")
}
