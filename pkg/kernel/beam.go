package kernel

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate/quad"

	"github.com/cuemby/sweep/pkg/cachekey"
	"github.com/cuemby/sweep/pkg/types"
)

// BeamType is a family of beam mode shapes Y_m(x) on [0, a]
type BeamType struct {
	ID   string
	Name string
	// Shape returns the d-th derivative of Y_m at x for a beam of length a
	Shape func(m int, a, x float64, d int) float64
}

// SimplySupported has mode shapes sin(m*pi*x/a)
var SimplySupported = BeamType{
	ID:   "simply_supported",
	Name: "Simply supported",
	Shape: func(m int, a, x float64, d int) float64 {
		k := float64(m) * math.Pi / a
		kd := math.Pow(k, float64(d))
		switch d % 4 {
		case 0:
			return kd * math.Sin(k*x)
		case 1:
			return kd * math.Cos(k*x)
		case 2:
			return -kd * math.Sin(k*x)
		default:
			return -kd * math.Cos(k*x)
		}
	},
}

// Sliding has mode shapes cos(m*pi*x/a)
var Sliding = BeamType{
	ID:   "sliding",
	Name: "Clamped sliding",
	Shape: func(m int, a, x float64, d int) float64 {
		k := float64(m) * math.Pi / a
		kd := math.Pow(k, float64(d))
		switch d % 4 {
		case 0:
			return kd * math.Cos(k*x)
		case 1:
			return -kd * math.Sin(k*x)
		case 2:
			return -kd * math.Cos(k*x)
		default:
			return kd * math.Sin(k*x)
		}
	},
}

// Integral describes one sub-computation of the beam sweep: an integral of
// a product of mode shape derivatives over the beam length
type Integral struct {
	ID        string
	Variables []string
	// Derivatives holds the derivative order applied to each variable's mode shape
	Derivatives []int
	// Parent names an integral whose results this one shares verbatim
	Parent string
	Key    cachekey.Func
	// Scale guesses how the integral scales with beam length. Unresolvable
	// triggers a second integral at the auxiliary length.
	Scale func(tuple types.ParameterTuple) ScaleFactor
}

func (i *Integral) integrand(beam BeamType, modes []int, a float64) func(float64) float64 {
	return func(x float64) float64 {
		v := 1.0
		for j, m := range modes {
			v *= beam.Shape(m, a, x, i.Derivatives[j])
		}
		return v
	}
}

func resolvedScale(v int8) func(types.ParameterTuple) ScaleFactor {
	return func(types.ParameterTuple) ScaleFactor { return Resolved(v) }
}

func unresolvableScale(types.ParameterTuple) ScaleFactor { return Unresolvable }

// Catalog is the registry of beam types and integrals
type Catalog struct {
	beams     map[string]BeamType
	integrals map[string]*Integral
}

// DefaultCatalog returns the simply supported and sliding beams together
// with integrals I1 to I5
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.AddBeam(SimplySupported)
	c.AddBeam(Sliding)

	c.AddIntegral(&Integral{
		ID: "I1", Variables: []string{"m", "n"}, Derivatives: []int{0, 0},
		Key: cachekey.Symmetric, Scale: resolvedScale(1),
	})
	c.AddIntegral(&Integral{
		ID: "I2", Variables: []string{"m", "n"}, Derivatives: []int{2, 0},
		Key: cachekey.Symmetric, Scale: unresolvableScale,
	})
	c.AddIntegral(&Integral{
		ID: "I3", Variables: []string{"m", "n"}, Derivatives: []int{0, 2},
		Parent: "I2", Key: cachekey.Symmetric, Scale: unresolvableScale,
	})
	c.AddIntegral(&Integral{
		ID: "I4", Variables: []string{"m", "t", "v", "n"}, Derivatives: []int{0, 0, 0, 0},
		Key: cachekey.Symmetric, Scale: resolvedScale(1),
	})
	c.AddIntegral(&Integral{
		ID: "I5", Variables: []string{"m", "t", "v", "n"}, Derivatives: []int{1, 1, 0, 0},
		Key: cachekey.PairSymmetric, Scale: unresolvableScale,
	})
	return c
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		beams:     make(map[string]BeamType),
		integrals: make(map[string]*Integral),
	}
}

// AddBeam registers a beam type
func (c *Catalog) AddBeam(b BeamType) {
	c.beams[b.ID] = b
}

// AddIntegral registers an integral
func (c *Catalog) AddIntegral(i *Integral) {
	c.integrals[i.ID] = i
}

// Beam looks up a beam type
func (c *Catalog) Beam(id string) (BeamType, error) {
	b, ok := c.beams[id]
	if !ok {
		return BeamType{}, fmt.Errorf("unknown beam type: %s", id)
	}
	return b, nil
}

// Integral looks up an integral
func (c *Catalog) Integral(id string) (*Integral, error) {
	i, ok := c.integrals[id]
	if !ok {
		return nil, fmt.Errorf("unknown integral: %s", id)
	}
	return i, nil
}

// BeamIDs returns the registered beam type IDs in sorted order
func (c *Catalog) BeamIDs() []string {
	ids := make([]string, 0, len(c.beams))
	for id := range c.beams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Integrals returns the registered integrals with every parent ordered
// before its children
func (c *Catalog) Integrals() []*Integral {
	ids := make([]string, 0, len(c.integrals))
	for id := range c.integrals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	list := make([]*Integral, 0, len(ids))
	for _, id := range ids {
		list = append(list, c.integrals[id])
	}
	return list
}

// Integrator evaluates an integral numerically for beam length a, returning
// the value and an estimate of its absolute error
type Integrator interface {
	Integrate(integral *Integral, beam BeamType, modes []int, a float64) (value, err float64)
}

// GaussLegendre integrates with fixed order Gauss-Legendre quadrature and
// estimates the error by comparing against twice the node count
type GaussLegendre struct {
	// Nodes is the quadrature order. Zero selects an order from the highest mode.
	Nodes int
}

// Integrate implements Integrator
func (g GaussLegendre) Integrate(integral *Integral, beam BeamType, modes []int, a float64) (float64, float64) {
	n := g.Nodes
	if n <= 0 {
		highest := 0
		for _, m := range modes {
			highest += m
		}
		n = 32 + 8*highest
	}
	f := integral.integrand(beam, modes, a)
	coarse := quad.Fixed(f, 0, a, n, quad.Legendre{}, 0)
	fine := quad.Fixed(f, 0, a, 2*n, quad.Legendre{}, 0)
	return fine, math.Abs(fine - coarse)
}
