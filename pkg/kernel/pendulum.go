package kernel

import (
	"context"
	"errors"
	"math"

	"github.com/cuemby/sweep/pkg/types"
)

// Gravity is the gravitational acceleration (m.s-2)
const Gravity = 9.81

// PendulumParams are the fixed physical parameters of the pendulum sweep
type PendulumParams struct {
	L1   float64 `yaml:"l1" json:"l1"`
	L2   float64 `yaml:"l2" json:"l2"`
	M1   float64 `yaml:"m1" json:"m1"`
	M2   float64 `yaml:"m2" json:"m2"`
	TMax float64 `yaml:"tmax" json:"tmax"`
	Dt   float64 `yaml:"dt" json:"dt"`
}

// DefaultPendulumParams returns unit lengths and masses over 30s at 0.01s
func DefaultPendulumParams() PendulumParams {
	return PendulumParams{L1: 1, L2: 1, M1: 1, M2: 1, TMax: 30, Dt: 0.01}
}

// Pendulum integrates the double pendulum from rest at the tuple's initial
// angles and reports the final angles
type Pendulum struct {
	Params PendulumParams
}

// NewPendulum creates a pendulum kernel
func NewPendulum(p PendulumParams) *Pendulum {
	return &Pendulum{Params: p}
}

// Compute implements Kernel. Outputs holds the final theta1 and theta2.
func (p *Pendulum) Compute(ctx context.Context, req Request) (*types.TaskResult, error) {
	theta1, theta2, err := p.Solve(ctx, req.Tuple.Value("theta1"), req.Tuple.Value("theta2"))
	if err != nil {
		return nil, &ComputationError{Sub: req.Sub, Tuple: req.Tuple, Err: err}
	}
	return &types.TaskResult{
		Key:      req.Key,
		Tuple:    req.Tuple,
		Value:    theta1,
		ValueStr: FormatValue(theta1, 0),
		ErrorStr: FormatValue(0, 0),
		Outputs:  []float64{theta1, theta2},
	}, nil
}

// Solve runs a fixed step RK4 integration over t = 0, dt, ..., tmax with
// both angular velocities starting at zero
func (p *Pendulum) Solve(ctx context.Context, theta1, theta2 float64) (float64, float64, error) {
	if p.Params.Dt <= 0 {
		return 0, 0, errors.New("dt must be positive")
	}
	steps := int(math.Round(p.Params.TMax / p.Params.Dt))
	y := [4]float64{theta1, 0, theta2, 0}
	h := p.Params.Dt

	for i := 0; i < steps; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
		}
		k1 := p.deriv(y)
		k2 := p.deriv(axpy(y, k1, h/2))
		k3 := p.deriv(axpy(y, k2, h/2))
		k4 := p.deriv(axpy(y, k3, h))
		for j := range y {
			y[j] += h / 6 * (k1[j] + 2*k2[j] + 2*k3[j] + k4[j])
		}
	}

	if undefined(y[0]) || undefined(y[2]) {
		return 0, 0, errors.New("integration diverged")
	}
	return y[0], y[2], nil
}

// Energy returns the total mechanical energy of state y = (theta1, z1, theta2, z2)
func (p *Pendulum) Energy(y [4]float64) float64 {
	L1, L2, m1, m2 := p.Params.L1, p.Params.L2, p.Params.M1, p.Params.M2
	th1, z1, th2, z2 := y[0], y[1], y[2], y[3]
	kinetic := 0.5*(m1+m2)*L1*L1*z1*z1 + 0.5*m2*L2*L2*z2*z2 + m2*L1*L2*z1*z2*math.Cos(th1-th2)
	potential := -(m1+m2)*L1*Gravity*math.Cos(th1) - m2*L2*Gravity*math.Cos(th2)
	return kinetic + potential
}

// deriv returns the first derivatives of y = theta1, z1, theta2, z2
func (p *Pendulum) deriv(y [4]float64) [4]float64 {
	L1, L2, m1, m2 := p.Params.L1, p.Params.L2, p.Params.M1, p.Params.M2
	th1, z1, th2, z2 := y[0], y[1], y[2], y[3]
	c, s := math.Cos(th1-th2), math.Sin(th1-th2)

	z1dot := (m2*Gravity*math.Sin(th2)*c - m2*s*(L1*z1*z1*c+L2*z2*z2) -
		(m1+m2)*Gravity*math.Sin(th1)) / L1 / (m1 + m2*s*s)
	z2dot := ((m1+m2)*(L1*z1*z1*s-Gravity*math.Sin(th2)+Gravity*math.Sin(th1)*c) +
		m2*L2*z2*z2*s*c) / L2 / (m1 + m2*s*s)

	return [4]float64{z1, z1dot, z2, z2dot}
}

func axpy(y, k [4]float64, h float64) [4]float64 {
	var out [4]float64
	for i := range y {
		out[i] = y[i] + h*k[i]
	}
	return out
}
