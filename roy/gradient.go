package roy

import (
	"fmt"

	"gonum.org/v1/gonum/diff/fd"
)

// Differences is the finite difference scheme used for gradients.
type Differences uint8

// OneSided uses forward differences, TwoSided central differences.
const (
	OneSided Differences = iota
	TwoSided
)

func (d Differences) String() string {
	if d == TwoSided {
		return "two-sided"
	}
	return "one-sided"
}

// Gradient approximates the gradient of f at x by finite differences
// with step eps, storing the result in dst.  If dst is nil a new slice is
// allocated.  The function is evaluated serially.
func Gradient(dst []float64, f func([]float64) float64, x []float64, scheme Differences, eps float64) []float64 {

	if dst == nil {
		dst = make([]float64, len(x))
	}
	if len(dst) != len(x) {
		panic(fmt.Sprintf("Gradient: dst has length %d, x has length %d\n", len(dst), len(x)))
	}

	settings := &fd.Settings{
		Formula: fd.Forward,
		Step:    eps,
	}
	if scheme == TwoSided {
		settings.Formula = fd.Central
	}

	fd.Gradient(dst, f, x, settings)

	return dst
}

// Gradient returns the finite difference gradient of the objective at
// the free external parameters x.  The parameter store is left at x.
func (m *Model) Gradient(x []float64, scheme Differences, eps float64) []float64 {
	g := Gradient(nil, m.Objective, x, scheme, eps)
	m.Objective(x)
	return g
}
