package glm

import (
	"fmt"
)

// VarianceType is used to specify a GLM variance function.
type VarianceType uint8

// BinomialVar and ConstantVar are the supported variance functions.
const (
	BinomialVar VarianceType = iota
	ConstantVar
)

// NewVariance returns a new variance function object corresponding to
// the given type.
func NewVariance(vartype VarianceType) *Variance {

	switch vartype {
	case BinomialVar:
		return &binomVariance
	case ConstantVar:
		return &constVariance
	default:
		msg := fmt.Sprintf("Unknown variance function: %d\n", vartype)
		panic(msg)
	}
}

// Variance represents a GLM variance function.
type Variance struct {
	Name  string
	Var   VecFunc
	Deriv VecFunc
}

var binomVariance = Variance{
	Name:  "Binomial",
	Var:   binomVar,
	Deriv: binomVarDeriv,
}

var constVariance = Variance{
	Name:  "Constant",
	Var:   constVar,
	Deriv: constVarDeriv,
}

func binomVar(mn []float64, v []float64) {
	for i, p := range mn {
		v[i] = p * (1 - p)
	}
}

func binomVarDeriv(mn []float64, dv []float64) {
	for i, p := range mn {
		dv[i] = 1 - 2*p
	}
}

func constVar(mn []float64, v []float64) {
	one(v)
}

func constVarDeriv(mn []float64, v []float64) {
	zero(v)
}
