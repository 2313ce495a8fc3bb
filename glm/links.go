package glm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// VecFunc is a function with two float64 array arguments.
type VecFunc func([]float64, []float64)

// Link specifies a GLM link function.
type Link struct {
	Name string

	TypeCode LinkType

	// Link calculates the link function (usually mapping the mean
	// value to the linear predictor).
	Link VecFunc

	// InvLink calculates the inverse of the link function
	// (usually mapping the linear predictor to the mean value).
	InvLink VecFunc

	// Deriv calculates the derivative of the link function.
	Deriv VecFunc

	// Deriv2 calculates the second derivative of the link function.
	Deriv2 VecFunc
}

// LinkType is used to specify a GLM link function.
type LinkType uint8

// IdentityLink and ProbitLink indicate the supported link functions.
const (
	IdentityLink LinkType = iota
	ProbitLink
)

// NewLink returns a link function object corresponding to the given
// type.
func NewLink(link LinkType) *Link {

	switch link {
	case IdentityLink:
		return &idLink
	case ProbitLink:
		return &probitLink
	default:
		msg := fmt.Sprintf("Link unknown: %v\n", link)
		panic(msg)
	}
}

var idLink = Link{
	Name:     "Identity",
	TypeCode: IdentityLink,
	Link:     idFunc,
	InvLink:  idFunc,
	Deriv:    idDerivFunc,
	Deriv2:   idDeriv2Func,
}

var probitLink = Link{
	Name:     "Probit",
	TypeCode: ProbitLink,
	Link:     probitFunc,
	InvLink:  probitInvFunc,
	Deriv:    probitDerivFunc,
	Deriv2:   probitDeriv2Func,
}

func idFunc(x []float64, y []float64) {
	copy(y, x)
}

func idDerivFunc(x []float64, y []float64) {
	one(y)
}

func idDeriv2Func(x []float64, y []float64) {
	zero(y)
}

// probitEps keeps fitted probabilities away from 0 and 1, where the
// probit link and the binomial log-likelihood are infinite.
const probitEps = 1e-12

func probitFunc(x []float64, y []float64) {
	for i, v := range x {
		y[i] = distuv.UnitNormal.Quantile(v)
	}
}

func probitInvFunc(x []float64, y []float64) {
	for i, v := range x {
		p := distuv.UnitNormal.CDF(v)
		y[i] = math.Min(math.Max(p, probitEps), 1-probitEps)
	}
}

// The derivative of the quantile function is 1 / phi(q(p)).
func probitDerivFunc(x []float64, y []float64) {
	for i, v := range x {
		q := distuv.UnitNormal.Quantile(v)
		y[i] = 1 / distuv.UnitNormal.Prob(q)
	}
}

func probitDeriv2Func(x []float64, y []float64) {
	for i, v := range x {
		q := distuv.UnitNormal.Quantile(v)
		d := distuv.UnitNormal.Prob(q)
		y[i] = q / (d * d)
	}
}
