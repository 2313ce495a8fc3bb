package glm

import (
	"fmt"
	"math"

	"github.com/lnsongxf/roymodel/statmodel"
)

// FamilyType is the type of GLM family used in a model.
type FamilyType uint8

// BinomialFamily and GaussianFamily are families for a GLM.
const (
	BinomialFamily FamilyType = iota
	GaussianFamily
)

// LogLikeFunc evaluates and returns the log-likelihood for a GLM.  The arguments
// are the data, the mean values, the scale parameter, and the 'exact flag'.
// If the exact flag is false, additive terms that are constant with respect to
// the mean may be omitted.
type LogLikeFunc func([]statmodel.Dtype, []float64, float64, bool) float64

// DevianceFunc evaluates and returns the deviance for a GLM.  The arguments
// are the data, the mean values, and the scale parameter.
type DevianceFunc func([]statmodel.Dtype, []float64, float64) float64

// Family represents a generalized linear model family.
type Family struct {

	// The name of the family
	Name string

	// The numeric code for the family
	TypeCode FamilyType

	// The log-likelihood function for the family
	LogLike LogLikeFunc

	// The deviance function for the family
	Deviance DevianceFunc

	// The default variance function
	variance VarianceType

	// True if the scale parameter is fixed at 1
	fixedScale bool

	// The names of valid links for this family.  The first listed
	// link is the default.
	validLinks []LinkType
}

// NewFamily returns a family object corresponding to the given type.
func NewFamily(fam FamilyType) *Family {

	switch fam {
	case BinomialFamily:
		return &binomial
	case GaussianFamily:
		return &gaussian
	default:
		msg := fmt.Sprintf("Unknown family: %v\n", fam)
		panic(msg)
	}
}

var binomial = Family{
	Name:       "Binomial",
	TypeCode:   BinomialFamily,
	LogLike:    binomialLogLike,
	Deviance:   binomialDeviance,
	variance:   BinomialVar,
	fixedScale: true,
	validLinks: []LinkType{ProbitLink, IdentityLink},
}

var gaussian = Family{
	Name:       "Gaussian",
	TypeCode:   GaussianFamily,
	LogLike:    gaussianLogLike,
	Deviance:   gaussianDeviance,
	variance:   ConstantVar,
	validLinks: []LinkType{IdentityLink},
}

// IsValidLink returns true if the given link is valid for the family.
func (fam *Family) IsValidLink(link *Link) bool {

	for _, q := range fam.validLinks {
		if link.TypeCode == q {
			return true
		}
	}

	return false
}

func binomialLogLike(y []statmodel.Dtype, mn []float64, scale float64, exact bool) float64 {
	var ll float64
	for i := range y {
		r := mn[i]/(1-mn[i]) + 1e-200
		ll += y[i]*math.Log(r) + math.Log(1-mn[i])
	}
	return ll
}

func gaussianLogLike(y []statmodel.Dtype, mn []float64, scale float64, exact bool) float64 {
	var ll float64
	for i := range y {
		r := y[i] - mn[i]
		ll -= r * r / (2 * scale)
	}
	if exact {
		ll -= float64(len(y)) * math.Log(2*math.Pi*scale) / 2
	}
	return ll
}

func binomialDeviance(y []statmodel.Dtype, mn []float64, scale float64) float64 {

	var dev float64
	for i := range y {
		dev -= 2 * (y[i]*math.Log(mn[i]) + (1-y[i])*math.Log(1-mn[i]))
	}

	return dev
}

func gaussianDeviance(y []statmodel.Dtype, mn []float64, scale float64) float64 {

	var dev float64
	for i := range y {
		r := y[i] - mn[i]
		dev += r * r
	}
	dev /= scale

	return dev
}
