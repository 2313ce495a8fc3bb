package roy

import (
	"fmt"
	"math"
)

const (
	// maxExternal caps external values of bounded entries before they
	// are mapped back to the internal scale.
	maxExternal = 10

	// boundNudge is the distance by which an internal value sitting on
	// a bound is moved into the interior.
	boundNudge = 0.01
)

// Bounds holds the optional lower and upper bounds of a parameter.
type Bounds struct {
	Lower    float64
	Upper    float64
	HasLower bool
	HasUpper bool
}

// NoBounds returns an unbounded interval.
func NoBounds() Bounds {
	return Bounds{}
}

// LowerBound returns the interval (l, +Inf).
func LowerBound(l float64) Bounds {
	return Bounds{Lower: l, HasLower: true}
}

// UpperBound returns the interval (-Inf, u).
func UpperBound(u float64) Bounds {
	return Bounds{Upper: u, HasUpper: true}
}

// Interval returns the interval (l, u).
func Interval(l, u float64) Bounds {
	return Bounds{Lower: l, Upper: u, HasLower: true, HasUpper: true}
}

// SDBounds and CorrBounds are the bounds placed on standard deviations
// and correlations.
var (
	SDBounds   = LowerBound(0.01)
	CorrBounds = Interval(-0.99, 0.99)
)

// Bounded reports whether at least one bound is present.
func (b Bounds) Bounded() bool {
	return b.HasLower || b.HasUpper
}

// Contains reports whether v lies in the closed interval.
func (b Bounds) Contains(v float64) bool {
	if b.HasLower && v < b.Lower {
		return false
	}
	if b.HasUpper && v > b.Upper {
		return false
	}
	return true
}

func (b Bounds) String() string {
	lo, hi := "none", "none"
	if b.HasLower {
		lo = fmt.Sprintf("%g", b.Lower)
	}
	if b.HasUpper {
		hi = fmt.Sprintf("%g", b.Upper)
	}
	return fmt.Sprintf("(%s, %s)", lo, hi)
}

// nudge moves an internal value that sits on (or beyond) a bound into
// the interior of the interval.
func (b Bounds) nudge(v float64) float64 {
	if b.HasLower && v <= b.Lower {
		v = b.Lower + boundNudge
	}
	if b.HasUpper && v >= b.Upper {
		v = b.Upper - boundNudge
	}
	return v
}

// ToExternal maps an internal value to the unconstrained scale seen by
// the optimizer.
func (b Bounds) ToExternal(v float64) float64 {

	v = b.nudge(v)

	switch {
	case b.HasLower && b.HasUpper:
		t := (v - b.Lower) / (b.Upper - b.Lower)
		return math.Log(t / (1 - t))
	case b.HasLower:
		return math.Log(v - b.Lower)
	case b.HasUpper:
		return math.Log(b.Upper - v)
	default:
		return v
	}
}

// ToInternal maps an unconstrained value back to the bounded scale.
func (b Bounds) ToInternal(e float64) float64 {

	if !b.Bounded() {
		return e
	}

	e = math.Min(e, maxExternal)

	var v float64
	switch {
	case b.HasLower && b.HasUpper:
		v = b.Lower + (b.Upper-b.Lower)/(1+math.Exp(-e))
	case b.HasLower:
		v = b.Lower + math.Exp(e)
	default:
		v = b.Upper - math.Exp(e)
	}

	return b.nudge(v)
}
