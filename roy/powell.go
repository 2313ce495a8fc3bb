package roy

import (
	"math"
)

// powellStatus is the termination reason of powell.
type powellStatus uint8

const (
	powellConverged powellStatus = iota
	powellMaxFev
	powellMaxIter
	powellNaN
)

type powellResult struct {
	x      []float64
	f      float64
	iter   int
	nfev   int
	status powellStatus
}

// powell minimizes f with Powell's conjugate direction method, starting
// from x0.  Each iteration minimizes along every direction of the set in
// turn and then replaces the direction of largest decrease with the net
// displacement of the iteration.  Line minimizations use Brent's method
// with tolerance 100*xtol.  The search stops when the relative decrease
// of an iteration is below ftol, or when maxiter iterations or maxfev
// function evaluations are exceeded.
func powell(f func([]float64) float64, x0 []float64, xtol, ftol float64, maxiter, maxfev int) *powellResult {

	n := len(x0)

	var nfev int
	fun := func(x []float64) float64 {
		nfev++
		return f(x)
	}

	x := make([]float64, n)
	copy(x, x0)
	fval := fun(x)

	// The direction set starts as the coordinate axes.
	direc := make([][]float64, n)
	for i := range direc {
		direc[i] = make([]float64, n)
		direc[i][i] = 1
	}

	x1 := make([]float64, n)
	copy(x1, x)
	x2 := make([]float64, n)

	var iter int
	var status powellStatus

	for {
		fx := fval
		bigind := 0
		delta := 0.0

		for i := 0; i < n; i++ {
			fx2 := fval
			fval, _ = lineSearch(fun, x, direc[i], fval, 100*xtol)
			if fx2-fval > delta {
				delta = fx2 - fval
				bigind = i
			}
		}
		iter++

		if 2*(fx-fval) <= ftol*(math.Abs(fx)+math.Abs(fval))+1e-20 {
			break
		}
		if nfev >= maxfev {
			break
		}
		if iter >= maxiter {
			break
		}
		if math.IsNaN(fx) && math.IsNaN(fval) {
			break
		}

		// Extrapolate along the net displacement of this iteration.
		dir := make([]float64, n)
		for j := range x {
			dir[j] = x[j] - x1[j]
			x2[j] = 2*x[j] - x1[j]
		}
		copy(x1, x)
		fx2 := fun(x2)

		if fx > fx2 {
			t := 2 * (fx + fx2 - 2*fval)
			temp := fx - fval - delta
			t *= temp * temp
			temp = fx - fx2
			t -= delta * temp * temp
			if t < 0 {
				var step []float64
				fval, step = lineSearch(fun, x, dir, fval, 100*xtol)
				if anyNonZero(step) {
					direc[bigind] = direc[n-1]
					direc[n-1] = step
				}
			}
		}
	}

	switch {
	case nfev >= maxfev:
		status = powellMaxFev
	case iter >= maxiter:
		status = powellMaxIter
	case math.IsNaN(fval):
		status = powellNaN
	}

	return &powellResult{
		x:      x,
		f:      fval,
		iter:   iter,
		nfev:   nfev,
		status: status,
	}
}

func anyNonZero(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return true
		}
	}
	return false
}

// lineSearch minimizes f along dir starting at x, which is overwritten
// with the minimizer.  It returns the new function value and the step
// taken, alpha*dir.
func lineSearch(f func([]float64) float64, x, dir []float64, fx, tol float64) (float64, []float64) {

	n := len(x)
	xt := make([]float64, n)
	phi := func(alpha float64) float64 {
		for j := range x {
			xt[j] = x[j] + alpha*dir[j]
		}
		return f(xt)
	}

	a, b, c, fa, fb, fc := bracket(phi, 0, 1, fx)
	alpha, fmin := brent(phi, a, b, c, fa, fb, fc, tol)

	step := make([]float64, n)
	for j := range x {
		step[j] = alpha * dir[j]
		x[j] += step[j]
	}

	return fmin, step
}

// bracket searches downhill from a and b for a triple a, b, c with
// f(b) below f(a) and f(c).  fa is f(a).
func bracket(f func(float64) float64, a, b, fa float64) (float64, float64, float64, float64, float64, float64) {

	const (
		gold   = 1.618034
		glimit = 110
		tiny   = 1e-21
		maxit  = 1000
	)

	fb := f(b)
	if fb > fa {
		a, b = b, a
		fa, fb = fb, fa
	}
	c := b + gold*(b-a)
	fc := f(c)

	for it := 0; fb > fc && it < maxit; it++ {
		r := (b - a) * (fb - fc)
		q := (b - c) * (fb - fa)
		den := q - r
		if math.Abs(den) < tiny {
			den = math.Copysign(tiny, den)
		}
		u := b - ((b-c)*q-(b-a)*r)/(2*den)
		ulim := b + glimit*(c-b)

		var fu float64
		switch {
		case (b-u)*(u-c) > 0:
			// Parabolic u is between b and c.
			fu = f(u)
			if fu < fc {
				a, b = b, u
				fa, fb = fb, fu
				return a, b, c, fa, fb, fc
			} else if fu > fb {
				c, fc = u, fu
				return a, b, c, fa, fb, fc
			}
			u = c + gold*(c-b)
			fu = f(u)
		case (c-u)*(u-ulim) > 0:
			// Parabolic u is between c and its limit.
			fu = f(u)
			if fu < fc {
				b, c = c, u
				u = c + gold*(c-b)
				fb, fc = fc, fu
				fu = f(u)
			}
		case (u-ulim)*(ulim-c) >= 0:
			u = ulim
			fu = f(u)
		default:
			u = c + gold*(c-b)
			fu = f(u)
		}

		a, b, c = b, c, u
		fa, fb, fc = fb, fc, fu
	}

	return a, b, c, fa, fb, fc
}

// brent locates a minimum of f within the bracket (a, b, c), where fb is
// below fa and fc, to fractional precision tol.
func brent(f func(float64) float64, a, b, c, fa, fb, fc, tol float64) (float64, float64) {

	const (
		cgold = 0.3819660
		zeps  = 1e-11
		maxit = 500
	)

	lo, hi := math.Min(a, c), math.Max(a, c)
	x, w, v := b, b, b
	fx, fw, fv := fb, fb, fb

	// Keep the lowest bracket endpoint if it beats the midpoint.
	if fa < fx {
		x, fx = a, fa
	}
	if fc < fx {
		x, fx = c, fc
	}
	w, v, fw, fv = x, x, fx, fx

	var d, e float64

	for it := 0; it < maxit; it++ {
		xm := 0.5 * (lo + hi)
		tol1 := tol*math.Abs(x) + zeps
		tol2 := 2 * tol1
		if math.Abs(x-xm) <= tol2-0.5*(hi-lo) {
			break
		}

		golden := true
		if math.Abs(e) > tol1 {
			// Try a parabolic step.
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			etemp := e
			e = d
			if !(math.Abs(p) >= math.Abs(0.5*q*etemp) || p <= q*(lo-x) || p >= q*(hi-x)) {
				d = p / q
				u := x + d
				if u-lo < tol2 || hi-u < tol2 {
					d = math.Copysign(tol1, xm-x)
				}
				golden = false
			}
		}
		if golden {
			if x >= xm {
				e = lo - x
			} else {
				e = hi - x
			}
			d = cgold * e
		}

		u := x + d
		if math.Abs(d) < tol1 {
			u = x + math.Copysign(tol1, d)
		}
		fu := f(u)

		if fu <= fx {
			if u >= x {
				lo = x
			} else {
				hi = x
			}
			v, w, x = w, x, u
			fv, fw, fx = fw, fx, fu
		} else {
			if u < x {
				lo = u
			} else {
				hi = u
			}
			if fu <= fw || w == x {
				v, w = w, u
				fv, fw = fw, fu
			} else if fu <= fv || v == x || v == w {
				v, fv = u, fu
			}
		}
	}

	return x, fx
}
