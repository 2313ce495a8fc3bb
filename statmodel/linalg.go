package statmodel

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// PinvRcond is the relative cutoff for small singular values used by Pinv.
const PinvRcond = 1e-15

// Pinv returns the Moore-Penrose pseudo-inverse of a, computed from
// its thin singular value decomposition.  Singular values at or below
// PinvRcond times the largest singular value are treated as zero.
func Pinv(a mat.Matrix) (*mat.Dense, error) {

	r, c := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("pinv: SVD factorization failed")
	}

	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cut := 0.0
	if len(s) > 0 {
		cut = PinvRcond * floats.Max(s)
	}

	// Scale the columns of V by the reciprocal singular values.
	for k, sv := range s {
		f := 0.0
		if sv > cut {
			f = 1 / sv
		}
		for i := 0; i < c; i++ {
			v.Set(i, k, v.At(i, k)*f)
		}
	}

	pinv := mat.NewDense(c, r, nil)
	pinv.Mul(&v, u.T())

	return pinv, nil
}

// ColMeans returns the mean of each column of m.
func ColMeans(m mat.Matrix) []float64 {

	r, c := m.Dims()
	means := make([]float64, c)
	if r == 0 {
		return means
	}

	for j := 0; j < c; j++ {
		var s float64
		for i := 0; i < r; i++ {
			s += m.At(i, j)
		}
		means[j] = s / float64(r)
	}

	return means
}
