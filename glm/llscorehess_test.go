package glm

import (
	"testing"

	"github.com/lnsongxf/roymodel/statmodel"
	"gonum.org/v1/gonum/floats"
)

type ptlsh struct {
	family  *Family
	data    statmodel.Dataset
	xnames  []string
	params  []float64
	ll      float64
	score   []float64
	exphess []float64
	obshess []float64
}

// At zero coefficients every fitted probability is 1/2, so the probit
// score is 4*phi(0)*X'(y - 1/2) and both Hessians are -4*phi(0)^2*X'X.
var pq = []ptlsh{
	{
		family: NewFamily(BinomialFamily),
		data:   data2(),
		xnames: []string{"x1", "x2", "x3"},
		params: []float64{0, 0, 0},
		ll:     -4.85203026392,
		score:  []float64{-2.393653682, -1.595769122, -1.595769122},
		exphess: []float64{-4.456338407, -6.366197724, -5.092958179,
			-6.366197724, -54.74930042, 8.276057041,
			-5.092958179, 8.276057041, -21.64507226},
		obshess: []float64{-4.456338407, -6.366197724, -5.092958179,
			-6.366197724, -54.74930042, 8.276057041,
			-5.092958179, 8.276057041, -21.64507226},
	},
}

func TestLLScoreHess(t *testing.T) {

	for pj, ps := range pq {

		glm, err := NewGLM(ps.data, "y", ps.xnames, &Config{Family: ps.family})
		if err != nil {
			t.Fatal(err)
		}

		m := glm.NumParams()
		score := make([]float64, m)
		hess := make([]float64, m*m)

		ll := glm.LogLike(&GLMParams{ps.params, 1}, true)
		if !scalarClose(ll, ps.ll, 1e-5) {
			t.Errorf("LogLike %d: %v", pj, ll)
		}

		glm.Score(&GLMParams{ps.params, 1}, score)
		if !floats.EqualApprox(score, ps.score, 1e-5) {
			t.Errorf("Score %d: %v", pj, score)
		}

		glm.Hessian(&GLMParams{ps.params, 1}, statmodel.ExpHess, hess)
		if !floats.EqualApprox(hess, ps.exphess, 1e-5) {
			t.Errorf("Expected Hessian %d: %v", pj, hess)
		}

		glm.Hessian(&GLMParams{ps.params, 1}, statmodel.ObsHess, hess)
		if !floats.EqualApprox(hess, ps.obshess, 1e-5) {
			t.Errorf("Observed Hessian %d: %v", pj, hess)
		}
	}
}
