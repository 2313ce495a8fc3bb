package roy

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/lnsongxf/roymodel/statmodel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestPredictShortCircuit(t *testing.T) {

	p := smallParams(t)
	m, _ := simModel(t, p, smallLayout(), 200, 11, nil)

	bpost := p.ExPostBenefit()
	bante := m.Data().ExAnteBenefit(p)
	if !floats.Equal(bpost, bante) {
		t.Errorf("ex ante benefit %v differs from ex post benefit %v", bante, bpost)
	}

	// The result is a copy
	bante[0] = 99
	if p.ExPostBenefit()[0] == 99 {
		t.Errorf("prediction aliases the ex post benefit")
	}
}

func TestPredictProjection(t *testing.T) {

	p := postParams(t)
	m, _ := simModel(t, p, postLayout(), 500, 5, nil)
	dt := m.Data()

	bpost := p.ExPostBenefit()
	bante := dt.ExAnteBenefit(p)
	if len(bante) != 2 {
		t.Fatalf("expected 2 ex ante coefficients, got %d", len(bante))
	}

	// The residual X_post b_post - X_ante b_ante is orthogonal to X_ante.
	var fpost, fante, resid, score mat.VecDense
	fpost.MulVec(dt.XPost(), mat.NewVecDense(3, bpost))
	fante.MulVec(dt.XAnte(), mat.NewVecDense(2, bante))
	resid.SubVec(&fpost, &fante)
	score.MulVec(dt.XAnte().T(), &resid)

	for j := 0; j < score.Len(); j++ {
		if !scalarClose(score.AtVec(j), 0, 1e-8) {
			t.Errorf("normal equation %d: %v", j, score.AtVec(j))
		}
	}
}

func TestChoiceCoeffs(t *testing.T) {

	p := postParams(t)
	m, _ := simModel(t, p, postLayout(), 200, 5, nil)
	dt := m.Data()

	// Z holds intercept, x2 (ex ante benefit columns) and x3 (cost only).
	bante := dt.ExAnteBenefit(p)
	cost := p.CostCoeffs()
	gamma := dt.ChoiceCoeffs(p)
	expected := []float64{bante[0] - cost[0], bante[1] - cost[1], -cost[2]}
	if !floats.EqualApprox(gamma, expected, 1e-12) {
		t.Errorf("choice coefficients %v, expected %v", gamma, expected)
	}
}

func TestDataErrors(t *testing.T) {

	_, sim := simModel(t, smallParams(t), smallLayout(), 100, 3, nil)
	ds := sim.Data

	for _, tc := range []struct {
		title  string
		layout Layout
	}{
		{"outcome as regressor", Layout{Outcome: 0, Treatment: 1, Benefit: []int{Intercept, 0},
			AnteKnown: []bool{true, true}, Cost: []int{3}}},
		{"treatment as cost", Layout{Outcome: 0, Treatment: 1, Benefit: []int{Intercept, 2},
			AnteKnown: []bool{true, true}, Cost: []int{1}}},
		{"cost not ante", Layout{Outcome: 0, Treatment: 1, Benefit: []int{Intercept, 2, 3},
			AnteKnown: []bool{true, true, false}, Cost: []int{3}}},
		{"out of range", Layout{Outcome: 0, Treatment: 1, Benefit: []int{Intercept, 50},
			AnteKnown: []bool{true, true}, Cost: []int{3}}},
		{"no choice regressor", Layout{Outcome: 0, Treatment: 1, Benefit: []int{Intercept, 2},
			AnteKnown: []bool{true, false}, Cost: []int{Intercept}}},
		{"duplicate", Layout{Outcome: 0, Treatment: 1, Benefit: []int{2, 2},
			AnteKnown: []bool{true, true}, Cost: []int{3}}},
		{"same outcome and treatment", Layout{Outcome: 1, Treatment: 1, Benefit: []int{Intercept, 2},
			AnteKnown: []bool{true, true}, Cost: []int{3}}},
	} {
		if _, err := NewData(ds, tc.layout, nil); !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("%s: expected ErrConfigInvalid, got %v", tc.title, err)
		}
	}

	// A treatment column that is not binary
	cols := ds.Data()
	bad := append([]float64(nil), cols[1]...)
	bad[0] = 0.5
	nd := statmodel.NewDataset([][]statmodel.Dtype{cols[0], bad, cols[2], cols[3]}, ds.Names()[:4])
	if _, err := NewData(nd, smallLayout(), nil); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestEvaluationPoint(t *testing.T) {

	m, _ := simModel(t, postParams(t), postLayout(), 300, 9, nil)
	dt := m.Data()

	for _, x := range []struct {
		ma   mat.Matrix
		mean []float64
	}{
		{dt.XPost(), dt.XPostMean()},
		{dt.XAnte(), dt.XAnteMean()},
		{dt.G(), dt.GMean()},
		{dt.Z(), dt.ZMean()},
	} {
		r, c := x.ma.Dims()
		for j := 0; j < c; j++ {
			col := mat.Col(nil, j, x.ma)
			if !scalarClose(floats.Sum(col)/float64(r), x.mean[j], 1e-12) {
				t.Errorf("column %d: mean %v, stored %v", j, floats.Sum(col)/float64(r), x.mean[j])
			}
		}
	}
}

func TestSupport(t *testing.T) {

	for _, seed := range []uint64{1, 2, 3} {
		m, _ := simModel(t, postParams(t), postLayout(), 400, seed, nil)
		lo, hi := m.Data().Support()

		if !(0 <= lo && lo <= hi && hi <= 1) {
			t.Errorf("support [%v, %v]", lo, hi)
		}
		for _, v := range []float64{lo, hi} {
			if !scalarClose(v, round2(v), 1e-12) {
				t.Errorf("support bound %v is not rounded to two decimals", v)
			}
		}
		if len(m.Data().Propensity()) != 400 {
			t.Errorf("%d propensity scores", len(m.Data().Propensity()))
		}
	}
}

func TestPropensityLog(t *testing.T) {

	sim, err := Simulate(smallParams(t), nil, smallLayout(), &SimConfig{Agents: 200, Seed: 4})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := NewData(sim.Data, smallLayout(), &DataConfig{Log: log.New(&buf, "", 0)}); err != nil {
		t.Fatal(err)
	}

	s := buf.String()
	for _, x := range []string{"Propensity score", "Generalized linear model analysis", "Probit"} {
		if !strings.Contains(s, x) {
			t.Errorf("log does not contain %q:\n%s", x, s)
		}
	}
}
