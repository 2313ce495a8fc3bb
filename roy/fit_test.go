package roy

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

func TestZeroIterations(t *testing.T) {

	p := smallParams(t)
	m, _ := simModel(t, p, smallLayout(), 200, 42, nil)
	start := p.Values(External, Free)

	config := DefaultFitConfig()
	config.MaxIter = 0

	rslt, err := m.Fit(config)
	if err != nil {
		t.Fatal(err)
	}

	if !floats.Equal(rslt.X, start) {
		t.Errorf("x %v, expected the starting values %v", rslt.X, start)
	}
	if rslt.Success {
		t.Errorf("expected success to be false")
	}
	if rslt.Message.String() != "single function evaluation at starting values" {
		t.Errorf("message %q", rslt.Message)
	}
	if f := m.FastObjective(start); rslt.F != f || rslt.StartF != f {
		t.Errorf("function value %v, expected %v", rslt.F, f)
	}
	if len(rslt.Grad) != len(start) || !allFinite(rslt.Grad) {
		t.Errorf("gradient %v", rslt.Grad)
	}
	if rslt.CovMat != nil {
		t.Errorf("covariance without asymptotics")
	}
	if !errors.Is(rslt.Err(), ErrNonConvergence) {
		t.Errorf("expected ErrNonConvergence, got %v", rslt.Err())
	}
}

func TestGradient(t *testing.T) {

	f := func(x []float64) float64 {
		return x[0]*x[0] + 3*x[0]*x[1] + math.Exp(x[1])
	}
	x := []float64{0.5, -0.3}
	expected := []float64{2*x[0] + 3*x[1], 3*x[0] + math.Exp(x[1])}

	g1 := Gradient(nil, f, x, OneSided, 1.4901161193847656e-08)
	g2 := Gradient(nil, f, x, TwoSided, 1e-5)
	if !floats.EqualApprox(g1, expected, 1e-6) {
		t.Errorf("one-sided gradient %v, expected %v", g1, expected)
	}
	if !floats.EqualApprox(g2, expected, 1e-9) {
		t.Errorf("two-sided gradient %v, expected %v", g2, expected)
	}
}

func TestModelGradient(t *testing.T) {

	p := postParams(t)
	m, _ := simModel(t, p, postLayout(), 300, 13, nil)
	x := p.Values(External, Free)

	g := m.Gradient(x, TwoSided, 1e-5)

	// The store is left at x
	if !floats.EqualApprox(m.Params().Values(External, Free), x, 1e-12) {
		t.Errorf("gradient moved the parameter store")
	}

	// Cross-check on a separate model, since the raw objective leaves
	// the store at the last evaluated point.
	slow, err := NewModel(p.Clone(), m.Data(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ng := make([]float64, len(x))
	fd.Gradient(ng, slow.SlowObjective, x, &fd.Settings{Formula: fd.Central, Step: 1e-5})
	if !floats.EqualApprox(g, ng, 1e-8) {
		t.Errorf("gradient %v, slow gradient %v", g, ng)
	}
	if !floats.EqualApprox(m.Params().Values(External, Free), x, 1e-12) {
		t.Errorf("slow cross-check moved the parameter store")
	}
}

func TestFitBFGS(t *testing.T) {

	p := postParams(t)
	m, _ := simModel(t, p, postLayout(), 2000, 17, nil)

	// Start away from the truth
	x := p.Values(External, Free)
	for j := range x {
		x[j] += 0.1
	}
	if err := m.Params().Update(x, External, Free); err != nil {
		t.Fatal(err)
	}

	config := DefaultFitConfig()
	config.Asymptotics = true
	rslt, err := m.Fit(config)
	if err != nil {
		t.Fatal(err)
	}

	if !(rslt.F < rslt.StartF) {
		t.Errorf("no decrease: %v to %v", rslt.StartF, rslt.F)
	}
	if !allFinite(rslt.Grad) {
		t.Errorf("gradient %v", rslt.Grad)
	}
	if rslt.NumIter == 0 || rslt.NumFuncEvals == 0 {
		t.Errorf("%d iterations, %d evaluations", rslt.NumIter, rslt.NumFuncEvals)
	}
	if !floats.EqualApprox(m.Params().Values(External, Free), rslt.X, 1e-12) {
		t.Errorf("store does not hold the optimum")
	}

	// The outcome intercepts are well determined.
	b1 := m.Params().Outcome(Treated)
	b0 := m.Params().Outcome(Untreated)
	if !scalarClose(b1[0], 1.0, 0.25) || !scalarClose(b0[0], 0.5, 0.25) {
		t.Errorf("intercepts %v %v", b1[0], b0[0])
	}

	if rslt.CovMat == nil {
		t.Fatal("no covariance matrix")
	}
	if r := rslt.CovMat.SymmetricDim(); r != len(rslt.X) {
		t.Errorf("covariance has dimension %d", r)
	}
	if rslt.HessianUsed != HessianBFGS {
		t.Errorf("covariance from %s", rslt.HessianUsed)
	}
}

// powellModel has free outcome coefficients only.
func powellModel(t *testing.T) *Model {

	p := postParams(t)
	m, _ := simModel(t, p, postLayout(), 1000, 19, nil)

	q := buildParams(t, []testEntry{
		{Outcome, Treated, Intercept, 0.8, true, NoBounds()},
		{Outcome, Treated, 2, 0.5, false, NoBounds()},
		{Outcome, Treated, 4, 0.2, true, NoBounds()},
		{Outcome, Untreated, Intercept, 0.7, true, NoBounds()},
		{Outcome, Untreated, 2, 0.2, false, NoBounds()},
		{Outcome, Untreated, 4, 0.1, true, NoBounds()},
		{Cost, NoGroup, Intercept, 0.3, false, NoBounds()},
		{Cost, NoGroup, 2, 0.1, false, NoBounds()},
		{Cost, NoGroup, 3, -0.6, false, NoBounds()},
		{SD, U1, 0, 1, false, SDBounds},
		{SD, U0, 0, 1, false, SDBounds},
		{SD, V, 0, 1, false, SDBounds},
		{Correlation, U1V, 0, 0.4, false, CorrBounds},
		{Correlation, U0V, 0, -0.3, false, CorrBounds},
	})

	m2, err := NewModel(q, m.Data(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return m2
}

func TestFitPowell(t *testing.T) {

	mp := powellModel(t)
	config := DefaultFitConfig()
	config.Algorithm = Powell
	config.Asymptotics = true
	rp, err := mp.Fit(config)
	if err != nil {
		t.Fatal(err)
	}

	if !rp.Success || rp.Message != MsgNone {
		t.Errorf("powell: success=%t, message=%s", rp.Success, rp.Message)
	}
	if rp.HessianUsed != HessianNumDiff || rp.CovMat == nil {
		t.Errorf("powell covariance from %s", rp.HessianUsed)
	}

	mb := powellModel(t)
	config.Algorithm = BFGS
	rb, err := mb.Fit(config)
	if err != nil {
		t.Fatal(err)
	}

	if !scalarClose(rp.F, rb.F, 1e-6) {
		t.Errorf("powell minimum %v, bfgs minimum %v", rp.F, rb.F)
	}
	if !floats.EqualApprox(rp.X, rb.X, 1e-2) {
		t.Errorf("powell optimum %v, bfgs optimum %v", rp.X, rb.X)
	}
}

func TestFitMaxIter(t *testing.T) {

	m := powellModel(t)
	config := DefaultFitConfig()
	config.MaxIter = 1
	rslt, err := m.Fit(config)
	if err != nil {
		t.Fatal(err)
	}
	if rslt.Success || rslt.Message != MsgMaxIter {
		t.Errorf("success=%t, message=%s", rslt.Success, rslt.Message)
	}
	if rslt.NumIter != 1 {
		t.Errorf("%d iterations", rslt.NumIter)
	}
}

func TestPowellQuadratic(t *testing.T) {

	a := []float64{3, 1, 1, 2}
	f := func(x []float64) float64 {
		d0, d1 := x[0]-1, x[1]+2
		return a[0]*d0*d0 + 2*a[1]*d0*d1 + a[3]*d1*d1
	}

	pr := powell(f, []float64{5, 5}, 1e-10, 1e-12, 1000, 10000)
	if pr.status != powellConverged {
		t.Errorf("status %d", pr.status)
	}
	if !floats.EqualApprox(pr.x, []float64{1, -2}, 1e-4) {
		t.Errorf("minimizer %v", pr.x)
	}
}

func TestBFGSMessage(t *testing.T) {

	for _, tc := range []struct {
		status  optimize.Status
		success bool
		msg     Message
	}{
		{optimize.GradientThreshold, true, MsgNone},
		{optimize.Success, true, MsgNone},
		{optimize.IterationLimit, false, MsgMaxIter},
		{optimize.FunctionEvaluationLimit, false, MsgMaxFuncEvals},
		{optimize.FunctionConvergence, false, MsgNoProgress},
		{optimize.Failure, false, MsgNoProgress},
	} {
		success, msg := bfgsMessage(tc.status, nil)
		if success != tc.success || msg != tc.msg {
			t.Errorf("%v: got %t %s", tc.status, success, msg)
		}
	}

	for m := MsgNone; m <= MsgStartOnly; m++ {
		q, err := ParseMessage(m.String())
		if err != nil || q != m {
			t.Errorf("message %s parsed as %s, %v", m, q, err)
		}
	}
}

func TestTraceSecant(t *testing.T) {

	// Gradients of a quadratic with Hessian A
	a := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	grad := func(x []float64) []float64 {
		var g mat.VecDense
		g.MulVec(a, mat.NewVecDense(2, x))
		return g.RawVector().Data
	}

	tr := &traceRecorder{}
	for _, x := range [][]float64{{1, 1}, {0.5, 0.2}, {0.1, -0.1}} {
		tr.add(x, grad(x))
	}
	tr.add([]float64{0.1, -0.1}, grad([]float64{0.1, -0.1}))
	if len(tr.xs) != 3 {
		t.Fatalf("%d iterates recorded", len(tr.xs))
	}

	h := tr.inverseHessian()

	// The last update satisfies the secant condition H y = s.
	s := mat.NewVecDense(2, []float64{0.1 - 0.5, -0.1 - 0.2})
	y := mat.NewVecDense(2, nil)
	y.SubVec(mat.NewVecDense(2, grad([]float64{0.1, -0.1})), mat.NewVecDense(2, grad([]float64{0.5, 0.2})))
	var hy mat.VecDense
	hy.MulVec(h, y)
	if !mat.EqualApprox(&hy, s, 1e-10) {
		t.Errorf("H y = %v, s = %v", mat.Formatted(&hy), mat.Formatted(s))
	}

	var chol mat.Cholesky
	if !chol.Factorize(h) {
		t.Errorf("inverse Hessian is not positive definite")
	}

	if (&traceRecorder{}).inverseHessian() != nil {
		t.Errorf("expected nil without iterates")
	}
}
