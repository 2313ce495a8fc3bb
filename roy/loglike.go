package roy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// minLike is the floor applied to individual likelihood contributions.
	minLike = 1e-20

	invSqrt2Pi = 0.3989422804014327
)

// ObjectiveCeiling is the largest value the objective can take, reached
// when every likelihood contribution is at its floor.
var ObjectiveCeiling = -math.Log(minLike)

// Objective returns the negative mean log-likelihood at the free
// parameters x, given in external form.  The parameter store is updated
// to x.  A non-finite x yields ObjectiveCeiling, or a panic in debug mode.
func (m *Model) Objective(x []float64) float64 {
	return m.objective(x, m.config.Variant)
}

// FastObjective is Objective using the vectorized likelihood.
func (m *Model) FastObjective(x []float64) float64 {
	return m.objective(x, Fast)
}

// SlowObjective is Objective using the agent-by-agent likelihood.
func (m *Model) SlowObjective(x []float64) float64 {
	return m.objective(x, Slow)
}

func (m *Model) objective(x []float64, variant Variant) float64 {

	m.nfev++

	if err := m.params.Update(x, External, Free); err != nil {
		if m.config.Debug {
			panic(fmt.Sprintf("Objective: %v\n", err))
		}
		if m.config.Log != nil {
			m.config.Log.Printf("Objective: %v", err)
		}
		return ObjectiveCeiling
	}

	if variant == Slow {
		return slowObjective(m.params, m.data)
	}
	return fastObjective(m.params, m.data)
}

// fastObjective evaluates the criterion with whole-vector operations.
func fastObjective(p *Params, dt *Data) float64 {

	n, kpost := dt.xpost.Dims()
	_, kz := dt.z.Dims()

	var xb1, xb0, mu mat.VecDense
	xb1.MulVec(dt.xpost, mat.NewVecDense(kpost, p.Outcome(Treated)))
	xb0.MulVec(dt.xpost, mat.NewVecDense(kpost, p.Outcome(Untreated)))
	mu.MulVec(dt.z, mat.NewVecDense(kz, dt.ChoiceCoeffs(p)))

	sv := p.SD(V)
	l1 := regimeLike(dt.y, xb1.RawVector().Data, mu.RawVector().Data, p.SD(U1), sv, p.Rho(U1V), true)
	l0 := regimeLike(dt.y, xb0.RawVector().Data, mu.RawVector().Data, p.SD(U0), sv, p.Rho(U0V), false)

	// Select the observed regime
	like := make([]float64, n)
	untr := make([]float64, n)
	floats.MulTo(like, dt.d, l1)
	for i, d := range dt.d {
		untr[i] = 1 - d
	}
	floats.Mul(untr, l0)
	floats.Add(like, untr)

	for i, v := range like {
		like[i] = math.Log(math.Max(v, minLike))
	}

	return -floats.Sum(like) / float64(n)
}

// regimeLike returns the likelihood contributions of all agents had they
// been in the given regime.
func regimeLike(y, xb, mu []float64, sd, sv, rho float64, treated bool) []float64 {

	n := len(y)

	r := make([]float64, n)
	floats.SubTo(r, y, xb)
	floats.Scale(1/sd, r)

	s := make([]float64, n)
	floats.AddScaledTo(s, mu, -rho*sv, r)
	floats.Scale(1/math.Sqrt((1-rho*rho)*sv*sv), s)

	like := make([]float64, n)
	for i := range like {
		c := distuv.UnitNormal.CDF(s[i])
		if !treated {
			c = 1 - c
		}
		like[i] = distuv.UnitNormal.Prob(r[i]) / sd * c
	}

	return like
}

// slowObjective evaluates the criterion one agent at a time.
func slowObjective(p *Params, dt *Data) float64 {

	n, kpost := dt.xpost.Dims()
	_, kz := dt.z.Dims()

	b1 := p.Outcome(Treated)
	b0 := p.Outcome(Untreated)
	gamma := dt.ChoiceCoeffs(p)

	sv := p.SD(V)

	var ll float64
	for i := 0; i < n; i++ {

		var mu float64
		for j := 0; j < kz; j++ {
			mu += dt.z.At(i, j) * gamma[j]
		}

		beta, sd, rho := b0, p.SD(U0), p.Rho(U0V)
		treated := dt.d[i] == 1
		if treated {
			beta, sd, rho = b1, p.SD(U1), p.Rho(U1V)
		}

		var xb float64
		for j := 0; j < kpost; j++ {
			xb += dt.xpost.At(i, j) * beta[j]
		}

		r := (dt.y[i] - xb) / sd
		s := (mu - rho*sv*r) / math.Sqrt((1-rho*rho)*sv*sv)

		c := 0.5 * math.Erfc(-s/math.Sqrt2)
		if !treated {
			c = 1 - c
		}

		li := invSqrt2Pi * math.Exp(-r*r/2) / sd * c
		ll += math.Log(math.Max(li, minLike))
	}

	return -ll / float64(n)
}
