package roy

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GridSize is the number of quantiles at which marginal effects are
// evaluated.
const GridSize = 99

// Grid returns the evaluation quantiles 0.01, 0.02, ..., 0.99.
func Grid() []float64 {
	u := make([]float64, GridSize)
	for k := range u {
		u[k] = round2(float64(k+1) / 100)
	}
	return u
}

// MTE holds marginal effect curves over the quantile grid.
type MTE struct {
	U []float64

	// BenefitPost and BenefitAnte are the ex post and ex ante marginal
	// benefits, Cost the marginal cost and Surplus the ex ante marginal
	// surplus.
	BenefitPost []float64
	BenefitAnte []float64
	Cost        []float64
	Surplus     []float64
}

// slopes returns the factor multiplying the quantile of V in the benefit
// curve.  The cost curve uses the same factor plus one.
func slopes(p *Params) float64 {
	sv := p.SD(V)
	return p.SD(U1)/sv*p.Rho(U1V) - p.SD(U0)/sv*p.Rho(U0V)
}

// MarginalEffects evaluates the marginal effect curves at the covariate
// means of dt.
func MarginalEffects(p *Params, dt *Data) *MTE {

	bpost := floats.Dot(dt.xpostMean, p.ExPostBenefit())
	bante := floats.Dot(dt.xanteMean, dt.ExAnteBenefit(p))
	surp := floats.Dot(dt.zMean, dt.ChoiceCoeffs(p))
	cost := floats.Dot(dt.gMean, p.CostCoeffs())

	slope := slopes(p)
	vdist := distuv.Normal{Mu: 0, Sigma: p.SD(V)}

	u := Grid()
	mte := &MTE{
		U:           u,
		BenefitPost: make([]float64, len(u)),
		BenefitAnte: make([]float64, len(u)),
		Cost:        make([]float64, len(u)),
		Surplus:     make([]float64, len(u)),
	}

	for k, uk := range u {
		q := vdist.Quantile(uk)
		mte.BenefitPost[k] = bpost + slope*q
		mte.BenefitAnte[k] = bante + slope*q
		mte.Cost[k] = cost + (slope+1)*q
		mte.Surplus[k] = surp - q
	}

	return mte
}

// Subgroups holds an average effect over all agents and over the agents
// that are (would be) treated and untreated.
type Subgroups struct {
	Average   float64
	Treated   float64
	Untreated float64
}

// Averages holds simulated average effects.
type Averages struct {
	BenefitPost Subgroups
	BenefitAnte Subgroups
	Cost        Subgroups
	Surplus     Subgroups
}

// UnconditionalRange and ConditionalRange return the quantile ranges
// used for average effects.  The conditional range is the common support
// clipped to [0.01, 0.99].
func UnconditionalRange() (float64, float64) {
	return 0.01, 1.00
}

// ConditionalRange returns the common support of dt clipped to the grid.
func ConditionalRange(dt *Data) (float64, float64) {
	lo, hi := dt.Support()
	return math.Max(lo, 0.01), math.Min(hi, 0.99)
}

// restrictedGrid returns the grid points in [lo, hi].
func restrictedGrid(lo, hi float64) []float64 {
	var u []float64
	for _, uk := range Grid() {
		if uk >= lo-1e-9 && uk <= hi+1e-9 {
			u = append(u, uk)
		}
	}
	return u
}

// AverageEffects simulates average effects over nsims draws of an agent
// and a grid point in [lo, hi].  Each draw picks agent i uniformly, a
// quantile u_k uniformly from the restricted grid, sets the choice
// D* = 1[z_i'gamma > V*] with V* the u_k quantile of V, and records the
// agent's marginal effects at u_k.  Effects are NaN when the restricted
// grid is empty or a subgroup has no draws.
func AverageEffects(p *Params, dt *Data, lo, hi float64, nsims int, rng *rand.Rand) *Averages {

	grid := restrictedGrid(lo, hi)
	if len(grid) == 0 || nsims <= 0 {
		nan := Subgroups{math.NaN(), math.NaN(), math.NaN()}
		return &Averages{nan, nan, nan, nan}
	}

	n, kpost := dt.xpost.Dims()
	_, kante := dt.xante.Dims()
	_, kz := dt.z.Dims()
	_, kg := dt.g.Dims()

	bpost := p.ExPostBenefit()
	bante := dt.ExAnteBenefit(p)
	gamma := dt.ChoiceCoeffs(p)
	cost := p.CostCoeffs()

	// Per agent levels
	var lpost, lante, lsurp, lcost mat.VecDense
	lpost.MulVec(dt.xpost, mat.NewVecDense(kpost, bpost))
	lante.MulVec(dt.xante, mat.NewVecDense(kante, bante))
	lsurp.MulVec(dt.z, mat.NewVecDense(kz, gamma))
	lcost.MulVec(dt.g, mat.NewVecDense(kg, cost))

	slope := slopes(p)
	vdist := distuv.Normal{Mu: 0, Sigma: p.SD(V)}
	quant := make([]float64, len(grid))
	for k, uk := range grid {
		quant[k] = vdist.Quantile(uk)
	}

	var acc [4]accum
	for s := 0; s < nsims; s++ {
		i := rng.IntN(n)
		q := quant[rng.IntN(len(grid))]

		treated := lsurp.AtVec(i)-q > 0

		acc[0].add(lpost.AtVec(i)+slope*q, treated)
		acc[1].add(lante.AtVec(i)+slope*q, treated)
		acc[2].add(lcost.AtVec(i)+(slope+1)*q, treated)
		acc[3].add(lsurp.AtVec(i)-q, treated)
	}

	return &Averages{
		BenefitPost: acc[0].result(),
		BenefitAnte: acc[1].result(),
		Cost:        acc[2].result(),
		Surplus:     acc[3].result(),
	}
}

type accum struct {
	sum, sum1, sum0 float64
	n, n1, n0       int
}

func (a *accum) add(v float64, treated bool) {
	a.sum += v
	a.n++
	if treated {
		a.sum1 += v
		a.n1++
	} else {
		a.sum0 += v
		a.n0++
	}
}

func (a *accum) result() Subgroups {
	mean := func(s float64, n int) float64 {
		if n == 0 {
			return math.NaN()
		}
		return s / float64(n)
	}
	return Subgroups{
		Average:   mean(a.sum, a.n),
		Treated:   mean(a.sum1, a.n1),
		Untreated: mean(a.sum0, a.n0),
	}
}
