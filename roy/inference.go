package roy

import (
	"log"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Seeds of the inference draws.  DrawSeed drives the parameter draws,
// SimSeed the average effect simulations.
const (
	DrawSeed = 123
	SimSeed  = 456
)

// InferenceConfig defines configuration parameters for Infer.
type InferenceConfig struct {

	// Draws is the number of parameter vectors drawn around the estimate.
	Draws int

	// Alpha is the level of the confidence bands.
	Alpha float64

	// Sims is the number of simulations behind each average effect.
	Sims int

	// Log receives messages when not nil.
	Log *log.Logger
}

// DefaultInferenceConfig returns default configuration values for Infer.
func DefaultInferenceConfig() *InferenceConfig {
	return &InferenceConfig{
		Draws: 200,
		Alpha: 0.05,
		Sims:  1000,
	}
}

// Band is a confidence band with a sign-flip p-value.  All fields are NaN
// when the band is unavailable.
type Band struct {
	Lower  float64
	Upper  float64
	PValue float64
}

// Available reports whether the band was computed.
func (b Band) Available() bool {
	return !math.IsNaN(b.Lower)
}

func nanBand() Band {
	return Band{math.NaN(), math.NaN(), math.NaN()}
}

func nanBands(n int) []Band {
	b := make([]Band, n)
	for i := range b {
		b[i] = nanBand()
	}
	return b
}

// SubgroupBands are the bands of a Subgroups value.
type SubgroupBands struct {
	Average   Band
	Treated   Band
	Untreated Band
}

// AverageBands are the bands of an Averages value.
type AverageBands struct {
	BenefitPost SubgroupBands
	BenefitAnte SubgroupBands
	Cost        SubgroupBands
	Surplus     SubgroupBands
}

func nanAverageBands() AverageBands {
	s := SubgroupBands{nanBand(), nanBand(), nanBand()}
	return AverageBands{s, s, s, s}
}

// MTEBands are pointwise bands of the marginal effect curves.
type MTEBands struct {
	BenefitPost []Band
	BenefitAnte []Band
	Cost        []Band
	Surplus     []Band
}

// Inference holds the bands of all reported quantities.
type Inference struct {

	// Available is false when no covariance matrix was estimated or it
	// could not be used, in which case every band is NaN.
	Available bool

	// Degenerate is true when the covariance matrix was present but not
	// positive definite.
	Degenerate bool

	// Params holds one band per parameter entry, on the internal scale.
	// Bands of fixed entries are NaN.
	Params []Band

	MTE         MTEBands
	Average     AverageBands
	Conditional AverageBands
}

func unavailable(nparams int) *Inference {
	return &Inference{
		Params: nanBands(nparams),
		MTE: MTEBands{
			BenefitPost: nanBands(GridSize),
			BenefitAnte: nanBands(GridSize),
			Cost:        nanBands(GridSize),
			Surplus:     nanBands(GridSize),
		},
		Average:     nanAverageBands(),
		Conditional: nanAverageBands(),
	}
}

// avgSimRand returns the generator for the average effect simulations of
// draw d.  Draw -1 is the point estimate.  The unconditional and
// conditional averages of a draw use identical streams.
func avgSimRand(d int) *rand.Rand {
	return rand.New(rand.NewPCG(SimSeed, uint64(d+1)))
}

// Infer draws parameter vectors from the asymptotic distribution of the
// estimate in rslt and returns quantile bands and sign-flip p-values for
// the parameters, the marginal effects and the average effects.  The
// parameter store of m is not modified.
func (m *Model) Infer(rslt *FitResult, config *InferenceConfig) *Inference {

	if config == nil {
		config = DefaultInferenceConfig()
	}

	p := m.params
	if rslt.CovMat == nil || config.Draws <= 0 || len(rslt.X) == 0 {
		return unavailable(p.NumParams())
	}

	nfree := len(rslt.X)
	cov := mat.NewSymDense(nfree, nil)
	cov.ScaleSym(1/float64(m.NumObs()), rslt.CovMat)

	dist, ok := distmv.NewNormal(rslt.X, cov, rand.NewPCG(DrawSeed, 0))
	if !ok {
		if config.Log != nil {
			config.Log.Printf("%v: no confidence bands", ErrInferenceDegenerate)
		}
		inf := unavailable(p.NumParams())
		inf.Degenerate = true
		return inf
	}

	est, err := p.WithValues(rslt.X, External, Free)
	if err != nil {
		return unavailable(p.NumParams())
	}
	pointMTE := MarginalEffects(est, m.data)
	lo, hi := UnconditionalRange()
	clo, chi := ConditionalRange(m.data)
	pointAvg := AverageEffects(est, m.data, lo, hi, config.Sims, avgSimRand(-1))
	pointCond := AverageEffects(est, m.data, clo, chi, config.Sims, avgSimRand(-1))

	// Draws in columns
	pdraws := make([][]float64, nfree)
	var mteDraws [4][GridSize][]float64
	var avgDraws, condDraws [12][]float64

	x := make([]float64, nfree)
	for d := 0; d < config.Draws; d++ {
		dist.Rand(x)
		pd, err := p.WithValues(x, External, Free)
		if err != nil {
			continue
		}

		for j, v := range pd.Values(Internal, Free) {
			pdraws[j] = append(pdraws[j], v)
		}

		mte := MarginalEffects(pd, m.data)
		for k := 0; k < GridSize; k++ {
			mteDraws[0][k] = append(mteDraws[0][k], mte.BenefitPost[k])
			mteDraws[1][k] = append(mteDraws[1][k], mte.BenefitAnte[k])
			mteDraws[2][k] = append(mteDraws[2][k], mte.Cost[k])
			mteDraws[3][k] = append(mteDraws[3][k], mte.Surplus[k])
		}

		for j, v := range flattenAverages(AverageEffects(pd, m.data, lo, hi, config.Sims, avgSimRand(d))) {
			avgDraws[j] = append(avgDraws[j], v)
		}
		for j, v := range flattenAverages(AverageEffects(pd, m.data, clo, chi, config.Sims, avgSimRand(d))) {
			condDraws[j] = append(condDraws[j], v)
		}
	}

	inf := &Inference{
		Available: true,
		Params:    nanBands(p.NumParams()),
	}

	estFree := est.Values(Internal, Free)
	for j, i := range p.free {
		inf.Params[i] = band(pdraws[j], estFree[j], config.Alpha)
	}

	curves := [][]float64{pointMTE.BenefitPost, pointMTE.BenefitAnte, pointMTE.Cost, pointMTE.Surplus}
	var mb [4][]Band
	for c := range mb {
		mb[c] = make([]Band, GridSize)
		for k := range mb[c] {
			mb[c][k] = band(mteDraws[c][k], curves[c][k], config.Alpha)
		}
	}
	inf.MTE = MTEBands{mb[0], mb[1], mb[2], mb[3]}

	inf.Average = averageBands(avgDraws, flattenAverages(pointAvg), config.Alpha)
	inf.Conditional = averageBands(condDraws, flattenAverages(pointCond), config.Alpha)

	return inf
}

func flattenAverages(a *Averages) [12]float64 {
	var v [12]float64
	for j, s := range []Subgroups{a.BenefitPost, a.BenefitAnte, a.Cost, a.Surplus} {
		v[3*j] = s.Average
		v[3*j+1] = s.Treated
		v[3*j+2] = s.Untreated
	}
	return v
}

func averageBands(draws [12][]float64, est [12]float64, alpha float64) AverageBands {
	var s [4]SubgroupBands
	for j := range s {
		s[j] = SubgroupBands{
			Average:   band(draws[3*j], est[3*j], alpha),
			Treated:   band(draws[3*j+1], est[3*j+1], alpha),
			Untreated: band(draws[3*j+2], est[3*j+2], alpha),
		}
	}
	return AverageBands{s[0], s[1], s[2], s[3]}
}

// band returns the [alpha/2, 1-alpha/2] quantiles of the draws and the
// share of draws whose sign differs from that of est.  NaN draws are
// skipped.
func band(draws []float64, est, alpha float64) Band {

	x := make([]float64, 0, len(draws))
	for _, v := range draws {
		if !math.IsNaN(v) {
			x = append(x, v)
		}
	}
	if len(x) == 0 || math.IsNaN(est) {
		return nanBand()
	}
	sort.Float64s(x)

	var flips int
	for _, v := range x {
		if sign(v) != sign(est) {
			flips++
		}
	}

	return Band{
		Lower:  stat.Quantile(alpha/2, stat.LinInterp, x, nil),
		Upper:  stat.Quantile(1-alpha/2, stat.LinInterp, x, nil),
		PValue: float64(flips) / float64(len(x)),
	}
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
