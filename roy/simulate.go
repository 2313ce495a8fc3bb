package roy

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"github.com/lnsongxf/roymodel/statmodel"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// SimConfig defines configuration parameters for Simulate.
type SimConfig struct {

	// Agents is the number of agents generated when no covariates are
	// supplied.
	Agents int

	// Seed seeds the covariate and the unobservable generators.
	Seed uint64

	// Log receives progress messages when not nil.
	Log *log.Logger
}

// DefaultSimConfig returns default configuration values for Simulate.
func DefaultSimConfig() *SimConfig {
	return &SimConfig{
		Agents: 1000,
		Seed:   132,
	}
}

// Names of the columns appended by Simulate.
const (
	SimY1 = "Y1"
	SimY0 = "Y0"
	SimU1 = "U1"
	SimU0 = "U0"
	SimV  = "V"
)

// Simulation is a simulated dataset.
type Simulation struct {

	// Data holds the covariates with the outcome and treatment columns
	// replaced by simulated values, followed by the potential outcomes
	// and the unobservables.
	Data statmodel.Dataset

	// Layout is the column layout of Data.
	Layout Layout

	// Objective is the negative mean log-likelihood of the simulated
	// data at the true parameters.
	Objective float64
}

// Simulate draws outcomes and choices from the model with parameters p.
// The covariates are taken from ds, or drawn as independent standard
// normals when ds is nil.  The outcome and treatment columns of ds must
// exist and are overwritten.
func Simulate(p *Params, ds statmodel.Dataset, layout Layout, config *SimConfig) (*Simulation, error) {

	if config == nil {
		config = DefaultSimConfig()
	}
	if err := checkBinding(p, layout); err != nil {
		return nil, err
	}

	covRand := rand.New(rand.NewPCG(config.Seed, 1))
	if ds == nil {
		if config.Agents <= 0 {
			return nil, fmt.Errorf("%w: %d agents", ErrConfigInvalid, config.Agents)
		}
		ds = mockCovariates(layout, config.Agents, covRand)
	}
	if err := checkTargets(ds, layout); err != nil {
		return nil, err
	}

	dt, err := newDesign(ds, layout)
	if err != nil {
		return nil, err
	}
	n := dt.NumObs()
	_, kpost := dt.xpost.Dims()
	_, kz := dt.z.Dims()

	// Unobservables U1, U0, V
	sigma := mat.NewSymDense(3, []float64{
		p.Variance(U1), 0, p.Covariance(U1),
		0, p.Variance(U0), p.Covariance(U0),
		p.Covariance(U1), p.Covariance(U0), p.Variance(V),
	})
	dist, ok := distmv.NewNormal(make([]float64, 3), sigma, rand.NewPCG(config.Seed, 0))
	if !ok {
		if config.Log != nil {
			config.Log.Printf("Simulate: covariance of the unobservables is not positive definite, clipping eigenvalues")
		}
		dist, ok = distmv.NewNormal(make([]float64, 3), nearestPD(sigma), rand.NewPCG(config.Seed, 0))
		if !ok {
			return nil, fmt.Errorf("%w: covariance of the unobservables", ErrNumericInvalid)
		}
	}

	u1 := make([]float64, n)
	u0 := make([]float64, n)
	v := make([]float64, n)
	e := make([]float64, 3)
	for i := 0; i < n; i++ {
		dist.Rand(e)
		u1[i], u0[i], v[i] = e[0], e[1], e[2]
	}

	var xb1, xb0, mu mat.VecDense
	xb1.MulVec(dt.xpost, mat.NewVecDense(kpost, p.Outcome(Treated)))
	xb0.MulVec(dt.xpost, mat.NewVecDense(kpost, p.Outcome(Untreated)))
	mu.MulVec(dt.z, mat.NewVecDense(kz, dt.ChoiceCoeffs(p)))

	y := make([]float64, n)
	d := make([]float64, n)
	y1 := make([]float64, n)
	y0 := make([]float64, n)
	var ntreat int
	for i := 0; i < n; i++ {
		y1[i] = xb1.AtVec(i) + u1[i]
		y0[i] = xb0.AtVec(i) + u0[i]
		if mu.AtVec(i)-v[i] > 0 {
			d[i] = 1
			y[i] = y1[i]
			ntreat++
		} else {
			y[i] = y0[i]
		}
	}

	if config.Log != nil {
		config.Log.Printf("Simulate: %d agents, %d treated", n, ntreat)
	}

	// Assemble the output
	cols := ds.Data()
	names := ds.Names()
	ocols := make([][]statmodel.Dtype, 0, len(cols)+5)
	onames := make([]string, 0, len(cols)+5)
	for j := range cols {
		switch j {
		case layout.Outcome:
			ocols = append(ocols, y)
		case layout.Treatment:
			ocols = append(ocols, d)
		default:
			ocols = append(ocols, cols[j])
		}
		onames = append(onames, names[j])
	}
	ocols = append(ocols, y1, y0, u1, u0, v)
	onames = append(onames, SimY1, SimY0, SimU1, SimU0, SimV)

	dt.y = y
	dt.d = d

	return &Simulation{
		Data:      statmodel.NewDataset(ocols, onames),
		Layout:    layout,
		Objective: fastObjective(p, dt),
	}, nil
}

// mockCovariates returns a dataset of independent standard normal
// covariates, named x0, x1, ...  The outcome column is named y and filled
// with zeros, the treatment column is named d and filled with Bernoulli
// draws.
func mockCovariates(layout Layout, n int, rng *rand.Rand) statmodel.Dataset {

	nvar := max(layout.Outcome, layout.Treatment)
	for _, c := range append(append([]int(nil), layout.Benefit...), layout.Cost...) {
		nvar = max(nvar, c)
	}
	nvar++

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	bern := distuv.Bernoulli{P: 0.5, Src: rng}

	cols := make([][]statmodel.Dtype, nvar)
	names := make([]string, nvar)
	for j := range cols {
		cols[j] = make([]statmodel.Dtype, n)
		switch j {
		case layout.Outcome:
			names[j] = "y"
		case layout.Treatment:
			names[j] = "d"
			for i := range cols[j] {
				cols[j][i] = bern.Rand()
			}
		default:
			names[j] = fmt.Sprintf("x%d", j)
			for i := range cols[j] {
				cols[j][i] = norm.Rand()
			}
		}
	}

	return statmodel.NewDataset(cols, names)
}

// nearestPD returns the matrix with the eigenvalues of a clipped from
// below at a small positive value.
func nearestPD(a *mat.SymDense) *mat.SymDense {

	n := a.SymmetricDim()

	var es mat.EigenSym
	if !es.Factorize(a, true) {
		b := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			b.SetSym(i, i, math.Max(a.At(i, i), 1e-8))
		}
		return b
	}

	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	for i, v := range vals {
		vals[i] = math.Max(v, 1e-8)
	}

	b := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var s float64
			for k, v := range vals {
				s += vecs.At(i, k) * v * vecs.At(j, k)
			}
			b.SetSym(i, j, s)
		}
	}

	return b
}
