package glm

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/lnsongxf/roymodel/statmodel"
	"gonum.org/v1/gonum/floats"
)

// ErrFit is returned (wrapped) when a GLM cannot be fit to the data.
var ErrFit = errors.New("glm: fit failed")

// GLM describes a generalized linear model.
type GLM struct {

	// The data columns, data[j] is the j^th variable.
	data [][]statmodel.Dtype

	// Names of all variables in data.
	varnames []string

	// Name and position of the outcome variable
	yname string
	ypos  int

	// Positions of the covariates
	xpos []int

	// The GLM family
	fam *Family

	// The GLM link function
	link *Link

	// The GLM variance function
	vari *Variance

	// Starting values, optional
	start []float64

	// Maximum number of IRLS iterations
	maxiter int

	// Optional logger
	log *log.Logger
}

// Config defines configuration parameters for a GLM.
type Config struct {

	// Family is the GLM family, Gaussian by default.
	Family *Family

	// Link is the link function, the first valid link of the
	// family by default (probit for the binomial family).
	Link *Link

	// Start contains optional starting values.
	Start []float64

	// MaxIter is the maximum number of IRLS iterations.
	MaxIter int

	// Log receives progress messages when not nil.
	Log *log.Logger
}

// DefaultConfig returns default configuration values for a GLM.
func DefaultConfig() *Config {
	return &Config{
		Family:  NewFamily(GaussianFamily),
		MaxIter: 20,
	}
}

// GLMParams represents the model parameters for a GLM.
type GLMParams struct {
	coeff []float64
	scale float64
}

// GetCoeff returns the coefficients (slopes for individual
// variables) from the parameter.
func (p *GLMParams) GetCoeff() []float64 {
	return p.coeff
}

// SetCoeff sets the coefficients (slopes for individual variables)
// for the parameter.
func (p *GLMParams) SetCoeff(coeff []float64) {
	p.coeff = coeff
}

// Clone produces a deep copy of the parameter value.
func (p *GLMParams) Clone() statmodel.Parameter {
	coeff := make([]float64, len(p.coeff))
	copy(coeff, p.coeff)
	return &GLMParams{
		coeff: coeff,
		scale: p.scale,
	}
}

// NumParams returns the number of covariates in the model.
func (glm *GLM) NumParams() int {
	return len(glm.xpos)
}

// NumObs returns the number of observations used to fit the model.
func (glm *GLM) NumObs() int {
	return len(glm.data[glm.ypos])
}

// Xpos returns the positions of the covariates in the model's dataset.
func (glm *GLM) Xpos() []int {
	return glm.xpos
}

// Dataset returns the data columns underlying the model.
func (glm *GLM) Dataset() [][]statmodel.Dtype {
	return glm.data
}

// GLMResults describes the results of a fitted generalized linear model.
type GLMResults struct {
	statmodel.BaseResults

	scale float64
}

// Scale returns the estimated scale parameter.
func (rslt *GLMResults) Scale() float64 {
	return rslt.scale
}

// Mean returns the fitted mean response.  If da is nil the fitted values
// refer to the training data, otherwise da must have the same column
// layout as the training data.
func (rslt *GLMResults) Mean(da [][]statmodel.Dtype) []float64 {
	glm := rslt.Model().(*GLM)
	lp := rslt.FittedValues(da)
	mn := make([]float64, len(lp))
	glm.link.InvLink(lp, mn)
	return mn
}

// NewGLM creates a new GLM object for the given family, using its
// default link and variance functions.  The outcome and predictors
// are named variables in data.
func NewGLM(data statmodel.Dataset, outcome string, predictors []string, config *Config) (*GLM, error) {

	if config == nil {
		config = DefaultConfig()
	}

	glm := &GLM{
		data:     data.Data(),
		varnames: data.Names(),
		yname:    outcome,
		fam:      config.Family,
		link:     config.Link,
		start:    config.Start,
		maxiter:  config.MaxIter,
		log:      config.Log,
	}

	if glm.fam == nil {
		glm.fam = NewFamily(GaussianFamily)
	}
	if glm.link == nil {
		glm.link = NewLink(glm.fam.validLinks[0])
	}
	glm.vari = NewVariance(glm.fam.variance)
	if glm.maxiter == 0 {
		glm.maxiter = 20
	}

	if !glm.fam.IsValidLink(glm.link) {
		return nil, fmt.Errorf("%w: link %s is not valid for family %s",
			ErrFit, glm.link.Name, glm.fam.Name)
	}

	glm.ypos = statmodel.Position(data, outcome)
	if glm.ypos == -1 {
		return nil, fmt.Errorf("%w: outcome variable '%s' not found", ErrFit, outcome)
	}

	for _, na := range predictors {
		k := statmodel.Position(data, na)
		if k == -1 {
			return nil, fmt.Errorf("%w: predictor '%s' not found", ErrFit, na)
		}
		glm.xpos = append(glm.xpos, k)
	}

	if len(glm.xpos) == 0 {
		return nil, fmt.Errorf("%w: no predictors", ErrFit)
	}

	if glm.start != nil && len(glm.start) != len(glm.xpos) {
		return nil, fmt.Errorf("%w: %d starting values for %d predictors",
			ErrFit, len(glm.start), len(glm.xpos))
	}

	return glm, nil
}

// linearPredictor computes the linear predictor at the given coefficients.
func (glm *GLM) linearPredictor(coeff, linpred []float64) {
	zero(linpred)
	for j, k := range glm.xpos {
		floats.AddScaled(linpred, coeff[j], glm.data[k])
	}
}

// LogLike returns the log-likelihood value for the generalized linear
// model at the given parameter values.
func (glm *GLM) LogLike(params statmodel.Parameter, exact bool) float64 {

	gpar := params.(*GLMParams)

	n := glm.NumObs()
	linpred := make([]float64, n)
	mn := make([]float64, n)

	glm.linearPredictor(gpar.coeff, linpred)
	glm.link.InvLink(linpred, mn)

	return glm.fam.LogLike(glm.data[glm.ypos], mn, gpar.scale, exact)
}

func scoreFactor(yda, mn, deriv, va, sfac []float64) {
	for i, y := range yda {
		sfac[i] = (y - mn[i]) / (deriv[i] * va[i])
	}
}

// Score returns the score vector for the generalized linear model at
// the given parameter values.
func (glm *GLM) Score(params statmodel.Parameter, score []float64) {

	gpar := params.(*GLMParams)

	n := glm.NumObs()
	linpred := make([]float64, n)
	mn := make([]float64, n)
	deriv := make([]float64, n)
	va := make([]float64, n)
	fac := make([]float64, n)

	glm.linearPredictor(gpar.coeff, linpred)
	glm.link.InvLink(linpred, mn)
	glm.link.Deriv(mn, deriv)
	glm.vari.Var(mn, va)

	scoreFactor(glm.data[glm.ypos], mn, deriv, va, fac)

	for j, k := range glm.xpos {
		score[j] = floats.Dot(fac, glm.data[k]) / gpar.scale
	}
}

// Hessian returns the Hessian matrix for the model.  The Hessian is
// returned as a one-dimensional array, which is the vectorized form
// of the Hessian matrix.  Either the observed or expected Hessian can
// be calculated.
func (glm *GLM) Hessian(param statmodel.Parameter, ht statmodel.HessType, hess []float64) {

	gpar := param.(*GLMParams)

	nvar := glm.NumParams()
	n := glm.NumObs()
	yda := glm.data[glm.ypos]

	linpred := make([]float64, n)
	mn := make([]float64, n)
	lderiv := make([]float64, n)
	va := make([]float64, n)
	fac := make([]float64, n)

	glm.linearPredictor(gpar.coeff, linpred)
	glm.link.InvLink(linpred, mn)
	glm.link.Deriv(mn, lderiv)
	glm.vari.Var(mn, va)

	// Factor for the expected Hessian
	for i := range lderiv {
		fac[i] = 1 / (lderiv[i] * lderiv[i] * va[i] * gpar.scale)
	}

	// Adjust the factor for the observed Hessian
	if ht == statmodel.ObsHess {
		lderiv2 := make([]float64, n)
		vad := make([]float64, n)
		sfac := make([]float64, n)
		glm.link.Deriv2(mn, lderiv2)
		glm.vari.Deriv(mn, vad)
		scoreFactor(yda, mn, lderiv, va, sfac)

		for i := range fac {
			h := va[i]*lderiv2[i] + lderiv[i]*vad[i]
			fac[i] *= 1 + h*sfac[i]
		}
	}

	zero(hess)
	for j1, k1 := range glm.xpos {
		x1 := glm.data[k1]
		for j2 := 0; j2 <= j1; j2++ {
			x2 := glm.data[glm.xpos[j2]]
			var u float64
			for i := range x1 {
				u += fac[i] * x1[i] * x2[i]
			}
			hess[j1*nvar+j2] = -u
			hess[j2*nvar+j1] = -u
		}
	}
}

// Fit estimates the parameters of the GLM and returns a results
// object.
func (glm *GLM) Fit() (*GLMResults, error) {

	nvar := glm.NumParams()

	start := make([]float64, nvar)
	if glm.start != nil {
		copy(start, glm.start)
	}

	params, err := glm.fitIRLS(start, glm.maxiter)
	if err != nil {
		return nil, err
	}

	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite coefficient estimates", ErrFit)
		}
	}

	scale := glm.EstimateScale(params)
	par := &GLMParams{params, scale}

	vcov, err := statmodel.GetVcov(glm, par)
	if err != nil && glm.log != nil {
		glm.log.Printf("No covariance matrix: %v\n", err)
	}

	ll := glm.LogLike(par, true)

	var xna []string
	for _, j := range glm.xpos {
		xna = append(xna, glm.varnames[j])
	}

	results := &GLMResults{
		BaseResults: statmodel.NewBaseResults(glm, ll, params, xna, vcov),
		scale:       scale,
	}

	return results, nil
}

// EstimateScale returns an estimate of the GLM scale parameter at the
// given parameter values.
func (glm *GLM) EstimateScale(params []float64) float64 {

	if glm.fam.fixedScale {
		return 1
	}

	nvar := glm.NumParams()
	n := glm.NumObs()
	yda := glm.data[glm.ypos]

	linpred := make([]float64, n)
	mn := make([]float64, n)
	va := make([]float64, n)

	glm.linearPredictor(params, linpred)
	glm.link.InvLink(linpred, mn)
	glm.vari.Var(mn, va)

	var scale float64
	for i, y := range yda {
		r := y - mn[i]
		scale += r * r / va[i]
	}

	return scale / float64(n-nvar)
}

// zero sets all elements of the slice to 0
func zero(x []float64) {
	for i := range x {
		x[i] = 0
	}
}

// one sets all elements of the slice to 1
func one(x []float64) {
	for i := range x {
		x[i] = 1
	}
}

// GLMSummary summarizes a fitted generalized linear model.
type GLMSummary struct {

	// The GLM
	glm *GLM

	// The results structure
	results *GLMResults
}

// String returns a string representation of a summary table for the model.
func (gs *GLMSummary) String() string {

	sum := &statmodel.SummaryTable{}

	sum.Title = "Generalized linear model analysis"

	sum.Top = []string{
		fmt.Sprintf("Family:   %s", gs.glm.fam.Name),
		fmt.Sprintf("Link:     %s", gs.glm.link.Name),
		fmt.Sprintf("Variance: %s", gs.glm.vari.Name),
		fmt.Sprintf("Num obs:  %d", gs.glm.NumObs()),
		fmt.Sprintf("Scale:    %f", gs.results.scale),
	}

	fs := statmodel.FmtStrings
	fn := statmodel.FmtFloats

	pax := gs.results.Params()
	se := gs.results.StdErr()
	if se == nil {
		se = make([]float64, len(pax))
		for j := range se {
			se[j] = math.NaN()
		}
	}

	// Create estimate and CI for the parameters
	var par, lcb, ucb []float64
	for j := range pax {
		par = append(par, pax[j])
		lcb = append(lcb, pax[j]-2*se[j])
		ucb = append(ucb, pax[j]+2*se[j])
	}

	zs := gs.results.ZScores()
	pv := gs.results.PValues()
	if zs == nil {
		zs, pv = se, se
	}

	sum.ColNames = []string{"Variable   ", "Parameter", "SE", "LCB", "UCB", "Z-score", "P-value"}
	sum.ColFmt = []statmodel.Fmter{fs, fn, fn, fn, fn, fn, fn}
	sum.Cols = []interface{}{gs.results.Names(), par, se, lcb, ucb, zs, pv}

	return sum.String()
}

// Summary displays a summary table of the model results.
func (rslt *GLMResults) Summary() *GLMSummary {

	glm := rslt.Model().(*GLM)

	return &GLMSummary{
		glm:     glm,
		results: rslt,
	}
}
