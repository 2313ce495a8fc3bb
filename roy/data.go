package roy

import (
	"fmt"
	"log"
	"math"

	"github.com/lnsongxf/roymodel/glm"
	"github.com/lnsongxf/roymodel/statmodel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layout describes how dataset columns enter the model.  Column
// positions refer to the dataset; Intercept denotes a constant column.
type Layout struct {

	// Outcome and Treatment are the positions of Y and D.
	Outcome   int
	Treatment int

	// Benefit lists the columns of the outcome equations, in the order
	// of the outcome coefficients.
	Benefit []int

	// AnteKnown flags the Benefit columns known at decision time.
	AnteKnown []bool

	// Cost lists the columns of the cost equation, in the order of the
	// cost coefficients.
	Cost []int
}

// PostOnly returns the number of benefit columns that are not known ex ante.
func (l Layout) PostOnly() int {
	var n int
	for _, a := range l.AnteKnown {
		if !a {
			n++
		}
	}
	return n
}

// DataConfig contains optional settings for NewData.
type DataConfig struct {

	// Log receives messages from the propensity score fit.
	Log *log.Logger
}

// Data holds the design matrices of the model.  It is immutable after
// construction and may be shared by several models.
type Data struct {
	layout Layout
	names  []string

	y []float64
	d []float64

	xpost *mat.Dense
	xante *mat.Dense
	g     *mat.Dense
	z     *mat.Dense

	xpostMean []float64
	xanteMean []float64
	gMean     []float64
	zMean     []float64

	// Positions in X_post of the ex ante columns
	anteIdx []int

	// Position in Z of each cost column
	costZ []int

	// (X_ante' X_ante)^+ X_ante' X_post, nil when every benefit column
	// is known ex ante.
	proj *mat.Dense

	// Propensity scores and common support
	prob []float64
	pLo  float64
	pHi  float64
}

// column returns dataset column j, or a column of ones for Intercept.
func column(cols [][]statmodel.Dtype, n, j int) []float64 {
	if j == Intercept {
		x := make([]float64, n)
		for i := range x {
			x[i] = 1
		}
		return x
	}
	return cols[j]
}

func denseFromCols(cols [][]statmodel.Dtype, n int, ix []int) *mat.Dense {
	m := mat.NewDense(n, len(ix), nil)
	for j, k := range ix {
		m.SetCol(j, column(cols, n, k))
	}
	return m
}

// newDesign builds the design matrices from the covariates in ds.  The
// outcome and treatment columns are not read.
func newDesign(ds statmodel.Dataset, layout Layout) (*Data, error) {

	cols := ds.Data()
	nvar := len(cols)
	n := ds.NumObs()

	if n == 0 {
		return nil, fmt.Errorf("%w: no observations", ErrConfigInvalid)
	}
	if len(layout.AnteKnown) != len(layout.Benefit) {
		return nil, fmt.Errorf("%w: %d ante flags for %d benefit columns",
			ErrConfigInvalid, len(layout.AnteKnown), len(layout.Benefit))
	}
	if len(layout.Benefit) == 0 || len(layout.Benefit) == layout.PostOnly() {
		return nil, fmt.Errorf("%w: no benefit columns known ex ante", ErrConfigInvalid)
	}
	if len(layout.Cost) == 0 {
		return nil, fmt.Errorf("%w: no cost columns", ErrConfigInvalid)
	}

	check := func(what string, c int) error {
		if c == Intercept {
			return nil
		}
		if c < 0 || c >= nvar {
			return fmt.Errorf("%w: %s column %d out of range [0, %d)", ErrConfigInvalid, what, c, nvar)
		}
		if c == layout.Outcome || c == layout.Treatment {
			return fmt.Errorf("%w: %s column %d is the outcome or treatment", ErrConfigInvalid, what, c)
		}
		return nil
	}

	benefitPos := make(map[int]int)
	for j, c := range layout.Benefit {
		if err := check("benefit", c); err != nil {
			return nil, err
		}
		if _, ok := benefitPos[c]; ok {
			return nil, fmt.Errorf("%w: benefit column %d listed twice", ErrConfigInvalid, c)
		}
		if c == Intercept && !layout.AnteKnown[j] {
			return nil, fmt.Errorf("%w: the intercept is always known ex ante", ErrConfigInvalid)
		}
		benefitPos[c] = j
	}

	dt := &Data{
		layout: layout,
		names:  ds.Names(),
	}

	var anteCols []int
	for j, c := range layout.Benefit {
		if layout.AnteKnown[j] {
			dt.anteIdx = append(dt.anteIdx, j)
			anteCols = append(anteCols, c)
		}
	}

	// Z holds the ex ante columns followed by the cost-only columns.
	zcols := append([]int(nil), anteCols...)
	seen := make(map[int]bool)
	for _, c := range layout.Cost {
		if err := check("cost", c); err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, fmt.Errorf("%w: cost column %d listed twice", ErrConfigInvalid, c)
		}
		seen[c] = true

		if j, ok := benefitPos[c]; ok {
			if !layout.AnteKnown[j] {
				return nil, fmt.Errorf("%w: cost column %d is not known ex ante in the benefit equation",
					ErrConfigInvalid, c)
			}
			// Position among the ex ante columns
			for k, a := range dt.anteIdx {
				if a == j {
					dt.costZ = append(dt.costZ, k)
				}
			}
		} else {
			dt.costZ = append(dt.costZ, len(zcols))
			zcols = append(zcols, c)
		}
	}

	var nreg int
	for _, c := range zcols {
		if c != Intercept {
			nreg++
		}
	}
	if nreg == 0 {
		return nil, fmt.Errorf("%w: the choice equation has no regressors", ErrConfigInvalid)
	}

	dt.xpost = denseFromCols(cols, n, layout.Benefit)
	dt.xante = denseFromCols(cols, n, anteCols)
	dt.g = denseFromCols(cols, n, layout.Cost)
	dt.z = denseFromCols(cols, n, zcols)

	for _, m := range []*mat.Dense{dt.xpost, dt.xante, dt.g, dt.z} {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				v := m.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, fmt.Errorf("%w: non-finite covariate in row %d", ErrNumericInvalid, i)
				}
			}
		}
	}

	dt.xpostMean = statmodel.ColMeans(dt.xpost)
	dt.xanteMean = statmodel.ColMeans(dt.xante)
	dt.gMean = statmodel.ColMeans(dt.g)
	dt.zMean = statmodel.ColMeans(dt.z)

	if len(anteCols) < len(layout.Benefit) {
		if err := dt.setProjection(); err != nil {
			return nil, err
		}
	}

	return dt, nil
}

// NewData builds the model data from a dataset.  The outcome and
// treatment columns must be finite and binary respectively.  A probit of
// the treatment on the choice design provides the propensity scores and
// the common support.
func NewData(ds statmodel.Dataset, layout Layout, config *DataConfig) (*Data, error) {

	if config == nil {
		config = &DataConfig{}
	}

	if err := checkTargets(ds, layout); err != nil {
		return nil, err
	}

	dt, err := newDesign(ds, layout)
	if err != nil {
		return nil, err
	}

	dt.y = ds.Data()[layout.Outcome]
	dt.d = ds.Data()[layout.Treatment]

	var ntreat int
	for i, v := range dt.d {
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("%w: treatment value %v in row %d is not binary", ErrConfigInvalid, v, i)
		}
		if math.IsNaN(dt.y[i]) || math.IsInf(dt.y[i], 0) {
			return nil, fmt.Errorf("%w: outcome value %v in row %d", ErrNumericInvalid, dt.y[i], i)
		}
		ntreat += int(v)
	}
	if ntreat == 0 || ntreat == len(dt.d) {
		return nil, fmt.Errorf("%w: all agents have the same treatment status", ErrConfigInvalid)
	}

	if err := dt.setSupport(config.Log); err != nil {
		return nil, err
	}

	return dt, nil
}

// checkTargets checks that the outcome and treatment are distinct
// columns of ds.
func checkTargets(ds statmodel.Dataset, layout Layout) error {
	nvar := len(ds.Data())
	for _, c := range []int{layout.Outcome, layout.Treatment} {
		if c < 0 || c >= nvar {
			return fmt.Errorf("%w: column %d out of range [0, %d)", ErrConfigInvalid, c, nvar)
		}
	}
	if layout.Outcome == layout.Treatment {
		return fmt.Errorf("%w: outcome and treatment share column %d", ErrConfigInvalid, layout.Outcome)
	}
	return nil
}

// setSupport fits a probit of D on Z and derives the common support.
func (dt *Data) setSupport(logger *log.Logger) error {

	n, k := dt.z.Dims()
	cols := make([][]statmodel.Dtype, k+1)
	names := make([]string, k+1)
	for j := 0; j < k; j++ {
		cols[j] = mat.Col(nil, j, dt.z)
		names[j] = fmt.Sprintf("z%d", j)
	}
	cols[k] = dt.d
	names[k] = "d"

	config := &glm.Config{
		Family: glm.NewFamily(glm.BinomialFamily),
		Link:   glm.NewLink(glm.ProbitLink),
		Log:    logger,
	}
	model, err := glm.NewGLM(statmodel.NewDataset(cols, names), "d", names[:k], config)
	if err != nil {
		return fmt.Errorf("propensity score: %w", err)
	}
	rslt, err := model.Fit()
	if err != nil {
		return fmt.Errorf("propensity score: %w", err)
	}

	if logger != nil {
		logger.Printf("Propensity score:\n%s", rslt.Summary())
	}

	dt.prob = rslt.Mean(nil)

	var p1, p0 []float64
	for i := 0; i < n; i++ {
		if dt.d[i] == 1 {
			p1 = append(p1, dt.prob[i])
		} else {
			p0 = append(p0, dt.prob[i])
		}
	}

	dt.pLo = round2(math.Max(floats.Min(p1), floats.Min(p0)))
	dt.pHi = round2(math.Min(floats.Max(p1), floats.Max(p0)))

	return nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// NumObs returns the number of agents.
func (dt *Data) NumObs() int {
	r, _ := dt.xpost.Dims()
	return r
}

// Layout returns the column layout.
func (dt *Data) Layout() Layout {
	return dt.layout
}

// Names returns the dataset column names.
func (dt *Data) Names() []string {
	return dt.names
}

// Y returns the observed outcomes.
func (dt *Data) Y() []float64 {
	return dt.y
}

// D returns the treatment indicators.
func (dt *Data) D() []float64 {
	return dt.d
}

// XPost returns the ex post outcome design.
func (dt *Data) XPost() mat.Matrix {
	return dt.xpost
}

// XAnte returns the ex ante outcome design.
func (dt *Data) XAnte() mat.Matrix {
	return dt.xante
}

// G returns the cost design.
func (dt *Data) G() mat.Matrix {
	return dt.g
}

// Z returns the choice design.
func (dt *Data) Z() mat.Matrix {
	return dt.z
}

// XPostMean returns the column means of the ex post outcome design.
func (dt *Data) XPostMean() []float64 {
	return dt.xpostMean
}

// XAnteMean returns the column means of the ex ante outcome design.
func (dt *Data) XAnteMean() []float64 {
	return dt.xanteMean
}

// GMean returns the column means of the cost design.
func (dt *Data) GMean() []float64 {
	return dt.gMean
}

// ZMean returns the column means of the choice design.
func (dt *Data) ZMean() []float64 {
	return dt.zMean
}

// Propensity returns the fitted probabilities of treatment.
func (dt *Data) Propensity() []float64 {
	return dt.prob
}

// Support returns the common support [p_lo, p_hi] of the propensity score.
func (dt *Data) Support() (float64, float64) {
	return dt.pLo, dt.pHi
}

// SurplusEstimable reports whether some benefit column is known only ex
// post, which is what separates ex ante from ex post benefits.
func (dt *Data) SurplusEstimable() bool {
	return dt.layout.PostOnly() > 0
}
