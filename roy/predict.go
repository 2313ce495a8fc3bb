package roy

import (
	"fmt"

	"github.com/lnsongxf/roymodel/statmodel"
	"gonum.org/v1/gonum/mat"
)

// setProjection computes (X_ante' X_ante)^+ X_ante' X_post.  The result
// belongs to this Data value, whose matrices never change.
func (dt *Data) setProjection() error {

	var xtx mat.Dense
	xtx.Mul(dt.xante.T(), dt.xante)

	xtxi, err := statmodel.Pinv(&xtx)
	if err != nil {
		return fmt.Errorf("%w: prediction step: %v", ErrNumericInvalid, err)
	}

	var m mat.Dense
	m.Mul(xtxi, dt.xante.T())

	dt.proj = new(mat.Dense)
	dt.proj.Mul(&m, dt.xpost)

	return nil
}

// PredictAnte projects ex post benefit coefficients onto the ex ante
// columns, so that X_ante b_ante is the least squares fit of X_post b_post.
// If every benefit column is known ex ante a copy of bpost is returned.
func (dt *Data) PredictAnte(bpost []float64) []float64 {

	_, kpost := dt.xpost.Dims()
	if len(bpost) != kpost {
		panic(fmt.Sprintf("PredictAnte: %d coefficients for %d columns\n", len(bpost), kpost))
	}

	if dt.proj == nil {
		b := make([]float64, len(bpost))
		copy(b, bpost)
		return b
	}

	_, kante := dt.xante.Dims()
	b := mat.NewVecDense(kante, nil)
	b.MulVec(dt.proj, mat.NewVecDense(kpost, bpost))

	return b.RawVector().Data
}

// ExAnteBenefit returns the ex ante benefit coefficients, aligned with
// the columns of XAnte.
func (dt *Data) ExAnteBenefit(p *Params) []float64 {
	return dt.PredictAnte(p.ExPostBenefit())
}

// ChoiceCoeffs returns the choice index coefficients, aligned with the
// columns of Z: the ex ante benefit minus the cost coefficients, each
// padded with zeros over the columns they do not use.
func (dt *Data) ChoiceCoeffs(p *Params) []float64 {

	_, kz := dt.z.Dims()
	gamma := make([]float64, kz)
	copy(gamma, dt.ExAnteBenefit(p))

	for j, c := range p.CostCoeffs() {
		gamma[dt.costZ[j]] -= c
	}

	return gamma
}
