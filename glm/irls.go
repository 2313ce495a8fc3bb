package glm

import (
	"fmt"
	"math"

	"github.com/lnsongxf/roymodel/statmodel"
	"gonum.org/v1/gonum/mat"
)

func (glm *GLM) fitIRLS(start []float64, maxiter int) ([]float64, error) {

	dtol := 1e-8

	n := glm.NumObs()
	linpred := make([]float64, n)
	mn := make([]float64, n)
	va := make([]float64, n)
	lderiv := make([]float64, n)
	irlsw := make([]float64, n)
	adjy := make([]float64, n)

	var nparam mat.VecDense

	nvar := glm.NumParams()

	xty := make([]float64, nvar)
	xtx := make([]float64, nvar*nvar)

	params := start

	var dev []float64

	xdat := make([][]statmodel.Dtype, len(glm.xpos))
	for j, k := range glm.xpos {
		xdat[j] = glm.data[k]
	}

	yda := glm.data[glm.ypos]

	// IRLS iterations
	for iter := 0; iter < maxiter; iter++ {

		zero(xtx)
		zero(xty)

		if iter == 0 && glm.start == nil {
			glm.startingMu(yda, mn)
			glm.link.Link(mn, linpred)
		} else {
			glm.linearPredictor(params, linpred)
			glm.link.InvLink(linpred, mn)
		}

		glm.link.Deriv(mn, lderiv)
		glm.vari.Var(mn, va)

		devi := glm.fam.Deviance(yda, mn, 1)

		// Create weights and an adjusted response for WLS
		for i := range yda {
			irlsw[i] = 1 / (lderiv[i] * lderiv[i] * va[i])
			adjy[i] = linpred[i] + lderiv[i]*(yda[i]-mn[i])
		}

		irlsXprod(xdat, adjy, irlsw, xty, xtx)

		// Fill in the unfilled triangle of xtx
		for j1 := range glm.xpos {
			for j2 := j1 + 1; j2 < nvar; j2++ {
				xtx[j1*nvar+j2] = xtx[j2*nvar+j1]
			}
		}

		// Update the parameters
		xtxm := mat.NewDense(nvar, nvar, xtx)
		xtyv := mat.NewVecDense(nvar, xty)
		if err := nparam.SolveVec(xtxm, xtyv); err != nil {
			return nil, fmt.Errorf("%w: IRLS iteration %d: %v", ErrFit, iter+1, err)
		}
		params = make([]float64, nvar)
		copy(params, nparam.RawVector().Data)

		// Check convergence
		dev = append(dev, devi)
		if math.IsNaN(devi) {
			return nil, fmt.Errorf("%w: IRLS deviance is not a number", ErrFit)
		}
		if len(dev) > 3 && math.Abs(dev[len(dev)-1]-dev[len(dev)-2]) < dtol {
			break
		}

		if glm.log != nil {
			glm.log.Printf("Iteration %d: deviance=%.10f\n", iter+1, devi)
		}
	}

	if glm.log != nil {
		glm.log.Print("IRLS converged\n")
	}

	return params, nil
}

func irlsXprod(xdat [][]statmodel.Dtype, adjy, irlsw, xty, xtx []float64) {

	nvar := len(xdat)

	for j1 := range xdat {

		// Update x' w^-1 yadj
		xda := xdat[j1]
		var u float64
		for i := range adjy {
			u += adjy[i] * xda[i] * irlsw[i]
		}
		xty[j1] += u

		// Update x' w^-1 x
		for j2 := 0; j2 <= j1; j2++ {
			xdb := xdat[j2]
			var u float64
			for i := range xda {
				u += xda[i] * xdb[i] * irlsw[i]
			}
			xtx[j1*nvar+j2] += u
		}
	}
}

func (glm *GLM) startingMu(y []statmodel.Dtype, mn []float64) {

	if glm.fam.TypeCode == BinomialFamily {
		for i := range mn {
			mn[i] = (y[i] + 0.5) / 2
		}
		return
	}

	var q float64
	for i := range y {
		q += y[i]
	}
	q /= float64(len(y))
	for i := range mn {
		mn[i] = (y[i] + q) / 2
	}
}
