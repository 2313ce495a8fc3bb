package roy

import (
	"fmt"
	"log"
	"math"
	"slices"

	"github.com/lnsongxf/roymodel/statmodel"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Algorithm is the optimization algorithm used by Fit.
type Algorithm uint8

// BFGS and Powell are the supported algorithms.
const (
	BFGS Algorithm = iota
	Powell
)

func (a Algorithm) String() string {
	if a == Powell {
		return "powell"
	}
	return "bfgs"
}

// HessianSource selects how the asymptotic covariance is obtained.
type HessianSource uint8

// HessianBFGS uses the inverse Hessian approximation built up by BFGS,
// HessianNumDiff inverts a finite difference Hessian of the objective.
const (
	HessianBFGS HessianSource = iota
	HessianNumDiff
)

func (h HessianSource) String() string {
	if h == HessianNumDiff {
		return "numdiff"
	}
	return "bfgs"
}

// Powell's method stops on these tolerances.
const (
	powellXTol = 1e-10
	powellFTol = 1e-10
)

// FitConfig defines configuration parameters for Fit.
type FitConfig struct {

	// Algorithm is the optimization algorithm.
	Algorithm Algorithm

	// MaxIter caps the number of iterations.  A negative value means
	// the algorithm's default cap, zero evaluates the objective at the
	// starting values only.
	MaxIter int

	// GTol is the gradient threshold of BFGS.
	GTol float64

	// Epsilon is the finite difference step.
	Epsilon float64

	// Differences is the finite difference scheme.
	Differences Differences

	// Asymptotics requests the asymptotic covariance matrix.
	Asymptotics bool

	// Hessian selects the source of the covariance matrix.
	Hessian HessianSource

	// Log receives progress messages when not nil.
	Log *log.Logger
}

// DefaultFitConfig returns default configuration values for Fit.
func DefaultFitConfig() *FitConfig {
	return &FitConfig{
		Algorithm:   BFGS,
		MaxIter:     -1,
		GTol:        1e-5,
		Epsilon:     1.4901161193847656e-08,
		Differences: OneSided,
		Hessian:     HessianBFGS,
	}
}

// Message describes why an optimization stopped.
type Message uint8

// The termination messages.
const (
	MsgNone Message = iota
	MsgMaxIter
	MsgMaxFuncEvals
	MsgNoProgress
	MsgStartOnly
)

var messageText = []string{
	"none",
	"maximum number of iterations",
	"maximum number of function evaluations",
	"gradient and/or function calls not changing",
	"single function evaluation at starting values",
}

func (m Message) String() string {
	if int(m) < len(messageText) {
		return messageText[m]
	}
	return fmt.Sprintf("Message(%d)", m)
}

// ParseMessage is the inverse of Message.String.
func ParseMessage(s string) (Message, error) {
	for j, t := range messageText {
		if s == t {
			return Message(j), nil
		}
	}
	return 0, fmt.Errorf("unknown message %q", s)
}

// FitResult holds the outcome of an optimization.
type FitResult struct {

	// Start and StartF are the free external starting values and the
	// objective there.
	Start  []float64
	StartF float64

	// X is the free external parameter vector at the optimum, F the
	// objective and Grad its finite difference gradient.
	X    []float64
	F    float64
	Grad []float64

	// CovMat approximates the inverse Hessian of the objective at X,
	// nil unless asymptotics were requested.
	CovMat *mat.SymDense

	// HessianUsed is the source of CovMat.
	HessianUsed HessianSource

	Success bool
	Message Message

	Algorithm    Algorithm
	NumIter      int
	NumFuncEvals int
}

// Err returns an error wrapping ErrNonConvergence if the optimization
// did not succeed.
func (r *FitResult) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNonConvergence, r.Message)
}

// GradNorm returns the Euclidean norm of the gradient.
func (r *FitResult) GradNorm() float64 {
	return floats.Norm(r.Grad, 2)
}

// Fit minimizes the objective over the free parameters, starting from the
// values held in the parameter store.  Non-convergence is not an error;
// it is reported through the Success and Message fields.  On return the
// parameter store holds the values at X.
func (m *Model) Fit(config *FitConfig) (*FitResult, error) {

	if config == nil {
		config = DefaultFitConfig()
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("%w: finite difference step %v", ErrConfigInvalid, config.Epsilon)
	}

	start := m.params.Values(External, Free)
	nfev0 := m.nfev

	rslt := &FitResult{
		Start:     slices.Clone(start),
		StartF:    m.Objective(start),
		Algorithm: config.Algorithm,
	}

	var trace *traceRecorder
	var err error

	switch {
	case config.MaxIter == 0 || len(start) == 0:
		rslt.X = slices.Clone(start)
		rslt.Message = MsgStartOnly
	case config.Algorithm == Powell:
		m.fitPowell(start, config, rslt)
	default:
		trace, err = m.fitBFGS(start, config, rslt)
		if err != nil {
			return nil, err
		}
	}

	rslt.F = m.Objective(rslt.X)
	rslt.Grad = m.Gradient(rslt.X, config.Differences, config.Epsilon)
	rslt.NumFuncEvals = m.nfev - nfev0

	if config.Log != nil {
		config.Log.Printf("%s finished after %d iterations: f=%.10f, success=%t, message=%s",
			config.Algorithm, rslt.NumIter, rslt.F, rslt.Success, rslt.Message)
	}
	if !rslt.Success && rslt.Message != MsgStartOnly {
		m.failMessage(rslt, config.Log)
	}

	if config.Asymptotics {
		m.setCovariance(rslt, trace, config)
	}

	return rslt, nil
}

func (m *Model) fitPowell(start []float64, config *FitConfig, rslt *FitResult) {

	n := len(start)
	maxiter, maxfev := config.MaxIter, math.MaxInt
	if maxiter < 0 {
		maxiter, maxfev = 1000*n, 1000*n
	}

	pr := powell(m.Objective, start, powellXTol, powellFTol, maxiter, maxfev)

	rslt.X = pr.x
	rslt.NumIter = pr.iter

	switch pr.status {
	case powellConverged:
		rslt.Success = true
		rslt.Message = MsgNone
	case powellMaxFev:
		rslt.Message = MsgMaxFuncEvals
	case powellMaxIter:
		rslt.Message = MsgMaxIter
	default:
		rslt.Message = MsgNoProgress
	}
}

func (m *Model) fitBFGS(start []float64, config *FitConfig, rslt *FitResult) (*traceRecorder, error) {

	p := optimize.Problem{
		Func: m.Objective,
		Grad: func(grad, x []float64) {
			Gradient(grad, m.Objective, x, config.Differences, config.Epsilon)
		},
	}

	// The starting location counts as a major iteration.
	maxiter := config.MaxIter
	if maxiter < 0 {
		maxiter = 200 * len(start)
	}

	trace := &traceRecorder{log: config.Log}
	settings := &optimize.Settings{
		GradientThreshold: config.GTol,
		MajorIterations:   maxiter + 1,
		Recorder:          trace,
	}

	optrslt, err := optimize.Minimize(p, start, settings, &optimize.BFGS{})
	if optrslt == nil {
		return nil, fmt.Errorf("bfgs: %w", err)
	}

	rslt.X = slices.Clone(optrslt.X)
	rslt.NumIter = max(optrslt.Stats.MajorIterations-1, 0)
	rslt.Success, rslt.Message = bfgsMessage(optrslt.Status, err)

	if err != nil && config.Log != nil {
		config.Log.Printf("bfgs: %v", err)
	}

	// The final location is not passed to the recorder.
	trace.add(optrslt.X, optrslt.Gradient)

	return trace, nil
}

// bfgsMessage maps the termination status of the optimizer to the
// success flag and message of the result.
func bfgsMessage(status optimize.Status, err error) (bool, Message) {

	if err != nil {
		return false, MsgNoProgress
	}

	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.MethodConverge, optimize.FunctionThreshold:
		return true, MsgNone
	case optimize.IterationLimit:
		return false, MsgMaxIter
	case optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit:
		return false, MsgMaxFuncEvals
	default:
		return false, MsgNoProgress
	}
}

// failMessage logs the current point and gradient, which can help to
// diagnose optimization failures.
func (m *Model) failMessage(rslt *FitResult, logger *log.Logger) {

	if logger == nil {
		return
	}

	names := m.params.Names(Free, m.data.Names())
	logger.Print("Current point and gradient:")
	for j, x := range rslt.X {
		logger.Printf("%16.8f %16.8f %s", x, rslt.Grad[j], names[j])
	}
}

// setCovariance fills in CovMat, from the BFGS trace when possible and
// from a numerical Hessian otherwise.
func (m *Model) setCovariance(rslt *FitResult, trace *traceRecorder, config *FitConfig) {

	if len(rslt.X) == 0 {
		return
	}

	if config.Hessian == HessianBFGS && config.Algorithm == BFGS && trace != nil {
		if h := trace.inverseHessian(); h != nil {
			rslt.CovMat = h
			rslt.HessianUsed = HessianBFGS
			return
		}
	}

	rslt.HessianUsed = HessianNumDiff

	var hess mat.SymDense
	fd.Hessian(&hess, m.Objective, rslt.X, &fd.Settings{
		Formula: fd.Central,
		Step:    math.Sqrt(config.Epsilon),
	})
	m.Objective(rslt.X)

	hi, err := statmodel.Pinv(&hess)
	if err != nil {
		if config.Log != nil {
			config.Log.Printf("No covariance matrix: %v", err)
		}
		return
	}

	n := len(rslt.X)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, (hi.At(i, j)+hi.At(j, i))/2)
		}
	}
	rslt.CovMat = cov
}

// traceRecorder keeps the iterates and gradients of a BFGS run.
type traceRecorder struct {
	log *log.Logger
	xs  [][]float64
	gs  [][]float64
}

func (r *traceRecorder) Init() error {
	r.xs = r.xs[:0]
	r.gs = r.gs[:0]
	return nil
}

func (r *traceRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	if r.log != nil {
		r.log.Printf("Iteration %d: f=%.10f", stats.MajorIterations-1, loc.F)
	}
	r.add(loc.X, loc.Gradient)
	return nil
}

func (r *traceRecorder) add(x, g []float64) {
	if g == nil {
		return
	}
	if k := len(r.xs); k > 0 && floats.Equal(r.xs[k-1], x) {
		return
	}
	r.xs = append(r.xs, slices.Clone(x))
	r.gs = append(r.gs, slices.Clone(g))
}

// inverseHessian replays the BFGS updates over the recorded iterates,
// giving the inverse Hessian approximation held by the optimizer at the
// last iterate.  It returns nil if fewer than two iterates were recorded.
func (r *traceRecorder) inverseHessian() *mat.SymDense {

	if len(r.xs) < 2 {
		return nil
	}

	n := len(r.xs[0])
	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		h.SetSym(i, i, 1)
	}

	s := mat.NewVecDense(n, nil)
	y := mat.NewVecDense(n, nil)
	var hy mat.VecDense
	first := true

	for k := 1; k < len(r.xs); k++ {

		s.SubVec(mat.NewVecDense(n, r.xs[k]), mat.NewVecDense(n, r.xs[k-1]))
		y.SubVec(mat.NewVecDense(n, r.gs[k]), mat.NewVecDense(n, r.gs[k-1]))
		sy := mat.Dot(s, y)

		if first {
			// Initial scaling of the identity
			if yy := mat.Dot(y, y); yy > 0 {
				for i := 0; i < n; i++ {
					h.SetSym(i, i, sy/yy)
				}
			}
			first = false
		}

		if sy != 0 {
			yhy := mat.Inner(y, h, y)
			hy.MulVec(h, y)
			h.SymRankOne(h, (1+yhy/sy)/sy, s)
			h.RankTwo(h, -1/sy, &hy, s)
		}
	}

	return h
}
