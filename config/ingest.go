package config

import (
	"fmt"
	"log"
	"math"
	"os"

	"github.com/lnsongxf/roymodel/glm"
	"github.com/lnsongxf/roymodel/roy"
	"github.com/lnsongxf/roymodel/statmodel"
)

// Options holds settings that do not belong to the configuration file.
type Options struct {

	// Log receives progress messages from all components when not nil.
	Log *log.Logger
}

// Layout returns the column layout described by the configuration.
// Intercepts come first in each equation.
func (c *Config) Layout() roy.Layout {

	l := roy.Layout{
		Outcome:   c.Data.Outcome,
		Treatment: c.Data.Treatment,
	}

	if c.Benefits.Treated.Intercept != nil {
		l.Benefit = append(l.Benefit, roy.Intercept)
		l.AnteKnown = append(l.AnteKnown, true)
	}
	for _, b := range c.Benefits.Treated.Coeffs {
		l.Benefit = append(l.Benefit, b.Column)
		l.AnteKnown = append(l.AnteKnown, b.Ante)
	}

	if c.Costs.Intercept != nil {
		l.Cost = append(l.Cost, roy.Intercept)
	}
	for _, g := range c.Costs.Coeffs {
		l.Cost = append(l.Cost, g.Column)
	}

	return l
}

// Start holds starting values computed from the data.  They replace the
// configured values of free entries; nil slices leave the configured
// values in place.
type Start struct {
	Treated   []float64
	Untreated []float64
	Cost      []float64
	SD        [3]float64
	Rho       [2]float64
	set       bool
}

// entry is a parameter entry of the configuration, in the order of
// Layout.
type entry struct {
	kind   roy.Kind
	group  roy.Group
	col    int
	v      Value
	bounds roy.Bounds
}

func (c *Config) entries() []entry {

	var e []entry

	outcome := func(o *Outcome, g roy.Group) {
		if o.Intercept != nil {
			e = append(e, entry{roy.Outcome, g, roy.Intercept, *o.Intercept, roy.NoBounds()})
		}
		for _, b := range o.Coeffs {
			e = append(e, entry{roy.Outcome, g, b.Column, Value{b.Value, b.Free}, roy.NoBounds()})
		}
	}
	outcome(&c.Benefits.Treated, roy.Treated)
	outcome(&c.Benefits.Untreated, roy.Untreated)

	if c.Costs.Intercept != nil {
		e = append(e, entry{roy.Cost, roy.NoGroup, roy.Intercept, *c.Costs.Intercept, roy.NoBounds()})
	}
	for _, g := range c.Costs.Coeffs {
		e = append(e, entry{roy.Cost, roy.NoGroup, g.Column, Value{g.Value, g.Free}, roy.NoBounds()})
	}

	e = append(e,
		entry{roy.SD, roy.U1, 0, c.Benefits.Treated.SD, roy.SDBounds},
		entry{roy.SD, roy.U0, 0, c.Benefits.Untreated.SD, roy.SDBounds},
		entry{roy.SD, roy.V, 0, c.Costs.SD, roy.SDBounds},
		entry{roy.Correlation, roy.U1V, 0, c.Correlations.Treated, roy.CorrBounds},
		entry{roy.Correlation, roy.U0V, 0, c.Correlations.Untreated, roy.CorrBounds},
	)

	return e
}

// clip moves v into the closed interval of b.
func clip(v float64, b roy.Bounds) float64 {
	if b.HasLower {
		v = math.Max(v, b.Lower)
	}
	if b.HasUpper {
		v = math.Min(v, b.Upper)
	}
	return v
}

// Params returns the locked parameter store.  If start is not nil its
// values replace the configured values of the free entries.  Standard
// deviations and correlations beyond the stored bounds are moved onto
// the bounds, and from there into the interior.
func (c *Config) Params(start *Start) (*roy.Params, error) {

	var sv []float64
	if start != nil && start.set {
		sv = append(sv, start.Treated...)
		sv = append(sv, start.Untreated...)
		sv = append(sv, start.Cost...)
		sv = append(sv, start.SD[:]...)
		sv = append(sv, start.Rho[:]...)
	}

	b := roy.NewBuilder()
	for i, e := range c.entries() {
		v := e.v.Value
		if sv != nil && e.v.Free {
			v = sv[i]
		}
		if err := b.Add(e.kind, e.group, e.col, clip(v, e.bounds), e.v.Free, e.bounds); err != nil {
			return nil, err
		}
	}

	return b.Lock()
}

// LoadData reads the data source, keeping the first data.agents rows.
func (c *Config) LoadData() (statmodel.Dataset, error) {

	path := c.SourcePath()
	if path == "" {
		return nil, fmt.Errorf("%w: no data source", roy.ErrConfigInvalid)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	ds, err := statmodel.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if c.Data.Agents.Set && c.Data.Agents.N < ds.NumObs() {
		n := c.Data.Agents.N
		ds = statmodel.Subset(ds, func(i int) bool { return i < n })
	}

	return ds, nil
}

// AutoStart computes starting values from the data: least squares fits
// of the outcome on the benefit columns in the treated and untreated
// subsamples, and a probit fit of the treatment on the cost columns.
// Cost coefficients start at the negated probit coefficients, sd(V) at
// one and the correlations at zero.
func (c *Config) AutoStart(ds statmodel.Dataset, opts *Options) (*Start, error) {

	if opts == nil {
		opts = &Options{}
	}

	l := c.Layout()
	cols := ds.Data()
	if l.Treatment >= len(cols) || l.Outcome >= len(cols) {
		return nil, fmt.Errorf("%w: outcome or treatment column out of range", roy.ErrConfigInvalid)
	}
	d := cols[l.Treatment]

	st := &Start{set: true}
	for _, x := range []struct {
		treated bool
		coef    *[]float64
		sd      *float64
	}{
		{true, &st.Treated, &st.SD[0]},
		{false, &st.Untreated, &st.SD[1]},
	} {
		keep := func(i int) bool { return (d[i] == 1) == x.treated }
		sub, err := design(ds, l.Outcome, l.Benefit, keep)
		if err != nil {
			return nil, err
		}
		model, err := glm.NewGLM(sub, "y", sub.Names()[1:], &glm.Config{
			Family: glm.NewFamily(glm.GaussianFamily),
			Log:    opts.Log,
		})
		if err != nil {
			return nil, fmt.Errorf("auto start: %w", err)
		}
		rslt, err := model.Fit()
		if err != nil {
			return nil, fmt.Errorf("auto start: %w", err)
		}
		if opts.Log != nil {
			opts.Log.Printf("Auto start, treated=%t:\n%s", x.treated, rslt.Summary())
		}
		*x.coef = rslt.Params()
		*x.sd = math.Sqrt(rslt.Scale())
	}

	all := func(int) bool { return true }
	sub, err := design(ds, l.Treatment, l.Cost, all)
	if err != nil {
		return nil, err
	}
	model, err := glm.NewGLM(sub, "y", sub.Names()[1:], &glm.Config{
		Family: glm.NewFamily(glm.BinomialFamily),
		Link:   glm.NewLink(glm.ProbitLink),
		Log:    opts.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("auto start: %w", err)
	}
	rslt, err := model.Fit()
	if err != nil {
		return nil, fmt.Errorf("auto start: %w", err)
	}
	if opts.Log != nil {
		opts.Log.Printf("Auto start, choice:\n%s", rslt.Summary())
	}
	for _, v := range rslt.Params() {
		st.Cost = append(st.Cost, -v)
	}
	st.SD[2] = 1

	if opts.Log != nil {
		opts.Log.Printf("Auto start: treated %v, untreated %v, cost %v, sd %v",
			st.Treated, st.Untreated, st.Cost, st.SD)
	}

	return st, nil
}

// design returns a dataset holding column ycol as "y" followed by the
// columns in xcols, restricted to the rows selected by keep.
func design(ds statmodel.Dataset, ycol int, xcols []int, keep func(int) bool) (statmodel.Dataset, error) {

	cols := ds.Data()
	n := ds.NumObs()

	data := [][]statmodel.Dtype{cols[ycol]}
	names := []string{"y"}
	for _, j := range xcols {
		if j == roy.Intercept {
			one := make([]statmodel.Dtype, n)
			for i := range one {
				one[i] = 1
			}
			data = append(data, one)
			names = append(names, "intercept")
			continue
		}
		if j >= len(cols) {
			return nil, fmt.Errorf("%w: column %d out of range [0, %d)", roy.ErrConfigInvalid, j, len(cols))
		}
		data = append(data, cols[j])
		names = append(names, fmt.Sprintf("x%d", j))
	}

	sub := statmodel.Subset(statmodel.NewDataset(data, names), keep)
	if sub.NumObs() == 0 {
		return nil, fmt.Errorf("%w: empty subsample", roy.ErrConfigInvalid)
	}

	return sub, nil
}

// FitConfig returns the optimizer settings.
func (c *Config) FitConfig(opts *Options) *roy.FitConfig {

	est := &c.Estimation
	fc := roy.DefaultFitConfig()

	if est.Algorithm == "powell" {
		fc.Algorithm = roy.Powell
	}
	fc.MaxIter = -1
	if est.MaxIter.Set {
		fc.MaxIter = est.MaxIter.N
	}
	fc.GTol = est.GTol
	fc.Epsilon = est.Epsilon
	if est.Differences == "two-sided" {
		fc.Differences = roy.TwoSided
	}
	fc.Asymptotics = est.Asymptotics
	if est.Hessian == "numdiff" {
		fc.Hessian = roy.HessianNumDiff
	}
	if opts != nil {
		fc.Log = opts.Log
	}

	return fc
}

// InferenceConfig returns the inference settings.
func (c *Config) InferenceConfig(opts *Options) *roy.InferenceConfig {
	ic := &roy.InferenceConfig{
		Draws: c.Estimation.Draws,
		Alpha: c.Estimation.Alpha,
		Sims:  c.Estimation.Sims,
	}
	if opts != nil {
		ic.Log = opts.Log
	}
	return ic
}

// ModelConfig returns the model settings.
func (c *Config) ModelConfig(opts *Options) *roy.ModelConfig {
	mc := roy.DefaultModelConfig()
	if c.Estimation.Version == "slow" {
		mc.Variant = roy.Slow
	}
	if opts != nil {
		mc.Log = opts.Log
	}
	return mc
}

// SimConfig returns the simulator settings.
func (c *Config) SimConfig(opts *Options) *roy.SimConfig {
	sc := &roy.SimConfig{
		Agents: c.Simulation.Agents,
		Seed:   uint64(c.Simulation.Seed),
	}
	if opts != nil {
		sc.Log = opts.Log
	}
	return sc
}

// NewModel reads the data and returns the model with its parameter store
// at the starting values.
func (c *Config) NewModel(opts *Options) (*roy.Model, error) {

	if opts == nil {
		opts = &Options{}
	}

	ds, err := c.LoadData()
	if err != nil {
		return nil, err
	}

	var start *Start
	if c.Estimation.Start == "auto" {
		start, err = c.AutoStart(ds, opts)
		if err != nil {
			return nil, err
		}
	}

	params, err := c.Params(start)
	if err != nil {
		return nil, err
	}

	data, err := roy.NewData(ds, c.Layout(), &roy.DataConfig{Log: opts.Log})
	if err != nil {
		return nil, err
	}

	return roy.NewModel(params, data, c.ModelConfig(opts))
}

// Estimate runs the estimation described by the configuration.
func (c *Config) Estimate(opts *Options) (*roy.Results, error) {
	m, err := c.NewModel(opts)
	if err != nil {
		return nil, err
	}
	return roy.Estimate(m, c.FitConfig(opts), c.InferenceConfig(opts))
}

// Simulate draws a dataset from the model at the configured values.  The
// covariates come from the data source if it exists, otherwise they are
// drawn by the simulator.
func (c *Config) Simulate(opts *Options) (*roy.Simulation, error) {

	params, err := c.Params(nil)
	if err != nil {
		return nil, err
	}

	var ds statmodel.Dataset
	if path := c.SourcePath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			ds, err = c.LoadData()
			if err != nil {
				return nil, err
			}
		} else if opts != nil && opts.Log != nil {
			opts.Log.Printf("No data at %s, drawing %d agents", path, c.Simulation.Agents)
		}
	}

	return roy.Simulate(params, ds, c.Layout(), c.SimConfig(opts))
}
