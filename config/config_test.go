package config

import (
	"bytes"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/lnsongxf/roymodel/roy"
	"github.com/lnsongxf/roymodel/statmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A model with one ante-known benefit column, one post-only benefit
// column and one cost-only column.
const testConfig = `
data:
  source: data.csv
  outcome: 0
  treatment: 1
benefits:
  treated:
    intercept: {value: 1.0, free: true}
    coeffs:
      - {column: 2, value: 0.5, free: true, ante: true}
      - {column: 4, value: 0.3, free: true}
    sd: {value: 1.0, free: true}
  untreated:
    intercept: {value: 0.5, free: true}
    coeffs:
      - {column: 2, value: 0.2, free: true, ante: true}
      - {column: 4, value: 0.1, free: true}
    sd: {value: 0.8, free: true}
costs:
  intercept: {value: 0.2, free: true}
  coeffs:
    - {column: 3, value: 0.4, free: true}
  sd: {value: 1.0, free: true}
correlations:
  treated: {value: 0.3, free: true}
  untreated: {value: -0.2, free: true}
estimation:
  maxiter: 0
  draws: 20
  sims: 100
simulation:
  agents: 400
  seed: 5
  target: sim
`

func parseTest(t *testing.T, edit func(c *Config)) *Config {
	c, err := Parse([]byte(testConfig))
	require.NoError(t, err)
	if edit != nil {
		edit(c)
	}
	return c
}

func TestParseDefaults(t *testing.T) {

	c := parseTest(t, nil)

	assert.Equal(t, "bfgs", c.Estimation.Algorithm)
	assert.Equal(t, "manual", c.Estimation.Start)
	assert.Equal(t, "one-sided", c.Estimation.Differences)
	assert.Equal(t, "fast", c.Estimation.Version)
	assert.Equal(t, 0.05, c.Estimation.Alpha)
	assert.Equal(t, 1e-5, c.Estimation.GTol)
	assert.Equal(t, LimitOf(0), c.Estimation.MaxIter)
	assert.Equal(t, NoLimit, c.Data.Agents)
	assert.Equal(t, 20, c.Estimation.Draws)
	assert.Equal(t, 400, c.Simulation.Agents)

	empty, err := Parse(nil)
	assert.Nil(t, empty)
	assert.ErrorIs(t, err, roy.ErrConfigInvalid, "empty model sections")
}

func TestLimit(t *testing.T) {

	c, err := Parse(bytes.ReplaceAll([]byte(testConfig), []byte("maxiter: 0"), []byte("maxiter: none")))
	require.NoError(t, err)
	assert.False(t, c.Estimation.MaxIter.Set)
	assert.Equal(t, "none", c.Estimation.MaxIter.String())
	assert.Equal(t, -1, c.FitConfig(nil).MaxIter)

	_, err = Parse(bytes.ReplaceAll([]byte(testConfig), []byte("maxiter: 0"), []byte("maxiter: lots")))
	assert.ErrorIs(t, err, roy.ErrConfigInvalid)

	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))
	assert.Contains(t, buf.String(), "maxiter: none")

	back, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, c.Benefits, back.Benefits)
	assert.Equal(t, c.Estimation, back.Estimation)
}

func TestUnknownKey(t *testing.T) {
	_, err := Parse(append([]byte(testConfig), []byte("extra: 1\n")...))
	assert.ErrorIs(t, err, roy.ErrConfigInvalid)
}

func TestNormalize(t *testing.T) {

	c := parseTest(t, func(c *Config) {
		c.Estimation.Algorithm = "powell"
		c.Estimation.Hessian = "bfgs"
	})
	c.Normalize()
	assert.Equal(t, "numdiff", c.Estimation.Hessian)

	c = parseTest(t, func(c *Config) {
		c.Estimation.Asymptotics = true
		c.Estimation.Hessian = "bfgs"
	})
	c.Normalize()
	assert.Equal(t, "numdiff", c.Estimation.Hessian)

	c = parseTest(t, func(c *Config) {
		c.Estimation.MaxIter = NoLimit
		c.Estimation.Asymptotics = true
	})
	c.Normalize()
	assert.Equal(t, "bfgs", c.Estimation.Hessian)
}

func TestValidate(t *testing.T) {

	for _, tc := range []struct {
		name string
		edit func(c *Config)
	}{
		{"outcome is treatment", func(c *Config) { c.Data.Treatment = 0 }},
		{"zero agents", func(c *Config) { c.Data.Agents = LimitOf(0) }},
		{"mismatched benefit columns", func(c *Config) { c.Benefits.Untreated.Coeffs[1].Column = 5 }},
		{"mismatched ante flags", func(c *Config) { c.Benefits.Untreated.Coeffs[0].Ante = false }},
		{"one intercept", func(c *Config) { c.Benefits.Untreated.Intercept = nil }},
		{"outcome regressor", func(c *Config) {
			c.Benefits.Treated.Coeffs[0].Column = 0
			c.Benefits.Untreated.Coeffs[0].Column = 0
		}},
		{"treatment cost", func(c *Config) { c.Costs.Coeffs[0].Column = 1 }},
		{"duplicate cost", func(c *Config) { c.Costs.Coeffs = append(c.Costs.Coeffs, c.Costs.Coeffs[0]) }},
		{"post-only cost", func(c *Config) { c.Costs.Coeffs[0].Column = 4 }},
		{"no choice regressor", func(c *Config) {
			c.Costs.Coeffs = nil
			c.Benefits.Treated.Coeffs[0].Ante = false
			c.Benefits.Untreated.Coeffs[0].Ante = false
		}},
		{"zero sd", func(c *Config) { c.Benefits.Treated.SD.Value = 0 }},
		{"unit correlation", func(c *Config) { c.Correlations.Untreated.Value = -1 }},
		{"algorithm", func(c *Config) { c.Estimation.Algorithm = "newton" }},
		{"alpha", func(c *Config) { c.Estimation.Alpha = 1 }},
		{"draws", func(c *Config) { c.Estimation.Draws = 0 }},
		{"seed", func(c *Config) { c.Simulation.Seed = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := parseTest(t, tc.edit)
			assert.ErrorIs(t, c.Validate(), roy.ErrConfigInvalid)
		})
	}
}

func TestValidateIdentification(t *testing.T) {

	c := parseTest(t, func(c *Config) {
		c.Benefits.Treated.Coeffs[1].Ante = true
		c.Benefits.Untreated.Coeffs[1].Ante = true
	})
	assert.ErrorIs(t, c.Validate(), roy.ErrIdentification)

	c.Costs.SD.Free = false
	assert.NoError(t, c.Validate())
}

func TestLayoutParams(t *testing.T) {

	c := parseTest(t, nil)

	l := c.Layout()
	assert.Equal(t, 0, l.Outcome)
	assert.Equal(t, 1, l.Treatment)
	assert.Equal(t, []int{roy.Intercept, 2, 4}, l.Benefit)
	assert.Equal(t, []bool{true, true, false}, l.AnteKnown)
	assert.Equal(t, []int{roy.Intercept, 3}, l.Cost)

	p, err := c.Params(nil)
	require.NoError(t, err)
	assert.Equal(t, 13, p.NumParams())
	assert.Equal(t, 13, p.NumFree())

	e := p.Entries()
	assert.Equal(t, roy.Outcome, e[0].Kind)
	assert.Equal(t, roy.Treated, e[0].Group)
	assert.Equal(t, roy.Intercept, e[0].Col)
	assert.InDelta(t, 0.3, e[2].Value(), 1e-12)
	assert.Equal(t, roy.Untreated, e[3].Group)
	assert.Equal(t, roy.Cost, e[6].Kind)
	assert.InDelta(t, 0.4, e[7].Value(), 1e-12)
	assert.Equal(t, roy.V, e[10].Group)
	assert.Equal(t, roy.U0V, e[12].Group)
	assert.InDelta(t, -0.2, e[12].Value(), 1e-12)
}

func TestParamsClip(t *testing.T) {

	c := parseTest(t, func(c *Config) {
		c.Benefits.Treated.SD.Value = 0.001
		c.Correlations.Treated.Value = 0.995
	})
	require.NoError(t, c.Validate())

	p, err := c.Params(nil)
	require.NoError(t, err)
	e := p.Entries()

	// Clipped onto the bounds, then nudged into the interior.
	assert.InDelta(t, 0.02, e[8].Value(), 1e-12)
	assert.InDelta(t, 0.98, e[11].Value(), 1e-12)

	x := p.Values(roy.Internal, roy.Free)
	for _, v := range x {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

// simulateSource writes a simulated dataset next to a configuration
// file and returns the configuration loaded from that file.
func simulateSource(t *testing.T, text string) *Config {

	c, err := Parse([]byte(text))
	require.NoError(t, err)
	c.Data.Source = ""

	sim, err := c.Simulate(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "data.csv"))
	require.NoError(t, err)
	require.NoError(t, statmodel.WriteCSV(f, sim.Data))
	require.NoError(t, f.Close())

	path := filepath.Join(dir, "model.yml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	c, err = Load(path)
	require.NoError(t, err)
	return c
}

func TestLoadData(t *testing.T) {

	c := simulateSource(t, testConfig)
	assert.True(t, filepath.IsAbs(c.SourcePath()))
	assert.Equal(t, "data.csv", filepath.Base(c.SourcePath()))

	ds, err := c.LoadData()
	require.NoError(t, err)
	assert.Equal(t, 400, ds.NumObs())
	assert.Equal(t, "x4", ds.Names()[4])

	c.Data.Agents = LimitOf(150)
	ds, err = c.LoadData()
	require.NoError(t, err)
	assert.Equal(t, 150, ds.NumObs())

	c.Data.Source = "missing.csv"
	_, err = c.LoadData()
	assert.Error(t, err)
}

func TestAutoStart(t *testing.T) {

	c := simulateSource(t, testConfig)
	ds, err := c.LoadData()
	require.NoError(t, err)

	var buf bytes.Buffer
	st, err := c.AutoStart(ds, &Options{Log: log.New(&buf, "", 0)})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Auto start, treated=true")
	assert.Contains(t, buf.String(), "Gaussian")
	assert.Contains(t, buf.String(), "Probit")
	assert.Len(t, st.Treated, 3)
	assert.Len(t, st.Untreated, 3)
	assert.Len(t, st.Cost, 2)
	assert.Equal(t, 1.0, st.SD[2])
	assert.Equal(t, [2]float64{0, 0}, st.Rho)
	for _, s := range st.SD[:2] {
		assert.Greater(t, s, 0.0)
	}

	// Fixed entries keep their configured values.
	c.Benefits.Treated.Coeffs[0].Free = false
	p, err := c.Params(st)
	require.NoError(t, err)
	e := p.Entries()
	assert.InDelta(t, 0.5, e[1].Value(), 1e-12)
	assert.InDelta(t, st.Treated[2], e[2].Value(), 1e-12)
	assert.InDelta(t, st.Cost[1], e[7].Value(), 1e-12)
	assert.InDelta(t, 0, e[11].Value(), 1e-12)
}

func TestEstimate(t *testing.T) {

	c := simulateSource(t, testConfig)

	m, err := c.NewModel(nil)
	require.NoError(t, err)
	assert.Equal(t, 400, m.NumObs())

	r, err := c.Estimate(nil)
	require.NoError(t, err)
	assert.Equal(t, roy.MsgStartOnly, r.Fit.Message)
	assert.Equal(t, 400, r.NumObs)
	assert.NotEmpty(t, r.RunID)

	c.Estimation.Start = "auto"
	r2, err := c.Estimate(nil)
	require.NoError(t, err)
	assert.Less(t, r2.Fit.F, roy.ObjectiveCeiling)
	assert.NotEqual(t, r.StartParams, r2.StartParams)
}

func TestConverters(t *testing.T) {

	c := parseTest(t, func(c *Config) {
		c.Estimation.Algorithm = "powell"
		c.Estimation.Differences = "two-sided"
		c.Estimation.Version = "slow"
		c.Estimation.Asymptotics = true
	})
	c.Normalize()

	fc := c.FitConfig(nil)
	assert.Equal(t, roy.Powell, fc.Algorithm)
	assert.Equal(t, roy.TwoSided, fc.Differences)
	assert.Equal(t, roy.HessianNumDiff, fc.Hessian)
	assert.Equal(t, 0, fc.MaxIter)
	assert.True(t, fc.Asymptotics)

	assert.Equal(t, roy.Slow, c.ModelConfig(nil).Variant)

	ic := c.InferenceConfig(nil)
	assert.Equal(t, 20, ic.Draws)
	assert.Equal(t, 100, ic.Sims)

	sc := c.SimConfig(nil)
	assert.Equal(t, 400, sc.Agents)
	assert.Equal(t, uint64(5), sc.Seed)
}
