// Package config reads the YAML description of a generalized Roy model
// run and translates it into the settings of package roy.
//
// A configuration has six sections:
//
//	data:         source dataset, number of agents, outcome and treatment columns
//	benefits:     outcome equations of the treated and untreated
//	costs:        cost equation and the standard deviation of V
//	correlations: correlations of U1 and U0 with V
//	estimation:   optimizer and inference settings
//	simulation:   simulator settings
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lnsongxf/roymodel/roy"
	"gopkg.in/yaml.v3"
)

// Limit is a non-negative count that may be left unset with the YAML
// string "none".
type Limit struct {
	N   int
	Set bool
}

// NoLimit is the unset limit.
var NoLimit = Limit{}

// LimitOf returns a limit set to n.
func LimitOf(n int) Limit {
	return Limit{N: n, Set: true}
}

// UnmarshalYAML accepts an integer or the string "none".
func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Value == "none" {
		*l = NoLimit
		return nil
	}
	var n int
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("line %d: expected an integer or none, got %q", node.Line, node.Value)
	}
	*l = LimitOf(n)
	return nil
}

// MarshalYAML writes the limit as an integer or "none".
func (l Limit) MarshalYAML() (interface{}, error) {
	if !l.Set {
		return "none", nil
	}
	return l.N, nil
}

func (l Limit) String() string {
	if !l.Set {
		return "none"
	}
	return strconv.Itoa(l.N)
}

// Value is a starting value together with its free flag.
type Value struct {
	Value float64 `yaml:"value"`
	Free  bool    `yaml:"free"`
}

// Coeff is a slope coefficient bound to a dataset column.
type Coeff struct {
	Column int     `yaml:"column"`
	Value  float64 `yaml:"value"`
	Free   bool    `yaml:"free"`

	// Ante marks benefit columns known at decision time.  It is not
	// used for cost coefficients.
	Ante bool `yaml:"ante,omitempty"`
}

// Outcome is the outcome equation of one group.
type Outcome struct {
	Coeffs    []Coeff `yaml:"coeffs"`
	Intercept *Value  `yaml:"intercept,omitempty"`
	SD        Value   `yaml:"sd"`
}

// Data is the data section.
type Data struct {

	// Source is the path of a CSV file, relative to the configuration
	// file.  Estimation requires it; the simulator draws covariates
	// when it is empty.
	Source string `yaml:"source"`

	// Agents limits estimation to the first agents of the source.
	Agents Limit `yaml:"agents"`

	Outcome   int `yaml:"outcome"`
	Treatment int `yaml:"treatment"`
}

// Benefits is the benefits section.
type Benefits struct {
	Treated   Outcome `yaml:"treated"`
	Untreated Outcome `yaml:"untreated"`
}

// Costs is the costs section.  SD is the standard deviation of V.
type Costs struct {
	Coeffs    []Coeff `yaml:"coeffs"`
	Intercept *Value  `yaml:"intercept,omitempty"`
	SD        Value   `yaml:"sd"`
}

// Correlations is the correlations section.  Treated is the correlation
// of U1 with V, Untreated that of U0 with V.
type Correlations struct {
	Treated   Value `yaml:"treated"`
	Untreated Value `yaml:"untreated"`
}

// Estimation is the estimation section.
type Estimation struct {
	Algorithm   string  `yaml:"algorithm"`
	MaxIter     Limit   `yaml:"maxiter"`
	Start       string  `yaml:"start"`
	GTol        float64 `yaml:"gtol"`
	Epsilon     float64 `yaml:"epsilon"`
	Differences string  `yaml:"differences"`
	Asymptotics bool    `yaml:"asymptotics"`
	Hessian     string  `yaml:"hessian"`
	Draws       int     `yaml:"draws"`
	Alpha       float64 `yaml:"alpha"`
	Version     string  `yaml:"version"`
	Sims        int     `yaml:"sims"`
}

// Simulation is the simulation section.
type Simulation struct {
	Agents int    `yaml:"agents"`
	Seed   int    `yaml:"seed"`
	Target string `yaml:"target"`
}

// Config is a model run description.
type Config struct {
	Data         Data         `yaml:"data"`
	Benefits     Benefits     `yaml:"benefits"`
	Costs        Costs        `yaml:"costs"`
	Correlations Correlations `yaml:"correlations"`
	Estimation   Estimation   `yaml:"estimation"`
	Simulation   Simulation   `yaml:"simulation"`

	// dir resolves relative data sources.
	dir string
}

// Default returns a configuration holding the default settings.  The
// model sections are empty.
func Default() *Config {
	return &Config{
		Data: Data{
			Agents:    NoLimit,
			Outcome:   0,
			Treatment: 1,
		},
		Estimation: Estimation{
			Algorithm:   "bfgs",
			MaxIter:     NoLimit,
			Start:       "manual",
			GTol:        1e-5,
			Epsilon:     1.4901161193847656e-08,
			Differences: "one-sided",
			Hessian:     "bfgs",
			Draws:       200,
			Alpha:       0.05,
			Version:     "fast",
			Sims:        1000,
		},
		Simulation: Simulation{
			Agents: 1000,
			Seed:   132,
			Target: "data",
		},
	}
}

// Load reads, normalizes and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse decodes, normalizes and validates a configuration.  Keys that are
// not part of the schema are rejected.
func Parse(data []byte) (*Config, error) {

	c := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", roy.ErrConfigInvalid, err)
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Write encodes the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// SourcePath returns the path of the data source, resolved against the
// directory of the configuration file.
func (c *Config) SourcePath() string {
	if c.Data.Source == "" || filepath.IsAbs(c.Data.Source) || c.dir == "" {
		return c.Data.Source
	}
	return filepath.Join(c.dir, c.Data.Source)
}

// Normalize applies the settings implied by others: Powell, and
// asymptotics without iterations, use a numerical Hessian.
func (c *Config) Normalize() {
	est := &c.Estimation
	if est.Algorithm == "powell" {
		est.Hessian = "numdiff"
	}
	if est.Asymptotics && est.MaxIter.Set && est.MaxIter.N == 0 {
		est.Hessian = "numdiff"
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", roy.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return invalid("%s is %q, expected one of %q", key, v, allowed)
}

// Validate checks value ranges and the cross-field requirements of the
// model description.
func (c *Config) Validate() error {

	if err := c.validateSettings(); err != nil {
		return err
	}

	d := &c.Data
	if d.Outcome < 0 || d.Treatment < 0 {
		return invalid("negative outcome or treatment column")
	}
	if d.Outcome == d.Treatment {
		return invalid("outcome and treatment share column %d", d.Outcome)
	}
	if d.Agents.Set && d.Agents.N <= 0 {
		return invalid("data.agents must be positive, got %d", d.Agents.N)
	}

	tr, un := &c.Benefits.Treated, &c.Benefits.Untreated

	// Treated and untreated outcomes use the same columns.
	if len(tr.Coeffs) != len(un.Coeffs) {
		return invalid("%d treated and %d untreated benefit coefficients", len(tr.Coeffs), len(un.Coeffs))
	}
	for j := range tr.Coeffs {
		a, b := tr.Coeffs[j], un.Coeffs[j]
		if a.Column != b.Column || a.Ante != b.Ante {
			return invalid("benefit coefficient %d: treated (column %d, ante %t), untreated (column %d, ante %t)",
				j, a.Column, a.Ante, b.Column, b.Ante)
		}
	}
	if (tr.Intercept == nil) != (un.Intercept == nil) {
		return invalid("only one outcome equation has an intercept")
	}
	if tr.Intercept == nil && len(tr.Coeffs) == 0 {
		return invalid("empty outcome equations")
	}

	// Neither outcome nor treatment are regressors.
	ante := make(map[int]bool)
	for _, b := range tr.Coeffs {
		if b.Column < 0 {
			return invalid("negative benefit column %d", b.Column)
		}
		if b.Column == d.Outcome || b.Column == d.Treatment {
			return invalid("benefit column %d is the outcome or treatment", b.Column)
		}
		if _, ok := ante[b.Column]; ok {
			return invalid("benefit column %d listed twice", b.Column)
		}
		ante[b.Column] = b.Ante
	}
	seen := make(map[int]bool)
	for _, g := range c.Costs.Coeffs {
		if g.Column < 0 {
			return invalid("negative cost column %d", g.Column)
		}
		if g.Column == d.Outcome || g.Column == d.Treatment {
			return invalid("cost column %d is the outcome or treatment", g.Column)
		}
		if seen[g.Column] {
			return invalid("cost column %d listed twice", g.Column)
		}
		seen[g.Column] = true

		// A cost column in the benefits must be known ex ante.
		if a, ok := ante[g.Column]; ok && !a {
			return invalid("cost column %d is not known ex ante in the benefit equation", g.Column)
		}
	}

	// The choice equation has a regressor.
	var nchoice, npost int
	for _, b := range tr.Coeffs {
		if b.Ante {
			nchoice++
		} else {
			npost++
		}
	}
	nchoice += len(c.Costs.Coeffs)
	if nchoice == 0 {
		return invalid("the choice equation has no regressors")
	}
	if tr.Intercept == nil && npost == len(tr.Coeffs) {
		return invalid("no benefit column is known ex ante")
	}
	if c.Costs.Intercept == nil && len(c.Costs.Coeffs) == 0 {
		return invalid("empty cost equation")
	}

	// sd(V) is identified through benefit columns excluded ex ante.
	if c.Costs.SD.Free && npost == 0 {
		return fmt.Errorf("%w: sd(V) is free but every benefit column is known ex ante", roy.ErrIdentification)
	}

	for _, x := range []struct {
		name string
		v    Value
	}{
		{"benefits.treated.sd", tr.SD},
		{"benefits.untreated.sd", un.SD},
		{"costs.sd", c.Costs.SD},
	} {
		if !(x.v.Value > 0) {
			return invalid("%s must be positive, got %v", x.name, x.v.Value)
		}
	}
	for _, x := range []struct {
		name string
		v    Value
	}{
		{"correlations.treated", c.Correlations.Treated},
		{"correlations.untreated", c.Correlations.Untreated},
	} {
		if !(x.v.Value > -1 && x.v.Value < 1) {
			return invalid("%s must lie in (-1, 1), got %v", x.name, x.v.Value)
		}
	}

	return nil
}

func (c *Config) validateSettings() error {

	est := &c.Estimation
	for _, err := range []error{
		oneOf("estimation.algorithm", est.Algorithm, "bfgs", "powell"),
		oneOf("estimation.start", est.Start, "manual", "auto"),
		oneOf("estimation.differences", est.Differences, "one-sided", "two-sided"),
		oneOf("estimation.hessian", est.Hessian, "bfgs", "numdiff"),
		oneOf("estimation.version", est.Version, "fast", "slow"),
	} {
		if err != nil {
			return err
		}
	}

	switch {
	case est.MaxIter.Set && est.MaxIter.N < 0:
		return invalid("estimation.maxiter must be non-negative, got %d", est.MaxIter.N)
	case !(est.GTol > 0):
		return invalid("estimation.gtol must be positive, got %v", est.GTol)
	case !(est.Epsilon > 0):
		return invalid("estimation.epsilon must be positive, got %v", est.Epsilon)
	case est.Draws <= 0:
		return invalid("estimation.draws must be positive, got %d", est.Draws)
	case !(est.Alpha > 0 && est.Alpha < 1):
		return invalid("estimation.alpha must lie in (0, 1), got %v", est.Alpha)
	case est.Sims <= 0:
		return invalid("estimation.sims must be positive, got %d", est.Sims)
	}

	sim := &c.Simulation
	switch {
	case sim.Agents <= 0:
		return invalid("simulation.agents must be positive, got %d", sim.Agents)
	case sim.Seed <= 0:
		return invalid("simulation.seed must be positive, got %d", sim.Seed)
	case sim.Target == "":
		return invalid("simulation.target is empty")
	}

	return nil
}
