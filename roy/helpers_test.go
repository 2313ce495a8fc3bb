package roy

import (
	"math"
	"testing"
)

func scalarClose(x, y, eps float64) bool {
	return math.Abs(x-y) <= eps
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// A parameter entry used to set up test models
type testEntry struct {
	kind   Kind
	group  Group
	col    int
	value  float64
	free   bool
	bounds Bounds
}

func buildParams(t *testing.T, entries []testEntry) *Params {
	t.Helper()
	b := NewBuilder()
	for _, e := range entries {
		if err := b.Add(e.kind, e.group, e.col, e.value, e.free, e.bounds); err != nil {
			t.Fatal(err)
		}
	}
	p, err := b.Lock()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func errorEntries(sdfree bool, rho1, rho0 float64) []testEntry {
	return []testEntry{
		{SD, U1, 0, 1, true, SDBounds},
		{SD, U0, 0, 1, true, SDBounds},
		{SD, V, 0, 1, sdfree, SDBounds},
		{Correlation, U1V, 0, rho1, true, CorrBounds},
		{Correlation, U0V, 0, rho0, true, CorrBounds},
	}
}

// smallLayout has one benefit column known ex ante and one cost column.
// Columns 0 and 1 hold the outcome and the treatment.
func smallLayout() Layout {
	return Layout{
		Outcome:   0,
		Treatment: 1,
		Benefit:   []int{Intercept, 2},
		AnteKnown: []bool{true, true},
		Cost:      []int{Intercept, 3},
	}
}

func smallParams(t *testing.T) *Params {
	e := []testEntry{
		{Outcome, Treated, Intercept, 0.5, true, NoBounds()},
		{Outcome, Treated, 2, 0.3, true, NoBounds()},
		{Outcome, Untreated, Intercept, 0.2, true, NoBounds()},
		{Outcome, Untreated, 2, 0.1, true, NoBounds()},
		{Cost, NoGroup, Intercept, 0.4, true, NoBounds()},
		{Cost, NoGroup, 3, 0.2, true, NoBounds()},
	}
	return buildParams(t, append(e, errorEntries(false, 0.3, -0.2)...))
}

// postLayout adds a benefit column that is not known ex ante, and a
// cost column that also enters the benefits.
func postLayout() Layout {
	return Layout{
		Outcome:   0,
		Treatment: 1,
		Benefit:   []int{Intercept, 2, 4},
		AnteKnown: []bool{true, true, false},
		Cost:      []int{Intercept, 2, 3},
	}
}

func postParams(t *testing.T) *Params {
	e := []testEntry{
		{Outcome, Treated, Intercept, 1.0, true, NoBounds()},
		{Outcome, Treated, 2, 0.5, true, NoBounds()},
		{Outcome, Treated, 4, 0.4, true, NoBounds()},
		{Outcome, Untreated, Intercept, 0.5, true, NoBounds()},
		{Outcome, Untreated, 2, 0.2, true, NoBounds()},
		{Outcome, Untreated, 4, -0.1, true, NoBounds()},
		{Cost, NoGroup, Intercept, 0.3, true, NoBounds()},
		{Cost, NoGroup, 2, 0.1, true, NoBounds()},
		{Cost, NoGroup, 3, -0.6, true, NoBounds()},
	}
	return buildParams(t, append(e, errorEntries(true, 0.4, -0.3)...))
}

// simModel simulates n agents from p and returns a model for the
// simulated data, with the parameter store at the true values.
func simModel(t *testing.T, p *Params, layout Layout, n int, seed uint64, config *ModelConfig) (*Model, *Simulation) {
	t.Helper()

	sim, err := Simulate(p, nil, layout, &SimConfig{Agents: n, Seed: seed})
	if err != nil {
		t.Fatal(err)
	}

	dt, err := NewData(sim.Data, layout, nil)
	if err != nil {
		t.Fatal(err)
	}

	m, err := NewModel(p.Clone(), dt, config)
	if err != nil {
		t.Fatal(err)
	}

	return m, sim
}
