package roy

import (
	"fmt"
	"log"
	"slices"
)

// Variant selects one of the two likelihood implementations.
type Variant uint8

// Fast evaluates the likelihood with whole-vector operations, Slow
// evaluates it one agent at a time.  Both give the same value.
const (
	Fast Variant = iota
	Slow
)

func (v Variant) String() string {
	if v == Slow {
		return "slow"
	}
	return "fast"
}

// ModelConfig defines configuration parameters for a Model.
type ModelConfig struct {

	// Log receives progress messages when not nil.
	Log *log.Logger

	// Variant selects the likelihood implementation used by Objective.
	Variant Variant

	// Debug makes Objective panic on non-finite parameter vectors
	// instead of returning the objective ceiling.
	Debug bool
}

// DefaultModelConfig returns default configuration values for a Model.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Variant: Fast,
	}
}

// Model is a generalized Roy model: a parameter store bound to data.  The
// parameter store is updated in place on every objective evaluation, so a
// Model is not safe for concurrent use.
type Model struct {
	params *Params
	data   *Data
	config *ModelConfig

	// Number of objective evaluations
	nfev int
}

// NewModel binds a locked parameter store to model data.  The outcome and
// cost coefficients must be bound to the columns of the data layout, in
// the same order.
func NewModel(params *Params, data *Data, config *ModelConfig) (*Model, error) {

	if config == nil {
		config = DefaultModelConfig()
	}

	if err := checkBinding(params, data.Layout()); err != nil {
		return nil, err
	}
	if params.IsFree(SD, V) && !data.SurplusEstimable() {
		return nil, fmt.Errorf("%w: no benefit column is excluded from the ex ante information set",
			ErrIdentification)
	}

	return &Model{
		params: params,
		data:   data,
		config: config,
	}, nil
}

// checkBinding verifies that the coefficients of p are bound to the
// columns of layout.
func checkBinding(p *Params, layout Layout) error {
	if !slices.Equal(p.OutcomeCols(), layout.Benefit) {
		return fmt.Errorf("%w: outcome coefficients bound to columns %v, data has %v",
			ErrConfigInvalid, p.OutcomeCols(), layout.Benefit)
	}
	if !slices.Equal(p.CostCols(), layout.Cost) {
		return fmt.Errorf("%w: cost coefficients bound to columns %v, data has %v",
			ErrConfigInvalid, p.CostCols(), layout.Cost)
	}
	return nil
}

// Params returns the parameter store of the model.
func (m *Model) Params() *Params {
	return m.params
}

// Data returns the model data.
func (m *Model) Data() *Data {
	return m.data
}

// NumObs returns the number of agents.
func (m *Model) NumObs() int {
	return m.data.NumObs()
}

// NumFuncEvals returns the number of objective evaluations so far.
func (m *Model) NumFuncEvals() int {
	return m.nfev
}
