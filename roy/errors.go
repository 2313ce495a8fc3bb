package roy

import "errors"

// Error categories.  Functions in this package wrap one of these with
// additional context, test for them with errors.Is.
var (
	// ErrConfigInvalid indicates that the model description violates
	// a structural requirement (misaligned outcome equations, missing
	// standard deviations, cost columns not known ex ante, ...).
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrNumericInvalid indicates a non-finite parameter value or a
	// value outside the bounds of its entry.
	ErrNumericInvalid = errors.New("invalid numeric value")

	// ErrIdentification indicates that sd(V) is free but no benefit
	// column is excluded from the ex ante information set.
	ErrIdentification = errors.New("sd(V) is not identified")

	// ErrNonConvergence is reported by FitResult.Err when the
	// optimizer did not converge.
	ErrNonConvergence = errors.New("optimization did not converge")

	// ErrInferenceDegenerate indicates a covariance matrix that cannot
	// be used to draw parameter vectors.
	ErrInferenceDegenerate = errors.New("degenerate covariance matrix")

	// ErrInvalidBounds indicates bounds that are not admissible for
	// the kind of parameter they are attached to.
	ErrInvalidBounds = errors.New("invalid parameter bounds")

	// ErrLocked is returned when a Builder is used after Lock.
	ErrLocked = errors.New("parameter store is locked")
)
