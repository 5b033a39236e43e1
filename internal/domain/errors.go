package domain

import "github.com/pkg/errors"

var (
	// ErrInvalidTarget target equals the current price or lies on the wrong side of it.
	ErrInvalidTarget = errors.New("invalid target price")
	// ErrQuoteUnavailable a required quote call failed.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrPoolNotFound the factory has no pool for the token pair and fee tier.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrInsufficientCapital capital is exhausted. Engines turn it into a stop, never a failure.
	ErrInsufficientCapital = errors.New("insufficient capital")
	// ErrPrecisionViolation a cost-basis invariant failed; the evaluation is aborted.
	ErrPrecisionViolation = errors.New("precision violation")
	// ErrEvaluationTooSoon the minimum interval since the previous evaluation has not passed.
	ErrEvaluationTooSoon = errors.New("wait for the next DCA time")
)
