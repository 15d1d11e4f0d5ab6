package simulator

import "errors"

// ValidationError marks a programmer or input error: mismatched distribution
// keys, a requested category a model does not track. These fail fast and are
// never degraded to an empty result.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

var (
	// ErrUninitialized is returned when statline generation is requested
	// before any distribution or history has been attached to the model.
	// Callers are expected to treat it as "zero contribution", not abort.
	ErrUninitialized = errors.New("player statistics not initialized")

	// ErrNoGameLog is returned when bootstrap sampling is requested for a
	// model that was initialized without a retained game log.
	ErrNoGameLog = errors.New("no game log retained for bootstrap sampling")
)
