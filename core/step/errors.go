package step

import "errors"

var (
	// ErrMissingTopology is logged when the controller cannot bootstrap
	// because no topology payload was supplied. The step is skipped.
	ErrMissingTopology = errors.New("missing topology payload")
	// ErrShutDown is returned for steps after the terminal one.
	ErrShutDown = errors.New("controller shut down")
)
