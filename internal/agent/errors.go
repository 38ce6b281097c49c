package agent

import "errors"

var (
	// ErrNoProvider indicates the controller was built without a model
	// provider.
	ErrNoProvider = errors.New("no model provider configured")

	// ErrNilRequest indicates Run was called with a nil request.
	ErrNilRequest = errors.New("run request is nil")
)
