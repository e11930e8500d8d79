package basex

import "errors"

var (
	// ErrInvalidScript marks a command script the deployment refuses to run.
	ErrInvalidScript = errors.New("invalid command script")
	// ErrEngine wraps any engine invocation failure, including timeouts.
	ErrEngine = errors.New("engine execution failed")
	// ErrEngineVersion signals an engine older than the configured minimum.
	ErrEngineVersion = errors.New("engine version too old")
)
