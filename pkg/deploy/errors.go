package deploy

import "errors"

var (
	// ErrConfiguration marks failures caused by the settings rather than the
	// environment. A configuration failure aborts the rest of the run.
	ErrConfiguration = errors.New("configuration error")
	// ErrLocked means another run holds the lock file.
	ErrLocked = errors.New("deployment lock held")
)

// Process exit codes, one per failure class. The first failed stage of a run
// decides which one the process exits with.
const (
	CodeOK            = 0
	CodeConfiguration = 1
	CodeSync          = 2
	CodeAssets        = 3
	CodeStamp         = 4
	CodeAnnotate      = 5
	CodeFeatureMap    = 6
	CodeEngine        = 7
	CodeLocked        = 8
)
