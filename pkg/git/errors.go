package git

import (
	"errors"
)

var (
	ErrNoGit             = errors.New("no git support")
	ErrNotARepository    = errors.New("not a git repository")
	ErrMissingRepository = errors.New("repository directory missing and no url to clone from")
	ErrNoTags            = errors.New("no tag reachable from HEAD")
	ErrUnknownMode       = errors.New("unknown sync mode")
	ErrSyncFailed        = errors.New("repository synchronization failed")
	ErrGitError          = errors.New("git error")
)
