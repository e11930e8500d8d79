package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acdh-oeaw/aufbau/pkg/fileutil"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

// Mode selects which revision a synchronized repository ends up on.
type Mode string

const (
	// ModeLatestTag discards local modifications and checks out the most
	// recent tag reachable from the default branch.
	ModeLatestTag Mode = "latest-tag"
	// ModeLatestCommit fast-forwards the default branch and checks out its
	// tip, keeping local modifications.
	ModeLatestCommit Mode = "latest-commit"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLatestTag:
		return ModeLatestTag, nil
	case ModeLatestCommit:
		return ModeLatestCommit, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownMode)
}

// Spec describes one repository to synchronize.
type Spec struct {
	Name string
	Path string
	URL  string
	Mode Mode
}

// Revision identifies what a repository checkout ended up on after a sync.
// It is produced once per run per repository and never persisted.
type Revision struct {
	Repository string
	// ID is the revision name used for stamping: the tag name in tag mode,
	// the tag at HEAD or the short hash in commit mode.
	ID      string
	IsTag   bool
	Hash    string
	Author  string
	Date    time.Time
	Message string
}

const (
	DefaultCommandTimeout = 5 * time.Minute
	DefaultRetryWindow    = 2 * time.Minute

	retryMaxInterval = 5 * time.Second
)

// Syncer brings repository checkouts to their target revisions by driving
// the git binary. Network subcommands (clone, fetch) are retried with
// exponential backoff; everything else fails fast.
type Syncer struct {
	log         logging.Logger
	timeout     time.Duration
	retryWindow time.Duration
}

func NewSyncer(log logging.Logger, timeout, retryWindow time.Duration) *Syncer {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if retryWindow <= 0 {
		retryWindow = DefaultRetryWindow
	}
	return &Syncer{
		log:         log,
		timeout:     timeout,
		retryWindow: retryWindow,
	}
}

func (s *Syncer) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return git(ctx, dir, args...)
}

func (s *Syncer) runNetwork(ctx context.Context, dir string, args ...string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = s.retryWindow
	return backoff.RetryWithData(func() (string, error) {
		out, err := s.run(ctx, dir, args...)
		if err != nil {
			s.log.WithError(err).WithFields(logging.Fields{
				"args":   strings.Join(args, " "),
				"output": strings.TrimSpace(out),
			}).Warn("git network operation failed, will retry")
		}
		return out, err
	}, backoff.WithContext(bo, ctx))
}

// Sync brings the checkout described by spec to its target revision and
// reports what it landed on.
func (s *Syncer) Sync(ctx context.Context, spec Spec) (*Revision, error) {
	log := s.log.WithContext(ctx).WithField(logging.RepositoryFieldKey, spec.Name)

	exists, err := fileutil.DirExists(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Path, err)
	}
	if exists {
		// a pre-created empty directory is still clonable
		empty, err := fileutil.IsDirEmpty(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Path, err)
		}
		exists = !empty
	}
	if !exists {
		if spec.URL == "" {
			return nil, fmt.Errorf("%s: %w", spec.Path, ErrMissingRepository)
		}
		if err := s.clone(ctx, spec, log); err != nil {
			return nil, err
		}
	}
	if !IsRepository(ctx, spec.Path) {
		return nil, fmt.Errorf("%s: %w", spec.Path, ErrNotARepository)
	}

	var (
		id    string
		isTag bool
	)
	switch spec.Mode {
	case ModeLatestTag:
		id, err = s.syncLatestTag(ctx, spec, log)
		isTag = true
	case ModeLatestCommit:
		id, isTag, err = s.syncLatestCommit(ctx, spec, log)
	default:
		return nil, fmt.Errorf("%s: %q: %w", spec.Name, spec.Mode, ErrUnknownMode)
	}
	if err != nil {
		return nil, err
	}

	rev, err := revisionAt(ctx, spec.Path, spec.Name, id, isTag)
	if err != nil {
		return nil, err
	}
	log.WithFields(logging.Fields{
		logging.RevisionFieldKey: rev.ID,
		"is_tag":                 rev.IsTag,
		"hash":                   rev.Hash,
	}).Info("Repository synchronized")
	return rev, nil
}

func (s *Syncer) clone(ctx context.Context, spec Spec, log logging.Logger) error {
	log.WithField("url", spec.URL).Info("Cloning repository")
	parent := filepath.Dir(spec.Path)
	if err := os.MkdirAll(parent, fileutil.DefaultDirectoryMask); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}
	out, err := s.runNetwork(ctx, parent, "clone", spec.URL, spec.Path)
	if err != nil {
		return fmt.Errorf("clone %s: %s: %w", spec.Name, strings.TrimSpace(out), ErrSyncFailed)
	}
	return nil
}

func (s *Syncer) hasRemote(ctx context.Context, dir string) bool {
	out, err := s.run(ctx, dir, "remote")
	return err == nil && strings.TrimSpace(out) != ""
}

// defaultBranch resolves the branch updates are pulled into. The remote HEAD
// wins when a remote exists; a repository sitting on a detached HEAD with no
// remote falls back to its most recently committed local branch.
func (s *Syncer) defaultBranch(ctx context.Context, dir string) (string, error) {
	if s.hasRemote(ctx, dir) {
		out, err := s.run(ctx, dir, "rev-parse", "--abbrev-ref", "origin/HEAD")
		if err == nil {
			return strings.TrimPrefix(strings.TrimSpace(out), "origin/"), nil
		}
	}
	out, err := s.run(ctx, dir, "symbolic-ref", "--short", "HEAD")
	if err == nil {
		return strings.TrimSpace(out), nil
	}
	out, err = s.run(ctx, dir, "for-each-ref", "--format=%(refname:short)", "--sort=-committerdate", "refs/heads")
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(out), ErrGitError)
	}
	branches := strings.Fields(out)
	if len(branches) == 0 {
		return "", fmt.Errorf("no local branches: %w", ErrGitError)
	}
	return branches[0], nil
}

// updateFromRemote puts the checkout on the default branch and fast-forwards
// it. Divergence fails the merge loudly instead of being papered over.
func (s *Syncer) updateFromRemote(ctx context.Context, spec Spec, log logging.Logger) error {
	branch, err := s.defaultBranch(ctx, spec.Path)
	if err != nil {
		return fmt.Errorf("%s: %w", spec.Name, err)
	}
	if out, err := s.run(ctx, spec.Path, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s %s: %s: %w", spec.Name, branch, strings.TrimSpace(out), ErrSyncFailed)
	}
	if !s.hasRemote(ctx, spec.Path) {
		log.Debug("No remote configured, skipping fetch")
		return nil
	}
	if out, err := s.runNetwork(ctx, spec.Path, "fetch", "--tags", "--prune", "origin"); err != nil {
		return fmt.Errorf("fetch %s: %s: %w", spec.Name, strings.TrimSpace(out), ErrSyncFailed)
	}
	if out, err := s.run(ctx, spec.Path, "merge", "--ff-only", "origin/"+branch); err != nil {
		return fmt.Errorf("merge %s: %s: %w", spec.Name, strings.TrimSpace(out), ErrSyncFailed)
	}
	return nil
}

func (s *Syncer) syncLatestTag(ctx context.Context, spec Spec, log logging.Logger) (string, error) {
	// the checkout mirrors the repository, local modifications are discarded
	if out, err := s.run(ctx, spec.Path, "reset", "--hard"); err != nil {
		return "", fmt.Errorf("reset %s: %s: %w", spec.Name, strings.TrimSpace(out), ErrSyncFailed)
	}
	if err := s.updateFromRemote(ctx, spec, log); err != nil {
		return "", err
	}
	out, err := s.run(ctx, spec.Path, "describe", "--tags", "--abbrev=0")
	if err != nil {
		return "", fmt.Errorf("%s: %w", spec.Name, ErrNoTags)
	}
	tag := strings.TrimSpace(out)
	if out, err := s.run(ctx, spec.Path, "-c", "advice.detachedHead=false", "checkout", tag); err != nil {
		return "", fmt.Errorf("checkout %s %s: %s: %w", spec.Name, tag, strings.TrimSpace(out), ErrSyncFailed)
	}
	return tag, nil
}

func (s *Syncer) syncLatestCommit(ctx context.Context, spec Spec, log logging.Logger) (string, bool, error) {
	if err := s.updateFromRemote(ctx, spec, log); err != nil {
		return "", false, err
	}
	if out, err := s.run(ctx, spec.Path, "describe", "--tags", "--exact-match", "HEAD"); err == nil {
		return strings.TrimSpace(out), true, nil
	}
	out, err := s.run(ctx, spec.Path, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", false, fmt.Errorf("%s: %s: %w", spec.Name, strings.TrimSpace(out), ErrSyncFailed)
	}
	return strings.TrimSpace(out), false, nil
}
