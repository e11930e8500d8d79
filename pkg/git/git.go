package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// CheckAvailable verifies a git binary is reachable on PATH.
func CheckAvailable() error {
	if _, err := exec.LookPath("git"); err != nil {
		return ErrNoGit
	}
	return nil
}

// IsRepository Return true if dir is a path to a directory in a git repository, false otherwise
func IsRepository(ctx context.Context, dir string) bool {
	_, err := git(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// CurrentCheckout returns a human readable name for HEAD: the tag pointing at
// it when one exists, the short hash otherwise.
func CurrentCheckout(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "describe", "--tags", "--exact-match", "HEAD")
	if err == nil {
		return strings.TrimSpace(out), nil
	}
	out, err = git(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(out), ErrGitError)
	}
	return strings.TrimSpace(out), nil
}

// HeadRevision describes the commit the working tree sits on without
// changing the checkout. The revision ID is the exact tag when HEAD carries
// one, the short hash otherwise.
func HeadRevision(ctx context.Context, dir, repository string) (*Revision, error) {
	if !IsRepository(ctx, dir) {
		return nil, fmt.Errorf("%s: %s: %w", repository, dir, ErrNotARepository)
	}
	out, err := git(ctx, dir, "describe", "--tags", "--exact-match", "HEAD")
	if err == nil {
		return revisionAt(ctx, dir, repository, strings.TrimSpace(out), true)
	}
	out, err = git(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", repository, strings.TrimSpace(out), ErrGitError)
	}
	return revisionAt(ctx, dir, repository, strings.TrimSpace(out), false)
}

// LatestTag returns the most recent tag reachable from HEAD, or the empty
// string when the repository has none.
func LatestTag(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "describe", "--tags", "--abbrev=0")
	if err != nil {
		// "No names found" / "No tags can describe" both mean no reachable tag
		lower := strings.ToLower(out)
		if strings.Contains(lower, "cannot describe") || strings.Contains(lower, "no names found") ||
			strings.Contains(lower, "no tags can describe") {
			return "", nil
		}
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(out), ErrGitError)
	}
	return strings.TrimSpace(out), nil
}

// revisionLogFormat uses the unit separator so commit messages with newlines
// survive splitting. %B (raw body) must stay last.
const revisionLogFormat = "%H%x1f%h%x1f%an%x1f%ad%x1f%B"

func revisionAt(ctx context.Context, dir, repository, id string, isTag bool) (*Revision, error) {
	out, err := git(ctx, dir, "log", "-1", "--date=iso-strict", "--format="+revisionLogFormat)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", repository, strings.TrimSpace(out), ErrGitError)
	}
	const fields = 5
	parts := strings.SplitN(out, "\x1f", fields)
	if len(parts) != fields {
		return nil, fmt.Errorf("%s: unexpected log output: %w", repository, ErrGitError)
	}
	date, err := time.Parse(time.RFC3339, parts[3])
	if err != nil {
		return nil, fmt.Errorf("%s: parse commit date: %w", repository, err)
	}
	return &Revision{
		Repository: repository,
		ID:         id,
		IsTag:      isTag,
		Hash:       parts[0],
		Author:     parts[2],
		Date:       date,
		Message:    strings.TrimSpace(parts[4]),
	}, nil
}
