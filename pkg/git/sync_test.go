package git_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acdh-oeaw/aufbau/pkg/git"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), string(out))
	return string(out)
}

func initRepo(t *testing.T, dir string) {
	t.Helper()
	mustGit(t, dir, "init", "-q", ".")
	mustGit(t, dir, "config", "user.email", "deploy@example.org")
	mustGit(t, dir, "config", "user.name", "Deploy Test")
}

func commitFile(t *testing.T, dir, name, content, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-q", "-m", message)
}

func newSyncer(t *testing.T) *git.Syncer {
	t.Helper()
	return git.NewSyncer(logging.Default(), 30*time.Second, time.Second)
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in       string
		expected git.Mode
		wantErr  bool
	}{
		{in: "latest-tag", expected: git.ModeLatestTag},
		{in: "Latest-Tag", expected: git.ModeLatestTag},
		{in: " latest-commit ", expected: git.ModeLatestCommit},
		{in: "newest", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range cases {
		t.Run(tt.in, func(t *testing.T) {
			mode, err := git.ParseMode(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, git.ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, mode)
		})
	}
}

func TestSyncer_LatestTag(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")
	mustGit(t, dir, "tag", "v1.0.0")
	commitFile(t, dir, "a.txt", "two", "second")
	mustGit(t, dir, "tag", "v1.1.0")
	commitFile(t, dir, "a.txt", "three", "untagged work")

	s := newSyncer(t)
	rev, err := s.Sync(ctx, git.Spec{Name: "content", Path: dir, Mode: git.ModeLatestTag})
	require.NoError(t, err)
	require.Equal(t, "v1.1.0", rev.ID)
	require.True(t, rev.IsTag)
	require.Equal(t, "content", rev.Repository)
	require.Equal(t, "Deploy Test", rev.Author)
	require.Equal(t, "second", rev.Message)
	require.WithinDuration(t, time.Now(), rev.Date, time.Minute)

	// the checkout sits on the tagged commit, not the branch tip
	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "two", string(content))
}

func TestSyncer_LatestTag_DiscardsLocalModifications(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")
	mustGit(t, dir, "tag", "v1.0.0")

	s := newSyncer(t)
	_, err := s.Sync(ctx, git.Spec{Name: "content", Path: dir, Mode: git.ModeLatestTag})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("scribbled"), 0o644))
	rev, err := s.Sync(ctx, git.Spec{Name: "content", Path: dir, Mode: git.ModeLatestTag})
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", rev.ID)

	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "one", string(content))
}

func TestSyncer_LatestTag_NoTags(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")

	s := newSyncer(t)
	_, err := s.Sync(ctx, git.Spec{Name: "content", Path: dir, Mode: git.ModeLatestTag})
	require.ErrorIs(t, err, git.ErrNoTags)
}

func TestSyncer_LatestCommit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")
	mustGit(t, dir, "tag", "v1.0.0")
	commitFile(t, dir, "a.txt", "two", "work in progress")

	s := newSyncer(t)
	rev, err := s.Sync(ctx, git.Spec{Name: "ui", Path: dir, Mode: git.ModeLatestCommit})
	require.NoError(t, err)
	require.False(t, rev.IsTag)
	require.NotEmpty(t, rev.ID)
	require.True(t, strings.HasPrefix(rev.Hash, rev.ID), "ID %q should be the short form of %q", rev.ID, rev.Hash)

	// resolving twice is deterministic
	again, err := s.Sync(ctx, git.Spec{Name: "ui", Path: dir, Mode: git.ModeLatestCommit})
	require.NoError(t, err)
	require.Equal(t, rev.ID, again.ID)
	require.Equal(t, rev.Hash, again.Hash)
}

func TestSyncer_LatestCommit_TagAtHead(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")
	mustGit(t, dir, "tag", "v2.0.0")

	s := newSyncer(t)
	rev, err := s.Sync(ctx, git.Spec{Name: "ui", Path: dir, Mode: git.ModeLatestCommit})
	require.NoError(t, err)
	require.Equal(t, "v2.0.0", rev.ID)
	require.True(t, rev.IsTag)
}

func TestSyncer_LatestCommit_KeepsLocalModifications(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("local work"), 0o644))
	s := newSyncer(t)
	_, err := s.Sync(ctx, git.Spec{Name: "ui", Path: dir, Mode: git.ModeLatestCommit})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "local work", string(content))
}

func TestSyncer_MissingRepository(t *testing.T) {
	ctx := context.Background()
	s := newSyncer(t)
	_, err := s.Sync(ctx, git.Spec{
		Name: "content",
		Path: filepath.Join(t.TempDir(), "nope"),
		Mode: git.ModeLatestTag,
	})
	require.ErrorIs(t, err, git.ErrMissingRepository)
}

func TestSyncer_NotARepository(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray"), []byte("x"), 0o644))

	s := newSyncer(t)
	_, err := s.Sync(ctx, git.Spec{Name: "content", Path: dir, Mode: git.ModeLatestTag})
	require.ErrorIs(t, err, git.ErrNotARepository)
}

func TestSyncer_UnknownMode(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")

	s := newSyncer(t)
	_, err := s.Sync(ctx, git.Spec{Name: "content", Path: dir, Mode: git.Mode("weekly")})
	require.ErrorIs(t, err, git.ErrUnknownMode)
}

func TestSyncer_Clone(t *testing.T) {
	ctx := context.Background()
	origin := t.TempDir()
	initRepo(t, origin)
	commitFile(t, origin, "a.txt", "one", "first")
	mustGit(t, origin, "tag", "v1.0.0")

	target := filepath.Join(t.TempDir(), "checkout")
	s := newSyncer(t)
	rev, err := s.Sync(ctx, git.Spec{Name: "content", Path: target, URL: origin, Mode: git.ModeLatestTag})
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", rev.ID)

	content, err := os.ReadFile(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "one", string(content))
}

func TestSyncer_CloneIntoEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	origin := t.TempDir()
	initRepo(t, origin)
	commitFile(t, origin, "a.txt", "one", "first")
	mustGit(t, origin, "tag", "v1.0.0")

	target := filepath.Join(t.TempDir(), "checkout")
	require.NoError(t, os.MkdirAll(target, 0o755))

	s := newSyncer(t)
	rev, err := s.Sync(ctx, git.Spec{Name: "content", Path: target, URL: origin, Mode: git.ModeLatestTag})
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", rev.ID)
}

func TestSyncer_PullsNewCommits(t *testing.T) {
	ctx := context.Background()
	origin := t.TempDir()
	initRepo(t, origin)
	commitFile(t, origin, "a.txt", "one", "first")
	mustGit(t, origin, "tag", "v1.0.0")

	target := filepath.Join(t.TempDir(), "checkout")
	s := newSyncer(t)
	_, err := s.Sync(ctx, git.Spec{Name: "content", Path: target, URL: origin, Mode: git.ModeLatestTag})
	require.NoError(t, err)

	commitFile(t, origin, "a.txt", "two", "second")
	mustGit(t, origin, "tag", "v1.1.0")

	rev, err := s.Sync(ctx, git.Spec{Name: "content", Path: target, URL: origin, Mode: git.ModeLatestTag})
	require.NoError(t, err)
	require.Equal(t, "v1.1.0", rev.ID)

	content, err := os.ReadFile(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "two", string(content))
}

func TestSyncer_MessageWithNewlines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "subject line\n\nbody first\nbody second")
	mustGit(t, dir, "tag", "v1.0.0")

	s := newSyncer(t)
	rev, err := s.Sync(ctx, git.Spec{Name: "content", Path: dir, Mode: git.ModeLatestTag})
	require.NoError(t, err)
	require.Equal(t, "subject line\n\nbody first\nbody second", rev.Message)
}

func TestCurrentCheckout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")

	name, err := git.CurrentCheckout(ctx, dir)
	require.NoError(t, err)
	require.NotEmpty(t, name)

	mustGit(t, dir, "tag", "v1.0.0")
	name, err = git.CurrentCheckout(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", name)
}

func TestHeadRevision(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")

	rev, err := git.HeadRevision(ctx, dir, "content")
	require.NoError(t, err)
	require.False(t, rev.IsTag)
	require.True(t, strings.HasPrefix(rev.Hash, rev.ID))
	require.Equal(t, "content", rev.Repository)

	mustGit(t, dir, "tag", "v1.0.0")
	rev, err = git.HeadRevision(ctx, dir, "content")
	require.NoError(t, err)
	require.True(t, rev.IsTag)
	require.Equal(t, "v1.0.0", rev.ID)

	_, err = git.HeadRevision(ctx, t.TempDir(), "content")
	require.ErrorIs(t, err, git.ErrNotARepository)
}

func TestLatestTag(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "one", "first")

	tag, err := git.LatestTag(ctx, dir)
	require.NoError(t, err)
	require.Empty(t, tag)

	mustGit(t, dir, "tag", "v1.0.0")
	commitFile(t, dir, "a.txt", "two", "second")
	tag, err = git.LatestTag(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", tag)
}

func TestIsRepository(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.False(t, git.IsRepository(ctx, dir))
	initRepo(t, dir)
	require.True(t, git.IsRepository(ctx, dir))
}
