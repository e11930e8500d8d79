package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/acdh-oeaw/aufbau/pkg/fileutil"
	"github.com/stretchr/testify/require"
)

func TestIsDirEmpty(t *testing.T) {
	root := t.TempDir()

	empty, err := fileutil.IsDirEmpty(root)
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("x"), 0o644))
	empty, err = fileutil.IsDirEmpty(root)
	require.NoError(t, err)
	require.False(t, empty)

	_, err = fileutil.IsDirEmpty(filepath.Join(root, "missing"))
	require.Error(t, err)
}

func TestDirExists(t *testing.T) {
	root := t.TempDir()

	exists, err := fileutil.DirExists(root)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = fileutil.DirExists(filepath.Join(root, "missing"))
	require.NoError(t, err)
	require.False(t, exists)

	file := filepath.Join(root, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	exists, err = fileutil.DirExists(file)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCopyFile(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.svg")
	dst := filepath.Join(root, "dst.svg")
	content := []byte("<svg xmlns=\"http://www.w3.org/2000/svg\"/>\n")
	require.NoError(t, os.WriteFile(src, content, 0o640))

	require.NoError(t, fileutil.CopyFile(src, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, content, got)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	// overwrite keeps the newer content
	require.NoError(t, os.WriteFile(src, []byte("v2"), 0o640))
	require.NoError(t, fileutil.CopyFile(src, dst))
	got, err = os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	require.Error(t, fileutil.CopyFile(filepath.Join(root, "missing"), dst))
}
