package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/karrick/godirwalk"
)

const (
	DefaultDirectoryMask = 0o755
)

// IsDir Returns true if p is a directory, otherwise false
func IsDir(p string) (bool, error) {
	stat, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	return stat.IsDir(), nil
}

// DirExists returns true when p exists and is a directory. A missing path is
// not an error.
func DirExists(p string) (bool, error) {
	isDir, err := IsDir(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return isDir, nil
}

func IsDirEmpty(dir string) (bool, error) {
	s, err := godirwalk.NewScanner(dir)
	if err != nil {
		return false, err
	}
	// Attempt to read only the first directory entry. Note that Scan skips both "." and ".." entries.
	hasAtLeastOneChild := s.Scan()
	if err = s.Err(); err != nil {
		return false, err
	}

	if hasAtLeastOneChild {
		return false, nil
	}
	return true, nil
}

// CopyFile copies src into dst, overwriting dst when it already exists. The
// source permission bits are preserved.
func CopyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = srcFile.Close() }()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	_, err = io.Copy(dstFile, srcFile)
	if closeErr := dstFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}
