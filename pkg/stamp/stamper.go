package stamp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/karrick/godirwalk"
	"github.com/natefinch/atomic"

	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

// ErrBadPattern marks an exclude entry that does not compile as a glob.
var ErrBadPattern = errors.New("invalid exclude pattern")

// Spec describes one stamping pass over a checkout.
type Spec struct {
	// Root is the web application checkout to stamp.
	Root string
	// Extensions is the case sensitive list of file extensions to visit,
	// without the leading dot.
	Extensions []string
	// ExcludeDirs are glob patterns matched against directory names; a
	// matching directory is skipped wherever it appears under Root. Hidden
	// directories are always skipped.
	ExcludeDirs []string
	// VersionToken is replaced by Version wherever it appears literally. An
	// empty token is ignored.
	VersionToken string
	Version      string
	// DataVersionToken is replaced by DataVersion, same rules.
	DataVersionToken string
	DataVersion      string
}

// Summary reports how many candidate files a pass visited and rewrote.
type Summary struct {
	Scanned int
	Stamped int
}

// Stamper burns revision identifiers into the web application sources by
// replacing placeholder tokens.
type Stamper struct {
	log logging.Logger
}

func NewStamper(log logging.Logger) *Stamper {
	return &Stamper{log: log}
}

// Stamp rewrites every literal occurrence of the version tokens in the
// matching files under spec.Root. Files are written atomically and only when
// their content actually changed, so a pass over an already stamped tree is
// a no-op. Per file failures are aggregated and do not stop the pass.
func (s *Stamper) Stamp(ctx context.Context, spec Spec) (Summary, error) {
	var summary Summary

	allowed := make(map[string]struct{}, len(spec.Extensions))
	for _, ext := range spec.Extensions {
		allowed[ext] = struct{}{}
	}
	excluded := make([]glob.Glob, 0, len(spec.ExcludeDirs))
	for _, pattern := range spec.ExcludeDirs {
		matcher, err := glob.Compile(pattern)
		if err != nil {
			return summary, fmt.Errorf("%q: %v: %w", pattern, err, ErrBadPattern)
		}
		excluded = append(excluded, matcher)
	}

	log := s.log.WithContext(ctx)
	var stampErrs *multierror.Error
	err := godirwalk.Walk(spec.Root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if path == spec.Root {
					return nil
				}
				if excludedDir(de.Name(), excluded) || strings.HasPrefix(de.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !de.IsRegular() {
				return nil
			}
			if _, ok := allowed[strings.TrimPrefix(filepath.Ext(de.Name()), ".")]; !ok {
				return nil
			}
			summary.Scanned++
			stamped, err := stampFile(path, spec)
			if err != nil {
				stampErrs = multierror.Append(stampErrs, err)
				log.WithError(err).WithField(logging.PathFieldKey, path).Warn("Stamping failed")
				return nil
			}
			if stamped {
				summary.Stamped++
				log.WithField(logging.PathFieldKey, path).Debug("Stamped file")
			}
			return nil
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		stampErrs = multierror.Append(stampErrs, fmt.Errorf("walk %s: %w", spec.Root, err))
	}

	log.WithFields(logging.Fields{
		"root":         spec.Root,
		"scanned":      summary.Scanned,
		"stamped":      summary.Stamped,
		"version":      spec.Version,
		"data_version": spec.DataVersion,
	}).Info("Version tokens stamped")
	return summary, stampErrs.ErrorOrNil()
}

func excludedDir(name string, patterns []glob.Glob) bool {
	for _, matcher := range patterns {
		if matcher.Match(name) {
			return true
		}
	}
	return false
}

// stampFile replaces the tokens in one file and reports whether the file was
// rewritten.
func stampFile(path string, spec Spec) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	content := string(raw)
	stamped := content
	if spec.VersionToken != "" {
		stamped = strings.ReplaceAll(stamped, spec.VersionToken, spec.Version)
	}
	if spec.DataVersionToken != "" {
		stamped = strings.ReplaceAll(stamped, spec.DataVersionToken, spec.DataVersion)
	}
	if stamped == content {
		return false, nil
	}
	if err := atomic.WriteFile(path, strings.NewReader(stamped)); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
