package assets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/karrick/godirwalk"

	"github.com/acdh-oeaw/aufbau/pkg/fileutil"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

var (
	// ErrMissingDestination signals that the destination directory does not
	// exist. It is never created here: a missing destination means the web
	// application checkout is not the one configured.
	ErrMissingDestination = errors.New("assets destination directory missing")
	ErrBadPattern         = errors.New("invalid dataset pattern")
)

// CopySpec names the source datasets and the flat destination of one
// propagation run.
type CopySpec struct {
	// SourceRoot is the data repository checkout holding the dataset
	// directories.
	SourceRoot string
	// Destination receives every matching file, flattened. It must already
	// exist.
	Destination string
	// DatasetPattern is a glob matched against top level directory names
	// under SourceRoot.
	DatasetPattern string
	// Extensions is the case sensitive allowlist of file extensions, without
	// the leading dot.
	Extensions []string
}

// Summary reports what a propagation run did.
type Summary struct {
	Datasets int
	Copied   int
	Failed   int
}

// Propagator copies binary assets out of dataset directories into the flat
// image directory served by the web application.
type Propagator struct {
	log logging.Logger
}

func NewPropagator(log logging.Logger) *Propagator {
	return &Propagator{log: log}
}

// Propagate copies every allowlisted file found under the matching dataset
// directories of spec.SourceRoot into spec.Destination, overwriting files of
// the same name. Individual copy failures do not stop the run; they are
// aggregated into the returned error next to a filled Summary. Files already
// in the destination that no dataset provides are left alone.
func (p *Propagator) Propagate(ctx context.Context, spec CopySpec) (Summary, error) {
	var summary Summary

	ok, err := fileutil.DirExists(spec.Destination)
	if err != nil {
		return summary, fmt.Errorf("%s: %w", spec.Destination, err)
	}
	if !ok {
		return summary, fmt.Errorf("%s: %w", spec.Destination, ErrMissingDestination)
	}

	matcher, err := glob.Compile(spec.DatasetPattern)
	if err != nil {
		return summary, fmt.Errorf("%q: %v: %w", spec.DatasetPattern, err, ErrBadPattern)
	}

	allowed := make(map[string]struct{}, len(spec.Extensions))
	for _, ext := range spec.Extensions {
		allowed[ext] = struct{}{}
	}

	datasets, err := datasets(spec.SourceRoot, matcher)
	if err != nil {
		return summary, err
	}

	var copyErrs *multierror.Error
	for _, dataset := range datasets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		log := p.log.WithContext(ctx).WithField("dataset", filepath.Base(dataset))
		log.Debug("Propagating dataset")
		summary.Datasets++

		walkErr := godirwalk.Walk(dataset, &godirwalk.Options{
			Callback: func(path string, de *godirwalk.Dirent) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if de.IsDir() {
					if path != dataset && strings.HasPrefix(de.Name(), ".") {
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
				if err := fileutil.CopyFile(path, filepath.Join(spec.Destination, de.Name())); err != nil {
					summary.Failed++
					copyErrs = multierror.Append(copyErrs, err)
					log.WithError(err).WithField(logging.PathFieldKey, path).Warn("Asset copy failed")
					return nil
				}
				summary.Copied++
				return nil
			},
		})
		if walkErr != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			copyErrs = multierror.Append(copyErrs, fmt.Errorf("walk %s: %w", dataset, walkErr))
		}
	}

	p.log.WithContext(ctx).WithFields(logging.Fields{
		"source":      spec.SourceRoot,
		"destination": spec.Destination,
		"datasets":    summary.Datasets,
		"copied":      summary.Copied,
		"failed":      summary.Failed,
	}).Info("Assets propagated")
	return summary, copyErrs.ErrorOrNil()
}

// datasets lists the top level directories of root whose base name matches
// the pattern, in lexical order.
func datasets(root string, matcher glob.Glob) ([]string, error) {
	dirents, err := godirwalk.ReadDirents(root, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	var matched []string
	for _, de := range dirents {
		if !de.IsDir() || !matcher.Match(de.Name()) {
			continue
		}
		matched = append(matched, filepath.Join(root, de.Name()))
	}
	sort.Strings(matched)
	return matched, nil
}
