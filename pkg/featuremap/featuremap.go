// Package featuremap renders the WibArab feature database checkout into the
// GeoJSON files that drive the web application's map views. Two files are
// built from the same set of TEI feature documents: a places collection
// listing every documented feature per place, and a varieties collection
// with one feature per place and variety pair, enriched with bibliography
// data.
package featuremap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/acdh-oeaw/aufbau/pkg/fileutil"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

const (
	// PlacesFile maps places to their documented features.
	PlacesFile = "wibarab.geojson"
	// VarietiesFile maps place and variety pairs to enriched observations.
	VarietiesFile = "wibarab_varieties.geojson"

	collectionDescription = "GEOJSON for the WIBARAB Feature DB"

	// noVariety marks a place that is mentioned without any lang sibling
	// naming the variety spoken there.
	noVariety = "no_variety"

	parseConcurrency = 8
)

// Spec names the inputs and the output directory of one build.
type Spec struct {
	// FeaturesDir holds the feature description TEI files. File names
	// containing "template" are ignored.
	FeaturesDir string
	// GeodataPath is the geographical register TEI file.
	GeodataPath string
	// BibliographyPath is the Zotero bibliography export TEI file.
	BibliographyPath string
	// OutputDir receives the two GeoJSON files, created when missing.
	OutputDir string
}

type Summary struct {
	Documents int
	Failed    int
	Places    int
	Varieties int
}

// Builder builds the feature map GeoJSON files.
type Builder struct {
	log logging.Logger
}

func NewBuilder(log logging.Logger) *Builder {
	return &Builder{log: log}
}

// Build parses the feature documents and writes the places and varieties
// collections. Unreadable documents are skipped and reported in the
// aggregated error. Missing register files fail the build outright.
func (b *Builder) Build(ctx context.Context, spec Spec) (Summary, error) {
	var summary Summary
	log := b.log.WithContext(ctx)

	geo, err := loadGeodata(spec.GeodataPath)
	if err != nil {
		return summary, err
	}
	bibl, err := loadBibliography(spec.BibliographyPath, log)
	if err != nil {
		return summary, err
	}

	docs, parseErrs, err := b.loadDocuments(ctx, spec.FeaturesDir)
	if err != nil {
		return summary, err
	}
	summary.Documents = len(docs)

	var errs *multierror.Error
	if parseErrs != nil {
		summary.Failed = len(parseErrs.Errors)
		errs = multierror.Append(errs, parseErrs.Errors...)
	}

	places, placeErrs := buildPlaces(docs, geo)
	if placeErrs != nil {
		errs = multierror.Append(errs, placeErrs.Errors...)
	}
	varieties, varietyErrs := buildVarieties(docs, geo, bibl, log)
	if varietyErrs != nil {
		errs = multierror.Append(errs, varietyErrs.Errors...)
	}
	summary.Places = len(places.Features)
	summary.Varieties = len(varieties["features"].([]any))

	if err := os.MkdirAll(spec.OutputDir, fileutil.DefaultDirectoryMask); err != nil {
		return summary, fmt.Errorf("create %s: %w", spec.OutputDir, err)
	}
	if err := writeJSON(filepath.Join(spec.OutputDir, PlacesFile), places); err != nil {
		return summary, err
	}
	if err := writeJSON(filepath.Join(spec.OutputDir, VarietiesFile), varieties); err != nil {
		return summary, err
	}

	log.WithFields(logging.Fields{
		"documents": summary.Documents,
		"failed":    summary.Failed,
		"places":    summary.Places,
		"varieties": summary.Varieties,
		"output":    spec.OutputDir,
	}).Info("Feature map built")
	return summary, errs.ErrorOrNil()
}

// loadDocuments parses every feature document in dir, in parallel but
// keeping directory order. Parse failures are aggregated, not fatal.
func (b *Builder) loadDocuments(ctx context.Context, dir string) ([]*document, *multierror.Error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.Contains(entry.Name(), "template") {
			continue
		}
		names = append(names, entry.Name())
	}

	parsed := make([]*document, len(names))
	failures := make([]error, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i], failures[i] = parseDocument(filepath.Join(dir, name), name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var docs []*document
	var errs *multierror.Error
	for i := range names {
		if failures[i] != nil {
			errs = multierror.Append(errs, failures[i])
			b.log.WithContext(ctx).
				WithError(failures[i]).
				WithField(logging.PathFieldKey, filepath.Join(dir, names[i])).
				Warn("Skipping unparseable feature document")
			continue
		}
		docs = append(docs, parsed[i])
	}
	return docs, errs, nil
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
