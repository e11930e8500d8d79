package provenance

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-multierror"
	"github.com/karrick/godirwalk"
	"github.com/natefinch/atomic"

	"github.com/acdh-oeaw/aufbau/pkg/git"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

// Annotator records a deployed release inside the TEI documents it shipped:
// every document gets a revisionDesc change entry naming the tag, author,
// date and commit message of the release.
type Annotator struct {
	log logging.Logger
}

func NewAnnotator(log logging.Logger) *Annotator {
	return &Annotator{log: log}
}

// Summary reports what an annotation pass did.
type Summary struct {
	Annotated int
	Skipped   int
	Failed    int
}

// Annotate appends the release record to every TEI file under root. XML
// files without a teiHeader are skipped. Parse and write failures are logged,
// aggregated into the returned error and do not stop the pass.
func (a *Annotator) Annotate(ctx context.Context, root string, rev *git.Revision) (Summary, error) {
	var summary Summary

	log := a.log.WithContext(ctx).WithFields(logging.Fields{
		logging.RepositoryFieldKey: rev.Repository,
		logging.RevisionFieldKey:   rev.ID,
	})

	var annotateErrs *multierror.Error
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if path != root && strings.HasPrefix(de.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !de.IsRegular() || filepath.Ext(de.Name()) != ".xml" {
				return nil
			}
			annotated, err := annotateFile(path, rev)
			switch {
			case err != nil:
				summary.Failed++
				annotateErrs = multierror.Append(annotateErrs, err)
				log.WithError(err).WithField(logging.PathFieldKey, path).Warn("Annotation failed")
			case annotated:
				summary.Annotated++
				log.WithField(logging.PathFieldKey, path).Debug("Annotated file")
			default:
				summary.Skipped++
				log.WithField(logging.PathFieldKey, path).Debug("Not a TEI document, skipped")
			}
			return nil
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		annotateErrs = multierror.Append(annotateErrs, fmt.Errorf("walk %s: %w", root, err))
	}

	log.WithFields(logging.Fields{
		"root":      root,
		"annotated": summary.Annotated,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("Provenance recorded")
	return summary, annotateErrs.ErrorOrNil()
}

// annotateFile parses one XML document and appends the change record to its
// teiHeader. It reports false for well formed XML that is not TEI.
func annotateFile(path string, rev *git.Revision) (bool, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	header := doc.FindElement("//teiHeader")
	if header == nil {
		return false, nil
	}

	// revisionDesc is the last child the TEI header schema allows, so
	// creating or appending at the end keeps the document valid.
	revDesc := header.SelectElement("revisionDesc")
	if revDesc == nil {
		revDesc = header.CreateElement(prefixed(header, "revisionDesc"))
	}
	change := revDesc.CreateElement(prefixed(revDesc, "change"))
	change.CreateAttr("when", rev.Date.Format("2006-01-02"))
	change.CreateAttr("who", rev.Author)
	change.CreateAttr("n", rev.ID)
	change.SetText(strings.ReplaceAll(rev.Message, "\n", `\n`))

	out, err := doc.WriteToBytes()
	if err != nil {
		return false, fmt.Errorf("serialize %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(out)); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// prefixed qualifies tag with the parent's namespace prefix so created
// children stay in the parent's namespace in documents that bind one.
func prefixed(parent *etree.Element, tag string) string {
	if parent.Space == "" {
		return tag
	}
	return parent.Space + ":" + tag
}
