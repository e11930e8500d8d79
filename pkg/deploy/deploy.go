// Package deploy drives the deployment pipeline: repository synchronization,
// asset propagation, version stamping, provenance annotation, feature map
// generation and database deployment, in that order. A lock file serializes
// runs. Stages whose repository dependency failed to synchronize are skipped,
// configuration and engine failures abort the remaining pipeline, per-file
// failures are aggregated and reported at the end.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"

	"github.com/acdh-oeaw/aufbau/pkg/assets"
	"github.com/acdh-oeaw/aufbau/pkg/basex"
	"github.com/acdh-oeaw/aufbau/pkg/config"
	"github.com/acdh-oeaw/aufbau/pkg/featuremap"
	"github.com/acdh-oeaw/aufbau/pkg/git"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
	"github.com/acdh-oeaw/aufbau/pkg/provenance"
	"github.com/acdh-oeaw/aufbau/pkg/stamp"
)

// Params configures a Pipeline.
type Params struct {
	Config *config.Config
	Logger logging.Logger
	// DryRun logs what every stage would do without touching checkouts,
	// files or databases.
	DryRun bool
	// EngineArg is forwarded verbatim to every engine invocation.
	EngineArg string
	// Repositories narrows the sync stage to the named repositories,
	// empty means all of them.
	Repositories []string
}

// Pipeline runs deployment stages against one configuration.
type Pipeline struct {
	cfg       *config.Config
	log       logging.Logger
	dryRun    bool
	engineArg string
	repos     []string
	syncer    *git.Syncer
}

func New(params Params) *Pipeline {
	log := params.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Pipeline{
		cfg:       params.Config,
		log:       log,
		dryRun:    params.DryRun,
		engineArg: params.EngineArg,
		repos:     params.Repositories,
		syncer:    git.NewSyncer(log, params.Config.Git.Timeout, params.Config.Git.RetryWindow),
	}
}

type stage struct {
	name StageName
	// skip returns a reason to skip the stage, empty to run it.
	skip func(state *State) string
	run  func(ctx context.Context, state *State) (string, error)
}

func (p *Pipeline) stages(names []StageName) []stage {
	all := []stage{
		{name: StageSync, run: p.runSync},
		{name: StageAssets, skip: p.skipAssets, run: p.runAssets},
		{name: StageStamp, skip: p.skipStamp, run: p.runStamp},
		{name: StageAnnotate, skip: p.skipAnnotate, run: p.runAnnotate},
		{name: StageFeatureMap, skip: p.skipFeatureMap, run: p.runFeatureMap},
		{name: StageDBDeploy, skip: p.skipDBDeploy, run: p.runDBDeploy},
	}
	if len(names) == 0 {
		return all
	}
	want := make(map[StageName]bool, len(names))
	for _, name := range names {
		want[name] = true
	}
	selected := make([]stage, 0, len(names))
	for _, st := range all {
		if want[st.name] {
			selected = append(selected, st)
		}
	}
	return selected
}

// Run executes the full pipeline.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	return p.RunStages(ctx)
}

// RunStages executes the named stages in pipeline order, all of them when
// none are named. The run lock is held for the duration; a lock already held
// fails with ErrLocked. When the sync stage is not part of the run the
// repositories' current checkouts are used as revisions.
func (p *Pipeline) RunStages(ctx context.Context, names ...StageName) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	for _, name := range p.repos {
		if _, ok := p.cfg.RepositoryByName(name); !ok {
			return nil, fmt.Errorf("%w: %s", config.ErrUnknownRepository, name)
		}
	}
	if err := git.CheckAvailable(); err != nil {
		return nil, err
	}

	lock := flock.New(p.cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", p.cfg.LockFile, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", p.cfg.LockFile, ErrLocked)
	}
	defer func() { _ = lock.Unlock() }()

	state := &State{
		RunID:     NewRunID(time.Now()),
		BuildDir:  p.cfg.BuildDir,
		OnlyTags:  p.cfg.OnlyTags,
		Revisions: make(map[string]*git.Revision),
		failed:    make(map[string]error),
	}
	// every component that logs WithContext picks the run id up from here
	ctx = logging.AddFields(ctx, logging.Fields{logging.RunIDFieldKey: state.RunID})
	stages := p.stages(names)
	log := p.log.WithField(logging.RunIDFieldKey, state.RunID)
	log.WithFields(logging.Fields{
		"workdir": p.cfg.Workdir,
		"stages":  len(stages),
		"dry_run": p.dryRun,
	}).Info("Deployment run starting")

	if !includesSync(stages) {
		p.resolveCheckouts(ctx, state)
	}

	report := &Report{RunID: state.RunID}
	abort := false
	for _, st := range stages {
		stageLog := log.WithField(logging.StageFieldKey, string(st.name))
		result := StageResult{Stage: st.name}
		if abort {
			result.Skipped = true
			result.Reason = "aborted by earlier failure"
		} else if st.skip != nil {
			if reason := st.skip(state); reason != "" {
				result.Skipped = true
				result.Reason = reason
			}
		}
		if result.Skipped {
			stageLog.WithField("reason", result.Reason).Info("Stage skipped")
			report.Results = append(report.Results, result)
			continue
		}

		start := time.Now()
		details, err := st.run(ctx, state)
		result.Took = time.Since(start)
		result.Details = details
		result.Err = err
		report.Results = append(report.Results, result)
		if err == nil {
			stageLog.WithField("took", result.Took.Round(time.Millisecond).String()).Info("Stage finished")
			continue
		}
		stageLog.WithError(err).Error("Stage failed")
		if abortsRun(err) {
			abort = true
		}
	}
	return report, nil
}

// abortsRun reports whether a stage failure invalidates the rest of the
// pipeline. Aggregated per-file failures do not, everything else does.
func abortsRun(err error) bool {
	var merr *multierror.Error
	return !errors.As(err, &merr)
}

func includesSync(stages []stage) bool {
	for _, st := range stages {
		if st.name == StageSync {
			return true
		}
	}
	return false
}

func (p *Pipeline) stageLog(state *State, name StageName) logging.Logger {
	return p.log.WithFields(logging.Fields{
		logging.RunIDFieldKey: state.RunID,
		logging.StageFieldKey: string(name),
	})
}

func (p *Pipeline) selectedRepos() []config.RepositorySpec {
	if len(p.repos) == 0 {
		return p.cfg.Repositories
	}
	selected := make([]config.RepositorySpec, 0, len(p.repos))
	for _, name := range p.repos {
		if repo, ok := p.cfg.RepositoryByName(name); ok {
			selected = append(selected, repo)
		}
	}
	return selected
}

// resolveCheckouts fills the state with the revisions the checkouts
// currently sit on, for runs that skip the sync stage.
func (p *Pipeline) resolveCheckouts(ctx context.Context, state *State) {
	log := p.log.WithField(logging.RunIDFieldKey, state.RunID)
	for _, repo := range p.selectedRepos() {
		rev, err := git.HeadRevision(ctx, repo.Path, repo.Name)
		if err != nil {
			state.failed[repo.Name] = err
			log.WithError(err).WithField(logging.RepositoryFieldKey, repo.Name).
				Warn("Cannot resolve current checkout")
			continue
		}
		state.Revisions[repo.Name] = rev
	}
}

// failedDependency names the repository whose synchronization failure makes
// path unusable, if any.
func (p *Pipeline) failedDependency(state *State, path string) (string, bool) {
	for name := range state.failed {
		repo, ok := p.cfg.RepositoryByName(name)
		if !ok {
			continue
		}
		if within(repo.Path, path) {
			return name, true
		}
	}
	return "", false
}

func (p *Pipeline) runSync(ctx context.Context, state *State) (string, error) {
	log := p.stageLog(state, StageSync)
	repos := p.selectedRepos()
	var errs *multierror.Error
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if p.dryRun {
			rev, err := git.HeadRevision(ctx, repo.Path, repo.Name)
			if err != nil {
				state.failed[repo.Name] = err
				errs = multierror.Append(errs, err)
				continue
			}
			state.Revisions[repo.Name] = rev
			log.WithFields(logging.Fields{
				logging.RepositoryFieldKey: repo.Name,
				logging.RevisionFieldKey:   rev.ID,
			}).Info("Dry run, keeping current checkout")
			continue
		}
		rev, err := p.syncer.Sync(ctx, p.cfg.GitSpec(repo))
		if err != nil {
			if errors.Is(err, git.ErrMissingRepository) {
				return "", fmt.Errorf("%w: %w", ErrConfiguration, err)
			}
			if ctx.Err() != nil {
				return "", err
			}
			state.failed[repo.Name] = err
			errs = multierror.Append(errs, err)
			log.WithError(err).WithField(logging.RepositoryFieldKey, repo.Name).
				Error("Repository synchronization failed")
			continue
		}
		state.Revisions[repo.Name] = rev
	}
	return fmt.Sprintf("%d/%d repositories", len(state.Revisions), len(repos)), errs.ErrorOrNil()
}

func (p *Pipeline) skipAssets(state *State) string {
	if len(p.cfg.Assets.Sources) == 0 {
		return "no asset sources configured"
	}
	for _, src := range p.cfg.Assets.Sources {
		if name, ok := p.failedDependency(state, src); ok {
			return fmt.Sprintf("repository %s did not synchronize", name)
		}
	}
	return ""
}

func (p *Pipeline) runAssets(ctx context.Context, state *State) (string, error) {
	log := p.stageLog(state, StageAssets)
	if p.dryRun {
		log.WithFields(logging.Fields{
			"sources":     strings.Join(p.cfg.Assets.Sources, ","),
			"destination": p.cfg.Assets.Destination,
		}).Info("Dry run, skipping asset propagation")
		return "dry run", nil
	}
	propagator := assets.NewPropagator(log)
	var total assets.Summary
	var errs *multierror.Error
	for _, src := range p.cfg.Assets.Sources {
		summary, err := propagator.Propagate(ctx, assets.CopySpec{
			SourceRoot:     src,
			Destination:    p.cfg.Assets.Destination,
			DatasetPattern: p.cfg.Assets.DatasetPattern,
			Extensions:     p.cfg.Assets.Extensions,
		})
		total.Datasets += summary.Datasets
		total.Copied += summary.Copied
		total.Failed += summary.Failed
		if err == nil {
			continue
		}
		if errors.Is(err, assets.ErrMissingDestination) || errors.Is(err, assets.ErrBadPattern) {
			return "", fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if ctx.Err() != nil {
			return "", err
		}
		errs = multierror.Append(errs, err)
	}
	return fmt.Sprintf("%d datasets, %d files", total.Datasets, total.Copied), errs.ErrorOrNil()
}

func (p *Pipeline) skipStamp(state *State) string {
	ui := p.cfg.Stamp.UIRepository
	if ui == "" {
		return "no ui repository configured"
	}
	if _, ok := state.Revisions[ui]; !ok {
		return fmt.Sprintf("repository %s did not synchronize", ui)
	}
	return ""
}

func (p *Pipeline) runStamp(ctx context.Context, state *State) (string, error) {
	log := p.stageLog(state, StageStamp)
	uiRev := state.Revisions[p.cfg.Stamp.UIRepository]

	spec := stamp.Spec{
		Root:         state.BuildDir,
		Extensions:   p.cfg.Stamp.Extensions,
		ExcludeDirs:  p.cfg.Stamp.ExcludeDirs,
		VersionToken: p.cfg.Stamp.VersionToken,
		Version:      uiRev.ID,
	}
	if data := p.cfg.Stamp.DataRepository; data != "" {
		if rev, ok := state.Revisions[data]; ok {
			spec.DataVersionToken = p.cfg.Stamp.DataVersionToken
			spec.DataVersion = rev.ID
		} else {
			log.WithField(logging.RepositoryFieldKey, data).
				Warn("Data repository did not synchronize, leaving its token in place")
		}
	}
	if p.dryRun {
		log.WithFields(logging.Fields{
			logging.RevisionFieldKey: spec.Version,
			"data_version":           spec.DataVersion,
		}).Info("Dry run, skipping version stamping")
		return "dry run", nil
	}
	summary, err := stamp.NewStamper(log).Stamp(ctx, spec)
	if errors.Is(err, stamp.ErrBadPattern) {
		return "", fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return fmt.Sprintf("%d files stamped", summary.Stamped), err
}

func (p *Pipeline) skipAnnotate(state *State) string {
	for _, repo := range p.cfg.Repositories {
		if repo.Annotate {
			return ""
		}
	}
	return "no repositories configured for annotation"
}

func (p *Pipeline) runAnnotate(ctx context.Context, state *State) (string, error) {
	log := p.stageLog(state, StageAnnotate)
	var total provenance.Summary
	var errs *multierror.Error
	for _, repo := range p.cfg.Repositories {
		if !repo.Annotate {
			continue
		}
		rev, ok := state.Revisions[repo.Name]
		if !ok {
			log.WithField(logging.RepositoryFieldKey, repo.Name).
				Warn("Repository did not synchronize, skipping annotation")
			continue
		}
		if !rev.IsTag {
			log.WithFields(logging.Fields{
				logging.RepositoryFieldKey: repo.Name,
				logging.RevisionFieldKey:   rev.ID,
			}).Info("Checkout is not a release tag, skipping annotation")
			continue
		}
		if p.dryRun {
			log.WithFields(logging.Fields{
				logging.RepositoryFieldKey: repo.Name,
				logging.RevisionFieldKey:   rev.ID,
			}).Info("Dry run, would annotate checkout")
			continue
		}
		summary, err := provenance.NewAnnotator(log).Annotate(ctx, repo.Path, rev)
		total.Annotated += summary.Annotated
		total.Skipped += summary.Skipped
		total.Failed += summary.Failed
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			errs = multierror.Append(errs, err)
		}
	}
	if p.dryRun {
		return "dry run", nil
	}
	return fmt.Sprintf("%d files annotated", total.Annotated), errs.ErrorOrNil()
}

func (p *Pipeline) skipFeatureMap(state *State) string {
	fm := p.cfg.FeatureMap
	if fm.Repository == "" {
		return "no feature database configured"
	}
	if fm.FeaturesDir == "" {
		return "no features directory configured"
	}
	if _, ok := state.Revisions[fm.Repository]; !ok {
		return fmt.Sprintf("repository %s did not synchronize", fm.Repository)
	}
	return ""
}

func (p *Pipeline) runFeatureMap(ctx context.Context, state *State) (string, error) {
	log := p.stageLog(state, StageFeatureMap)
	fm := p.cfg.FeatureMap
	repo, _ := p.cfg.RepositoryByName(fm.Repository)
	spec := featuremap.Spec{
		FeaturesDir:      resolveAgainst(repo.Path, fm.FeaturesDir),
		GeodataPath:      resolveAgainst(repo.Path, fm.Geodata),
		BibliographyPath: resolveAgainst(repo.Path, fm.Bibliography),
		OutputDir:        fm.OutputDir,
	}
	switch {
	case spec.OutputDir == "":
		// The engine scripts load the generated documents from the
		// feature database checkout.
		spec.OutputDir = repo.Path
	case !filepath.IsAbs(spec.OutputDir):
		spec.OutputDir = filepath.Join(p.cfg.Workdir, spec.OutputDir)
	}
	if p.dryRun {
		log.WithFields(logging.Fields{
			"features": spec.FeaturesDir,
			"output":   spec.OutputDir,
		}).Info("Dry run, skipping feature map build")
		return "dry run", nil
	}
	summary, err := featuremap.NewBuilder(log).Build(ctx, spec)
	details := fmt.Sprintf("%d documents, %d places, %d varieties",
		summary.Documents, summary.Places, summary.Varieties)
	return details, err
}

// resolveAgainst anchors a relative path on the repository checkout it
// belongs to.
func resolveAgainst(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func (p *Pipeline) skipDBDeploy(state *State) string {
	if p.cfg.Engine.ContentScript == "" && p.cfg.Engine.ConfigScript == "" {
		return "no engine scripts configured"
	}
	if ui := p.cfg.Stamp.UIRepository; ui != "" {
		if _, ok := state.Revisions[ui]; !ok {
			return fmt.Sprintf("repository %s did not synchronize", ui)
		}
	}
	return ""
}

func (p *Pipeline) runDBDeploy(ctx context.Context, state *State) (string, error) {
	log := p.stageLog(state, StageDBDeploy)
	runner := basex.NewRunner(log, basex.Params{
		Binary:   p.cfg.Engine.Binary,
		Username: p.cfg.Engine.Username,
		Password: p.cfg.Engine.Password.SecureValue(),
		Timeout:  p.cfg.Engine.Timeout,
	})
	if min := p.cfg.Engine.MinVersion; min != "" && !p.dryRun {
		version, err := runner.CheckVersion(ctx, min)
		if err != nil {
			return "", err
		}
		log.WithField("version", version).Debug("Engine version accepted")
	}

	scripts := []struct {
		name  string
		path  string
		quiet bool
	}{
		{name: "content", path: p.cfg.Engine.ContentScript},
		{name: "config", path: p.cfg.Engine.ConfigScript, quiet: true},
	}
	var executed, databases int
	for _, sc := range scripts {
		if sc.path == "" {
			continue
		}
		script, err := basex.Load(sc.path)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if err := script.Validate(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		rewrites := script.RewritePaths(p.cfg.Engine.PathToken, state.BuildDir)
		names := script.Databases()
		log.WithFields(logging.Fields{
			logging.ScriptFieldKey:   sc.path,
			logging.DatabaseFieldKey: strings.Join(names, ","),
			"rewrites":               rewrites,
		}).Info("Engine script prepared")
		if p.dryRun {
			continue
		}
		if err := runner.Execute(ctx, sc.name, script, basex.ExecOptions{
			ExtraArg: p.engineArg,
			Quiet:    sc.quiet,
		}); err != nil {
			return "", err
		}
		executed++
		databases += len(names)
	}
	if p.dryRun {
		return "dry run", nil
	}
	return fmt.Sprintf("%d scripts, %d databases", executed, databases), nil
}
