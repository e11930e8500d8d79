package deploy

import (
	"errors"
	"time"
)

// StageName identifies one pipeline stage.
type StageName string

const (
	StageSync       StageName = "sync"
	StageAssets     StageName = "assets"
	StageStamp      StageName = "stamp"
	StageAnnotate   StageName = "annotate"
	StageFeatureMap StageName = "featuremap"
	StageDBDeploy   StageName = "dbdeploy"
)

// AllStages lists the stages in execution order.
var AllStages = []StageName{
	StageSync,
	StageAssets,
	StageStamp,
	StageAnnotate,
	StageFeatureMap,
	StageDBDeploy,
}

var stageCodes = map[StageName]int{
	StageSync:       CodeSync,
	StageAssets:     CodeAssets,
	StageStamp:      CodeStamp,
	StageAnnotate:   CodeAnnotate,
	StageFeatureMap: CodeFeatureMap,
	StageDBDeploy:   CodeEngine,
}

// StageResult records the outcome of one stage.
type StageResult struct {
	Stage   StageName
	Skipped bool
	// Reason explains a skip.
	Reason string
	// Details is a short human readable summary, "3 datasets, 5 files".
	Details string
	Err     error
	Took    time.Duration
}

// Report collects the per-stage outcomes of one run.
type Report struct {
	RunID   string
	Results []StageResult
}

// Err returns the first stage failure, nil when every stage passed or was
// skipped.
func (r *Report) Err() error {
	for _, res := range r.Results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

// ExitCode maps the first stage failure to its exit code. Configuration
// failures map to CodeConfiguration no matter which stage surfaced them.
func (r *Report) ExitCode() int {
	for _, res := range r.Results {
		if res.Err == nil {
			continue
		}
		if errors.Is(res.Err, ErrConfiguration) {
			return CodeConfiguration
		}
		return stageCodes[res.Stage]
	}
	return CodeOK
}

// CodeFor classifies failures that happen before any stage runs.
func CodeFor(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrLocked):
		return CodeLocked
	default:
		return CodeConfiguration
	}
}
