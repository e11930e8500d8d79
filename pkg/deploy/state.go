package deploy

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acdh-oeaw/aufbau/pkg/git"
)

// NewRunID generates the identifier that tags every log line and provenance
// record of one run: the UTC start time followed by a random suffix.
func NewRunID(t time.Time) string {
	uid := strings.ReplaceAll(uuid.New().String(), "-", "")
	return t.UTC().Format(time.RFC3339) + "_" + uid
}

// State carries what earlier stages resolved for later ones.
type State struct {
	RunID    string
	BuildDir string
	OnlyTags bool
	// Revisions holds the checkout every successfully synchronized
	// repository landed on, keyed by repository name.
	Revisions map[string]*git.Revision

	// failed records per-repository synchronization failures. Stages
	// depending on a failed repository are skipped.
	failed map[string]error
}

// Revision returns the resolved checkout of a repository.
func (s *State) Revision(name string) (*git.Revision, bool) {
	rev, ok := s.Revisions[name]
	return rev, ok
}

// SyncError returns the synchronization failure recorded for a repository,
// nil when it synchronized.
func (s *State) SyncError(name string) error {
	return s.failed[name]
}

// within reports whether path is dir itself or lies under it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
