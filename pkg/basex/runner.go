package basex

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

const DefaultTimeout = 15 * time.Minute

// Params configures a Runner.
type Params struct {
	// Binary is the engine executable, resolved on PATH when relative.
	Binary string
	// Username and Password are passed to the engine with -U/-P. The
	// password never appears in logs or error messages.
	Username string
	Password string
	// Timeout bounds a single engine invocation.
	Timeout time.Duration
}

// Runner executes command scripts through the engine's command line client.
type Runner struct {
	log    logging.Logger
	params Params
}

func NewRunner(log logging.Logger, params Params) *Runner {
	if params.Binary == "" {
		params.Binary = "basex"
	}
	if params.Timeout <= 0 {
		params.Timeout = DefaultTimeout
	}
	return &Runner{log: log, params: params}
}

// ExecOptions tune one script execution.
type ExecOptions struct {
	// ExtraArg is forwarded to the engine invocation verbatim, before the
	// script argument.
	ExtraArg string
	// Quiet discards engine stdout.
	Quiet bool
	// Output receives engine stdout when not Quiet, os.Stdout by default.
	Output io.Writer
}

// Execute materializes the script to a temporary .bxs file and runs the
// engine on it. The script reaches the engine exactly as marshaled; any path
// rewriting happens before this point. Engine stderr is captured and wrapped
// into the returned error, it is never parsed.
func (r *Runner) Execute(ctx context.Context, name string, script *Script, opts ExecOptions) error {
	raw, err := script.Marshal()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	tmp, err := os.CreateTemp("", "aufbau-*.bxs")
	if err != nil {
		return fmt.Errorf("create temp script: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}

	args := r.credentials()
	if opts.ExtraArg != "" {
		args = append(args, opts.ExtraArg)
	}
	args = append(args, tmp.Name())

	ctx, cancel := context.WithTimeout(ctx, r.params.Timeout)
	defer cancel()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Quiet {
		out = io.Discard
	}

	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, r.params.Binary, args...)
	cmd.Stdout = out
	cmd.Stderr = &stderr

	log := r.log.WithContext(ctx).WithField(logging.ScriptFieldKey, name)
	log.WithField("directives", len(script.Directives)).Info("Executing engine script")
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %s: %w", name, ctx.Err(), ErrEngine)
		}
		return fmt.Errorf("%s: %s: %s: %w", name, err, strings.TrimSpace(stderr.String()), ErrEngine)
	}
	log.WithField("took", time.Since(start).String()).Info("Engine script finished")
	return nil
}

func (r *Runner) credentials() []string {
	var args []string
	if r.params.Username != "" {
		args = append(args, "-U"+r.params.Username)
	}
	if r.params.Password != "" {
		args = append(args, "-P"+r.params.Password)
	}
	return args
}

// CheckVersion runs `binary -version` and fails when the reported version is
// below min. It returns the version the engine reported.
func (r *Runner) CheckVersion(ctx context.Context, min string) (string, error) {
	minimum, err := goversion.NewVersion(min)
	if err != nil {
		return "", fmt.Errorf("minimum version %q: %w", min, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.params.Timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.params.Binary, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s -version: %s: %w", r.params.Binary, strings.TrimSpace(string(out)), ErrEngine)
	}

	reported := parseVersion(string(out))
	if reported == "" {
		return "", fmt.Errorf("no version in %q: %w", strings.TrimSpace(string(out)), ErrEngine)
	}
	current, err := goversion.NewVersion(reported)
	if err != nil {
		return "", fmt.Errorf("engine version %q: %s: %w", reported, err, ErrEngine)
	}
	if current.LessThan(minimum) {
		return reported, fmt.Errorf("engine reports %s, need at least %s: %w", reported, min, ErrEngineVersion)
	}
	return reported, nil
}

// parseVersion picks the version out of the engine's banner, which looks
// like "BaseX 10.7 [Standalone]".
func parseVersion(banner string) string {
	for _, field := range strings.Fields(banner) {
		if field[0] >= '0' && field[0] <= '9' {
			return field
		}
	}
	return ""
}
