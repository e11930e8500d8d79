package basex_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acdh-oeaw/aufbau/pkg/basex"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

// writeStub drops a shell script standing in for the engine binary.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "basex")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+body), 0o755))
	return bin
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRunner_Execute(t *testing.T) {
	record := t.TempDir()
	argsFile := filepath.Join(record, "args.txt")
	scriptCopy := filepath.Join(record, "script.bxs")
	bin := writeStub(t, fmt.Sprintf(`printf '%%s\n' "$@" > %q
for a; do last=$a; done
cp "$last" %q
echo "engine says hello"
`, argsFile, scriptCopy))

	script, err := basex.Parse([]byte(`<commands><set option="parser">json</set><create-db name="geo">@builddir@/f.geojson</create-db></commands>`))
	require.NoError(t, err)
	require.Equal(t, 1, script.RewritePaths("@builddir@", "/srv/build"))

	r := basex.NewRunner(logging.Default(), basex.Params{
		Binary:   bin,
		Username: "admin",
		Password: "hunter2",
		Timeout:  10 * time.Second,
	})

	var out bytes.Buffer
	err = r.Execute(context.Background(), "content", script, basex.ExecOptions{ExtraArg: "-c", Output: &out})
	require.NoError(t, err)
	require.Equal(t, "engine says hello\n", out.String())

	args := strings.Split(strings.TrimSpace(readFile(t, argsFile)), "\n")
	require.Len(t, args, 4)
	require.Equal(t, "-Uadmin", args[0])
	require.Equal(t, "-Phunter2", args[1])
	require.Equal(t, "-c", args[2])
	require.True(t, strings.HasSuffix(args[3], ".bxs"))

	// the engine received the rewritten script exactly as marshaled
	delivered, err := basex.Parse([]byte(readFile(t, scriptCopy)))
	require.NoError(t, err)
	require.Equal(t, script.Directives, delivered.Directives)
	require.Equal(t, "/srv/build/f.geojson", delivered.Directives[1].Arg)
}

func TestRunner_Execute_Quiet(t *testing.T) {
	bin := writeStub(t, `echo "must not appear"`)
	script, err := basex.Parse([]byte(`<commands><open name="db"/></commands>`))
	require.NoError(t, err)

	r := basex.NewRunner(logging.Default(), basex.Params{Binary: bin, Timeout: 10 * time.Second})
	var out bytes.Buffer
	err = r.Execute(context.Background(), "config", script, basex.ExecOptions{Quiet: true, Output: &out})
	require.NoError(t, err)
	require.Zero(t, out.Len())
}

func TestRunner_Execute_Failure(t *testing.T) {
	bin := writeStub(t, `echo "Stopped at line 3: unknown database" >&2
exit 1`)
	script, err := basex.Parse([]byte(`<commands><open name="db"/></commands>`))
	require.NoError(t, err)

	r := basex.NewRunner(logging.Default(), basex.Params{Binary: bin, Timeout: 10 * time.Second})
	err = r.Execute(context.Background(), "content", script, basex.ExecOptions{Quiet: true})
	require.ErrorIs(t, err, basex.ErrEngine)
	require.Contains(t, err.Error(), "unknown database")
}

func TestRunner_Execute_Timeout(t *testing.T) {
	bin := writeStub(t, "sleep 5")
	script, err := basex.Parse([]byte(`<commands><open name="db"/></commands>`))
	require.NoError(t, err)

	r := basex.NewRunner(logging.Default(), basex.Params{Binary: bin, Timeout: 100 * time.Millisecond})
	err = r.Execute(context.Background(), "content", script, basex.ExecOptions{Quiet: true})
	require.ErrorIs(t, err, basex.ErrEngine)
}

func TestRunner_CheckVersion(t *testing.T) {
	bin := writeStub(t, `echo "BaseX 10.7 [Standalone]"`)
	r := basex.NewRunner(logging.Default(), basex.Params{Binary: bin, Timeout: 10 * time.Second})

	got, err := r.CheckVersion(context.Background(), "9.7")
	require.NoError(t, err)
	require.Equal(t, "10.7", got)

	_, err = r.CheckVersion(context.Background(), "11.0")
	require.ErrorIs(t, err, basex.ErrEngineVersion)
}

func TestRunner_CheckVersion_MissingBinary(t *testing.T) {
	r := basex.NewRunner(logging.Default(), basex.Params{
		Binary:  filepath.Join(t.TempDir(), "nope"),
		Timeout: time.Second,
	})
	_, err := r.CheckVersion(context.Background(), "9.7")
	require.ErrorIs(t, err, basex.ErrEngine)
}
