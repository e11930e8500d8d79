package assets_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acdh-oeaw/aufbau/pkg/assets"
	"github.com/acdh-oeaw/aufbau/pkg/logging"
)

var imageExtensions = []string{"jpg", "JPG", "png", "PNG", "svg"}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestPropagator_Propagate(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	const svgContent = "<svg viewBox=\"0 0 10 10\">\n\t<path d=\"M0,0 L10,10\"/>\n\t<!-- ümlaut -->\n</svg>\n"
	writeFile(t, filepath.Join(src, "vicav_texts", "a.jpg"), "new a")
	writeFile(t, filepath.Join(src, "vicav_texts", "b.svg"), svgContent)
	writeFile(t, filepath.Join(src, "vicav_texts", "notes.txt"), "no copy")
	writeFile(t, filepath.Join(src, "vicav_texts", "wrongcase.Jpg"), "no copy")
	writeFile(t, filepath.Join(src, "vicav_texts", "sub", "c.PNG"), "c")
	writeFile(t, filepath.Join(src, "vicav_texts", "sub", "d.png"), "d")
	writeFile(t, filepath.Join(src, "vicav_texts", ".git", "e.jpg"), "no copy")
	writeFile(t, filepath.Join(src, "vicav_extra", "f.JPG"), "f")
	writeFile(t, filepath.Join(src, "other_data", "g.jpg"), "no copy")
	writeFile(t, filepath.Join(src, "loose.jpg"), "no copy")

	// already in the destination: one gets overwritten, one is not ours
	writeFile(t, filepath.Join(dst, "a.jpg"), "stale a")
	writeFile(t, filepath.Join(dst, "style.css"), "body {}")

	p := assets.NewPropagator(logging.Default())
	summary, err := p.Propagate(context.Background(), assets.CopySpec{
		SourceRoot:     src,
		Destination:    dst,
		DatasetPattern: "vicav_*",
		Extensions:     imageExtensions,
	})
	require.NoError(t, err)
	require.Equal(t, assets.Summary{Datasets: 2, Copied: 5}, summary)

	require.Equal(t, "new a", readFile(t, filepath.Join(dst, "a.jpg")))
	require.Equal(t, svgContent, readFile(t, filepath.Join(dst, "b.svg")))
	require.Equal(t, "c", readFile(t, filepath.Join(dst, "c.PNG")))
	require.Equal(t, "d", readFile(t, filepath.Join(dst, "d.png")))
	require.Equal(t, "f", readFile(t, filepath.Join(dst, "f.JPG")))

	require.NoFileExists(t, filepath.Join(dst, "notes.txt"))
	require.NoFileExists(t, filepath.Join(dst, "wrongcase.Jpg"))
	require.NoFileExists(t, filepath.Join(dst, "e.jpg"))
	require.NoFileExists(t, filepath.Join(dst, "g.jpg"))
	require.NoFileExists(t, filepath.Join(dst, "loose.jpg"))

	// unrelated destination files survive untouched
	require.Equal(t, "body {}", readFile(t, filepath.Join(dst, "style.css")))
}

func TestPropagator_Propagate_MissingDestination(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "vicav_texts", "a.jpg"), "a")

	p := assets.NewPropagator(logging.Default())
	_, err := p.Propagate(context.Background(), assets.CopySpec{
		SourceRoot:     src,
		Destination:    filepath.Join(t.TempDir(), "does-not-exist"),
		DatasetPattern: "vicav_*",
		Extensions:     imageExtensions,
	})
	require.ErrorIs(t, err, assets.ErrMissingDestination)
}

func TestPropagator_Propagate_BadPattern(t *testing.T) {
	p := assets.NewPropagator(logging.Default())
	_, err := p.Propagate(context.Background(), assets.CopySpec{
		SourceRoot:     t.TempDir(),
		Destination:    t.TempDir(),
		DatasetPattern: "[",
		Extensions:     imageExtensions,
	})
	require.ErrorIs(t, err, assets.ErrBadPattern)
}

func TestPropagator_Propagate_FailedCopyDoesNotAbort(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	writeFile(t, filepath.Join(src, "vicav_texts", "a.jpg"), "a")
	writeFile(t, filepath.Join(src, "vicav_texts", "z.jpg"), "z")
	// a directory squatting on the target name makes the first copy fail
	require.NoError(t, os.Mkdir(filepath.Join(dst, "a.jpg"), 0o755))

	p := assets.NewPropagator(logging.Default())
	summary, err := p.Propagate(context.Background(), assets.CopySpec{
		SourceRoot:     src,
		Destination:    dst,
		DatasetPattern: "vicav_*",
		Extensions:     imageExtensions,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "a.jpg")
	require.Equal(t, assets.Summary{Datasets: 1, Copied: 1, Failed: 1}, summary)
	require.Equal(t, "z", readFile(t, filepath.Join(dst, "z.jpg")))
}

func TestPropagator_Propagate_Cancelled(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "vicav_texts", "a.jpg"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := assets.NewPropagator(logging.Default())
	_, err := p.Propagate(ctx, assets.CopySpec{
		SourceRoot:     src,
		Destination:    dst,
		DatasetPattern: "vicav_*",
		Extensions:     imageExtensions,
	})
	require.ErrorIs(t, err, context.Canceled)
}
