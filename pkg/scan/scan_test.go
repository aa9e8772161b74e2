package scan

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-pluginmeta/internal/testimage"
	"github.com/carved4/go-pluginmeta/pkg/descriptor"
	"github.com/carved4/go-pluginmeta/pkg/errors"
)

func write(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

// fixture lays out one candidate of each kind under a fresh directory.
func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	loader := testimage.Plugin(descriptor.CurrentVersion, "Loader", "Cherry", "desc", 0, 1, 0).Build()
	write(t, filepath.Join(dir, "a_loader.dll"), loader)
	write(t, filepath.Join(dir, "nested", "copy.dll"), loader)

	other := testimage.New()
	other.Export("DllMain", 0x1000)
	write(t, filepath.Join(dir, "b_other.dll"), other.Build())

	write(t, filepath.Join(dir, "c_future.dll"),
		testimage.Plugin(descriptor.CurrentVersion+1, "x", "y", "z", 1, 0, 0).Build())

	write(t, filepath.Join(dir, "d_text.dll"), []byte("not an image at all, just text"))

	broken := testimage.New()
	r := testimage.Record{Tag: descriptor.CurrentVersion, Name: 0x10}
	broken.Export(descriptor.SymbolName, broken.AddRecord(r))
	write(t, filepath.Join(dir, "e_broken.dll"), broken.Build())

	write(t, filepath.Join(dir, "readme.txt"), []byte("ignored"))
	return dir
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StatusPlugin, Classify(nil))
	assert.Equal(t, StatusNotPlugin, Classify(errors.New(errors.ErrSymbolNotFound, "")))
	assert.Equal(t, StatusTooNew, Classify(errors.VersionUnsupported(2)))
	assert.Equal(t, StatusBroken, Classify(errors.New(errors.ErrDataCorrupt, "")))
	assert.Equal(t, StatusBroken, Classify(errors.New(errors.ErrFormat, "")))
	assert.Equal(t, StatusError, Classify(errors.New(errors.ErrIo, "")))
	assert.Equal(t, StatusError, Classify(errors.New(errors.ErrAllocation, "")))
}

func TestScan(t *testing.T) {
	dir := fixture(t)
	s := &Scanner{Extensions: []string{".dll"}, Workers: 3, Recursive: true, Dedupe: true, Logger: zerolog.Nop()}

	results, err := s.Scan(context.Background(), dir)
	require.NoError(t, err)

	byName := map[string]Result{}
	for _, r := range results {
		rel, err := filepath.Rel(dir, r.Path)
		require.NoError(t, err)
		byName[filepath.ToSlash(rel)] = r
	}
	require.Len(t, byName, 6)

	loader := byName["a_loader.dll"]
	assert.Equal(t, StatusPlugin, loader.Status)
	require.NotNil(t, loader.Info)
	assert.Equal(t, "Loader", loader.Info.Name)
	assert.Len(t, loader.Fingerprint, 16)
	assert.Empty(t, loader.DuplicateOf)

	dup := byName["nested/copy.dll"]
	assert.Equal(t, StatusPlugin, dup.Status)
	assert.Equal(t, loader.Fingerprint, dup.Fingerprint)
	assert.Equal(t, loader.Path, dup.DuplicateOf)

	assert.Equal(t, StatusNotPlugin, byName["b_other.dll"].Status)
	assert.Equal(t, StatusTooNew, byName["c_future.dll"].Status)
	assert.Equal(t, StatusBroken, byName["d_text.dll"].Status)
	assert.Equal(t, StatusBroken, byName["e_broken.dll"].Status)
	assert.NotEmpty(t, byName["e_broken.dll"].Error)

	counts := Summarize(results)
	assert.Equal(t, 2, counts[StatusPlugin])
	assert.Equal(t, 2, counts[StatusBroken])
}

func TestScanNonRecursive(t *testing.T) {
	dir := fixture(t)
	s := &Scanner{Extensions: []string{".DLL"}, Workers: 1}

	paths, err := s.Candidates(dir)
	require.NoError(t, err)
	assert.Len(t, paths, 5)
	for _, p := range paths {
		assert.NotContains(t, p, "nested")
	}
}

func TestCandidatesExplicitFile(t *testing.T) {
	dir := fixture(t)
	s := &Scanner{Extensions: []string{".dll"}, Recursive: true}

	paths, err := s.Candidates(filepath.Join(dir, "readme.txt"), filepath.Join(dir, "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "readme.txt")}, paths)

	_, err = s.Candidates(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestScanCancelled(t *testing.T) {
	dir := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Scanner{Workers: 2, Recursive: true}
	_, err := s.Scan(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInspectLogs(t *testing.T) {
	dir := fixture(t)
	var buf bytes.Buffer
	s := &Scanner{Logger: zerolog.New(&buf).Level(zerolog.InfoLevel)}

	res := s.Inspect(filepath.Join(dir, "b_other.dll"))
	assert.Equal(t, StatusNotPlugin, res.Status)
	assert.Empty(t, buf.String(), "benign outcomes log at debug")

	res = s.Inspect(filepath.Join(dir, "e_broken.dll"))
	assert.Equal(t, StatusBroken, res.Status)
	assert.Contains(t, buf.String(), "candidate skipped")
}
