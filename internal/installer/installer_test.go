package installer

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiff-browser/exthost/internal/archive"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/manifest"
	"github.com/skiff-browser/exthost/internal/registry"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/id"
)

type harness struct {
	installer *Installer
	registry  *registry.Manager
	staging   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	staging := t.TempDir()
	extractor := archive.NewExtractor(staging,
		archive.Limits{MaxEntries: 64, MaxBytes: 1 << 20}, nil, logging.NewNop())
	parser := manifest.NewParser(1<<20, logging.NewNop())

	store, err := registry.OpenStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := registry.NewManager(store, filepath.Join(t.TempDir(), "extensions"), logging.NewNop())
	require.NoError(t, err)

	return &harness{
		installer: New(extractor, parser, reg, nil, nil, logging.NewNop()),
		registry:  reg,
		staging:   staging,
	}
}

func writeZip(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for fname, body := range files {
		w, err := zw.Create(fname)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func validPackage(t *testing.T, dir, name string) string {
	return writeZip(t, dir, name, map[string]string{
		"manifest.json": `{"manifest_version": 3, "name": "Harness Extension", "version": "1.0.0"}`,
		"worker.js":     `self.ready = true;`,
	})
}

func (h *harness) awaitJob(t *testing.T, jobID string) Job {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := h.installer.Job(jobID)
		return err == nil && j.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	job, err := h.installer.Job(jobID)
	require.NoError(t, err)
	return job
}

func TestGate(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		mime    string
		wantErr bool
	}{
		{name: "zip accepted", path: "pkg.zip"},
		{name: "signed container accepted", path: "pkg.crx"},
		{name: "extension case ignored", path: "PKG.ZIP"},
		{name: "zip mime", path: "pkg.zip", mime: "application/zip"},
		{name: "mime parameters stripped", path: "pkg.zip", mime: "application/zip; boundary=x"},
		{name: "mime case ignored", path: "pkg.zip", mime: "Application/Zip"},
		{name: "octet stream accepted", path: "pkg.crx", mime: "application/octet-stream"},
		{name: "empty mime accepted", path: "pkg.zip"},
		{name: "tarball rejected", path: "pkg.tar.gz", wantErr: true},
		{name: "bare name rejected", path: "pkg", wantErr: true},
		{name: "html mime rejected", path: "pkg.zip", mime: "text/html", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Gate(tt.path, tt.mime)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, faults.Is(err, faults.InvalidArchive))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGateReportsRejectedValue(t *testing.T) {
	err := Gate("pkg.rar", "")
	require.Error(t, err)
	assert.Equal(t, ".rar", errors.ToJSON(err).Context["extension"])

	err = Gate("pkg.zip", "text/plain")
	require.Error(t, err)
	assert.Equal(t, "text/plain", errors.ToJSON(err).Context["mime"])
}

func TestRunInstallsPackage(t *testing.T) {
	h := newHarness(t)
	path := validPackage(t, t.TempDir(), "pkg.zip")

	ext, err := h.installer.Run(context.Background(), "", path, "application/zip")
	require.NoError(t, err)
	assert.True(t, id.ValidPrefixed(ext.ID, id.ExtensionPrefix))
	assert.Equal(t, "Harness Extension", ext.Name)
	assert.True(t, ext.Enabled)

	got, err := h.registry.Get(context.Background(), ext.ID)
	require.NoError(t, err)
	assert.Equal(t, ext.InstallDir, got.InstallDir)
	_, err = os.Stat(filepath.Join(got.InstallDir, "manifest.json"))
	require.NoError(t, err)

	// The staged directory was promoted, not copied.
	entries, err := os.ReadDir(h.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunGateFailure(t *testing.T) {
	h := newHarness(t)

	_, err := h.installer.Run(context.Background(), "", "/nowhere/pkg.rar", "")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.InvalidArchive))
}

func TestRunWithoutManifestCleansStaging(t *testing.T) {
	h := newHarness(t)
	path := writeZip(t, t.TempDir(), "bare.zip", map[string]string{
		"readme.txt": "not an extension",
	})

	_, err := h.installer.Run(context.Background(), "", path, "")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.ManifestMissing))

	entries, err := os.ReadDir(h.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)

	exts, err := h.registry.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, exts)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t)
	path := validPackage(t, t.TempDir(), "pkg.zip")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.installer.Run(ctx, "", path, "")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.InstallCancelled))

	entries, err := os.ReadDir(h.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
	exts, err := h.registry.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, exts)
}

func TestStartGateFailureCreatesNoJob(t *testing.T) {
	h := newHarness(t)

	_, err := h.installer.Start("drop.rar", "")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.InvalidArchive))
	assert.Empty(t, h.installer.Jobs())
}

func TestStartRunsToInstalled(t *testing.T) {
	h := newHarness(t)
	path := validPackage(t, t.TempDir(), "pkg.zip")

	job, err := h.installer.Start(path, "application/zip")
	require.NoError(t, err)
	assert.True(t, id.ValidPrefixed(job.ID, id.JobPrefix))
	assert.Equal(t, JobPending, job.State)
	assert.Equal(t, path, job.Path)
	assert.Nil(t, job.FinishedAt)

	done := h.awaitJob(t, job.ID)
	assert.Equal(t, JobInstalled, done.State)
	assert.NotEmpty(t, done.ExtensionID)
	assert.Empty(t, done.Code)
	require.NotNil(t, done.FinishedAt)

	_, err = h.registry.Get(context.Background(), done.ExtensionID)
	require.NoError(t, err)
}

func TestStartRecordsFailure(t *testing.T) {
	h := newHarness(t)
	path := writeZip(t, t.TempDir(), "bare.zip", map[string]string{
		"readme.txt": "not an extension",
	})

	job, err := h.installer.Start(path, "")
	require.NoError(t, err)

	done := h.awaitJob(t, job.ID)
	assert.Equal(t, JobFailed, done.State)
	assert.Equal(t, string(faults.ManifestMissing), done.Code)
	assert.NotEmpty(t, done.Error)
	assert.Empty(t, done.ExtensionID)
	require.NotNil(t, done.FinishedAt)
}

func TestJobsNewestFirst(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	first, err := h.installer.Start(validPackage(t, dir, "first.zip"), "")
	require.NoError(t, err)
	second, err := h.installer.Start(validPackage(t, dir, "second.zip"), "")
	require.NoError(t, err)

	h.awaitJob(t, first.ID)
	h.awaitJob(t, second.ID)

	jobs := h.installer.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t)

	_, err := h.installer.Cancel("job_missing")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestCancelFinishedJob(t *testing.T) {
	h := newHarness(t)
	job, err := h.installer.Start(validPackage(t, t.TempDir(), "pkg.zip"), "")
	require.NoError(t, err)
	h.awaitJob(t, job.ID)

	_, err = h.installer.Cancel(job.ID)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConflict, errors.GetCode(err))
	assert.Equal(t, string(JobInstalled), errors.ToJSON(err).Context["state"])
}

func TestSideloaderLoad(t *testing.T) {
	h := newHarness(t)
	drop := t.TempDir()
	validPackage(t, drop, "good.zip")
	writeZip(t, drop, "bad.zip", map[string]string{"readme.txt": "no manifest"})
	require.NoError(t, os.WriteFile(filepath.Join(drop, "notes.txt"), []byte("skipped"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(drop, "nested"), 0o755))

	side := NewSideloader(h.installer, drop, logging.NewNop())
	loaded, failed := side.Load(context.Background())
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, failed)

	exts, err := h.registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, "Harness Extension", exts[0].Name)
}

func TestSideloaderDisabled(t *testing.T) {
	h := newHarness(t)

	side := NewSideloader(h.installer, "", logging.NewNop())
	loaded, failed := side.Load(context.Background())
	assert.Zero(t, loaded)
	assert.Zero(t, failed)

	side = NewSideloader(h.installer, filepath.Join(t.TempDir(), "missing"), logging.NewNop())
	loaded, failed = side.Load(context.Background())
	assert.Zero(t, loaded)
	assert.Zero(t, failed)
}
