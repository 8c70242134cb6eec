package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiff-browser/exthost/internal/archive"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/id"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	store, err := OpenStore(filepath.Join(base, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m, err := NewManager(store, filepath.Join(base, "extensions"), logging.NewNop())
	require.NoError(t, err)
	return m, base
}

// stagedPackage fabricates a staged extraction output the way the
// extractor would leave it.
func stagedPackage(t *testing.T, files map[string]string) *archive.Package {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}
	return &archive.Package{Workdir: &archive.Workdir{}, Dir: dir}
}

func manifestFixture(name, version string) *types.ExtensionManifest {
	return &types.ExtensionManifest{
		Generation: types.Generation3,
		Name:       name,
		Version:    version,
		Icons:      map[int]string{16: "icon.png"},
	}
}

func TestInstallAssignsFreshIdentity(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	man := manifestFixture("Twice Installed", "1.0")

	first, err := m.Install(ctx, stagedPackage(t, map[string]string{"manifest.json": "{}"}), man)
	require.NoError(t, err)
	second, err := m.Install(ctx, stagedPackage(t, map[string]string{"manifest.json": "{}"}), man)
	require.NoError(t, err)

	// Identity comes from the install, not from package content.
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, id.ValidPrefixed(first.ID, id.ExtensionPrefix))
	assert.True(t, id.ValidPrefixed(second.ID, id.ExtensionPrefix))
	assert.True(t, first.Enabled)

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestInstallPromotesStagedDirectory(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	pkg := stagedPackage(t, map[string]string{
		"manifest.json": "{}",
		"popup.html":    "<html></html>",
	})
	staged := pkg.Dir

	ext, err := m.Install(ctx, pkg, manifestFixture("Promoted", "2.1"))
	require.NoError(t, err)

	assert.NoDirExists(t, staged)
	assert.Equal(t, filepath.Join(m.InstallRoot(), ext.ID), ext.InstallDir)
	assert.FileExists(t, filepath.Join(ext.InstallDir, "popup.html"))

	got, err := m.Get(ctx, ext.ID)
	require.NoError(t, err)
	assert.Equal(t, "Promoted", got.Name)
	require.NotNil(t, got.Manifest)
	assert.Equal(t, map[int]string{16: "icon.png"}, got.Manifest.Icons)
}

func TestListKeepsInstallationOrder(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	names := []string{"first", "second", "third"}
	for _, name := range names {
		_, err := m.Install(ctx, stagedPackage(t, map[string]string{"manifest.json": "{}"}), manifestFixture(name, "1.0"))
		require.NoError(t, err)
	}

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, name := range names {
		assert.Equal(t, name, list[i].Name)
	}
}

func TestToggleSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	dbPath := filepath.Join(base, "registry.db")
	installRoot := filepath.Join(base, "extensions")
	ctx := context.Background()

	store, err := OpenStore(dbPath)
	require.NoError(t, err)
	m, err := NewManager(store, installRoot, logging.NewNop())
	require.NoError(t, err)

	ext, err := m.Install(ctx, stagedPackage(t, map[string]string{"manifest.json": "{}"}), manifestFixture("Toggled", "1.0"))
	require.NoError(t, err)

	toggled, err := m.Toggle(ctx, ext.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)
	require.NoError(t, store.Close())

	// A disabled extension stays disabled across host restarts.
	store, err = OpenStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	m, err = NewManager(store, installRoot, logging.NewNop())
	require.NoError(t, err)

	got, err := m.Get(ctx, ext.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.FileExists(t, filepath.Join(got.InstallDir, "manifest.json"))

	back, err := m.Toggle(ctx, ext.ID)
	require.NoError(t, err)
	assert.True(t, back.Enabled)
}

func TestToggleUnknownExtension(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Toggle(context.Background(), "ext_missing")
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.UnknownExtension))
}

func TestUninstall(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ext, err := m.Install(ctx, stagedPackage(t, map[string]string{"manifest.json": "{}"}), manifestFixture("Removed", "1.0"))
	require.NoError(t, err)

	warning, err := m.Uninstall(ctx, ext.ID)
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.NoDirExists(t, ext.InstallDir)

	_, err = m.Get(ctx, ext.ID)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.UnknownExtension))

	_, err = m.Uninstall(ctx, ext.ID)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.UnknownExtension))
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var last *types.InstalledExtension
	for i := 0; i < 3; i++ {
		ext, err := m.Install(ctx, stagedPackage(t, map[string]string{"manifest.json": "{}"}), manifestFixture("counted", "1.0"))
		require.NoError(t, err)
		last = ext
	}
	_, err := m.Toggle(ctx, last.ID)
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RegistryStats{Total: 3, Enabled: 2, Disabled: 1}, stats)
}

func TestReconcileReportsDrift(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	intact, err := m.Install(ctx, stagedPackage(t, map[string]string{"manifest.json": `{"ok":true}`}), manifestFixture("intact", "1.0"))
	require.NoError(t, err)

	report, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 1, report.Extensions)
	assert.Greater(t, report.DiskUsage[intact.ID], int64(0))

	// A record whose directory vanished and a directory nobody recorded.
	gone, err := m.Install(ctx, stagedPackage(t, map[string]string{"manifest.json": "{}"}), manifestFixture("gone", "1.0"))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(gone.InstallDir))
	orphan := filepath.Join(m.InstallRoot(), "ext_orphan")
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	report, err = m.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, []string{orphan}, report.OrphanDirs)
	require.Len(t, report.MissingDirs, 1)
	assert.Equal(t, gone.ID, report.MissingDirs[0].ExtensionID)

	// Reconcile observes; it never repairs.
	assert.DirExists(t, orphan)
	_, err = m.Get(ctx, gone.ID)
	require.NoError(t, err)
}
