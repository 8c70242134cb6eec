package resources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

// installedFixture lays out an install directory with the given files and
// returns a registry record pointing at it.
func installedFixture(t *testing.T, files ...string) *types.InstalledExtension {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		full := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(f), 0o644))
	}
	return &types.InstalledExtension{
		ID:         "ext_test",
		Name:       "fixture",
		Version:    "1.0",
		Enabled:    true,
		InstallDir: dir,
	}
}

func TestSafeJoin(t *testing.T) {
	root := "/data/extensions/ext_1"

	tests := []struct {
		name     string
		rel      string
		want     string
		wantCode errors.ErrorCode
	}{
		{name: "plain file", rel: "popup.html", want: filepath.Join(root, "popup.html")},
		{name: "nested file", rel: "icons/16.png", want: filepath.Join(root, "icons", "16.png")},
		{name: "leading slash means package root", rel: "/icons/16.png", want: filepath.Join(root, "icons", "16.png")},
		{name: "inner dot segments collapse", rel: "a/./b/../c.js", want: filepath.Join(root, "a", "c.js")},
		{name: "empty path", rel: "", wantCode: errors.CodeInvalidInput},
		{name: "parent escape", rel: "../outside", wantCode: faults.TraversalRejected},
		{name: "nested escape", rel: "a/../../outside", wantCode: faults.TraversalRejected},
		{name: "double slash stays absolute", rel: "//etc/passwd", wantCode: faults.TraversalRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeJoin(root, tt.rel)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	ext := installedFixture(t, "popup.html", "icons/16.png")
	r := NewResolver(logging.NewNop())

	t.Run("existing file", func(t *testing.T) {
		full, err := r.Resolve(ext, "icons/16.png")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(ext.InstallDir, "icons", "16.png"), full)
	})

	t.Run("missing file is not found", func(t *testing.T) {
		_, err := r.Resolve(ext, "icons/128.png")
		require.Error(t, err)
		assert.True(t, faults.Is(err, errors.CodeNotFound))
	})

	t.Run("traversal is rejected, not hidden as missing", func(t *testing.T) {
		_, err := r.Resolve(ext, "../"+filepath.Base(ext.InstallDir)+"/popup.html")
		require.Error(t, err)
		assert.True(t, faults.Is(err, faults.TraversalRejected))
	})

	t.Run("directory is not a resource", func(t *testing.T) {
		_, err := r.Resolve(ext, "icons")
		require.Error(t, err)
		assert.True(t, faults.Is(err, errors.CodeNotFound))
	})
}

func TestBestIconSize(t *testing.T) {
	icons := map[int]string{16: "16.png", 48: "48.png", 128: "128.png"}

	tests := []struct {
		name   string
		icons  map[int]string
		target int
		want   int
		wantOK bool
	}{
		{name: "exact match", icons: icons, target: 48, want: 48, wantOK: true},
		{name: "largest below", icons: icons, target: 100, want: 48, wantOK: true},
		{name: "smallest above when nothing below", icons: icons, target: 8, want: 16, wantOK: true},
		{name: "above the largest", icons: icons, target: 512, want: 128, wantOK: true},
		{name: "no icons", icons: nil, target: 48, want: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BestIconSize(tt.icons, tt.target)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIcon(t *testing.T) {
	ext := installedFixture(t, "icons/16.png", "icons/48.png")
	ext.Manifest = &types.ExtensionManifest{
		Icons: map[int]string{16: "icons/16.png", 48: "icons/48.png"},
	}
	r := NewResolver(logging.NewNop())

	full, err := r.Icon(ext, 32)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ext.InstallDir, "icons", "16.png"), full)

	ext.Manifest.Icons = nil
	_, err = r.Icon(ext, 32)
	require.Error(t, err)
	assert.True(t, faults.Is(err, errors.CodeNotFound))
}

func TestPopupEntry(t *testing.T) {
	ext := installedFixture(t, "popup.html")
	ext.Manifest = &types.ExtensionManifest{
		Action: &types.Action{Popup: "popup.html"},
	}
	r := NewResolver(logging.NewNop())

	full, err := r.PopupEntry(ext)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ext.InstallDir, "popup.html"), full)

	ext.Manifest.Action = nil
	_, err = r.PopupEntry(ext)
	require.Error(t, err)
	assert.True(t, faults.Is(err, errors.CodeNotFound))
}

func TestContentScriptFiles(t *testing.T) {
	ext := installedFixture(t, "lib.js", "main.js")
	r := NewResolver(logging.NewNop())

	files, err := r.ContentScriptFiles(ext, types.ContentScript{JS: []string{"lib.js", "main.js"}})
	require.NoError(t, err)
	require.Len(t, files, 2)
	// Declaration order survives resolution.
	assert.Equal(t, filepath.Join(ext.InstallDir, "lib.js"), files[0])
	assert.Equal(t, filepath.Join(ext.InstallDir, "main.js"), files[1])

	_, err = r.ContentScriptFiles(ext, types.ContentScript{JS: []string{"lib.js", "ghost.js"}})
	require.Error(t, err)
}

func TestBackgroundFiles(t *testing.T) {
	r := NewResolver(logging.NewNop())

	t.Run("service worker", func(t *testing.T) {
		ext := installedFixture(t, "worker.js")
		ext.Manifest = &types.ExtensionManifest{
			Background: &types.Background{ServiceWorker: "worker.js"},
		}
		files, err := r.BackgroundFiles(ext)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(ext.InstallDir, "worker.js")}, files)
	})

	t.Run("script list keeps load order", func(t *testing.T) {
		ext := installedFixture(t, "lib.js", "main.js")
		ext.Manifest = &types.ExtensionManifest{
			Background: &types.Background{Scripts: []string{"lib.js", "main.js"}},
		}
		files, err := r.BackgroundFiles(ext)
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(ext.InstallDir, "lib.js"),
			filepath.Join(ext.InstallDir, "main.js"),
		}, files)
	})

	t.Run("background page", func(t *testing.T) {
		ext := installedFixture(t, "background.html")
		ext.Manifest = &types.ExtensionManifest{
			Background: &types.Background{Page: "background.html"},
		}
		files, err := r.BackgroundFiles(ext)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(ext.InstallDir, "background.html")}, files)
	})

	t.Run("no background declared", func(t *testing.T) {
		ext := installedFixture(t)
		ext.Manifest = &types.ExtensionManifest{}
		_, err := r.BackgroundFiles(ext)
		require.Error(t, err)
		assert.True(t, faults.Is(err, errors.CodeNotFound))
	})
}
