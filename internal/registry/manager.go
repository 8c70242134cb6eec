package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/archive"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/id"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

// Manager owns extension lifecycle state. Mutations on the same extension
// id serialize behind a keyed lock; operations on different ids proceed
// independently.
type Manager struct {
	store       *Store
	installRoot string
	log         *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager installing under installRoot.
func NewManager(store *Store, installRoot string, log *logging.Logger) (*Manager, error) {
	if err := os.MkdirAll(installRoot, 0o755); err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to create install root")
	}
	return &Manager{
		store:       store,
		installRoot: installRoot,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// InstallRoot returns the directory installed extensions live under.
func (m *Manager) InstallRoot() string { return m.installRoot }

func (m *Manager) lockFor(extID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[extID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[extID] = l
	}
	return l
}

// Install assigns a fresh identity, promotes the staged directory into the
// install root, and persists the record. The record write and the
// directory move succeed together or the promotion is rolled back; no
// observable half-installed state survives.
func (m *Manager) Install(ctx context.Context, pkg *archive.Package, man *types.ExtensionManifest) (*types.InstalledExtension, error) {
	extID := id.NewExtensionID().String()
	finalDir := filepath.Join(m.installRoot, extID)

	ext := &types.InstalledExtension{
		ID:          extID,
		Name:        man.Name,
		Version:     man.Version,
		Description: man.Description,
		Generation:  man.Generation,
		Enabled:     true,
		InstallDir:  finalDir,
		InstalledAt: time.Now().UTC(),
		Manifest:    man,
	}

	// The staged directory is about to be renamed onto a path derived from
	// a fresh identity, so the target cannot collide with an existing
	// install.
	if err := os.Rename(pkg.Dir, finalDir); err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to promote staged package")
	}
	pkg.Workdir.Commit()

	if err := m.store.Insert(ctx, ext); err != nil {
		if rerr := os.RemoveAll(finalDir); rerr != nil {
			m.log.Warn("install rollback left directory behind",
				zap.String("extension_id", extID),
				zap.String("dir", finalDir),
				zap.Error(rerr))
		}
		return nil, err
	}

	m.log.Info("extension installed",
		zap.String("extension_id", extID),
		zap.String("name", ext.Name),
		zap.String("version", ext.Version),
		zap.Int("generation", int(ext.Generation)))
	return ext, nil
}

// Get loads one extension.
func (m *Manager) Get(ctx context.Context, extID string) (*types.InstalledExtension, error) {
	return m.store.Get(ctx, extID)
}

// List returns installed extensions in installation order.
func (m *Manager) List(ctx context.Context) ([]*types.InstalledExtension, error) {
	return m.store.List(ctx)
}

// Toggle flips the enabled flag and returns the updated record. Disable
// keeps every file and row in place.
func (m *Manager) Toggle(ctx context.Context, extID string) (*types.InstalledExtension, error) {
	l := m.lockFor(extID)
	l.Lock()
	defer l.Unlock()

	ext, err := m.store.Get(ctx, extID)
	if err != nil {
		return nil, err
	}
	ext.Enabled = !ext.Enabled
	if err := m.store.SetEnabled(ctx, extID, ext.Enabled); err != nil {
		return nil, err
	}

	m.log.Info("extension toggled",
		zap.String("extension_id", extID),
		zap.Bool("enabled", ext.Enabled))
	return ext, nil
}

// Uninstall removes the record and the install directory. The record
// delete decides the outcome; a directory that cannot be removed degrades
// to a warning and is picked up by the next reconcile.
func (m *Manager) Uninstall(ctx context.Context, extID string) (string, error) {
	l := m.lockFor(extID)
	l.Lock()
	defer l.Unlock()

	ext, err := m.store.Get(ctx, extID)
	if err != nil {
		return "", err
	}
	if err := m.store.Delete(ctx, extID); err != nil {
		return "", err
	}

	if err := os.RemoveAll(ext.InstallDir); err != nil {
		m.log.Warn("uninstall left directory behind",
			zap.String("extension_id", extID),
			zap.String("dir", ext.InstallDir),
			zap.Error(err))
		return "install directory could not be removed; reconcile will report it", nil
	}

	m.log.Info("extension uninstalled", zap.String("extension_id", extID))
	return "", nil
}

// Stats returns registry counts.
func (m *Manager) Stats(ctx context.Context) (types.RegistryStats, error) {
	return m.store.Stats(ctx)
}
