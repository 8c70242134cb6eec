package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/shared/types"
)

// Reconcile compares persisted records against the install root and
// reports drift. It never repairs: orphan directories stay on disk and
// records without directories stay in the store until an operator acts.
func (m *Manager) Reconcile(ctx context.Context) (*types.ReconcileReport, error) {
	report := &types.ReconcileReport{
		CheckedAt: time.Now().UTC(),
		DiskUsage: make(map[string]int64),
	}

	extensions, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	report.Extensions = len(extensions)

	recorded := make(map[string]*types.InstalledExtension, len(extensions))
	for _, ext := range extensions {
		recorded[filepath.Base(ext.InstallDir)] = ext
		if _, err := os.Stat(ext.InstallDir); os.IsNotExist(err) {
			report.MissingDirs = append(report.MissingDirs, types.MissingDir{
				ExtensionID: ext.ID,
				InstallDir:  ext.InstallDir,
			})
		}
	}

	entries, err := os.ReadDir(m.installRoot)
	if err != nil && !os.IsNotExist(err) {
		m.log.Warn("reconcile could not read install root",
			zap.String("dir", m.installRoot), zap.Error(err))
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ext, ok := recorded[entry.Name()]
		dir := filepath.Join(m.installRoot, entry.Name())
		if !ok {
			report.OrphanDirs = append(report.OrphanDirs, dir)
			continue
		}
		size, err := dirSize(dir)
		if err != nil {
			m.log.Warn("reconcile could not size install directory",
				zap.String("extension_id", ext.ID), zap.Error(err))
			continue
		}
		report.DiskUsage[ext.ID] = size
	}

	if !report.Consistent() {
		m.log.Warn("registry drift detected",
			zap.Int("orphan_dirs", len(report.OrphanDirs)),
			zap.Int("missing_dirs", len(report.MissingDirs)))
	}
	return report, nil
}

// dirSize sums file sizes under root. fastwalk invokes the callback from
// multiple goroutines, so the tally is atomic.
func dirSize(root string) (int64, error) {
	var total int64
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			atomic.AddInt64(&total, info.Size())
		}
		return nil
	})
	return atomic.LoadInt64(&total), err
}
