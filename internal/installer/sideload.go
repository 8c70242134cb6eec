package installer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/id"
)

// Sideloader installs packages dropped into a local directory at
// startup. Files go through the same pipeline as uploaded packages;
// a bad file is logged and skipped so startup never blocks on it.
type Sideloader struct {
	installer *Installer
	dir       string
	log       *logging.Logger
}

// NewSideloader creates a sideloader for dir. An empty dir disables it.
func NewSideloader(inst *Installer, dir string, log *logging.Logger) *Sideloader {
	return &Sideloader{installer: inst, dir: dir, log: log}
}

// Load installs every supported package in the sideload directory and
// returns the loaded and failed counts.
func (s *Sideloader) Load(ctx context.Context) (loaded, failed int) {
	if s.dir == "" {
		return 0, 0
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read sideload directory",
				zap.String("dir", s.dir), zap.Error(err))
		}
		return 0, 0
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !acceptedExts[ext] {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		jobID := id.NewJobID().String()
		installed, err := s.installer.Run(ctx, jobID, path, "")
		if err != nil {
			failed++
			s.log.Warn("failed to sideload package",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		loaded++
		s.log.Info("sideloaded package",
			zap.String("file", entry.Name()),
			zap.String("extension_id", installed.ID))
	}

	if loaded > 0 || failed > 0 {
		s.log.Info("sideload complete",
			zap.Int("loaded", loaded),
			zap.Int("failed", failed))
	}
	return loaded, failed
}
