package archive

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/shared/faults"
)

// Workdir is a scoped extraction directory. Callers must Close it on every
// path; Close removes the directory unless Commit transferred ownership.
// This makes partial-output cleanup a structural guarantee instead of a
// per-call-site chore.
type Workdir struct {
	path      string
	committed bool
}

func newWorkdir(root string) (*Workdir, error) {
	path := filepath.Join(root, uuid.New().String())
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to create staging directory")
	}
	return &Workdir{path: path}, nil
}

// Path returns the directory path.
func (w *Workdir) Path() string { return w.path }

// Commit transfers ownership of the directory to the caller and returns
// its path. Close becomes a no-op afterwards.
func (w *Workdir) Commit() string {
	w.committed = true
	return w.path
}

// Close removes the directory and everything under it unless committed.
func (w *Workdir) Close() error {
	if w.committed {
		return nil
	}
	if err := os.RemoveAll(w.path); err != nil {
		return errors.Wrap(err, faults.FilesystemFailure, "failed to remove staging directory")
	}
	return nil
}
