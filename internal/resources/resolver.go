// Package resources resolves extension-relative paths to files inside an
// extension's install directory. Every resolution re-applies the
// containment check, independent of the checks done at extraction time.
package resources

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

// SafeJoin normalizes a root-relative resource path and joins it under
// root, rejecting anything that would land outside. Manifest paths use
// forward slashes; a leading slash means the package root.
func SafeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", errors.New(errors.CodeInvalidInput, "empty resource path")
	}
	rel = strings.TrimPrefix(rel, "/")
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", errors.WithContext(
			errors.New(faults.TraversalRejected, "absolute resource path"),
			"path", rel)
	}

	normalized := path.Clean(rel)
	if normalized == ".." || strings.HasPrefix(normalized, "../") {
		return "", errors.WithContext(
			errors.New(faults.TraversalRejected, "resource path escapes extension root"),
			"path", rel)
	}

	full := filepath.Join(root, filepath.FromSlash(normalized))
	if !strings.HasPrefix(full, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", errors.WithContext(
			errors.New(faults.TraversalRejected, "resource path escapes extension root"),
			"path", rel)
	}
	return full, nil
}

// Resolver maps extension-relative paths to absolute file paths.
type Resolver struct {
	log *logging.Logger
}

// NewResolver creates a resolver.
func NewResolver(log *logging.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve returns the absolute path of a packaged resource. Missing files
// are a not-found failure, distinct from traversal rejection.
func (r *Resolver) Resolve(ext *types.InstalledExtension, rel string) (string, error) {
	full, err := SafeJoin(ext.InstallDir, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.WithContext(
				errors.New(errors.CodeNotFound, "resource not found"),
				"path", rel)
		}
		return "", errors.Wrap(err, faults.FilesystemFailure, "failed to stat resource")
	}
	if info.IsDir() {
		return "", errors.WithContext(
			errors.New(errors.CodeNotFound, "resource is a directory"),
			"path", rel)
	}
	return full, nil
}

// BestIconSize picks the declared icon size closest to target: an exact
// match wins, then the largest size at or below target, then the smallest
// size above it.
func BestIconSize(icons map[int]string, target int) (int, bool) {
	if len(icons) == 0 {
		return 0, false
	}
	if _, ok := icons[target]; ok {
		return target, true
	}
	below := 0
	for size := range icons {
		if size < target && size > below {
			below = size
		}
	}
	if below > 0 {
		return below, true
	}
	above := 0
	for size := range icons {
		if size > target && (above == 0 || size < above) {
			above = size
		}
	}
	return above, above > 0
}

// Icon resolves the best-fit icon for the target pixel size.
func (r *Resolver) Icon(ext *types.InstalledExtension, target int) (string, error) {
	if ext.Manifest == nil || len(ext.Manifest.Icons) == 0 {
		return "", errors.New(errors.CodeNotFound, "extension declares no icons")
	}
	size, ok := BestIconSize(ext.Manifest.Icons, target)
	if !ok {
		return "", errors.New(errors.CodeNotFound, "extension declares no icons")
	}
	return r.Resolve(ext, ext.Manifest.Icons[size])
}

// PopupEntry resolves the action popup document.
func (r *Resolver) PopupEntry(ext *types.InstalledExtension) (string, error) {
	if ext.Manifest == nil || ext.Manifest.Action == nil || ext.Manifest.Action.Popup == "" {
		return "", errors.New(errors.CodeNotFound, "extension declares no popup")
	}
	return r.Resolve(ext, ext.Manifest.Action.Popup)
}

// ContentScriptFiles resolves the JS files of one content script group in
// declaration order.
func (r *Resolver) ContentScriptFiles(ext *types.InstalledExtension, cs types.ContentScript) ([]string, error) {
	files := make([]string, 0, len(cs.JS))
	for _, rel := range cs.JS {
		full, err := r.Resolve(ext, rel)
		if err != nil {
			return nil, err
		}
		files = append(files, full)
	}
	return files, nil
}

// BackgroundFiles resolves the background entry in load order: the
// generation-3 service worker alone, or the generation-2 page or script
// list.
func (r *Resolver) BackgroundFiles(ext *types.InstalledExtension) ([]string, error) {
	if ext.Manifest == nil || ext.Manifest.Background == nil {
		return nil, errors.New(errors.CodeNotFound, "extension declares no background")
	}

	bg := ext.Manifest.Background
	var rels []string
	switch {
	case bg.ServiceWorker != "":
		rels = []string{bg.ServiceWorker}
	case bg.Page != "":
		rels = []string{bg.Page}
	default:
		rels = bg.Scripts
	}
	if len(rels) == 0 {
		return nil, errors.New(errors.CodeNotFound, "extension declares no background")
	}

	files := make([]string, 0, len(rels))
	for _, rel := range rels {
		full, err := r.Resolve(ext, rel)
		if err != nil {
			return nil, err
		}
		files = append(files, full)
	}
	return files, nil
}
