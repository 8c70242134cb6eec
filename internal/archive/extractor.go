package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/faults"
)

// Limits are the safety ceilings enforced during extraction. Both the
// declared sizes from the archive directory and the actual decompressed
// output are checked, so lying headers cannot bypass the cap.
type Limits struct {
	MaxEntries int
	MaxBytes   int64
}

// Package is the result of a successful extraction. The caller owns the
// Workdir: Commit when promoting the directory, Close otherwise.
type Package struct {
	Workdir       *Workdir
	Dir           string
	Container     *Container
	Entries       int
	UnpackedBytes int64
}

// Extractor unpacks extension packages into fresh staging directories.
type Extractor struct {
	stagingRoot string
	limits      Limits
	verifier    Verifier
	log         *logging.Logger
}

// NewExtractor creates an extractor rooted at stagingRoot. A nil verifier
// defaults to AcceptAll.
func NewExtractor(stagingRoot string, limits Limits, verifier Verifier, log *logging.Logger) *Extractor {
	if verifier == nil {
		verifier = AcceptAll()
	}
	return &Extractor{
		stagingRoot: stagingRoot,
		limits:      limits,
		verifier:    verifier,
		log:         log,
	}
}

// Extract sniffs the container, skips any signed header, and unpacks the
// archive payload into a fresh staging directory. Any failure removes the
// partial output before returning; no half-extracted directory survives.
func (e *Extractor) Extract(ctx context.Context, archivePath string) (*Package, error) {
	container, err := Sniff(archivePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to open package file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to stat package file")
	}
	payloadSize := info.Size() - container.Offset
	if payloadSize <= 0 {
		return nil, errors.New(faults.InvalidArchive, "container has no archive payload")
	}
	payload := io.NewSectionReader(f, container.Offset, payloadSize)

	if err := e.verifier.Verify(container, payload, payloadSize); err != nil {
		return nil, errors.Wrap(err, faults.InvalidArchive, "container verification failed")
	}

	zr, err := zip.NewReader(payload, payloadSize)
	if err != nil {
		return nil, errors.Wrap(err, faults.InvalidArchive, "not a readable archive")
	}
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	if len(zr.File) > e.limits.MaxEntries {
		return nil, errors.WithContext(errors.WithContext(
			errors.New(faults.ResourceLimitExceeded, "archive entry count over ceiling"),
			"entries", len(zr.File)), "limit", e.limits.MaxEntries)
	}
	var declared int64
	for _, zf := range zr.File {
		declared += int64(zf.UncompressedSize64)
	}
	if declared > e.limits.MaxBytes {
		return nil, errors.WithContext(errors.WithContext(
			errors.New(faults.ResourceLimitExceeded, "declared decompressed size over ceiling"),
			"declared", declared), "limit", e.limits.MaxBytes)
	}

	wd, err := newWorkdir(e.stagingRoot)
	if err != nil {
		return nil, err
	}
	pkg, err := e.unpack(ctx, zr, wd, container)
	if err != nil {
		if cerr := wd.Close(); cerr != nil {
			e.log.Warn("staging cleanup failed", zap.String("dir", wd.Path()), zap.Error(cerr))
		}
		return nil, err
	}
	return pkg, nil
}

// unpack writes every entry under the workdir, aborting the whole
// extraction on the first traversal attempt, limit breach or I/O error.
func (e *Extractor) unpack(ctx context.Context, zr *zip.Reader, wd *Workdir, container *Container) (*Package, error) {
	dest := filepath.Clean(wd.Path())
	var written int64
	files := 0

	for _, zf := range zr.File {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), faults.InstallCancelled, "extraction cancelled")
		default:
		}

		destPath := filepath.Join(dest, zf.Name)
		if !strings.HasPrefix(destPath, dest+string(os.PathSeparator)) {
			return nil, errors.WithContext(
				errors.New(faults.TraversalRejected, "archive entry escapes extraction root"),
				"entry", zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to create directory entry")
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to create parent directory")
		}

		n, err := e.writeEntry(zf, destPath, e.limits.MaxBytes-written)
		written += n
		if err != nil {
			return nil, err
		}
		files++
	}

	e.log.Debug("package extracted",
		zap.String("dir", dest),
		zap.String("kind", string(container.Kind)),
		zap.Int("files", files),
		zap.Int64("bytes", written))

	return &Package{
		Workdir:       wd,
		Dir:           dest,
		Container:     container,
		Entries:       files,
		UnpackedBytes: written,
	}, nil
}

// writeEntry copies one entry to disk, allowing at most budget bytes of
// actual output regardless of the entry's declared size.
func (e *Extractor) writeEntry(zf *zip.File, destPath string, budget int64) (int64, error) {
	src, err := zf.Open()
	if err != nil {
		return 0, errors.WithContext(
			errors.Wrap(err, faults.InvalidArchive, "failed to open archive entry"),
			"entry", zf.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, faults.FilesystemFailure, "failed to create extracted file")
	}
	defer dst.Close()

	n, err := io.Copy(dst, io.LimitReader(src, budget+1))
	if err != nil {
		return n, errors.WithContext(
			errors.Wrap(err, faults.InvalidArchive, "failed to decompress archive entry"),
			"entry", zf.Name)
	}
	if n > budget {
		return n, errors.WithContext(
			errors.New(faults.ResourceLimitExceeded, "decompressed output over ceiling"),
			"entry", zf.Name)
	}
	return n, nil
}
