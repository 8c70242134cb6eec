// Package installer orchestrates the install pipeline: gate the input,
// extract the archive, parse the manifest, persist the record. One
// install runs at a time; callers follow asynchronous progress through
// job state and the event stream.
package installer

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/archive"
	"github.com/skiff-browser/exthost/internal/events"
	"github.com/skiff-browser/exthost/internal/infrastructure/monitoring"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/manifest"
	"github.com/skiff-browser/exthost/internal/registry"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

var acceptedExts = map[string]bool{
	".zip": true,
	".crx": true,
}

var acceptedMIMEs = map[string]bool{
	"application/zip":                true,
	"application/x-zip-compressed":   true,
	"application/x-chrome-extension": true,
	"application/octet-stream":       true,
}

// Gate validates the package path extension and the caller's MIME hint.
// It runs before any package byte is read; an unsupported source is
// rejected on name alone.
func Gate(path, mimeHint string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !acceptedExts[ext] {
		return errors.WithContext(
			errors.New(faults.InvalidArchive, "unsupported package extension"),
			"extension", ext)
	}

	hint := strings.ToLower(strings.TrimSpace(mimeHint))
	if i := strings.IndexByte(hint, ';'); i >= 0 {
		hint = strings.TrimSpace(hint[:i])
	}
	if hint != "" && !acceptedMIMEs[hint] {
		return errors.WithContext(
			errors.New(faults.InvalidArchive, "unsupported package type"),
			"mime", hint)
	}
	return nil
}

// Installer runs the install pipeline. Metrics and bus may be nil.
type Installer struct {
	extractor *archive.Extractor
	parser    *manifest.Parser
	registry  *registry.Manager
	bus       *events.Bus
	metrics   *monitoring.Metrics
	log       *logging.Logger

	// Installs are sequential; surfaces and reads stay responsive while
	// one package moves through the pipeline.
	runMu sync.Mutex

	jobs jobTable
}

// New creates an installer.
func New(extractor *archive.Extractor, parser *manifest.Parser, reg *registry.Manager,
	bus *events.Bus, metrics *monitoring.Metrics, log *logging.Logger) *Installer {
	return &Installer{
		extractor: extractor,
		parser:    parser,
		registry:  reg,
		bus:       bus,
		metrics:   metrics,
		log:       log,
		jobs:      newJobTable(),
	}
}

// Run executes the pipeline synchronously. jobID tags the emitted
// events and may be empty for callers without a job.
func (i *Installer) Run(ctx context.Context, jobID, path, mimeHint string) (*types.InstalledExtension, error) {
	start := time.Now()
	ext, err := i.runPipeline(ctx, jobID, path, mimeHint)
	if i.metrics != nil {
		switch {
		case err == nil:
			i.metrics.RecordInstall("success", time.Since(start))
		case faults.Is(err, faults.InstallCancelled):
			i.metrics.RecordInstall("cancelled", time.Since(start))
		default:
			i.metrics.RecordInstall("failure", time.Since(start))
		}
	}
	return ext, err
}

func (i *Installer) runPipeline(ctx context.Context, jobID, path, mimeHint string) (*types.InstalledExtension, error) {
	i.runMu.Lock()
	defer i.runMu.Unlock()

	if err := Gate(path, mimeHint); err != nil {
		if i.metrics != nil {
			i.metrics.RecordArchiveRejection("gate")
		}
		return nil, err
	}

	i.publish(types.Event{Type: types.EventExtracting, JobID: jobID, At: time.Now().UTC()})
	pkg, err := i.extractor.Extract(ctx, path)
	if err != nil {
		if i.metrics != nil {
			i.metrics.RecordArchiveRejection(string(errors.GetCode(err)))
		}
		return nil, err
	}
	// The staging directory goes away on every path that does not
	// promote it; Close is a no-op once the registry committed.
	defer pkg.Workdir.Close()

	if i.metrics != nil {
		i.metrics.RecordExtraction(pkg.Entries, pkg.UnpackedBytes)
	}

	i.publish(types.Event{Type: types.EventParsing, JobID: jobID, At: time.Now().UTC()})
	man, err := i.parser.Parse(pkg.Dir)
	if err != nil {
		return nil, err
	}

	// Last cancellation point. From here on the install runs to
	// completion even if the caller goes away.
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), faults.InstallCancelled, "install cancelled before persistence")
	default:
	}

	i.publish(types.Event{Type: types.EventPersisting, JobID: jobID, At: time.Now().UTC()})
	ext, err := i.registry.Install(context.WithoutCancel(ctx), pkg, man)
	if err != nil {
		return nil, err
	}

	if i.metrics != nil {
		if stats, serr := i.registry.Stats(context.WithoutCancel(ctx)); serr == nil {
			i.metrics.SetExtensionCounts(stats.Total, stats.Enabled)
		}
	}
	i.log.Info("package installed",
		zap.String("job_id", jobID),
		zap.String("extension_id", ext.ID),
		zap.String("path", path))
	return ext, nil
}

func (i *Installer) publish(ev types.Event) {
	if i.bus != nil {
		i.bus.Publish(ev)
	}
}
