// Package manifest parses extension manifests into the normalized shape
// shared by generations 2 and 3.
//
// Parsing is a parse-then-validate pipeline: the raw JSON document is
// decoded first, then every field is checked with its manifest location
// attached to the failure, so a bad manifest reports where it is bad.
// Localization placeholders (__MSG_*__) pass through verbatim.
package manifest

import (
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

// FileName is the manifest file expected at the package root.
const FileName = "manifest.json"

// Parser reads and validates manifests.
type Parser struct {
	maxBytes int64
	log      *logging.Logger
}

// NewParser creates a parser. maxBytes caps the manifest file size.
func NewParser(maxBytes int64, log *logging.Logger) *Parser {
	return &Parser{maxBytes: maxBytes, log: log}
}

// Parse reads dir/manifest.json and returns the normalized manifest.
// The manifest must sit at the package root; one in a subdirectory is a
// missing manifest, not a found one.
func (p *Parser) Parse(dir string) (*types.ExtensionManifest, error) {
	path := filepath.Join(dir, FileName)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(faults.ManifestMissing, "no manifest at package root")
		}
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to stat manifest")
	}
	if info.IsDir() {
		return nil, errors.New(faults.ManifestMissing, "no manifest at package root")
	}
	if info.Size() > p.maxBytes {
		return nil, invalid(FileName, "manifest exceeds size cap")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to read manifest")
	}

	var doc map[string]interface{}
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, faults.ManifestInvalid, "manifest is not valid JSON")
	}

	return p.normalize(dir, doc)
}

// invalid builds a validation failure carrying the manifest field that
// caused it.
func invalid(field, msg string) error {
	return errors.WithContext(errors.New(faults.ManifestInvalid, msg), "field", field)
}
