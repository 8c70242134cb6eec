// Package shim produces the compatibility payload injected into
// extension script contexts. The payload rebuilds the desktop extension
// API surface (storage, runtime messaging, tabs, scripting, action, and
// inert stubs) on top of standard web primitives, so it runs unchanged
// in an embedded script engine or a real web view.
package shim

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/shared/types"
)

//go:embed payload.js
var payloadTemplate string

// Version is stamped into the payload and reported by the guard marker.
const Version = "1.2.0"

// GuardSymbol is the global the payload sets after a successful
// injection. A context where it is already present skips re-injection.
const GuardSymbol = "__skiffShim__"

// HostSymbol names the optional host hook object. When the surface
// exposes readResource on it, file-based executeScript and insertCSS
// load packaged files through the host instead of XHR.
const HostSymbol = "__skiffHost__"

const (
	idSlot       = `"__EXTENSION_ID__"`
	baseSlot     = `"__EXTENSION_BASE__"`
	manifestSlot = `__EXTENSION_MANIFEST__`
	versionSlot  = `__SHIM_VERSION__`
)

// Builder renders payloads for installed extensions.
type Builder struct{}

// NewBuilder creates a payload builder.
func NewBuilder() *Builder { return &Builder{} }

// ResourceBase is the root URL packaged resources resolve under for an
// extension; runtime.getURL joins relative paths onto it.
func ResourceBase(extID string) string {
	return fmt.Sprintf("/extensions/%s/resources/", extID)
}

// Payload renders the injection payload for one extension. Identity,
// normalized manifest, and resource base are substituted as JSON
// literals, so no value can escape its slot.
func (b *Builder) Payload(ext *types.InstalledExtension) (string, error) {
	if ext.Manifest == nil {
		return "", errors.New(errors.CodeInternal, "extension record carries no manifest")
	}

	idJSON, err := sonic.Marshal(ext.ID)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to encode extension id")
	}
	baseJSON, err := sonic.Marshal(ResourceBase(ext.ID))
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to encode resource base")
	}
	manifestJSON, err := sonic.Marshal(ext.Manifest)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to encode manifest")
	}

	r := strings.NewReplacer(
		idSlot, string(idJSON),
		baseSlot, string(baseJSON),
		manifestSlot, string(manifestJSON),
		versionSlot, Version,
	)
	return r.Replace(payloadTemplate), nil
}
