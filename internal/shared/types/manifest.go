package types

import "strings"

// Generation identifies the manifest schema generation a package declares.
// Only generations 2 and 3 are supported; anything else is fatal at parse
// time, never silently defaulted.
type Generation int

const (
	Generation2 Generation = 2
	Generation3 Generation = 3
)

// Valid reports whether the generation is one the host supports.
func (g Generation) Valid() bool {
	return g == Generation2 || g == Generation3
}

// ExtensionManifest is the normalized, generation-independent manifest.
// Generation 2 browser_action/page_action and generation 3 action collapse
// into Action; the three background variants collapse into Background.
type ExtensionManifest struct {
	Generation  Generation `json:"generation"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description,omitempty"`

	// Icons maps declared pixel size to a root-relative path.
	Icons map[int]string `json:"icons,omitempty"`

	Action         *Action         `json:"action,omitempty"`
	Background     *Background     `json:"background,omitempty"`
	ContentScripts []ContentScript `json:"content_scripts,omitempty"`
	Permissions    []string        `json:"permissions,omitempty"`

	Capabilities Capabilities `json:"capabilities"`
}

// Action describes the toolbar action surface (popup).
type Action struct {
	Popup string         `json:"popup,omitempty"`
	Title string         `json:"title,omitempty"`
	Icons map[int]string `json:"icons,omitempty"`
}

// Background describes background logic. Exactly one of the fields is set:
// ServiceWorker for generation 3, Page or Scripts for generation 2.
type Background struct {
	ServiceWorker string   `json:"service_worker,omitempty"`
	Page          string   `json:"page,omitempty"`
	Scripts       []string `json:"scripts,omitempty"`
}

// ContentScript describes one content script group.
type ContentScript struct {
	Matches []string `json:"matches"`
	JS      []string `json:"js,omitempty"`
	CSS     []string `json:"css,omitempty"`
	RunAt   string   `json:"run_at,omitempty"`
}

// Capabilities summarizes what an extension can do, for registry listings.
type Capabilities struct {
	Popup          bool `json:"popup"`
	ContentScripts bool `json:"content_scripts"`
	Background     bool `json:"background"`
}

const (
	msgPrefix = "__MSG_"
	msgSuffix = "__"
)

// IsLocalePlaceholder reports whether s is a __MSG_*__ localization
// placeholder. Placeholders are stored verbatim, never resolved.
func IsLocalePlaceholder(s string) bool {
	return strings.HasPrefix(s, msgPrefix) && strings.HasSuffix(s, msgSuffix) &&
		len(s) > len(msgPrefix)+len(msgSuffix)
}

// PlaceholderKey extracts the message key from a __MSG_*__ placeholder.
// Returns the input unchanged when it is not a placeholder.
func PlaceholderKey(s string) string {
	if !IsLocalePlaceholder(s) {
		return s
	}
	return s[len(msgPrefix) : len(s)-len(msgSuffix)]
}
