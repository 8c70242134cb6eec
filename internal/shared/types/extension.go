package types

import "time"

// InstalledExtension is the registry record for one installed extension.
// ID is assigned at install time and never derived from manifest content;
// installing the same package twice yields two independent records.
type InstalledExtension struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description,omitempty"`
	Generation  Generation `json:"generation"`
	Enabled     bool       `json:"enabled"`
	InstallDir  string     `json:"install_dir"`
	InstalledAt time.Time  `json:"installed_at"`

	Manifest *ExtensionManifest `json:"manifest,omitempty"`
}

// ExtensionSummary is the listing projection of an installed extension.
type ExtensionSummary struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Description  string       `json:"description,omitempty"`
	Generation   Generation   `json:"generation"`
	Enabled      bool         `json:"enabled"`
	InstalledAt  time.Time    `json:"installed_at"`
	Capabilities Capabilities `json:"capabilities"`
}

// Summary extracts the listing projection.
func (e *InstalledExtension) Summary() ExtensionSummary {
	s := ExtensionSummary{
		ID:          e.ID,
		Name:        e.Name,
		Version:     e.Version,
		Description: e.Description,
		Generation:  e.Generation,
		Enabled:     e.Enabled,
		InstalledAt: e.InstalledAt,
	}
	if e.Manifest != nil {
		s.Capabilities = e.Manifest.Capabilities
	}
	return s
}

// MissingDir describes a registry record whose install directory is gone.
type MissingDir struct {
	ExtensionID string `json:"extension_id"`
	InstallDir  string `json:"install_dir"`
}

// ReconcileReport captures registry/disk consistency findings. The report
// only observes; cleanup is left to the caller.
type ReconcileReport struct {
	CheckedAt   time.Time        `json:"checked_at"`
	Extensions  int              `json:"extensions"`
	OrphanDirs  []string         `json:"orphan_dirs,omitempty"`
	MissingDirs []MissingDir     `json:"missing_dirs,omitempty"`
	DiskUsage   map[string]int64 `json:"disk_usage,omitempty"`
}

// Consistent reports whether no mismatches were found.
func (r *ReconcileReport) Consistent() bool {
	return len(r.OrphanDirs) == 0 && len(r.MissingDirs) == 0
}

// RegistryStats contains registry statistics.
type RegistryStats struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Disabled int `json:"disabled"`
}
