// Package types provides shared data structures for the extension host.
//
// This package defines core types used across all host components,
// ensuring type safety and consistent data structures.
//
// Core Types:
//   - ExtensionManifest: Normalized manifest shape (generations 2 and 3
//     collapse into this single form)
//   - InstalledExtension: Registry record for an installed extension
//   - ReconcileReport: Registry/disk consistency findings
//   - Event: Host event broadcast to stream subscribers
//
// Manifests are immutable after parsing. Localization placeholders
// (__MSG_*__) are preserved verbatim; presentation layers decide how to
// render them.
//
// Example Usage:
//
//	ext := &types.InstalledExtension{
//	    ID:      string(id.NewExtensionID()),
//	    Name:    man.Name,
//	    Enabled: true,
//	}
package types
