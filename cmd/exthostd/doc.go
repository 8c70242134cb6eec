// Package main is the entry point for the extension host daemon.
//
// The daemon runs alongside a mobile browser and hosts desktop
// extension packages for it: it installs uploaded archives, serves
// packaged resources to WebViews, runs popup scripts in sandboxed
// surfaces, and mirrors a remote snippet catalog for offline use.
//
// Configuration comes from the environment (12-factor); see the
// config package for every knob. All state lives under
// EXTHOST_DATA_DIR.
//
// Usage:
//
//	EXTHOST_DATA_DIR=/data/exthost ./exthostd
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
