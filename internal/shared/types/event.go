package types

import "time"

// EventType identifies a host event on the stream.
type EventType string

const (
	EventInstallStarted EventType = "install_started"
	EventExtracting     EventType = "extracting"
	EventParsing        EventType = "parsing"
	EventPersisting     EventType = "persisting"
	EventInstalled      EventType = "installed"
	EventInstallFailed  EventType = "install_failed"
	EventUninstalled    EventType = "uninstalled"
	EventToggled        EventType = "toggled"
	EventSurfaceOpened  EventType = "surface_opened"
	EventSurfaceClosed  EventType = "surface_closed"
	EventShimInjected   EventType = "shim_injected"
)

// Event is one host event. Completion of asynchronous work is reported
// through these rather than by blocking callers.
type Event struct {
	Type        EventType `json:"type"`
	JobID       string    `json:"job_id,omitempty"`
	ExtensionID string    `json:"extension_id,omitempty"`
	SurfaceID   string    `json:"surface_id,omitempty"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	Enabled     *bool     `json:"enabled,omitempty"`
	At          time.Time `json:"at"`
}
