// Package ws exposes the event stream over WebSocket.
//
// A client that connects to /stream receives every host event as a
// JSON message: install pipeline stages, registry changes, surface
// lifecycle and shim injections. Messages are type-tagged at the top
// level, so "system" and "pong" frames interleave with event frames.
//
// Inbound traffic is limited to {"type": "ping"}; anything else is
// ignored. Slow clients lose events rather than stalling publishers.
package ws
