// Package surface hosts extension script contexts: action popups and
// per-page content script groups. Each surface owns one script engine
// for its whole life, so listeners and state installed by the
// compatibility payload persist across runs.
package surface

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/logging"
)

// Kind distinguishes the two surface flavors.
type Kind string

const (
	// KindPopup hosts an extension's action popup document.
	KindPopup Kind = "popup"

	// KindContent hosts the content scripts an extension injects into a
	// visited page.
	KindContent Kind = "content"
)

// Surface is one hosted script context.
type Surface struct {
	id        string
	extension string
	kind      Kind
	pageURL   string
	createdAt time.Time

	sc  *scriptContext
	log *logging.Logger

	mu           sync.Mutex
	shimInjected bool
	scriptErrors []string
}

// Info is the externally visible description of a surface.
type Info struct {
	ID             string    `json:"id"`
	ExtensionID    string    `json:"extension_id"`
	Kind           Kind      `json:"kind"`
	Title          string    `json:"title,omitempty"`
	PageURL        string    `json:"page_url,omitempty"`
	ShimInjected   bool      `json:"shim_injected"`
	ScriptErrors   []string  `json:"script_errors,omitempty"`
	StylesInjected int       `json:"styles_injected"`
	Navigations    []string  `json:"navigations,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ID returns the surface identifier.
func (s *Surface) ID() string { return s.id }

// ExtensionID returns the owning extension.
func (s *Surface) ExtensionID() string { return s.extension }

// Kind returns the surface kind.
func (s *Surface) Kind() Kind { return s.kind }

// Info snapshots the surface for API consumers.
func (s *Surface) Info() Info {
	title, _, styles, navigations := s.sc.snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.id,
		ExtensionID:    s.extension,
		Kind:           s.kind,
		Title:          title,
		PageURL:        s.pageURL,
		ShimInjected:   s.shimInjected,
		ScriptErrors:   append([]string(nil), s.scriptErrors...),
		StylesInjected: len(styles),
		Navigations:    navigations,
		CreatedAt:      s.createdAt,
	}
}

// InjectShim runs the compatibility payload in the surface. A failure
// leaves the surface serving its page without extension APIs: logged
// and reported, never fatal. Injecting an already-shimmed surface is a
// no-op.
func (s *Surface) InjectShim(ctx context.Context, payload string) bool {
	s.mu.Lock()
	if s.shimInjected {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if _, err := s.sc.run(ctx, payload); err != nil {
		s.log.Warn("shim injection failed", zap.Error(err))
		s.recordScriptError("shim: " + err.Error())
		return false
	}

	s.mu.Lock()
	s.shimInjected = true
	s.mu.Unlock()
	return true
}

// Execute runs a script in the surface context and returns its value
// and console output.
func (s *Surface) Execute(ctx context.Context, script string) (*ExecResult, error) {
	return s.sc.run(ctx, script)
}

// namedScript pairs a script body with a name for error reporting.
type namedScript struct {
	Name   string
	Source string
}

// runScripts executes scripts in order. A failing script is recorded
// and skipped; later scripts still run, the way a page keeps loading
// after one script throws.
func (s *Surface) runScripts(ctx context.Context, scripts []namedScript) {
	for _, script := range scripts {
		if _, err := s.sc.run(ctx, script.Source); err != nil {
			s.log.Warn("surface script failed",
				zap.String("script", script.Name),
				zap.Error(err))
			s.recordScriptError(script.Name + ": " + err.Error())
		}
	}
}

func (s *Surface) recordScriptError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scriptErrors = append(s.scriptErrors, msg)
}

// Close retires the surface's script context. Any running script is
// interrupted.
func (s *Surface) Close() {
	s.sc.close()
}
