package surface

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/logging"
)

// LogEntry is one captured console line.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ExecResult holds the outcome of one script run.
type ExecResult struct {
	Value      interface{} `json:"value"`
	Console    []LogEntry  `json:"console,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// scriptContext wraps a goja VM with the primitives extension payloads
// rely on. A context lives as long as its surface: listeners and
// globals installed by one run stay visible to the next, which the
// message bus and storage events depend on.
type scriptContext struct {
	vm      *goja.Runtime
	timeout time.Duration
	log     *logging.Logger

	mu      sync.Mutex
	closed  bool
	console []LogEntry
	doc     *docState
}

func newScriptContext(timeout time.Duration, log *logging.Logger) *scriptContext {
	sc := &scriptContext{
		vm:      goja.New(),
		timeout: timeout,
		log:     log,
		doc:     newDocState(),
	}
	sc.vm.SetMaxCallStackSize(1024)
	sc.setupGlobals()
	return sc
}

// setupGlobals strips module-loader globals and installs console plus
// inert timers.
func (sc *scriptContext) setupGlobals() {
	sc.vm.Set("require", goja.Undefined())
	sc.vm.Set("process", goja.Undefined())
	sc.vm.Set("module", goja.Undefined())
	sc.vm.Set("exports", goja.Undefined())

	console := sc.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		console.Set(level, sc.makeConsoleFunc(level))
	}
	sc.vm.Set("console", console)

	// Timers are inert: surfaces run scripts to completion and nothing
	// in the compatibility payload depends on deferred callbacks.
	sc.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return sc.vm.ToValue(0)
	})
	sc.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return sc.vm.ToValue(0)
	})
	sc.vm.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	sc.vm.Set("clearInterval", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
}

func (sc *scriptContext) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var b strings.Builder
		for i, arg := range call.Arguments {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(arg.String())
		}
		sc.console = append(sc.console, LogEntry{
			Level:   level,
			Message: b.String(),
			Time:    time.Now(),
		})
		return goja.Undefined()
	}
}

// run executes a script with the configured timeout. Runs on the same
// context serialize; console output is per run.
func (sc *scriptContext) run(ctx context.Context, script string) (*ExecResult, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return nil, errors.New(errors.CodeUnavailable, "surface is closed")
	}

	start := time.Now()
	sc.console = sc.console[:0]

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(sc.timeout):
			sc.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			sc.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	val, err := sc.vm.RunString(script)
	close(done)

	res := &ExecResult{
		Console:    append([]LogEntry(nil), sc.console...),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			// Keep the VM usable for the next run.
			sc.vm.ClearInterrupt()
		}
		return res, errors.Wrap(err, errors.CodeExecutionFailed, "script execution failed")
	}
	res.Value = exportValue(val)
	return res, nil
}

// snapshot copies the document state for external observers.
func (sc *scriptContext) snapshot() (title, href string, styles, navigations []string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.doc.title, sc.doc.href,
		append([]string(nil), sc.doc.styles...),
		append([]string(nil), sc.doc.navigations...)
}

// close interrupts any running script and retires the VM.
func (sc *scriptContext) close() {
	sc.vm.Interrupt("surface closed")
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.closed = true
	sc.vm.ClearInterrupt()
}

func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	exported := val.Export()
	if _, ok := exported.(func(goja.FunctionCall) goja.Value); ok {
		return val.String()
	}
	return exported
}
