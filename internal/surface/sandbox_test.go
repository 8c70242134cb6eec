package surface

import (
	"context"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/logging"
)

func TestScriptContextExecution(t *testing.T) {
	sc := newScriptContext(time.Second, logging.NewNop())
	defer sc.close()

	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{
			name:    "simple return",
			script:  "42",
			wantErr: false,
		},
		{
			name:    "math operations",
			script:  "Math.sqrt(16)",
			wantErr: false,
		},
		{
			name:    "string operations",
			script:  "'hello'.toUpperCase()",
			wantErr: false,
		},
		{
			name:    "syntax error",
			script:  "function {",
			wantErr: true,
		},
		{
			name:    "thrown error",
			script:  "throw new Error('boom')",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := sc.run(context.Background(), tt.script)

			if (err != nil) != tt.wantErr {
				t.Errorf("run() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && result == nil {
				t.Error("run() returned nil result")
			}
		})
	}
}

func TestScriptContextStateSurvivesRuns(t *testing.T) {
	sc := newScriptContext(time.Second, logging.NewNop())
	defer sc.close()
	ctx := context.Background()

	if _, err := sc.run(ctx, "var counter = 1;"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	res, err := sc.run(ctx, "counter + 1")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if res.Value != int64(2) {
		t.Errorf("expected 2, got %v", res.Value)
	}
}

func TestScriptContextModuleGlobalsStripped(t *testing.T) {
	sc := newScriptContext(time.Second, logging.NewNop())
	defer sc.close()

	for _, global := range []string{"require", "process", "module", "exports"} {
		res, err := sc.run(context.Background(), "typeof "+global)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if res.Value != "undefined" {
			t.Errorf("%s should be undefined, got %v", global, res.Value)
		}
	}
}

func TestScriptContextTimeout(t *testing.T) {
	sc := newScriptContext(50*time.Millisecond, logging.NewNop())
	defer sc.close()
	ctx := context.Background()

	_, err := sc.run(ctx, "while(true) {}")
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if errors.GetCode(err) != errors.CodeExecutionFailed {
		t.Errorf("expected execution failure, got %s", errors.GetCode(err))
	}

	// The interrupt is cleared; the context stays usable.
	res, err := sc.run(ctx, "1 + 1")
	if err != nil {
		t.Fatalf("context unusable after timeout: %v", err)
	}
	if res.Value != int64(2) {
		t.Errorf("expected 2, got %v", res.Value)
	}
}

func TestScriptContextConsoleCapture(t *testing.T) {
	sc := newScriptContext(time.Second, logging.NewNop())
	defer sc.close()

	res, err := sc.run(context.Background(), `
		console.log('info message', 42);
		console.warn('warning message');
		console.error('error message');
		'done'
	`)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(res.Console) != 3 {
		t.Fatalf("expected 3 console entries, got %d", len(res.Console))
	}
	levels := []string{"log", "warn", "error"}
	for i, entry := range res.Console {
		if entry.Level != levels[i] {
			t.Errorf("entry %d: expected level %s, got %s", i, levels[i], entry.Level)
		}
	}
	if res.Console[0].Message != "info message 42" {
		t.Errorf("arguments should join with spaces, got %q", res.Console[0].Message)
	}

	// Console output is per run, not cumulative.
	res, err = sc.run(context.Background(), "'quiet'")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(res.Console) != 0 {
		t.Errorf("expected no console entries, got %d", len(res.Console))
	}
}

func TestScriptContextClosed(t *testing.T) {
	sc := newScriptContext(time.Second, logging.NewNop())
	sc.close()

	_, err := sc.run(context.Background(), "1")
	if err == nil {
		t.Fatal("expected error on closed context")
	}
	if errors.GetCode(err) != errors.CodeUnavailable {
		t.Errorf("expected unavailable, got %s", errors.GetCode(err))
	}
}

func TestExportValue(t *testing.T) {
	sc := newScriptContext(time.Second, logging.NewNop())
	defer sc.close()
	ctx := context.Background()

	res, err := sc.run(ctx, "null")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Value != nil {
		t.Errorf("null should export as nil, got %v", res.Value)
	}

	res, err = sc.run(ctx, "({answer: 42})")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	obj, ok := res.Value.(map[string]interface{})
	if !ok {
		t.Fatalf("object should export as map, got %T", res.Value)
	}
	if obj["answer"] != int64(42) {
		t.Errorf("expected 42, got %v", obj["answer"])
	}
}
