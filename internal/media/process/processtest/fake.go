// Package processtest provides a scriptable process.Runner for tests.
package processtest

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/romariotrain/media-derivatives/internal/media/process"
)

// Call is one recorded invocation.
type Call struct {
	Tool string
	Args []string
}

// HandlerFunc simulates one tool. It typically writes the files the real
// tool would have produced.
type HandlerFunc func(ctx context.Context, args []string) (process.Result, error)

// Fake dispatches on the base name of the binary. Tools without a handler
// succeed with an empty result.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []Call
}

func New() *Fake {
	return &Fake{handlers: make(map[string]HandlerFunc)}
}

func (f *Fake) Handle(tool string, h HandlerFunc) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[tool] = h
	return f
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) (process.Result, error) {
	tool := filepath.Base(name)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Tool: tool, Args: append([]string(nil), args...)})
	h := f.handlers[tool]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return process.Result{ExitCode: -1}, err
	}
	if h == nil {
		return process.Result{}, nil
	}
	return h(ctx, args)
}

// Calls returns the invocations of tool, or of every tool when tool is empty.
func (f *Fake) Calls(tool string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Call
	for _, c := range f.calls {
		if tool == "" || c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

// Fail returns a handler that exits nonzero with tail on stderr.
func Fail(tool string, code int, tail string) HandlerFunc {
	return func(context.Context, []string) (process.Result, error) {
		return process.Result{ExitCode: code, Tail: tail}, &process.ExitError{Tool: tool, ExitCode: code, OutputTail: tail}
	}
}

// Stdout returns a handler that prints out and exits 0.
func Stdout(out string) HandlerFunc {
	return func(context.Context, []string) (process.Result, error) {
		return process.Result{Stdout: []byte(out)}, nil
	}
}
