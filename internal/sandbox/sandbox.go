// Package sandbox executes untrusted orchestration scripts inside a pooled
// goja interpreter, mediating every call the script makes back into Go
// (tool invocations) through metered, batched re-entry rather than letting
// the script call out directly.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/lucentlabs/ferry/internal/ferrors"
	"github.com/lucentlabs/ferry/pkg/models"
)

// HostFunc is a Go-side implementation of one tool a script may call. It is
// invoked off the VM goroutine, possibly concurrently with other HostFuncs in
// the same batch.
type HostFunc func(ctx context.Context, args []any) (any, error)

// DefaultMaxReentries is used when a SandboxInvocation leaves MaxReentries unset.
const DefaultMaxReentries = 10

type pendingCall struct {
	name    string
	args    []any
	resolve func(any)
	reject  func(any)
}

// Sandbox runs scripts against a pool of recycled interpreters.
type Sandbox struct {
	pool   *VMPool
	logger *slog.Logger
}

// New returns a Sandbox backed by a freshly created VM pool.
func New(poolCfg PoolConfig, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{pool: NewVMPool(poolCfg), logger: logger.With("component", "sandbox")}
}

// Close releases pool resources.
func (s *Sandbox) Close() { s.pool.Close() }

// Run executes inv.Script against hostFuncs, following the invocation
// protocol: synchronous evaluation, then repeated batched draining of
// pending host calls until the script settles or a bound is exceeded.
func (s *Sandbox) Run(ctx context.Context, inv models.SandboxInvocation, hostFuncs map[string]HostFunc) (*models.SandboxResult, error) {
	start := time.Now()

	if verr := validateScript(inv.Script); verr != nil {
		return nil, verr
	}
	for name := range hostFuncs {
		if err := validateHostFuncName(name); err != nil {
			return nil, ferrors.Validation("%v", err)
		}
	}

	maxReentries := inv.MaxReentries
	if maxReentries <= 0 {
		maxReentries = DefaultMaxReentries
	}
	timeout := time.Duration(inv.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	vm := s.pool.Acquire()
	defer s.pool.Release(vm)

	console := newConsoleCapture(start)
	console.install(vm)

	var mu sync.Mutex
	var pending []*pendingCall

	for name, fn := range hostFuncs {
		name, fn := name, fn
		vm.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			promise, resolve, reject := vm.NewPromise()
			mu.Lock()
			pending = append(pending, &pendingCall{name: name, args: args, resolve: resolve, reject: reject})
			mu.Unlock()
			return vm.ToValue(promise)
		})
	}

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt(ferrors.Timeout(fmt.Sprintf("script execution exceeded its %s wall-clock timeout", timeout)))
	})
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ferrors.Cancelled("script execution cancelled"))
		case <-done:
		}
	}()

	wrapped := wrapScript(inv.Script)
	if _, err := vm.RunString(wrapped); err != nil {
		vm.ClearInterrupt()
		return s.result(true, wrapExecutionError(err), console, start, 0), nil
	}

	reentries := 0
	for {
		mu.Lock()
		batch := pending
		pending = nil
		mu.Unlock()

		if len(batch) == 0 {
			break
		}

		attempted := reentries + len(batch)
		if attempted > maxReentries {
			vm.ClearInterrupt()
			return s.result(true, ferrors.CallLimitExceeded(reentries, maxReentries), console, start, reentries), nil
		}

		results := make([]any, len(batch))
		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, pc := range batch {
			i, pc := i, pc
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn, ok := hostFuncs[pc.name]
				if !ok {
					errs[i] = ferrors.UnknownTool(pc.name)
					return
				}
				res, err := fn(ctx, pc.args)
				if err != nil {
					errs[i] = err
					return
				}
				results[i] = res
			}()
		}
		wg.Wait()

		reentries += len(batch)
		if reentries*5 >= maxReentries*4 { // reentries/maxReentries >= 0.8, integer-safe
			s.logger.Warn("sandbox approaching re-entry limit",
				"calls_made", reentries, "remaining", maxReentries-reentries, "limit", maxReentries)
		}

		for i, pc := range batch {
			if errs[i] != nil {
				pc.reject(errs[i].Error())
				continue
			}
			pc.resolve(vm.ToValue(results[i]))
		}
	}

	vm.ClearInterrupt()

	execErrVal := vm.Get("__executionError__")
	if execErrVal != nil && !goja.IsUndefined(execErrVal) && !goja.IsNull(execErrVal) {
		return s.result(true, ferrors.Execution(execErrVal.String()), console, start, reentries), nil
	}

	resultVal := vm.Get("__result__")
	var exported any
	if resultVal != nil && !goja.IsUndefined(resultVal) {
		exported = resultVal.Export()
	}

	return &models.SandboxResult{
		Failed:        false,
		Value:         exported,
		Logs:          console.drain(),
		DurationMs:    time.Since(start).Milliseconds(),
		ReentriesMade: reentries,
	}, nil
}

func (s *Sandbox) result(failed bool, err *ferrors.Error, console *consoleCapture, start time.Time, reentries int) *models.SandboxResult {
	r := &models.SandboxResult{
		Failed:        failed,
		Logs:          console.drain(),
		DurationMs:    time.Since(start).Milliseconds(),
		ReentriesMade: reentries,
	}
	if err != nil {
		r.ErrorCode = string(err.Kind)
		r.ErrorMessage = err.Message
	}
	return r
}
