package sandbox

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/lucentlabs/ferry/pkg/models"
)

// consoleCapture backs the script-visible console object, recording every
// call instead of writing to a real stream so the caller gets structured logs.
type consoleCapture struct {
	mu      sync.Mutex
	entries []models.LogEntry
	start   time.Time
}

func newConsoleCapture(start time.Time) *consoleCapture {
	return &consoleCapture{start: start}
}

func (c *consoleCapture) install(vm *goja.Runtime) {
	console := vm.NewObject()
	_ = console.Set("log", c.logger(vm, "log"))
	_ = console.Set("info", c.logger(vm, "info"))
	_ = console.Set("warn", c.logger(vm, "warn"))
	_ = console.Set("error", c.logger(vm, "error"))
	_ = vm.Set("console", console)
}

func (c *consoleCapture) logger(vm *goja.Runtime, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, renderArg(arg))
		}
		c.append(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (c *consoleCapture) append(level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, models.LogEntry{
		Level:       level,
		Message:     message,
		TimestampMs: time.Since(c.start).Milliseconds(),
	})
}

func (c *consoleCapture) drain() []models.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries
}

func renderArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	b, err := json.Marshal(exported)
	if err != nil {
		return v.String()
	}
	return string(b)
}
