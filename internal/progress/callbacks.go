// Package progress fans out one request's execution events to whichever
// observers are attached: in-process callbacks (for the streaming HTTP
// surface) and an optional external webhook, throttled per spec.md §4.9.
package progress

import "github.com/lucentlabs/ferry/pkg/models"

// Callbacks is a set of optional, nil-safe hooks the orchestrator invokes as
// a request progresses. Every field may be left nil; Emit* helpers guard the
// call so callers never need a nil check at the call site.
type Callbacks struct {
	OnStatus            func(message string)
	OnProgress          func(text string)
	OnToolUse           func(tool string, input any)
	OnToolResult        func(tool string, result string, isError bool)
	OnIterationComplete func(iteration int)
	OnComplete          func(resp models.UnaryResponse)
	OnError             func(err error)
}

func (c Callbacks) EmitStatus(message string) {
	if c.OnStatus != nil {
		c.OnStatus(message)
	}
}

func (c Callbacks) EmitProgress(text string) {
	if c.OnProgress != nil {
		c.OnProgress(text)
	}
}

func (c Callbacks) EmitToolUse(tool string, input any) {
	if c.OnToolUse != nil {
		c.OnToolUse(tool, input)
	}
}

func (c Callbacks) EmitToolResult(tool string, result string, isError bool) {
	if c.OnToolResult != nil {
		c.OnToolResult(tool, result, isError)
	}
}

func (c Callbacks) EmitIterationComplete(iteration int) {
	if c.OnIterationComplete != nil {
		c.OnIterationComplete(iteration)
	}
}

func (c Callbacks) EmitComplete(resp models.UnaryResponse) {
	if c.OnComplete != nil {
		c.OnComplete(resp)
	}
}

func (c Callbacks) EmitError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Combine returns a single Callbacks whose hooks fan out to every non-nil
// hook across all, in order. Used to attach both an in-process stream writer
// and an external webhook sender to the same orchestrator run.
func Combine(all ...Callbacks) Callbacks {
	var combined Callbacks
	for _, c := range all {
		c := c
		if c.OnStatus != nil {
			prev := combined.OnStatus
			combined.OnStatus = func(m string) {
				if prev != nil {
					prev(m)
				}
				c.OnStatus(m)
			}
		}
		if c.OnProgress != nil {
			prev := combined.OnProgress
			combined.OnProgress = func(t string) {
				if prev != nil {
					prev(t)
				}
				c.OnProgress(t)
			}
		}
		if c.OnToolUse != nil {
			prev := combined.OnToolUse
			combined.OnToolUse = func(tool string, input any) {
				if prev != nil {
					prev(tool, input)
				}
				c.OnToolUse(tool, input)
			}
		}
		if c.OnToolResult != nil {
			prev := combined.OnToolResult
			combined.OnToolResult = func(tool string, result string, isError bool) {
				if prev != nil {
					prev(tool, result, isError)
				}
				c.OnToolResult(tool, result, isError)
			}
		}
		if c.OnIterationComplete != nil {
			prev := combined.OnIterationComplete
			combined.OnIterationComplete = func(i int) {
				if prev != nil {
					prev(i)
				}
				c.OnIterationComplete(i)
			}
		}
		if c.OnComplete != nil {
			prev := combined.OnComplete
			combined.OnComplete = func(r models.UnaryResponse) {
				if prev != nil {
					prev(r)
				}
				c.OnComplete(r)
			}
		}
		if c.OnError != nil {
			prev := combined.OnError
			combined.OnError = func(err error) {
				if prev != nil {
					prev(err)
				}
				c.OnError(err)
			}
		}
	}
	return combined
}
