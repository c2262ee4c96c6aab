package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucentlabs/ferry/internal/ferrors"
)

// MaxScriptBytes bounds the size of a script accepted for execution, per
// spec.md §4.5's "oversize script (>100,000 chars)" edge case.
const MaxScriptBytes = 100000

var hostFuncNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateScript rejects empty or oversize scripts before they reach the VM.
func validateScript(script string) *ferrors.Error {
	trimmed := strings.TrimSpace(script)
	if trimmed == "" {
		return ferrors.Validation("script must not be empty")
	}
	if len(script) > MaxScriptBytes {
		return ferrors.Validation("script of %d bytes exceeds the %d byte limit", len(script), MaxScriptBytes)
	}
	return nil
}

// validateHostFuncName rejects names that would collide with sandbox
// internals or aren't valid JS identifiers, so a hostile catalog tool name
// can't shadow __result__, console, or similar.
func validateHostFuncName(name string) error {
	if !hostFuncNamePattern.MatchString(name) {
		return fmt.Errorf("host function name %q is not a valid identifier", name)
	}
	switch name {
	case "__result__", "__executionError__", "__invoke__", "console", "globalThis":
		return fmt.Errorf("host function name %q is reserved", name)
	}
	return nil
}

// wrapScript turns the user script into an async IIFE whose settled value is
// assigned to __result__ and whose rejection is captured into
// __executionError__, so evaluation never needs goja to expose a Promise
// result directly: it reads the globals afterward instead.
func wrapScript(script string) string {
	return "var __result__; var __executionError__;\n" +
		"(async function() {\n" +
		"  try {\n" +
		"    __result__ = await (async function() {\n" +
		script + "\n" +
		"    })();\n" +
		"  } catch (e) {\n" +
		"    __executionError__ = (e && e.message) ? e.message : String(e);\n" +
		"  }\n" +
		"})();\n"
}
