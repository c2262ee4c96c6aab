package sandbox

import (
	"errors"

	"github.com/dop251/goja"

	"github.com/lucentlabs/ferry/internal/ferrors"
)

// wrapExecutionError classifies an error raised by goja.RunString (or a
// panic recovered around it) into the taxonomy the orchestrator expects.
func wrapExecutionError(err error) *ferrors.Error {
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if fe, ok := interrupted.Value().(*ferrors.Error); ok {
			return fe
		}
		return ferrors.Execution(interrupted.Error())
	}

	var compileErr *goja.CompilerSyntaxError
	if errors.As(err, &compileErr) {
		return ferrors.Execution("syntax error: " + err.Error())
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return ferrors.Execution(exception.Value().String())
	}

	if fe, ok := ferrors.As(err); ok {
		return fe
	}

	return ferrors.Execution(err.Error())
}
