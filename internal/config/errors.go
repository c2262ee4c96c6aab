package config

import "fmt"

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func errInvalid(msg string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(msg, args...)}
}
