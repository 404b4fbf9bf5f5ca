package kernel

import "errors"

// Error describes a platform error. All platform errors are defined as
// package-level pointers to the Error structure so callers can compare them
// by identity or with errors.Is.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Code is the negative status code reported to user environments.
	Code int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// StatusOf returns the status code carried by the first *Error found in
// err's chain, or 0 if err is nil or carries no status code.
func StatusOf(err error) int {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Code
	}
	return 0
}
