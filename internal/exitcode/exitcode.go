package exitcode

import (
	"errors"
	"os"

	"github.com/spf13/pflag"
)

// The process exit codes of the command-line tool
const (
	Success      = 0
	BuildFailed  = 1
	InvalidUsage = 2

	// The build succeeded but evaluating an entry chunk threw
	RunFailed = 3
)

// Coder is an interface to control what value Get returns.
type Coder interface {
	error
	ExitCode() int
}

// Get gets the exit code associated with an error. Cases:
//
//	nil => Success
//	errors implementing Coder => value returned by ExitCode
//	pflag.ErrHelp => InvalidUsage
//	all other errors => BuildFailed
func Get(err error) int {
	if err == nil {
		return Success
	}

	if coder := Coder(nil); errors.As(err, &coder) {
		return coder.ExitCode()
	}

	if errors.Is(err, pflag.ErrHelp) {
		return InvalidUsage
	}

	return BuildFailed
}

// Set wraps an error in a Coder, setting its error code.
func Set(err error, code int) error {
	if err == nil {
		return nil
	}
	return coder{err, code}
}

var _ Coder = coder{}

type coder struct {
	error
	int
}

func (co coder) ExitCode() int {
	return co.int
}

func (co coder) Unwrap() error {
	return co.error
}

// Exit is a convenience function that calls os.Exit
// with the exit code associated with err.
func Exit(err error) {
	os.Exit(Get(err))
}
