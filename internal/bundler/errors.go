package bundler

import (
	"fmt"

	"github.com/modlink/modlink/internal/logger"
)

type ResolutionError struct {
	Err error

	// The zero path for entry points
	Importer  logger.Path
	Specifier string
}

func (e *ResolutionError) Error() string {
	if e.Importer == (logger.Path{}) {
		return fmt.Sprintf("could not resolve entry point %q: %v", e.Specifier, e.Err)
	}
	return fmt.Sprintf("could not resolve %q from %q: %v", e.Specifier, e.Importer.String(), e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

type LoadError struct {
	Err  error
	Path logger.Path
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load %q: %v", e.Path.String(), e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type ParseError struct {
	Err  error
	Path logger.Path
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %q: %v", e.Path.String(), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parsers return this to attach a location to the message. The scan reports
// it at that location in the module being parsed.
type SyntaxError struct {
	Text  string
	Range logger.Range
}

func (e *SyntaxError) Error() string {
	return e.Text
}

// The path and specifier an error is about, used to sort errors so that a
// failed build reports them in the same order every time
func errorSortKey(err error) string {
	switch e := err.(type) {
	case *ResolutionError:
		return e.Importer.Text + "\x00" + e.Specifier
	case *LoadError:
		return e.Path.Text
	case *ParseError:
		return e.Path.Text
	}
	return err.Error()
}
