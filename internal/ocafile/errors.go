package ocafile

import (
	"fmt"
	"strings"
)

// ParseError reports malformed source at a line and column.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	loc := fmt.Sprintf("%d:%d", e.Line, e.Column)
	if e.Path != "" {
		loc = e.Path + ":" + loc
	}
	return loc + ": " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseErrors collects every ParseError of one file.
type ParseErrors []*ParseError

func (e ParseErrors) Error() string {
	msgs := make([]string, len(e))
	for i, pe := range e {
		msgs[i] = pe.Error()
	}
	return strings.Join(msgs, "\n")
}

func (e ParseErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, pe := range e {
		errs[i] = pe
	}
	return errs
}

// WithPath sets Path on every error and returns e.
func (e ParseErrors) WithPath(path string) ParseErrors {
	for _, pe := range e {
		pe.Path = path
	}
	return e
}
