// Package graph resolves ocafiles into a dependency graph keyed by refn.
//
// Nodes live in an index-addressed table and edges are index pairs, so
// duplicate tags, unresolved references and cycles are plain graph queries.
// A DependencyGraph is immutable once Resolve returns and is safe for
// concurrent reads.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

// SourceFile is one discovered ocafile.
type SourceFile struct {
	// Path is the absolute path of the file.
	Path string

	// Text is the raw file content.
	Text string
}

// Node is a file that declared a refn.
type Node struct {
	// Refn identifies the node.
	Refn string

	// Path is the file that declared Refn.
	Path string

	// Kind is the artifact kind declared in the header.
	Kind artifact.Kind

	// Digest is empty until the node is built.
	Digest said.SAID

	// Text is the source the node was resolved from.
	Text string
}

// Edge points from a dependent node to one of its dependencies.
type Edge struct {
	From int
	To   int
}

// Skipped records a file that declared no refn.
type Skipped struct {
	Path   string
	Reason string
}

// ErrorKind classifies structural graph errors.
type ErrorKind string

const (
	KindDuplicateRefn  ErrorKind = "duplicate-refn"
	KindUnresolvedRefn ErrorKind = "unresolved-refn"
	KindSelfReference  ErrorKind = "self-reference"
	KindInvalidRefn    ErrorKind = "invalid-refn"
	KindCycle          ErrorKind = "cycle"
)

// Sentinels matched by GraphError.Is.
var (
	ErrDuplicateRefn  = errors.New("duplicate refn")
	ErrUnresolvedRefn = errors.New("unresolved refn")
	ErrSelfReference  = errors.New("self reference")
	ErrInvalidRefn    = errors.New("invalid refn")
	ErrCycle          = errors.New("dependency cycle")
)

var sentinels = map[ErrorKind]error{
	KindDuplicateRefn:  ErrDuplicateRefn,
	KindUnresolvedRefn: ErrUnresolvedRefn,
	KindSelfReference:  ErrSelfReference,
	KindInvalidRefn:    ErrInvalidRefn,
	KindCycle:          ErrCycle,
}

// GraphError is a structural problem found while resolving files.
type GraphError struct {
	Kind ErrorKind

	// Refn is the tag the error concerns (the dependent, for unresolved
	// references).
	Refn string

	// Target is the missing tag of an unresolved reference.
	Target string

	// Paths lists every file the error is attached to.
	Paths []string

	// Cycle lists the refns of a cycle in traversal order.
	Cycle []string

	// Detail adds context to the message.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

func (e *GraphError) Error() string {
	var msg string
	switch e.Kind {
	case KindDuplicateRefn:
		msg = fmt.Sprintf("refn %q is declared by multiple files: %s", e.Refn, strings.Join(e.Paths, ", "))
	case KindUnresolvedRefn:
		msg = fmt.Sprintf("refn %q references unknown refn %q", e.Refn, e.Target)
	case KindSelfReference:
		msg = fmt.Sprintf("refn %q references itself", e.Refn)
	case KindInvalidRefn:
		msg = fmt.Sprintf("%s: invalid header", strings.Join(e.Paths, ", "))
	case KindCycle:
		msg = "dependency cycle"
		if len(e.Cycle) > 0 {
			path := append(append([]string{}, e.Cycle...), e.Cycle[0])
			msg += ": " + strings.Join(path, " -> ")
		}
	default:
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel of the error's kind.
func (e *GraphError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func (e *GraphError) Unwrap() error { return e.Err }
