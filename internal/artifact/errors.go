package artifact

import (
	"fmt"

	"github.com/Benny93/oca-go/internal/said"
)

// Resolver looks up built artifacts by digest.
type Resolver interface {
	Artifact(said.SAID) (*Built, bool)
}

// Index is a Resolver over a fixed set of artifacts.
type Index map[said.SAID]*Built

// Artifact implements Resolver.
func (ix Index) Artifact(d said.SAID) (*Built, bool) {
	b, ok := ix[d]
	return b, ok
}

// SchemaError is a semantic problem in an otherwise well-formed source.
type SchemaError struct {
	Refn string
	Line int
	Msg  string
}

func (e *SchemaError) Error() string {
	prefix := e.Refn
	if prefix == "" {
		prefix = "ocafile"
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", prefix, e.Line, e.Msg)
	}
	return prefix + ": " + e.Msg
}
