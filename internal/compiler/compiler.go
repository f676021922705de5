// Package compiler turns parsed ocafiles into built artifacts. Compilation
// is a pure function of the document and the artifacts it depends on.
package compiler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/ocafile"
	"github.com/Benny93/oca-go/internal/said"
)

// Input is everything one compilation needs.
type Input struct {
	Doc *ocafile.Document

	// Deps maps each directly referenced refn to its built artifact.
	Deps map[string]*artifact.Built

	// Resolver finds artifacts referenced by digest. May be nil.
	Resolver artifact.Resolver
}

// Func compiles one input. Compile is the default implementation.
type Func func(Input) (*artifact.Built, error)

// ErrUnsupportedKind is returned for kinds without a compiler.
var ErrUnsupportedKind = errors.New("unsupported artifact kind")

// Compile builds the artifact described by in.Doc.
func Compile(in Input) (*artifact.Built, error) {
	if in.Doc == nil {
		return nil, errors.New("compile: nil document")
	}
	switch in.Doc.Kind {
	case artifact.KindBundle:
		return compileBundle(in)
	case artifact.KindTransformation:
		return compileTransformation(in)
	case artifact.KindPresentation:
		return compilePresentation(in)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, in.Doc.Kind)
	}
}

// problems accumulates SchemaErrors for one document.
type problems struct {
	refn string
	errs []error
}

func (p *problems) add(line int, format string, args ...any) {
	p.errs = append(p.errs, &artifact.SchemaError{Refn: p.refn, Line: line, Msg: fmt.Sprintf(format, args...)})
}

func (p *problems) err() error {
	return errors.Join(p.errs...)
}

// dependency resolves a refn: or refs: reference used by a FROM, TO or
// attribute type.
func dependency(in Input, ref string) (*artifact.Built, error) {
	typ, err := artifact.ParseAttrType(ref)
	if err != nil || !typ.IsReference() {
		return nil, fmt.Errorf("expected refn:<tag> or refs:<said>, got %q", ref)
	}
	if typ.ByRefn {
		dep, ok := in.Deps[typ.Ref]
		if !ok {
			return nil, fmt.Errorf("refn %q is not among the resolved dependencies", typ.Ref)
		}
		return dep, nil
	}
	if in.Resolver != nil {
		if dep, ok := in.Resolver.Artifact(typ.Digest()); ok {
			return dep, nil
		}
	}
	return &artifact.Built{Digest: typ.Digest(), Kind: artifact.KindBundle}, nil
}

func sortedDigests(set map[said.SAID]bool) []said.SAID {
	out := make([]said.SAID, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
