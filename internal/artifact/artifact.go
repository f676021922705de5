// Package artifact defines the compiled OCA artifacts and their serialized
// form.
package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/Benny93/oca-go/internal/said"
)

// Kind is the closed set of artifact kinds.
type Kind string

const (
	KindBundle         Kind = "bundle"
	KindTransformation Kind = "transformation"
	KindPresentation   Kind = "presentation"
)

// Kinds lists every artifact kind.
var Kinds = []Kind{KindBundle, KindTransformation, KindPresentation}

// ParseKind converts a header value into a Kind. An empty value means bundle.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindBundle:
		return KindBundle, nil
	case KindTransformation, KindPresentation:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown artifact kind %q", s)
	}
}

// Built is an immutable compiled artifact.
type Built struct {
	Digest       said.SAID
	Kind         Kind
	Refn         string
	Serialized   []byte
	Dependencies []said.SAID
}

// Verify checks that the serialized form certifies Digest.
func (b *Built) Verify() error {
	return said.VerifyBytes(b.Serialized, b.Digest)
}

// Indent returns the serialized form pretty-printed for display.
func (b *Built) Indent() ([]byte, error) {
	var v any
	if err := json.Unmarshal(b.Serialized, &v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", b.Digest, err)
	}
	return json.MarshalIndent(v, "", "  ")
}

// Seal computes the digest of a and wraps its canonical form into a Built.
func Seal(a said.Addressable, kind Kind, refn string, deps []said.SAID) (*Built, error) {
	digest, err := said.Compute(a)
	if err != nil {
		return nil, err
	}
	data, err := said.Canonical(a)
	if err != nil {
		return nil, err
	}
	return &Built{
		Digest:       digest,
		Kind:         kind,
		Refn:         refn,
		Serialized:   data,
		Dependencies: deps,
	}, nil
}

// DecodeBundle decodes a built bundle.
func DecodeBundle(b *Built) (*Bundle, error) {
	if b.Kind != KindBundle {
		return nil, fmt.Errorf("%s is a %s, not a bundle", b.Digest, b.Kind)
	}
	var bundle Bundle
	if err := json.Unmarshal(b.Serialized, &bundle); err != nil {
		return nil, fmt.Errorf("decoding bundle %s: %w", b.Digest, err)
	}
	return &bundle, nil
}

// DecodeTransformation decodes a built transformation.
func DecodeTransformation(b *Built) (*Transformation, error) {
	if b.Kind != KindTransformation {
		return nil, fmt.Errorf("%s is a %s, not a transformation", b.Digest, b.Kind)
	}
	var tr Transformation
	if err := json.Unmarshal(b.Serialized, &tr); err != nil {
		return nil, fmt.Errorf("decoding transformation %s: %w", b.Digest, err)
	}
	return &tr, nil
}

// DecodePresentation decodes a built presentation.
func DecodePresentation(b *Built) (*Presentation, error) {
	if b.Kind != KindPresentation {
		return nil, fmt.Errorf("%s is a %s, not a presentation", b.Digest, b.Kind)
	}
	var p Presentation
	if err := json.Unmarshal(b.Serialized, &p); err != nil {
		return nil, fmt.Errorf("decoding presentation %s: %w", b.Digest, err)
	}
	return &p, nil
}
