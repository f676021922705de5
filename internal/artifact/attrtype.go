package artifact

import (
	"fmt"
	"strings"

	"github.com/Benny93/oca-go/internal/said"
)

// Base attribute types.
const (
	TypeText      = "Text"
	TypeNumeric   = "Numeric"
	TypeBoolean   = "Boolean"
	TypeBinary    = "Binary"
	TypeDateTime  = "DateTime"
	TypeReference = "Reference"
)

const (
	refnPrefix = "refn:"
	refsPrefix = "refs:"
)

// AttrType is a parsed attribute type. Exactly one of Elem (arrays), Ref
// (references) or a primitive Base is meaningful.
type AttrType struct {
	Base string

	// Ref holds the refn or SAID of a referenced bundle.
	Ref string

	// ByRefn is set while the reference still names a refn.
	ByRefn bool

	Elem *AttrType
}

// IsArray reports whether t is an array type.
func (t AttrType) IsArray() bool { return t.Elem != nil }

// IsReference reports whether t references another bundle.
func (t AttrType) IsReference() bool { return t.Base == TypeReference }

// Digest returns the referenced SAID for a resolved reference.
func (t AttrType) Digest() said.SAID {
	if !t.IsReference() || t.ByRefn {
		return ""
	}
	return said.SAID(t.Ref)
}

// Innermost strips all array levels.
func (t AttrType) Innermost() AttrType {
	for t.Elem != nil {
		t = *t.Elem
	}
	return t
}

// String renders t in capture base notation.
func (t AttrType) String() string {
	switch {
	case t.Elem != nil:
		return "Array[" + t.Elem.String() + "]"
	case t.IsReference() && t.ByRefn:
		return refnPrefix + t.Ref
	case t.IsReference():
		return refsPrefix + t.Ref
	default:
		return t.Base
	}
}

// Resolve returns t with the refn reference replaced by digest.
func (t AttrType) Resolve(digest said.SAID) AttrType {
	if t.Elem != nil {
		elem := t.Elem.Resolve(digest)
		return AttrType{Elem: &elem}
	}
	if t.IsReference() && t.ByRefn {
		return AttrType{Base: TypeReference, Ref: digest.String()}
	}
	return t
}

// ParseAttrType parses a type written as Text, Array[Numeric], refn:name or
// refs:<said>.
func ParseAttrType(s string) (AttrType, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "Array[") && strings.HasSuffix(s, "]"):
		elem, err := ParseAttrType(s[len("Array[") : len(s)-1])
		if err != nil {
			return AttrType{}, err
		}
		return AttrType{Elem: &elem}, nil
	case strings.HasPrefix(s, refnPrefix):
		tag := strings.TrimPrefix(s, refnPrefix)
		if tag == "" {
			return AttrType{}, fmt.Errorf("empty refn in type %q", s)
		}
		return AttrType{Base: TypeReference, Ref: tag, ByRefn: true}, nil
	case strings.HasPrefix(s, refsPrefix):
		d, err := said.Parse(strings.TrimPrefix(s, refsPrefix))
		if err != nil {
			return AttrType{}, fmt.Errorf("type %q: %w", s, err)
		}
		return AttrType{Base: TypeReference, Ref: d.String()}, nil
	}
	switch s {
	case TypeText, TypeNumeric, TypeBoolean, TypeBinary, TypeDateTime:
		return AttrType{Base: s}, nil
	default:
		return AttrType{}, fmt.Errorf("unknown attribute type %q", s)
	}
}
