// Package presentation derives presentation artifacts (pages, translations
// and interactions) from built bundles.
package presentation

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

const (
	// Version is written into every presentation.
	Version = "1.0.0"

	// DefaultPage names the single generated page.
	DefaultPage = "page 1"

	MethodWeb      = "web"
	ContextCapture = "capture"

	InputDateTime = "date-time"
	InputFile     = "file"
)

// ErrMissingBundle is returned when a referenced bundle cannot be found.
var ErrMissingBundle = errors.New("referenced bundle not available")

// Interaction overrides or extends the generated interaction entries.
type Interaction struct {
	Method     string            `json:"method,omitempty"`
	Context    string            `json:"context,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Overlays are the inputs layered onto a bundle.
type Overlays struct {
	// Languages adds languages beyond those of the bundle's labels.
	Languages []string `json:"languages,omitempty"`

	// PageLabels maps language to page name to label.
	PageLabels map[string]map[string]string `json:"page_labels,omitempty"`

	Interaction *Interaction `json:"interaction,omitempty"`

	// Mapping maps attribute paths to external names.
	Mapping map[string]string `json:"attribute_mapping,omitempty"`
}

// leaf is an addressable attribute path and its primitive type.
type leaf struct {
	path string
	typ  string
}

type walker struct {
	deps   artifact.Resolver
	leaves []leaf
	used   map[said.SAID]bool
}

// Generate builds the presentation of bundle. The bundle and every bundle it
// references must self-certify.
func Generate(bundle *artifact.Built, deps artifact.Resolver, ov Overlays) (*artifact.Built, error) {
	b, err := load(bundle)
	if err != nil {
		return nil, err
	}

	w := &walker{deps: deps, used: map[said.SAID]bool{bundle.Digest: true}}
	elements, err := w.attributes(b.CaptureBase.Attributes, "")
	if err != nil {
		return nil, err
	}

	refn := bundle.Refn
	fail := func(format string, args ...any) error {
		return &artifact.SchemaError{Refn: refn, Msg: fmt.Sprintf(format, args...)}
	}

	langSet := make(map[string]bool)
	for _, l := range b.Languages() {
		langSet[l] = true
	}
	for _, l := range ov.Languages {
		langSet[l] = true
	}
	for l := range ov.PageLabels {
		langSet[l] = true
	}
	languages := slices.Sorted(maps.Keys(langSet))
	if languages == nil {
		languages = []string{}
	}

	labelLangs := languages
	if len(labelLangs) == 0 {
		labelLangs = []string{"eng"}
	}
	pageLabels := make(map[string]map[string]string, len(labelLangs))
	for _, l := range labelLangs {
		pageLabels[l] = map[string]string{DefaultPage: "Page 1"}
	}
	for l, labels := range ov.PageLabels {
		for page, label := range labels {
			if page != DefaultPage {
				return nil, fail("page label for unknown page %q", page)
			}
			pageLabels[l][page] = label
		}
	}

	paths := make(map[string]string, len(w.leaves))
	for _, lf := range w.leaves {
		paths[lf.path] = lf.typ
	}

	interaction := artifact.Interaction{
		Method:     MethodWeb,
		Context:    ContextCapture,
		Attributes: make(map[string]string),
	}
	for _, lf := range w.leaves {
		switch lf.typ {
		case artifact.TypeDateTime:
			interaction.Attributes[lf.path] = InputDateTime
		case artifact.TypeBinary:
			interaction.Attributes[lf.path] = InputFile
		}
	}
	if ov.Interaction != nil {
		if ov.Interaction.Method != "" {
			interaction.Method = ov.Interaction.Method
		}
		if ov.Interaction.Context != "" {
			interaction.Context = ov.Interaction.Context
		}
		for path, input := range ov.Interaction.Attributes {
			if _, ok := paths[path]; !ok {
				return nil, fail("interaction for unknown attribute %q", path)
			}
			if input == "" {
				return nil, fail("interaction for %q has no input type", path)
			}
			interaction.Attributes[path] = input
		}
	}

	var mapping map[string]string
	for path, target := range ov.Mapping {
		if _, ok := paths[path]; !ok {
			return nil, fail("mapping for unknown attribute %q", path)
		}
		if target == "" {
			continue
		}
		if mapping == nil {
			mapping = make(map[string]string)
		}
		mapping[path] = target
	}

	p := &artifact.Presentation{
		Version:      Version,
		BundleDigest: bundle.Digest,
		Languages:    languages,
		Pages:        []artifact.Page{{Name: DefaultPage, Elements: elements}},
		PageOrder:    []string{DefaultPage},
		PageLabels:   pageLabels,
		Interactions: []artifact.Interaction{interaction},
		Mapping:      mapping,
	}
	return artifact.Seal(p, artifact.KindPresentation, refn, slices.Sorted(maps.Keys(w.used)))
}

// attributes turns capture base attributes into page elements in declaration
// order, recording every addressable leaf under prefix.
func (w *walker) attributes(attrs artifact.AttributeMap, prefix string) ([]artifact.PageElement, error) {
	elements := make([]artifact.PageElement, 0, len(attrs))
	for _, attr := range attrs {
		name := attr.Name
		typ, err := artifact.ParseAttrType(attr.Type)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}

		inner := typ.Innermost()
		switch {
		case inner.IsReference():
			children, err := w.reference(inner.Digest(), prefix+name+".")
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", name, err)
			}
			elements = append(elements, artifact.PageElement{Page: &artifact.Page{Name: name, Elements: children}})
		case typ.IsArray():
			// Array elements get their own namespace under the attribute.
			w.leaves = append(w.leaves, leaf{path: prefix + name + "." + name, typ: inner.Base})
			elements = append(elements, artifact.PageElement{Name: name})
		default:
			w.leaves = append(w.leaves, leaf{path: prefix + name, typ: typ.Base})
			elements = append(elements, artifact.PageElement{Name: name})
		}
	}
	return elements, nil
}

func (w *walker) reference(d said.SAID, prefix string) ([]artifact.PageElement, error) {
	if w.deps == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingBundle, d)
	}
	built, ok := w.deps.Artifact(d)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingBundle, d)
	}
	nested, err := load(built)
	if err != nil {
		return nil, err
	}
	w.used[d] = true
	return w.attributes(nested.CaptureBase.Attributes, prefix)
}

// load verifies and decodes a bundle.
func load(b *artifact.Built) (*artifact.Bundle, error) {
	if b.Kind != artifact.KindBundle {
		return nil, fmt.Errorf("%s is a %s, not a bundle", b.Digest, b.Kind)
	}
	if err := b.Verify(); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", b.Digest, err)
	}
	return artifact.DecodeBundle(b)
}

// Paths returns every addressable attribute path of bundle, recursing into
// references and array elements.
func Paths(bundle *artifact.Built, deps artifact.Resolver) ([]string, error) {
	b, err := load(bundle)
	if err != nil {
		return nil, err
	}
	w := &walker{deps: deps, used: make(map[said.SAID]bool)}
	if _, err := w.attributes(b.CaptureBase.Attributes, ""); err != nil {
		return nil, err
	}
	out := make([]string, len(w.leaves))
	for i, lf := range w.leaves {
		out[i] = lf.path
	}
	return out, nil
}
