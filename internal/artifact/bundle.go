package artifact

import (
	"github.com/Benny93/oca-go/internal/said"
)

// Type tags written into serialized artifacts.
const (
	TypeBundle         = "oca_bundle/1.0"
	TypeCaptureBase    = "capture_base/1.0"
	TypeTransformation = "transformation/1.0"
)

// OverlayType names an overlay kind.
type OverlayType string

const (
	OverlayLabel             OverlayType = "label"
	OverlayInformation       OverlayType = "information"
	OverlayMeta              OverlayType = "meta"
	OverlayCharacterEncoding OverlayType = "character_encoding"
	OverlayFormat            OverlayType = "format"
	OverlayUnit              OverlayType = "unit"
	OverlayConformance       OverlayType = "conformance"
	OverlayCardinality       OverlayType = "cardinality"
	OverlayEntryCode         OverlayType = "entry_code"
	OverlayEntry             OverlayType = "entry"
)

// Multilingual reports whether overlays of this type carry a language.
func (t OverlayType) Multilingual() bool {
	switch t {
	case OverlayLabel, OverlayInformation, OverlayMeta, OverlayEntry:
		return true
	default:
		return false
	}
}

// Tag returns the versioned type tag written into the overlay.
func (t OverlayType) Tag() string {
	return "overlay/" + string(t) + "/1.0"
}

// Bundle is a compiled schema: a capture base plus its overlays.
type Bundle struct {
	D           said.SAID   `json:"d"`
	Type        string      `json:"type"`
	CaptureBase CaptureBase `json:"capture_base"`
	Overlays    []*Overlay  `json:"overlays"`
}

func (b *Bundle) Digest() said.SAID     { return b.D }
func (b *Bundle) SetDigest(s said.SAID) { b.D = s }

// Languages returns the languages of the bundle's label overlays in overlay
// order.
func (b *Bundle) Languages() []string {
	var langs []string
	seen := make(map[string]bool)
	for _, o := range b.Overlays {
		if o.Type != OverlayLabel.Tag() || o.Language == "" || seen[o.Language] {
			continue
		}
		seen[o.Language] = true
		langs = append(langs, o.Language)
	}
	return langs
}

// CaptureBase declares the attributes of a bundle and their types.
type CaptureBase struct {
	D              said.SAID         `json:"d"`
	Type           string            `json:"type"`
	Classification string            `json:"classification"`
	Attributes     AttributeMap      `json:"attributes"`
	Flagged        []string          `json:"flagged_attributes"`
}

func (c *CaptureBase) Digest() said.SAID     { return c.D }
func (c *CaptureBase) SetDigest(s said.SAID) { c.D = s }

// Overlay layers per-attribute data onto a capture base.
type Overlay struct {
	D           said.SAID         `json:"d"`
	Type        string            `json:"type"`
	CaptureBase said.SAID         `json:"capture_base"`
	Language    string            `json:"language,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	Attributes  map[string]any    `json:"attributes,omitempty"`
}

func (o *Overlay) Digest() said.SAID     { return o.D }
func (o *Overlay) SetDigest(s said.SAID) { o.D = s }

// Transformation renames and links attributes between two bundles.
type Transformation struct {
	D       said.SAID         `json:"d"`
	Type    string            `json:"type"`
	Source  said.SAID         `json:"source"`
	Target  said.SAID         `json:"target,omitempty"`
	Renames map[string]string `json:"rename,omitempty"`
	Links   map[string]string `json:"link,omitempty"`
}

func (t *Transformation) Digest() said.SAID     { return t.D }
func (t *Transformation) SetDigest(s said.SAID) { t.D = s }
