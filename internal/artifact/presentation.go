package artifact

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/oca-go/internal/said"
)

// Presentation carries display, translation and interaction metadata for a
// bundle.
type Presentation struct {
	Version      string                       `json:"v" yaml:"v"`
	BundleDigest said.SAID                    `json:"bd" yaml:"bd"`
	Languages    []string                     `json:"l" yaml:"l"`
	D            said.SAID                    `json:"d" yaml:"d"`
	Pages        []Page                       `json:"p" yaml:"p"`
	PageOrder    []string                     `json:"po" yaml:"po"`
	PageLabels   map[string]map[string]string `json:"pl" yaml:"pl"`
	Interactions []Interaction                `json:"i" yaml:"i"`
	Mapping      map[string]string            `json:"am,omitempty" yaml:"am,omitempty"`
}

func (p *Presentation) Digest() said.SAID     { return p.D }
func (p *Presentation) SetDigest(s said.SAID) { p.D = s }

// Page is a named, ordered group of page elements.
type Page struct {
	Name     string        `json:"n" yaml:"n"`
	Elements []PageElement `json:"ao" yaml:"ao"`
}

// PageElement is either an attribute name or a nested page for a referenced
// bundle.
type PageElement struct {
	Name string
	Page *Page
}

// Label returns the attribute or page name.
func (e PageElement) Label() string {
	if e.Page != nil {
		return e.Page.Name
	}
	return e.Name
}

func (e PageElement) MarshalJSON() ([]byte, error) {
	if e.Page != nil {
		return json.Marshal(e.Page)
	}
	return json.Marshal(e.Name)
}

func (e *PageElement) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*e = PageElement{Name: name}
		return nil
	}
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return fmt.Errorf("page element: %w", err)
	}
	*e = PageElement{Page: &page}
	return nil
}

func (e PageElement) MarshalYAML() (any, error) {
	if e.Page != nil {
		return e.Page, nil
	}
	return e.Name, nil
}

func (e *PageElement) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = PageElement{Name: node.Value}
		return nil
	}
	var page Page
	if err := node.Decode(&page); err != nil {
		return fmt.Errorf("page element: %w", err)
	}
	*e = PageElement{Page: &page}
	return nil
}

// Interaction maps attribute paths to input types for one method and
// context.
type Interaction struct {
	Method     string            `json:"m" yaml:"m"`
	Context    string            `json:"c" yaml:"c"`
	Attributes map[string]string `json:"a" yaml:"a"`
}
