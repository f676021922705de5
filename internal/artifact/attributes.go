package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Attribute is one declared capture base attribute.
type Attribute struct {
	Name string
	Type string
}

// AttributeMap holds capture base attributes in declaration order. It encodes
// as a JSON object whose keys keep that order, so the order is part of the
// canonical form.
type AttributeMap []Attribute

// Get returns the type of the attribute name.
func (m AttributeMap) Get(name string) (string, bool) {
	for _, a := range m {
		if a.Name == name {
			return a.Type, true
		}
	}
	return "", false
}

// Set adds the attribute name, or replaces its type when already declared.
func (m *AttributeMap) Set(name, typ string) {
	for i, a := range *m {
		if a.Name == name {
			(*m)[i].Type = typ
			return
		}
	}
	*m = append(*m, Attribute{Name: name, Type: typ})
}

// Names returns the attribute names in declaration order.
func (m AttributeMap) Names() []string {
	out := make([]string, len(m))
	for i, a := range m {
		out[i] = a.Name
	}
	return out
}

// Map returns the attributes as name to type.
func (m AttributeMap) Map() map[string]string {
	out := make(map[string]string, len(m))
	for _, a := range m {
		out[a.Name] = a.Type
	}
	return out
}

func (m AttributeMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	out := []byte{'{'}
	for i, a := range m {
		if i > 0 {
			out = append(out, ',')
		}
		for j, s := range []string{a.Name, a.Type} {
			buf.Reset()
			if err := enc.Encode(s); err != nil {
				return nil, err
			}
			out = append(out, bytes.TrimSuffix(buf.Bytes(), []byte("\n"))...)
			if j == 0 {
				out = append(out, ':')
			}
		}
	}
	return append(out, '}'), nil
}

func (m *AttributeMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil {
		return err
	} else if tok != json.Delim('{') {
		return errors.New("attributes must be a JSON object")
	}

	out := AttributeMap{}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var typ string
		if err := dec.Decode(&typ); err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
		if seen[name] {
			return fmt.Errorf("attribute %q is declared twice", name)
		}
		seen[name] = true
		out = append(out, Attribute{Name: name, Type: typ})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
