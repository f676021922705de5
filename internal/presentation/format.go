package presentation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

// Format is a presentation file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses "json" or "yaml".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatYAML:
		return Format(s), nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown presentation format %q", s)
	}
}

// Encode writes p in the given format.
func Encode(p *artifact.Presentation, f Format) ([]byte, error) {
	switch f {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return nil, fmt.Errorf("encoding presentation: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(p, "", "  ")
	}
}

// Decode reads a presentation in the given format.
func Decode(data []byte, f Format) (*artifact.Presentation, error) {
	var p artifact.Presentation
	switch f {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decoding presentation: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decoding presentation: %w", err)
		}
	}
	if p.Languages == nil {
		p.Languages = []string{}
	}
	return &p, nil
}

// Check verifies the digest of p. With recalculate set, a wrong or missing
// digest is replaced by the computed one instead of failing.
func Check(p *artifact.Presentation, recalculate bool) (said.SAID, error) {
	if recalculate {
		return said.Compute(p)
	}
	if p.D.IsZero() {
		return "", errors.New("presentation carries no digest")
	}
	if err := said.Verify(p); err != nil {
		return "", err
	}
	return p.D, nil
}

// ParseOverlays reads an overlay file. Comments and trailing commas are
// allowed.
func ParseOverlays(data []byte) (Overlays, error) {
	var ov Overlays
	if err := json.Unmarshal(jsonc.ToJSON(data), &ov); err != nil {
		return Overlays{}, fmt.Errorf("parsing overlays: %w", err)
	}
	return ov, nil
}

// Mapping is an attribute mapping skeleton for a bundle.
type Mapping struct {
	CaptureBase      said.SAID         `json:"capture_base"`
	AttributeMapping map[string]string `json:"attribute_mapping"`
}

// MappingSkeleton lists every attribute path of bundle with an empty target.
func MappingSkeleton(bundle *artifact.Built, deps artifact.Resolver) (*Mapping, error) {
	paths, err := Paths(bundle, deps)
	if err != nil {
		return nil, err
	}
	b, err := artifact.DecodeBundle(bundle)
	if err != nil {
		return nil, err
	}
	m := &Mapping{
		CaptureBase:      b.CaptureBase.D,
		AttributeMapping: make(map[string]string, len(paths)),
	}
	for _, p := range paths {
		m.AttributeMapping[p] = ""
	}
	return m, nil
}
