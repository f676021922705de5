package compiler

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/tidwall/jsonc"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

var overlayCommands = map[string]artifact.OverlayType{
	"ADD LABEL":              artifact.OverlayLabel,
	"ADD INFORMATION":        artifact.OverlayInformation,
	"ADD META":               artifact.OverlayMeta,
	"ADD CHARACTER_ENCODING": artifact.OverlayCharacterEncoding,
	"ADD FORMAT":             artifact.OverlayFormat,
	"ADD UNIT":               artifact.OverlayUnit,
	"ADD CONFORMANCE":        artifact.OverlayConformance,
	"ADD CARDINALITY":        artifact.OverlayCardinality,
	"ADD ENTRY_CODE":         artifact.OverlayEntryCode,
	"ADD ENTRY":              artifact.OverlayEntry,
}

type overlayKey struct {
	typ  artifact.OverlayType
	lang string
}

func compileBundle(in Input) (*artifact.Built, error) {
	doc := in.Doc
	p := &problems{refn: doc.Refn}
	deps := make(map[said.SAID]bool)

	cb := artifact.CaptureBase{
		Type:       artifact.TypeCaptureBase,
		Attributes: artifact.AttributeMap{},
		Flagged:    []string{},
	}

	// Capture base first, so overlays may precede the attributes they
	// describe.
	for _, cmd := range doc.Commands {
		switch cmd.Name() {
		case "ADD ATTRIBUTE":
			for _, prop := range cmd.Props {
				if _, dup := cb.Attributes.Get(prop.Key); dup {
					p.add(cmd.Line, "attribute %q is declared twice", prop.Key)
					continue
				}
				typ, err := artifact.ParseAttrType(prop.Value)
				if err != nil {
					p.add(cmd.Line, "attribute %q: %v", prop.Key, err)
					continue
				}
				if inner := typ.Innermost(); inner.IsReference() {
					dep, err := dependency(in, inner.String())
					if err != nil {
						p.add(cmd.Line, "attribute %q: %v", prop.Key, err)
						continue
					}
					if dep.Kind != artifact.KindBundle {
						p.add(cmd.Line, "attribute %q must reference a bundle, %s is a %s", prop.Key, inner.Ref, dep.Kind)
						continue
					}
					typ = typ.Resolve(dep.Digest)
					deps[dep.Digest] = true
				}
				cb.Attributes.Set(prop.Key, typ.String())
			}
		case "ADD CLASSIFICATION":
			if cb.Classification != "" {
				p.add(cmd.Line, "classification is set twice")
			}
			cb.Classification = cmd.Args[0]
		case "ADD FLAGGED_ATTRIBUTES":
			cb.Flagged = append(cb.Flagged, cmd.Args...)
		}
	}

	if len(cb.Attributes) == 0 {
		p.add(0, "bundle declares no attributes")
	}

	flagged := make(map[string]bool)
	for _, name := range cb.Flagged {
		if _, ok := cb.Attributes.Get(name); !ok {
			p.add(0, "flagged attribute %q is not declared", name)
		}
		flagged[name] = true
	}
	cb.Flagged = make([]string, 0, len(flagged))
	for name := range flagged {
		cb.Flagged = append(cb.Flagged, name)
	}
	slices.Sort(cb.Flagged)

	overlays := make(map[overlayKey]*artifact.Overlay)
	for _, cmd := range doc.Commands {
		switch cmd.Name() {
		case "ADD ATTRIBUTE", "ADD CLASSIFICATION", "ADD FLAGGED_ATTRIBUTES":
			continue
		}
		typ, ok := overlayCommands[cmd.Name()]
		if !ok {
			p.add(cmd.Line, "%s is not allowed in a bundle", cmd.Name())
			continue
		}

		key := overlayKey{typ: typ}
		if typ.Multilingual() {
			key.lang = cmd.Args[0]
			if !validLanguage(key.lang) {
				p.add(cmd.Line, "invalid language code %q", key.lang)
				continue
			}
		}
		ov, ok := overlays[key]
		if !ok {
			ov = &artifact.Overlay{Type: typ.Tag(), Language: key.lang}
			overlays[key] = ov
		}

		if typ == artifact.OverlayMeta {
			if ov.Properties == nil {
				ov.Properties = make(map[string]string)
			}
			for _, prop := range cmd.Props {
				ov.Properties[prop.Key] = prop.Value
			}
			continue
		}

		if ov.Attributes == nil {
			ov.Attributes = make(map[string]any)
		}
		for _, prop := range cmd.Props {
			if _, declared := cb.Attributes.Get(prop.Key); !declared {
				p.add(cmd.Line, "%s references undeclared attribute %q", cmd.Name(), prop.Key)
				continue
			}
			value, err := overlayValue(typ, prop.Value)
			if err != nil {
				p.add(cmd.Line, "%s %s: %v", cmd.Name(), prop.Key, err)
				continue
			}
			ov.Attributes[prop.Key] = value
		}
	}

	checkEntries(p, overlays)

	if err := p.err(); err != nil {
		return nil, err
	}

	if _, err := said.Compute(&cb); err != nil {
		return nil, err
	}
	list := make([]*artifact.Overlay, 0, len(overlays))
	for _, ov := range overlays {
		ov.CaptureBase = cb.D
		if _, err := said.Compute(ov); err != nil {
			return nil, err
		}
		list = append(list, ov)
	}
	slices.SortFunc(list, func(a, b *artifact.Overlay) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Language, b.Language))
	})

	bundle := &artifact.Bundle{
		Type:        artifact.TypeBundle,
		CaptureBase: cb,
		Overlays:    list,
	}
	return artifact.Seal(bundle, artifact.KindBundle, doc.Refn, sortedDigests(deps))
}

func overlayValue(typ artifact.OverlayType, raw string) (any, error) {
	switch typ {
	case artifact.OverlayConformance:
		if raw != "M" && raw != "O" {
			return nil, fmt.Errorf("conformance must be M or O, got %q", raw)
		}
		return raw, nil
	case artifact.OverlayEntryCode:
		var codes []string
		if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &codes); err != nil {
			return nil, fmt.Errorf("entry codes must be a list of strings: %w", err)
		}
		if len(codes) == 0 {
			return nil, fmt.Errorf("entry codes are empty")
		}
		return codes, nil
	case artifact.OverlayEntry:
		var entries map[string]string
		if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &entries); err != nil {
			return nil, fmt.Errorf("entries must map codes to labels: %w", err)
		}
		return entries, nil
	default:
		return raw, nil
	}
}

// checkEntries reports entry labels for codes that the entry code overlay
// does not declare.
func checkEntries(p *problems, overlays map[overlayKey]*artifact.Overlay) {
	codes := overlays[overlayKey{typ: artifact.OverlayEntryCode}]

	var langs []string
	for key := range overlays {
		if key.typ == artifact.OverlayEntry {
			langs = append(langs, key.lang)
		}
	}
	slices.Sort(langs)

	for _, lang := range langs {
		ov := overlays[overlayKey{typ: artifact.OverlayEntry, lang: lang}]
		for _, attr := range slices.Sorted(maps.Keys(ov.Attributes)) {
			var declared []string
			if codes != nil {
				declared, _ = codes.Attributes[attr].([]string)
			}
			if declared == nil {
				p.add(0, "entry overlay (%s) for %q has no entry codes", lang, attr)
				continue
			}
			entries := ov.Attributes[attr].(map[string]string)
			for _, code := range slices.Sorted(maps.Keys(entries)) {
				if !slices.Contains(declared, code) {
					p.add(0, "entry overlay (%s) for %q uses unknown code %q", lang, attr, code)
				}
			}
		}
	}
}

func validLanguage(lang string) bool {
	if len(lang) < 2 || len(lang) > 3 {
		return false
	}
	for _, r := range lang {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
