package compiler

import (
	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

func compileTransformation(in Input) (*artifact.Built, error) {
	doc := in.Doc
	p := &problems{refn: doc.Refn}
	deps := make(map[said.SAID]bool)
	tr := &artifact.Transformation{Type: artifact.TypeTransformation}

	var (
		sourceAttrs, targetAttrs map[string]string
		renames, links           []int
	)

	for i, cmd := range doc.Commands {
		switch cmd.Name() {
		case "FROM", "TO":
			dep, err := dependency(in, cmd.Args[0])
			if err != nil {
				p.add(cmd.Line, "%s: %v", cmd.Verb, err)
				continue
			}
			if dep.Kind != artifact.KindBundle {
				p.add(cmd.Line, "%s must name a bundle, %s is a %s", cmd.Verb, cmd.Args[0], dep.Kind)
				continue
			}
			attrs := attributesOf(dep)
			deps[dep.Digest] = true
			if cmd.Verb == "FROM" {
				if !tr.Source.IsZero() {
					p.add(cmd.Line, "FROM is given twice")
				}
				tr.Source, sourceAttrs = dep.Digest, attrs
			} else {
				if !tr.Target.IsZero() {
					p.add(cmd.Line, "TO is given twice")
				}
				tr.Target, targetAttrs = dep.Digest, attrs
			}
		case "RENAME ATTRIBUTE":
			renames = append(renames, i)
		case "LINK ATTRIBUTE":
			links = append(links, i)
		default:
			p.add(cmd.Line, "%s is not allowed in a transformation", cmd.Name())
		}
	}

	if tr.Source.IsZero() {
		p.add(0, "transformation needs a FROM bundle")
	}

	for _, i := range renames {
		cmd := doc.Commands[i]
		for _, prop := range cmd.Props {
			if sourceAttrs != nil && sourceAttrs[prop.Key] == "" {
				p.add(cmd.Line, "rename of %q: no such attribute in the source bundle", prop.Key)
				continue
			}
			if targetAttrs != nil && targetAttrs[prop.Value] == "" {
				p.add(cmd.Line, "rename to %q: no such attribute in the target bundle", prop.Value)
				continue
			}
			if tr.Renames == nil {
				tr.Renames = make(map[string]string)
			}
			if _, dup := tr.Renames[prop.Key]; dup {
				p.add(cmd.Line, "attribute %q is renamed twice", prop.Key)
				continue
			}
			tr.Renames[prop.Key] = prop.Value
		}
	}

	for _, i := range links {
		cmd := doc.Commands[i]
		if tr.Target.IsZero() {
			p.add(cmd.Line, "LINK ATTRIBUTE needs a TO bundle")
			continue
		}
		for _, prop := range cmd.Props {
			if sourceAttrs != nil && sourceAttrs[prop.Key] == "" {
				p.add(cmd.Line, "link of %q: no such attribute in the source bundle", prop.Key)
				continue
			}
			if targetAttrs != nil && targetAttrs[prop.Value] == "" {
				p.add(cmd.Line, "link to %q: no such attribute in the target bundle", prop.Value)
				continue
			}
			if tr.Links == nil {
				tr.Links = make(map[string]string)
			}
			tr.Links[prop.Key] = prop.Value
		}
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	return artifact.Seal(tr, artifact.KindTransformation, doc.Refn, sortedDigests(deps))
}

// attributesOf returns the capture base attributes of a bundle, or nil when
// only its digest is known.
func attributesOf(b *artifact.Built) map[string]string {
	if b.Serialized == nil {
		return nil
	}
	bundle, err := artifact.DecodeBundle(b)
	if err != nil {
		return nil
	}
	return bundle.CaptureBase.Attributes.Map()
}
