package compiler

import (
	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/presentation"
)

func compilePresentation(in Input) (*artifact.Built, error) {
	doc := in.Doc
	p := &problems{refn: doc.Refn}

	var (
		bundle *artifact.Built
		ov     presentation.Overlays
	)
	for _, cmd := range doc.Commands {
		switch cmd.Name() {
		case "FROM":
			dep, err := dependency(in, cmd.Args[0])
			if err != nil {
				p.add(cmd.Line, "FROM: %v", err)
				continue
			}
			if dep.Kind != artifact.KindBundle || dep.Serialized == nil {
				p.add(cmd.Line, "FROM must name an available bundle, got %s", cmd.Args[0])
				continue
			}
			if bundle != nil {
				p.add(cmd.Line, "FROM is given twice")
			}
			bundle = dep
		case "ADD LANGUAGE":
			for _, lang := range cmd.Args {
				if !validLanguage(lang) {
					p.add(cmd.Line, "invalid language code %q", lang)
					continue
				}
				ov.Languages = append(ov.Languages, lang)
			}
		case "ADD PAGE_LABEL":
			lang := cmd.Args[0]
			if !validLanguage(lang) {
				p.add(cmd.Line, "invalid language code %q", lang)
				continue
			}
			if ov.PageLabels == nil {
				ov.PageLabels = make(map[string]map[string]string)
			}
			if ov.PageLabels[lang] == nil {
				ov.PageLabels[lang] = make(map[string]string)
			}
			for _, prop := range cmd.Props {
				ov.PageLabels[lang][prop.Key] = prop.Value
			}
		case "ADD INTERACTION":
			if ov.Interaction != nil {
				p.add(cmd.Line, "only one interaction may be declared")
				continue
			}
			ov.Interaction = &presentation.Interaction{
				Method:     cmd.Args[0],
				Context:    cmd.Args[1],
				Attributes: make(map[string]string, len(cmd.Props)),
			}
			for _, prop := range cmd.Props {
				ov.Interaction.Attributes[prop.Key] = prop.Value
			}
		case "ADD MAPPING":
			if ov.Mapping == nil {
				ov.Mapping = make(map[string]string)
			}
			for _, prop := range cmd.Props {
				ov.Mapping[prop.Key] = prop.Value
			}
		default:
			p.add(cmd.Line, "%s is not allowed in a presentation", cmd.Name())
		}
	}

	if bundle == nil {
		p.add(0, "presentation needs a FROM bundle")
	}
	if err := p.err(); err != nil {
		return nil, err
	}

	built, err := presentation.Generate(bundle, in.Resolver, ov)
	if err != nil {
		return nil, err
	}
	built.Refn = doc.Refn
	return built, nil
}
