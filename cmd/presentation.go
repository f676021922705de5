package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/presentation"
	"github.com/Benny93/oca-go/internal/storage"
)

// PresentationCmd groups the presentation subcommands.
type PresentationCmd struct {
	Generate PresentationGenerateCmd `cmd:"" help:"Generate the presentation of a stored bundle"`
	Validate PresentationValidateCmd `cmd:"" help:"Check the SAID of a presentation file"`
}

// PresentationGenerateCmd derives a presentation from a bundle.
type PresentationGenerateCmd struct {
	Said    string `required:"" help:"SAID or refn of the bundle"`
	Overlay string `help:"JSON overlay file with languages, page labels, interaction and mapping"`
	Format  string `default:"json" enum:"json,yaml" help:"Output format"`
	Output  string `short:"o" help:"Write to this file instead of stdout"`
	Store   bool   `help:"Store the generated presentation in the local repository"`
}

// Run executes the presentation generate command.
func (c *PresentationGenerateCmd) Run(ctx context.Context, app *App) error {
	format, err := presentation.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	var ov presentation.Overlays
	if c.Overlay != "" {
		data, err := os.ReadFile(app.abs(c.Overlay))
		if err != nil {
			return fmt.Errorf("reading overlay: %w", err)
		}
		if ov, err = presentation.ParseOverlays(data); err != nil {
			return err
		}
	}

	open := app.readStore
	if c.Store {
		open = app.store
	}
	store, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bundle, err := bundleOf(ctx, store, c.Said)
	if err != nil {
		return err
	}
	built, err := presentation.Generate(bundle, storage.Resolver(ctx, store), ov)
	if err != nil {
		return err
	}
	if c.Store {
		if err := store.Put(ctx, []*artifact.Built{built}); err != nil {
			return fmt.Errorf("storing presentation: %w", err)
		}
	}

	p, err := artifact.DecodePresentation(built)
	if err != nil {
		return err
	}
	out, err := presentation.Encode(p, format)
	if err != nil {
		return err
	}
	if c.Output == "" {
		_, err = app.Stdout.Write(out)
		if err == nil && format == presentation.FormatJSON {
			app.printf("\n")
		}
		return err
	}
	if err := os.WriteFile(app.abs(c.Output), out, 0o644); err != nil {
		return fmt.Errorf("writing presentation: %w", err)
	}
	app.success("✓ Wrote presentation %s to %s", built.Digest, c.Output)
	return nil
}

// PresentationValidateCmd verifies a presentation file.
type PresentationValidateCmd struct {
	File        string `arg:"" help:"Presentation file (.json, .yaml or .yml)"`
	Recalculate bool   `help:"Rewrite the file with the correct SAID instead of failing"`
}

// Run executes the presentation validate command.
func (c *PresentationValidateCmd) Run(app *App) error {
	path := app.abs(c.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	format := presentation.FormatJSON
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		format = presentation.FormatYAML
	}
	p, err := presentation.Decode(data, format)
	if err != nil {
		return err
	}

	previous := p.D
	d, err := presentation.Check(p, c.Recalculate)
	if err != nil {
		app.failure("✗ %s: %v", c.File, err)
		return fmt.Errorf("presentation %s is invalid", c.File)
	}
	if !c.Recalculate || d == previous {
		app.success("✓ %s %s", c.File, d)
		return nil
	}

	p.D = d
	out, err := presentation.Encode(p, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("rewriting %s: %w", c.File, err)
	}
	if previous.IsZero() {
		app.success("✓ %s: set SAID %s", c.File, d)
	} else {
		app.warn("✓ %s: SAID %s replaced by %s", c.File, previous, d)
	}
	return nil
}

// MappingCmd prints an attribute mapping skeleton.
type MappingCmd struct {
	Ref string `arg:"" help:"SAID or refn of the bundle"`
}

// Run executes the mapping command.
func (c *MappingCmd) Run(ctx context.Context, app *App) error {
	store, err := app.readStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bundle, err := bundleOf(ctx, store, c.Ref)
	if err != nil {
		return err
	}
	m, err := presentation.MappingSkeleton(bundle, storage.Resolver(ctx, store))
	if err != nil {
		return err
	}
	return app.writeJSON(m)
}

// bundleOf loads a stored bundle by SAID or refn.
func bundleOf(ctx context.Context, store storage.Backend, ref string) (*artifact.Built, error) {
	d, err := storage.Lookup(ctx, store, ref)
	if err != nil {
		return nil, err
	}
	b, err := store.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	if b.Kind != artifact.KindBundle {
		return nil, fmt.Errorf("%s is a %s, not a bundle", ref, b.Kind)
	}
	return b, nil
}
