package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Benny93/oca-go/internal/said"
	"github.com/Benny93/oca-go/internal/storage"
)

// ShowCmd pretty-prints a stored artifact.
type ShowCmd struct {
	Ref         string `arg:"" help:"SAID or refn of the artifact"`
	Dereference bool   `help:"Include every artifact it depends on, keyed by SAID"`
}

// Run executes the show command.
func (c *ShowCmd) Run(ctx context.Context, app *App) error {
	store, err := app.readStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	d, err := storage.Lookup(ctx, store, c.Ref)
	if err != nil {
		return err
	}
	if !c.Dereference {
		a, err := store.Get(ctx, d)
		if err != nil {
			return err
		}
		out, err := a.Indent()
		if err != nil {
			return err
		}
		app.printf("%s\n", out)
		return nil
	}

	closure, err := storage.Closure(ctx, store, d)
	if err != nil {
		return err
	}
	root := closure[len(closure)-1]
	deps := make(map[said.SAID]json.RawMessage, len(closure)-1)
	for _, a := range closure[:len(closure)-1] {
		deps[a.Digest] = a.Serialized
	}
	return app.writeJSON(struct {
		Artifact     json.RawMessage                `json:"artifact"`
		Dependencies map[said.SAID]json.RawMessage `json:"dependencies"`
	}{root.Serialized, deps})
}

// GetCmd prints the canonical serialized form of a stored artifact.
type GetCmd struct {
	Ref              string `arg:"" help:"SAID or refn of the artifact"`
	WithDependencies bool   `help:"Print its dependencies first, one artifact per line"`
}

// Run executes the get command.
func (c *GetCmd) Run(ctx context.Context, app *App) error {
	store, err := app.readStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	d, err := storage.Lookup(ctx, store, c.Ref)
	if err != nil {
		return err
	}
	if !c.WithDependencies {
		a, err := store.Get(ctx, d)
		if err != nil {
			return err
		}
		app.printf("%s\n", a.Serialized)
		return nil
	}
	closure, err := storage.Closure(ctx, store, d)
	if err != nil {
		return err
	}
	for _, a := range closure {
		app.printf("%s\n", a.Serialized)
	}
	return nil
}

// ListCmd lists stored artifacts.
type ListCmd struct {
	Page   int    `default:"1" help:"Page number, starting at 1"`
	Size   int    `default:"20" help:"Artifacts per page"`
	Search string `short:"s" help:"Search refns, attribute names and classifications"`
	JSON   bool   `help:"Print as JSON"`
}

// Run executes the list command.
func (c *ListCmd) Run(ctx context.Context, app *App) error {
	if c.Page < 1 || c.Size < 1 {
		return fmt.Errorf("--page and --size must be positive")
	}
	store, err := app.readStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if c.Search != "" {
		results, err := store.Search(ctx, c.Search, c.Size)
		if err != nil {
			return fmt.Errorf("searching: %w", err)
		}
		if c.JSON {
			return app.writeJSON(results)
		}
		if len(results) == 0 {
			app.printf("No results found\n")
			return nil
		}
		for i, r := range results {
			app.printf("%d. %-24s %-14s %s (score %.0f)\n", i+1, r.Refn, r.Kind, r.Digest, r.Score)
		}
		return nil
	}

	summaries, total, err := store.List(ctx, (c.Page-1)*c.Size, c.Size)
	if err != nil {
		return err
	}
	if c.JSON {
		return app.writeJSON(struct {
			Page  int               `json:"page"`
			Size  int               `json:"size"`
			Total int               `json:"total"`
			Items []storage.Summary `json:"items"`
		}{c.Page, c.Size, total, summaries})
	}
	if total == 0 {
		app.printf("Local repository is empty\n")
		return nil
	}
	for _, s := range summaries {
		app.printf("%s  %-14s %-24s %6d bytes\n", s.Digest, s.Kind, s.Refn, s.Size)
	}
	pages := (total + c.Size - 1) / c.Size
	app.heading("\nPage %d of %d (%d artifacts)", c.Page, pages, total)
	return nil
}
