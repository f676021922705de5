package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/build"
	"github.com/Benny93/oca-go/internal/config"
	"github.com/Benny93/oca-go/internal/graph"
	"github.com/Benny93/oca-go/internal/publish"
	"github.com/Benny93/oca-go/internal/said"
	"github.com/Benny93/oca-go/internal/storage"
)

// PublishCmd uploads artifacts with their dependencies to a remote
// repository.
type PublishCmd struct {
	Sources

	RepositoryURL string        `name:"repository-url" help:"Remote OCA repository (default: remote_repo_url from config)"`
	Timeout       time.Duration `help:"Timeout of each upload (default: publish_timeout from config)"`
	Saids         []string      `name:"said" help:"Stored artifact to publish, SAID or refn (repeatable)"`
	Refs          []string      `name:"ref" help:"Stored refn to publish (repeatable)"`
}

// Run executes the publish command. Without --said or --ref the selected
// ocafiles are built first and everything built is published.
func (c *PublishCmd) Run(ctx context.Context, app *App) error {
	ctx = app.context(ctx)
	repo := c.RepositoryURL
	if repo == "" {
		repo = app.Config.RemoteRepoURL
	}
	if repo == "" {
		return errors.New("no repository URL: pass --repository-url or set remote_repo_url")
	}
	repo, err := config.NormalizeURL(repo)
	if err != nil {
		return fmt.Errorf("repository URL: %w", err)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = app.Config.PublishTimeout
	}

	store, err := app.store()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var (
		arts        []*artifact.Built
		g           *graph.DependencyGraph
		buildFailed int
	)
	if len(c.Saids) > 0 || len(c.Refs) > 0 {
		if arts, err = c.stored(ctx, store); err != nil {
			return err
		}
	} else {
		files, explicit, err := c.load(app)
		if err != nil {
			return err
		}
		res, err := app.runBuild(ctx, store, app.engine(ctx, store, build.NewCache()), files, selection{explicit: explicit})
		if err != nil {
			return err
		}
		// Failed builds and their dependents are left out; everything else
		// is still published.
		buildFailed = app.printBuildFailures(res)
		g, arts = res.graph.WithDigests(res.report.Digests()), res.artifacts()
	}
	if len(arts) == 0 {
		app.warn("Nothing to publish")
		if buildFailed > 0 {
			return fmt.Errorf("%d build(s) failed", buildFailed)
		}
		return nil
	}

	app.heading("Publishing %d artifact(s) to %s", len(arts), publish.Endpoint(repo))
	s := &publish.Scheduler{
		Transport: app.Transport,
		Timeout:   timeout,
		Workers:   app.Config.Workers,
		Logger:    app.Logger,
	}
	statuses := s.Publish(ctx, arts, g, repo)
	err = app.printPublish(arts, statuses)
	if buildFailed > 0 {
		err = errors.Join(fmt.Errorf("%d build(s) failed", buildFailed), err)
	}
	return err
}

// stored collects the named artifacts and their dependencies from store.
func (c *PublishCmd) stored(ctx context.Context, store storage.Backend) ([]*artifact.Built, error) {
	var (
		out  []*artifact.Built
		seen = make(map[said.SAID]bool)
	)
	for _, ref := range append(append([]string{}, c.Saids...), c.Refs...) {
		d, err := storage.Lookup(ctx, store, ref)
		if err != nil {
			return nil, err
		}
		closure, err := storage.Closure(ctx, store, d)
		if err != nil {
			return nil, err
		}
		for _, a := range closure {
			if !seen[a.Digest] {
				seen[a.Digest] = true
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (a *App) printPublish(arts []*artifact.Built, statuses map[said.SAID]publish.Status) error {
	failed := 0
	for _, art := range arts {
		st, ok := statuses[art.Digest]
		if !ok {
			continue
		}
		name := art.Refn
		if name == "" {
			name = string(art.Kind)
		}
		switch {
		case st.OK():
			a.success("✓ %-24s %s", name, art.Digest)
		case st.Err != nil:
			failed++
			a.failure("✗ %-24s %s %s: %v", name, art.Digest, st, st.Err)
		default:
			failed++
			a.failure("✗ %-24s %s %s", name, art.Digest, st)
		}
		// Repeated digests are reported once.
		delete(statuses, art.Digest)
	}
	if failed > 0 {
		return fmt.Errorf("%d artifact(s) failed to publish", failed)
	}
	return nil
}
