package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/Benny93/oca-go/mcp"
)

// MCPCmd serves the local repository over MCP on stdio.
type MCPCmd struct{}

// Run executes the mcp command. Blocks until the client disconnects.
func (c *MCPCmd) Run(ctx context.Context, app *App) error {
	ctx = app.context(ctx)
	store, err := app.readStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	server := mcp.NewServer(store, mcp.Options{
		Dir:     app.Dir,
		Workers: app.Config.Workers,
		Logger:  app.Logger,
		Version: Version,
	})
	app.Logger.Info("MCP server listening on stdio.", "repository", app.Config.RepositoryPath())
	err = server.Run(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
