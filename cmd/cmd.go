// Package cmd provides CLI command implementations for oca.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/Benny93/oca-go/internal/config"
	"github.com/Benny93/oca-go/internal/ctxlog"
	"github.com/Benny93/oca-go/internal/publish"
	"github.com/Benny93/oca-go/internal/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App is the environment every command runs in.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	// Dir is the working directory.
	Dir string

	Config *config.Config
	Logger *slog.Logger

	// OpenStore opens the local object store. Tests substitute an in-memory
	// backend.
	OpenStore func(readOnly bool) (storage.Backend, error)

	// Transport publishes artifacts; HTTP when nil.
	Transport publish.Transport
}

// context returns ctx carrying the app logger.
func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.Logger)
}

func (a *App) success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(a.Stdout, format+"\n", args...)
}

func (a *App) warn(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(a.Stdout, format+"\n", args...)
}

func (a *App) failure(format string, args ...any) {
	color.New(color.FgRed).Fprintf(a.Stdout, format+"\n", args...)
}

func (a *App) heading(format string, args ...any) {
	color.New(color.FgCyan).Fprintf(a.Stdout, format+"\n", args...)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Stdout, format, args...)
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// store opens the object store for writing.
func (a *App) store() (storage.Backend, error) {
	return a.OpenStore(false)
}

// readStore opens the object store read-only.
func (a *App) readStore() (storage.Backend, error) {
	return a.OpenStore(true)
}

// openBadger opens the configured local repository.
func openBadger(cfg *config.Config) func(readOnly bool) (storage.Backend, error) {
	return func(readOnly bool) (storage.Backend, error) {
		tag, err := storage.ParseCompressionTag(cfg.Compression)
		if err != nil {
			return nil, err
		}
		path := cfg.RepositoryPath()
		if readOnly {
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("no local repository at %s. Run 'oca init' or 'oca build' first", path)
			}
		} else if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating local repository: %w", err)
		}

		store := storage.NewBadgerBackend(tag)
		if err := store.Initialize(path, readOnly); err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		return store, nil
	}
}

// Globals are flags shared by every command.
type Globals struct {
	Config    string `help:"Configuration file (default: .oca/config.yaml in the working or home directory)" type:"path"`
	LogLevel  string `help:"Log level: debug, info, warn, error (overrides config)"`
	LogFormat string `help:"Log format: text or json" enum:"text,json" default:"text"`
	Workers   int    `help:"Concurrent workers (overrides config)"`
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Init         InitCmd         `cmd:"" help:"Create .oca/config.yaml and the local repository"`
	ShowConfig   ConfigCmd       `cmd:"" name:"config" help:"Print the effective configuration"`
	Build        BuildCmd        `cmd:"" help:"Build ocafiles into the local repository"`
	Validate     ValidateCmd     `cmd:"" help:"Validate ocafiles without storing anything"`
	Publish      PublishCmd      `cmd:"" help:"Publish artifacts to a remote OCA repository"`
	Show         ShowCmd         `cmd:"" help:"Show a stored artifact"`
	Get          GetCmd          `cmd:"" help:"Print the serialized form of a stored artifact"`
	List         ListCmd         `cmd:"" help:"List stored artifacts"`
	Graph        GraphCmd        `cmd:"" help:"Show the dependency graph of ocafiles"`
	Presentation PresentationCmd `cmd:"" help:"Generate or validate presentations"`
	Mapping      MappingCmd      `cmd:"" help:"Print an attribute mapping skeleton for a bundle"`
	Watch        WatchCmd        `cmd:"" help:"Rebuild ocafiles on change"`
	MCP          MCPCmd          `cmd:"" help:"Start MCP server (stdio transport)"`
	Versions     VersionCmd      `cmd:"" name:"version" help:"Print the version"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	app := &App{Stdout: os.Stdout, Stderr: os.Stderr, Dir: dir}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return c.ExecuteWith(ctx, app, args)
}

// ExecuteWith parses args and runs the selected command in app. Fields of app
// left unset are filled from the configuration. Kong calls any Run method on
// the command path, so the root must not have one.
func (c *CLI) ExecuteWith(ctx context.Context, app *App, args []string) error {
	parser, err := kong.New(c,
		kong.Name("oca"),
		kong.Description("Build, validate and publish OCA bundles from ocafiles"),
		kong.UsageOnError(),
		kong.Writers(app.Stdout, app.Stderr),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.Bind(app),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	if err := c.configure(app); err != nil {
		return err
	}
	return kctx.Run()
}

// configure loads the configuration and applies the global flags.
func (c *CLI) configure(app *App) error {
	if app.Config == nil {
		var (
			cfg *config.Config
			err error
		)
		if c.Config != "" {
			cfg, err = config.LoadFile(c.Config)
		} else {
			cfg, err = config.Load(app.Dir)
		}
		if err != nil {
			return err
		}
		app.Config = cfg
	}
	if c.Workers > 0 {
		app.Config.Workers = c.Workers
	}
	if c.LogLevel != "" {
		app.Config.LogLevel = c.LogLevel
	}
	if app.Logger == nil {
		app.Logger = ctxlog.New(app.Config.LogLevel, c.LogFormat, app.Stderr)
	}
	if app.OpenStore == nil {
		app.OpenStore = openBadger(app.Config)
	}
	if app.Transport == nil {
		app.Transport = &publish.HTTPTransport{}
	}
	return nil
}

// InitCmd creates the configuration.
type InitCmd struct{}

// Run executes the init command.
func (c *InitCmd) Run(app *App) error {
	cfg, created, err := config.Init(app.Dir)
	if err != nil {
		return err
	}
	if !created {
		app.warn("Already initialized: %s", cfg.Path)
		return nil
	}
	app.success("✓ Created %s", cfg.Path)
	app.printf("  Local repository: %s\n", cfg.RepositoryPath())
	return nil
}

// ConfigCmd prints the effective configuration.
type ConfigCmd struct{}

// Run executes the config command.
func (c *ConfigCmd) Run(app *App) error {
	data, err := app.Config.Marshal()
	if err != nil {
		return err
	}
	if app.Config.Path != "" {
		app.printf("# %s\n", app.Config.Path)
	} else {
		app.printf("# defaults (no configuration file found)\n")
	}
	_, err = app.Stdout.Write(data)
	return err
}

// VersionCmd prints the version.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(app *App) error {
	app.printf("oca %s\n", Version)
	return nil
}
