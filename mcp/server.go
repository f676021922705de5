// Package mcp provides the MCP (Model Context Protocol) server for oca.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/discovery"
	"github.com/Benny93/oca-go/internal/graph"
	"github.com/Benny93/oca-go/internal/ocafile"
	"github.com/Benny93/oca-go/internal/presentation"
	"github.com/Benny93/oca-go/internal/said"
	"github.com/Benny93/oca-go/internal/storage"
	"github.com/Benny93/oca-go/internal/validate"
)

// RefsURI is the resource listing the refn index.
const RefsURI = "oca://refs"

// Server represents the MCP server.
type Server struct {
	store  storage.Backend
	opts   Options
	server *mcp.Server
}

// Options configure a Server.
type Options struct {
	// Dir resolves relative paths passed to oca_validate.
	Dir string

	Workers int
	Logger  *slog.Logger
	Version string
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server over store.
func NewServer(store storage.Backend, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{store: store, opts: opts}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "oca",
		Version: opts.Version,
	}, nil)

	s.registerTools()
	s.registerResources()
	return s
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "oca_validate",
			Description: "Validate ocafiles. Pass ocafile text directly, or file paths, or a directory to scan. Returns one report per file.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"text": {Type: "string", Description: "Ocafile source text"},
					"files": {
						Type:        "array",
						Items:       &jsonschema.Schema{Type: "string"},
						Description: "Ocafile paths",
					},
					"dir":       {Type: "string", Description: "Directory to scan for ocafiles"},
					"recursive": {Type: "boolean", Description: "Scan subdirectories of dir"},
				},
			},
		},
		{
			Name:        "oca_resolve",
			Description: "Look up the SAID stored under a refn in the local repository.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"refn": {Type: "string", Description: "Human-readable reference name"},
				},
				Required: []string{"refn"},
			},
		},
		{
			Name:        "oca_list",
			Description: "List or search artifacts in the local repository.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"search": {Type: "string", Description: "Match refns, attribute names and classifications"},
					"offset": {Type: "integer", Description: "Artifacts to skip"},
					"limit":  {Type: "integer", Description: "Maximum number of results"},
				},
			},
		},
		{
			Name:        "oca_show",
			Description: "Show a stored artifact, optionally with every artifact it depends on.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"said":        {Type: "string", Description: "SAID or refn of the artifact"},
					"dereference": {Type: "boolean", Description: "Include dependencies keyed by SAID"},
				},
				Required: []string{"said"},
			},
		},
		{
			Name:        "oca_presentation",
			Description: "Generate the presentation of a stored bundle.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"said":   {Type: "string", Description: "SAID or refn of the bundle"},
					"format": {Type: "string", Enum: []any{"json", "yaml"}, Description: "Output format"},
				},
				Required: []string{"said"},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         RefsURI,
			Name:        "Refn index",
			Description: "Every refn in the local repository with the SAID it resolves to",
			MimeType:    "application/json",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "oca_validate":
		text, _ := args["text"].(string)
		dir, _ := args["dir"].(string)
		recursive, _ := args["recursive"].(bool)
		return s.handleValidate(ctx, text, stringList(args["files"]), dir, recursive)
	case "oca_resolve":
		refn, _ := args["refn"].(string)
		return s.handleResolve(ctx, refn)
	case "oca_list":
		search, _ := args["search"].(string)
		offset, _ := args["offset"].(float64)
		limit, _ := args["limit"].(float64)
		if limit == 0 {
			limit = 20
		}
		return s.handleList(ctx, search, int(offset), int(limit))
	case "oca_show":
		ref, _ := args["said"].(string)
		deref, _ := args["dereference"].(bool)
		return s.handleShow(ctx, ref, deref)
	case "oca_presentation":
		ref, _ := args["said"].(string)
		format, _ := args["format"].(string)
		return s.handlePresentation(ctx, ref, format)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case RefsURI:
		refs, err := s.store.Refs(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(refs)
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves the MCP protocol on stdin and stdout until ctx is done or the
// client disconnects.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return errors.New("stdin and stdout must not be nil")
	}
	t := &mcp.IOTransport{
		Reader: io.NopCloser(stdin),
		Writer: nopWriteCloser{stdout},
	}
	return s.server.Run(ctx, t)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Tool Handlers

func (s *Server) handleValidate(ctx context.Context, text string, files []string, dir string, recursive bool) (string, error) {
	var sources []graph.SourceFile
	switch {
	case text != "":
		sources = []graph.SourceFile{{Path: "input" + ocafile.Extension, Text: text}}
	case len(files) > 0:
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = s.abs(f)
		}
		var err error
		if sources, err = discovery.Load(paths); err != nil {
			return "", err
		}
	case dir != "":
		var err error
		if sources, err = discovery.Walk(s.abs(dir), recursive); err != nil {
			return "", err
		}
	default:
		return "", errors.New("one of text, files or dir is required")
	}
	if len(sources) == 0 {
		return "No ocafiles found", nil
	}

	engine := &validate.Engine{
		Resolver: storage.Resolver(ctx, s.store),
		Workers:  s.opts.Workers,
		Logger:   s.opts.Logger,
	}
	return toJSON(engine.Validate(ctx, sources, dir == ""))
}

func (s *Server) handleResolve(ctx context.Context, refn string) (string, error) {
	if refn == "" {
		return "", errors.New("refn is required")
	}
	d, err := s.store.Resolve(ctx, refn)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("refn %q is not in the local repository", refn)
	}
	if err != nil {
		return "", err
	}
	return toJSON(map[string]string{"refn": refn, "said": string(d)})
}

func (s *Server) handleList(ctx context.Context, search string, offset, limit int) (string, error) {
	if search != "" {
		results, err := s.store.Search(ctx, search, limit)
		if err != nil {
			return "", err
		}
		return toJSON(results)
	}
	items, total, err := s.store.List(ctx, offset, limit)
	if err != nil {
		return "", err
	}
	return toJSON(struct {
		Total int               `json:"total"`
		Items []storage.Summary `json:"items"`
	}{total, items})
}

func (s *Server) handleShow(ctx context.Context, ref string, deref bool) (string, error) {
	if ref == "" {
		return "", errors.New("said is required")
	}
	d, err := storage.Lookup(ctx, s.store, ref)
	if err != nil {
		return "", err
	}
	if !deref {
		a, err := s.store.Get(ctx, d)
		if err != nil {
			return "", err
		}
		out, err := a.Indent()
		return string(out), err
	}

	closure, err := storage.Closure(ctx, s.store, d)
	if err != nil {
		return "", err
	}
	root := closure[len(closure)-1]
	deps := make(map[said.SAID]json.RawMessage, len(closure)-1)
	for _, a := range closure[:len(closure)-1] {
		deps[a.Digest] = a.Serialized
	}
	return toJSON(struct {
		Artifact     json.RawMessage               `json:"artifact"`
		Dependencies map[said.SAID]json.RawMessage `json:"dependencies"`
	}{root.Serialized, deps})
}

func (s *Server) handlePresentation(ctx context.Context, ref, format string) (string, error) {
	if ref == "" {
		return "", errors.New("said is required")
	}
	if format == "" {
		format = "json"
	}
	f, err := presentation.ParseFormat(format)
	if err != nil {
		return "", err
	}
	d, err := storage.Lookup(ctx, s.store, ref)
	if err != nil {
		return "", err
	}
	bundle, err := s.store.Get(ctx, d)
	if err != nil {
		return "", err
	}
	if bundle.Kind != artifact.KindBundle {
		return "", fmt.Errorf("%s is a %s, not a bundle", ref, bundle.Kind)
	}
	built, err := presentation.Generate(bundle, storage.Resolver(ctx, s.store), presentation.Overlays{})
	if err != nil {
		return "", err
	}
	p, err := artifact.DecodePresentation(built)
	if err != nil {
		return "", err
	}
	out, err := presentation.Encode(p, f)
	return string(out), err
}

func (s *Server) abs(path string) string {
	return absPath(s.opts.Dir, path)
}

// registerTools registers tools with the MCP server.
func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, fmt.Errorf("decoding arguments: %w", err)
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				// Tool failures are reported to the client, not as protocol errors.
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
					IsError: true,
				}, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: text}},
			}, nil
		})
	}
}

// registerResources registers resources with the MCP server.
func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: req.Params.URI, MIMEType: res.MimeType, Text: text},
				},
			}, nil
		})
	}
}
