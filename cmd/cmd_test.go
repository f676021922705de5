package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/oca-go/internal/config"
	"github.com/Benny93/oca-go/internal/storage"
	"github.com/Benny93/oca-go/internal/validate"
)

// keepOpen ignores Close so one in-memory store survives several commands.
type keepOpen struct{ storage.Backend }

func (keepOpen) Close() error { return nil }

type harness struct {
	t     *testing.T
	app   *App
	out   *bytes.Buffer
	store *storage.MemoryBackend
	dir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewMemoryBackend(storage.CompressionNone)
	out := &bytes.Buffer{}
	h := &harness{t: t, out: out, store: store, dir: dir}
	h.app = &App{
		Stdout: out,
		Stderr: io.Discard,
		Dir:    dir,
		Config: config.Default(dir),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		OpenStore: func(bool) (storage.Backend, error) {
			return keepOpen{store}, nil
		},
	}
	return h
}

// run executes one command line and returns its output.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	h.out.Reset()
	err := NewCLI().ExecuteWith(h.t.Context(), h.app, args)
	return h.out.String(), err
}

func (h *harness) write(name, text string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// writeFixture writes person, which references address.
func (h *harness) writeFixture() {
	h.t.Helper()
	h.write("address.ocafile", "-- name=address\nADD ATTRIBUTE street=Text city=Text\n")
	h.write("person.ocafile", "-- name=person\nADD ATTRIBUTE firstName=Text home=refn:address\nADD LABEL eng ATTRS firstName=\"First name\"\n")
}

func TestInitCmd_Run(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out, err := h.run("init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	assert.FileExists(t, filepath.Join(h.dir, config.DirName, config.FileName))

	out, err = h.run("init")
	require.NoError(t, err)
	assert.Contains(t, out, "Already initialized")
}

func TestConfigCmd_Run(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out, err := h.run("config", "--workers", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "defaults")
	assert.Contains(t, out, "local_repository_path")
	assert.Contains(t, out, "workers: 3")
}

func TestVersionCmd_Run(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out, err := h.run("version")
	require.NoError(t, err)
	assert.Equal(t, "oca "+Version+"\n", out)
}

func TestBuildCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("BuildsDirectory", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.writeFixture()

		out, err := h.run("build")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ address")
		assert.Contains(t, out, "✓ person")
		assert.Contains(t, out, "Built:    2 of 2")

		for _, refn := range []string{"address", "person"} {
			d, err := h.store.Resolve(t.Context(), refn)
			require.NoError(t, err)
			ok, err := h.store.Has(t.Context(), d)
			require.NoError(t, err)
			assert.True(t, ok, refn)
		}
	})

	t.Run("BuildsNamedFileWithDependencies", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.writeFixture()

		out, err := h.run("build", "-f", "person.ocafile", "-d", ".")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ person")
		assert.NotContains(t, out, "✓ address")

		// The dependency was built and stored for person.
		_, err = h.store.Resolve(t.Context(), "address")
		assert.NoError(t, err)
	})

	t.Run("BuildsRef", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.writeFixture()

		out, err := h.run("build", "--ref", "address")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ address")
		assert.NotContains(t, out, "person")
	})

	t.Run("Incremental", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.writeFixture()

		out, err := h.run("build", "-i")
		require.NoError(t, err)
		assert.Contains(t, out, "Built:    2 of 2")

		out, err = h.run("build", "-i")
		require.NoError(t, err)
		assert.Contains(t, out, "Nothing to build")

		h.write("address.ocafile", "-- name=address\nADD ATTRIBUTE street=Text city=Text zip=Text\n")
		out, err = h.run("build", "-i")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ address")
		assert.Contains(t, out, "✓ person")
	})

	t.Run("IncrementalRetriesFailures", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.write("car.ocafile", "-- name=car\nADD ATTRIBUTE owner=refn:owner\n")

		_, err := h.run("build", "-i")
		require.Error(t, err)

		h.write("owner.ocafile", "-- name=owner\nADD ATTRIBUTE name=Text\n")
		out, err := h.run("build", "-i")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ car")
		assert.Contains(t, out, "✓ owner")
	})

	t.Run("Failures", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.writeFixture()
		h.write("broken.ocafile", "-- name=broken\nADD ATTRIBUTE x=refn:nowhere\n")
		h.write("twin1.ocafile", "-- name=twin\nADD ATTRIBUTE a=Text\n")
		h.write("twin2.ocafile", "-- name=twin\nADD ATTRIBUTE b=Text\n")

		out, err := h.run("build")
		require.Error(t, err)
		assert.Contains(t, out, "✗ broken")
		assert.Contains(t, out, "nowhere")
		assert.Contains(t, out, "twin")
		assert.Contains(t, out, "✓ person")
	})

	t.Run("FileWithoutRefn", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.writeFixture()
		loose := h.write("loose.ocafile", "ADD ATTRIBUTE note=Text home=refn:address\n")

		out, err := h.run("build")
		require.NoError(t, err)
		assert.Contains(t, out, loose+" skipped")
		assert.Contains(t, out, "Built:    2 of 2")

		out, err = h.run("build", "-f", "loose.ocafile", "-d", ".")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ "+loose)
		assert.Contains(t, out, "Built:    1 of 1")
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		out, err := h.run("build")
		require.NoError(t, err)
		assert.Contains(t, out, "No ocafiles found")
	})

	t.Run("Recursive", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.write("nested/deep/address.ocafile", "-- name=address\nADD ATTRIBUTE street=Text\n")

		out, err := h.run("build")
		require.NoError(t, err)
		assert.Contains(t, out, "No ocafiles found")

		out, err = h.run("build", "-r")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ address")
	})
}

func TestValidateCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("Valid", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.writeFixture()

		out, err := h.run("validate")
		require.NoError(t, err)
		assert.Contains(t, out, "(person)")

		// Nothing is stored.
		_, total, err := h.store.List(t.Context(), 0, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.writeFixture()
		h.write("bad.ocafile", "-- name=bad\nADD ATTRIBUTE x=Bogus\n")

		out, err := h.run("validate", "--json")
		require.Error(t, err)

		var reports []validate.Report
		require.NoError(t, json.Unmarshal([]byte(out), &reports))
		require.Len(t, reports, 3)
		byRefn := make(map[string]validate.Report)
		for _, r := range reports {
			byRefn[r.Refn] = r
		}
		assert.True(t, byRefn["person"].OK())
		assert.False(t, byRefn["bad"].OK())
		assert.NotEmpty(t, byRefn["bad"].Issues)
	})

	t.Run("ExplicitFileWithoutRefn", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.write("loose.ocafile", "ADD ATTRIBUTE note=Text\n")

		out, err := h.run("validate", "-f", "loose.ocafile")
		require.NoError(t, err)
		assert.Contains(t, out, "warning")
	})
}

func TestGraphCmd_Run(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.writeFixture()
	h.write("card.ocafile", "-- name=card\nADD ATTRIBUTE holder=refn:person\n")

	t.Run("JSON", func(t *testing.T) {
		out, err := h.run("graph", "--json")
		require.NoError(t, err)

		var res struct {
			Nodes []graphNode `json:"nodes"`
			Edges []graphEdge `json:"edges"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		require.Len(t, res.Nodes, 3)
		order := make([]string, len(res.Nodes))
		for i, n := range res.Nodes {
			order[i] = n.Refn
		}
		assert.Equal(t, []string{"address", "person", "card"}, order)
		assert.Equal(t, []string{"address"}, res.Nodes[1].Dependencies)
		assert.ElementsMatch(t, []graphEdge{
			{From: "person", To: "address"},
			{From: "card", To: "person"},
		}, res.Edges)
	})

	t.Run("JSONAccountsForEveryFile", func(t *testing.T) {
		r := newHarness(t)
		r.write("a.ocafile", "-- name=a\nADD ATTRIBUTE x=Text\n")
		twin1 := r.write("twin1.ocafile", "-- name=twin\nADD ATTRIBUTE a=Text\n")
		twin2 := r.write("twin2.ocafile", "-- name=twin\nADD ATTRIBUTE b=Text\n")
		loose := r.write("loose.ocafile", "ADD ATTRIBUTE note=Text\n")

		out, err := r.run("graph", "--json")
		require.NoError(t, err)
		var res struct {
			Nodes    []graphNode `json:"nodes"`
			Skipped  []string    `json:"skipped"`
			Rejected []string    `json:"rejected"`
			Errors   []string    `json:"errors"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		require.Len(t, res.Nodes, 1)
		assert.Equal(t, []string{loose}, res.Skipped)
		assert.ElementsMatch(t, []string{twin1, twin2}, res.Rejected)
		assert.Len(t, res.Errors, 1)
	})

	t.Run("Ancestors", func(t *testing.T) {
		out, err := h.run("graph", "--ancestors", "address", "--json")
		require.NoError(t, err)
		var res map[string][]string
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.ElementsMatch(t, []string{"person", "card"}, res["ancestors"])
	})

	t.Run("Descendants", func(t *testing.T) {
		out, err := h.run("graph", "--descendants", "card")
		require.NoError(t, err)
		assert.Contains(t, out, "person")
		assert.Contains(t, out, "address")
	})

	t.Run("UnknownRefn", func(t *testing.T) {
		_, err := h.run("graph", "--ancestors", "ghost")
		assert.ErrorContains(t, err, "ghost")
	})

	t.Run("Cycle", func(t *testing.T) {
		c := newHarness(t)
		c.write("a.ocafile", "-- name=a\nADD ATTRIBUTE b=refn:b\n")
		c.write("b.ocafile", "-- name=b\nADD ATTRIBUTE a=refn:a\n")

		out, err := c.run("graph")
		require.NoError(t, err)
		assert.Contains(t, out, "in a dependency cycle")
	})
}
