// Package storage provides the local object store for built artifacts.
//
// It defines the Backend interface that all storage implementations must
// satisfy, along with common types used across backends. Artifacts are kept
// by digest as CBOR records with a compressed payload; a refn index, a search
// index and the file hashes of the last incremental build live next to them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

var (
	// ErrNotFound is returned when a digest or refn is not in the store.
	ErrNotFound = errors.New("not found")

	// ErrNotInitialized is returned by backends used before Initialize.
	ErrNotInitialized = errors.New("storage not initialized")
)

// Summary describes a stored artifact without its payload.
type Summary struct {
	Digest said.SAID     `json:"said"`
	Kind   artifact.Kind `json:"kind"`
	Refn   string        `json:"refn,omitempty"`

	// Size is the length of the serialized artifact.
	Size int `json:"size"`

	// Compression is how the payload is stored.
	Compression CompressionTag `json:"-"`
}

// SearchResult represents a search hit.
type SearchResult struct {
	Summary

	// Score is the relevance score (higher is better).
	Score float64 `json:"score"`
}

// Backend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the store at the given path.
	// If readOnly is true, the store is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Put stores artifacts. Every artifact is verified first; nothing is
	// written if one of them does not match its digest.
	Put(ctx context.Context, arts []*artifact.Built) error

	// Get returns a verified artifact, or ErrNotFound.
	Get(ctx context.Context, digest said.SAID) (*artifact.Built, error)

	// Has reports whether digest is stored.
	Has(ctx context.Context, digest said.SAID) (bool, error)

	// Resolve returns the digest last stored under refn, or ErrNotFound.
	Resolve(ctx context.Context, refn string) (said.SAID, error)

	// Refs returns the whole refn index.
	Refs(ctx context.Context) (map[string]said.SAID, error)

	// List returns one page of summaries ordered by digest, and the total
	// number of stored artifacts. A limit of 0 returns everything after
	// offset.
	List(ctx context.Context, offset, limit int) ([]Summary, int, error)

	// Search matches query tokens against refns, kinds, attribute names and
	// classifications.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// FileHashes returns the content hash recorded for each source path.
	FileHashes(ctx context.Context) (map[string]string, error)

	// SetFileHashes records content hashes, replacing existing entries for
	// the same paths.
	SetFileHashes(ctx context.Context, hashes map[string]string) error
}

// verifyAll checks every artifact before anything is written.
func verifyAll(arts []*artifact.Built) error {
	for _, a := range arts {
		if a == nil {
			return errors.New("nil artifact")
		}
		if err := a.Verify(); err != nil {
			return fmt.Errorf("storing %s: %w", a.Digest, err)
		}
	}
	return nil
}

// page applies offset and limit to sorted summaries.
func page(all []Summary, offset, limit int) []Summary {
	slices.SortFunc(all, func(a, b Summary) int { return strings.Compare(string(a.Digest), string(b.Digest)) })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []Summary{}
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// resolver adapts a Backend to artifact.Resolver.
type resolver struct {
	ctx     context.Context
	backend Backend
}

// Resolver returns an artifact.Resolver reading from b with ctx.
func Resolver(ctx context.Context, b Backend) artifact.Resolver {
	return resolver{ctx: ctx, backend: b}
}

func (r resolver) Artifact(d said.SAID) (*artifact.Built, bool) {
	a, err := r.backend.Get(r.ctx, d)
	if err != nil {
		return nil, false
	}
	return a, true
}

// Closure returns digest and everything it transitively depends on, with
// dependencies before their dependents.
func Closure(ctx context.Context, b Backend, digest said.SAID) ([]*artifact.Built, error) {
	var (
		out     []*artifact.Built
		visited = make(map[said.SAID]bool)
	)
	var visit func(d said.SAID) error
	visit = func(d said.SAID) error {
		if visited[d] {
			return nil
		}
		visited[d] = true
		a, err := b.Get(ctx, d)
		if err != nil {
			return fmt.Errorf("%s: %w", d, err)
		}
		for _, dep := range a.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		out = append(out, a)
		return nil
	}
	if err := visit(digest); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup resolves a SAID or a refn to a digest in b.
func Lookup(ctx context.Context, b Backend, ref string) (said.SAID, error) {
	if said.Valid(ref) {
		return said.SAID(ref), nil
	}
	d, err := b.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%q is neither a SAID nor a known refn: %w", ref, err)
	}
	return d, nil
}
