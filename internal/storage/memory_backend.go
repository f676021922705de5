package storage

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

// MemoryBackend keeps encoded records in memory. It is used by tests and by
// commands that run without a local repository.
type MemoryBackend struct {
	mu          sync.RWMutex
	compression CompressionTag
	records     map[said.SAID][]byte
	refs        map[string]said.SAID
	hashes      map[string]string
	fts         memoryIndex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(compression CompressionTag) *MemoryBackend {
	m := &MemoryBackend{compression: compression}
	m.reset()
	return m
}

func (m *MemoryBackend) reset() {
	m.records = make(map[said.SAID][]byte)
	m.refs = make(map[string]said.SAID)
	m.hashes = make(map[string]string)
	m.fts = make(memoryIndex)
}

// Initialize is a no-op; the path is ignored.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	return nil
}

// Close drops all stored data.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

func (m *MemoryBackend) Put(ctx context.Context, arts []*artifact.Built) error {
	if err := verifyAll(arts); err != nil {
		return err
	}
	records := make([][]byte, len(arts))
	for i, a := range arts {
		var err error
		if records[i], err = encodeRecord(a, m.compression); err != nil {
			return fmt.Errorf("encoding %s: %w", a.Digest, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range arts {
		m.records[a.Digest] = records[i]
		if a.Refn != "" {
			m.refs[a.Refn] = a.Digest
		}
		m.fts.index(a)
	}
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, digest said.SAID) (*artifact.Built, error) {
	m.mu.RLock()
	data, ok := m.records[digest]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", digest, ErrNotFound)
	}
	return decodeRecord(data)
}

func (m *MemoryBackend) Has(ctx context.Context, digest said.SAID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[digest]
	return ok, nil
}

func (m *MemoryBackend) Resolve(ctx context.Context, refn string) (said.SAID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.refs[refn]
	if !ok {
		return "", fmt.Errorf("refn %q: %w", refn, ErrNotFound)
	}
	return d, nil
}

func (m *MemoryBackend) Refs(ctx context.Context) (map[string]said.SAID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.refs), nil
}

func (m *MemoryBackend) List(ctx context.Context, offset, limit int) ([]Summary, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]Summary, 0, len(m.records))
	for _, data := range m.records {
		r, err := decodeHeader(data)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, r.summary())
	}
	return page(all, offset, limit), len(all), nil
}

func (m *MemoryBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rank(m.fts.search(query), func(d said.SAID) (Summary, bool) {
		data, ok := m.records[d]
		if !ok {
			return Summary{}, false
		}
		r, err := decodeHeader(data)
		return r.summary(), err == nil
	}, limit), nil
}

func (m *MemoryBackend) FileHashes(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.hashes), nil
}

func (m *MemoryBackend) SetFileHashes(ctx context.Context, hashes map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.hashes, hashes)
	return nil
}
