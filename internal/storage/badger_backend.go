package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

// Key prefixes for different data types
const (
	prefixArtifact = "a:" // a:digest -> CBOR record
	prefixRefn     = "r:" // r:refn -> digest
	prefixFileHash = "h:" // h:path -> content hash
)

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db          *badger.DB
	fts         *FTSIndex
	compression CompressionTag
	mu          sync.RWMutex
}

// NewBadgerBackend creates a new BadgerDB backend storing payloads with the
// given compression.
func NewBadgerBackend(compression CompressionTag) *BadgerBackend {
	return &BadgerBackend{compression: compression}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	b.fts = NewFTSIndex(db)
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.fts = nil
	return err
}

func (b *BadgerBackend) handle() (*badger.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrNotInitialized
	}
	return b.db, nil
}

func artifactKey(d said.SAID) []byte { return []byte(prefixArtifact + string(d)) }
func refnKey(refn string) []byte     { return []byte(prefixRefn + refn) }
func fileHashKey(path string) []byte { return []byte(prefixFileHash + path) }

// Put stores artifacts in a single transaction.
func (b *BadgerBackend) Put(ctx context.Context, arts []*artifact.Built) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if err := verifyAll(arts); err != nil {
		return err
	}

	records := make([][]byte, len(arts))
	for i, a := range arts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if records[i], err = encodeRecord(a, b.compression); err != nil {
			return fmt.Errorf("encoding %s: %w", a.Digest, err)
		}
	}

	return db.Update(func(txn *badger.Txn) error {
		for i, a := range arts {
			if err := txn.Set(artifactKey(a.Digest), records[i]); err != nil {
				return fmt.Errorf("setting artifact: %w", err)
			}
			if a.Refn != "" {
				if err := txn.Set(refnKey(a.Refn), []byte(a.Digest)); err != nil {
					return fmt.Errorf("setting refn index: %w", err)
				}
			}
			if err := b.fts.index(txn, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns a verified artifact by digest.
func (b *BadgerBackend) Get(ctx context.Context, digest said.SAID) (*artifact.Built, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	var data []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(digest))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("artifact %s: %w", digest, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", digest, err)
	}
	return decodeRecord(data)
}

// Has reports whether digest is stored.
func (b *BadgerBackend) Has(ctx context.Context, digest said.SAID) (bool, error) {
	db, err := b.handle()
	if err != nil {
		return false, err
	}
	err = db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(artifactKey(digest))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Resolve returns the digest stored under refn.
func (b *BadgerBackend) Resolve(ctx context.Context, refn string) (said.SAID, error) {
	db, err := b.handle()
	if err != nil {
		return "", err
	}
	var digest said.SAID
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(refnKey(refn))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			digest = said.SAID(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("refn %q: %w", refn, ErrNotFound)
	}
	return digest, err
}

// Refs returns the whole refn index.
func (b *BadgerBackend) Refs(ctx context.Context) (map[string]said.SAID, error) {
	refs := make(map[string]said.SAID)
	err := b.scan(prefixRefn, func(key string, val []byte) error {
		refs[key] = said.SAID(val)
		return nil
	})
	return refs, err
}

// List returns one page of stored artifacts.
func (b *BadgerBackend) List(ctx context.Context, offset, limit int) ([]Summary, int, error) {
	var all []Summary
	err := b.scan(prefixArtifact, func(_ string, val []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := decodeHeader(val)
		if err != nil {
			return err
		}
		all = append(all, r.summary())
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return page(all, offset, limit), len(all), nil
}

// Search performs full-text search over the token index.
func (b *BadgerBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	scores, err := b.fts.Search(query)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	var lookupErr error
	results := rank(scores, func(d said.SAID) (Summary, bool) {
		var s Summary
		err := db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(artifactKey(d))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				r, err := decodeHeader(val)
				s = r.summary()
				return err
			})
		})
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			lookupErr = err
		}
		return s, err == nil
	}, limit)
	return results, lookupErr
}

// FileHashes returns every recorded source file hash.
func (b *BadgerBackend) FileHashes(ctx context.Context) (map[string]string, error) {
	hashes := make(map[string]string)
	err := b.scan(prefixFileHash, func(key string, val []byte) error {
		hashes[key] = string(val)
		return nil
	})
	return hashes, err
}

// SetFileHashes records source file hashes.
func (b *BadgerBackend) SetFileHashes(ctx context.Context, hashes map[string]string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for path, hash := range hashes {
		if err := wb.Set(fileHashKey(path), []byte(hash)); err != nil {
			return fmt.Errorf("setting file hash: %w", err)
		}
	}
	return wb.Flush()
}

// scan calls fn with the unprefixed key and a copy of the value of every
// entry under prefix.
func (b *BadgerBackend) scan(prefix string, fn func(key string, val []byte) error) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.Key()[len(prefix):]), val); err != nil {
				return err
			}
		}
		return nil
	})
}
