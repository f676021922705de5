package storage

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

// fts:t:token:digest -> frequency
const prefixFTSToken = "fts:t:"

var (
	separators = regexp.MustCompile(`[_\.\-\s:/]+`)
	camelCase  = regexp.MustCompile(`([a-z])([A-Z])`)
	letterNum  = regexp.MustCompile(`([a-zA-Z])(\d)`)
	numLetter  = regexp.MustCompile(`(\d)([a-zA-Z])`)
)

// tokenize splits text into searchable tokens.
// Handles camelCase, snake_case, dot notation and number boundaries.
func tokenize(text string) []string {
	tokens := make(map[string]bool)
	add := func(parts ...string) {
		for _, p := range parts {
			if p = strings.ToLower(p); p != "" {
				tokens[p] = true
			}
		}
	}

	for _, word := range strings.Fields(text) {
		add(word)
		add(separators.Split(word, -1)...)
		add(strings.Fields(camelCase.ReplaceAllString(word, "$1 $2"))...)
		split := letterNum.ReplaceAllString(word, "$1 $2")
		add(strings.Fields(numLetter.ReplaceAllString(split, "$1 $2"))...)
		for _, part := range separators.Split(word, -1) {
			add(strings.Fields(camelCase.ReplaceAllString(part, "$1 $2"))...)
		}
	}

	result := make([]string, 0, len(tokens))
	for token := range tokens {
		result = append(result, token)
	}
	return result
}

// searchTerms returns the token frequencies an artifact is indexed under:
// its refn and kind, and for bundles the attribute names and classification.
func searchTerms(b *artifact.Built) map[string]int {
	text := []string{b.Refn, string(b.Kind)}
	if b.Kind == artifact.KindBundle {
		if bundle, err := artifact.DecodeBundle(b); err == nil {
			text = append(text, bundle.CaptureBase.Attributes.Names()...)
			text = append(text, bundle.CaptureBase.Classification)
		}
	}

	freq := make(map[string]int)
	for _, t := range text {
		for _, token := range tokenize(t) {
			freq[token]++
		}
	}
	return freq
}

// FTSIndex is a simple inverted index for full-text search stored in the
// same BadgerDB as the records.
type FTSIndex struct {
	db *badger.DB
}

// NewFTSIndex creates a new FTS index using the given BadgerDB instance.
func NewFTSIndex(db *badger.DB) *FTSIndex {
	return &FTSIndex{db: db}
}

func tokenKey(token string, digest said.SAID) []byte {
	return fmt.Appendf(nil, "%s%s:%s", prefixFTSToken, token, digest)
}

// index writes the tokens of b inside txn. Stored artifacts never change, so
// existing keys are simply overwritten.
func (f *FTSIndex) index(txn *badger.Txn, b *artifact.Built) error {
	for token, freq := range searchTerms(b) {
		if err := txn.Set(tokenKey(token, b.Digest), []byte(strconv.Itoa(freq))); err != nil {
			return fmt.Errorf("setting token index: %w", err)
		}
	}
	return nil
}

// Search scores digests with simple TF scoring.
func (f *FTSIndex) Search(query string) (map[said.SAID]float64, error) {
	scores := make(map[said.SAID]float64)
	if f.db == nil {
		return scores, nil
	}

	err := f.db.View(func(txn *badger.Txn) error {
		for _, token := range tokenize(query) {
			prefix := prefixFTSToken + token + ":"
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				digest := said.SAID(strings.TrimPrefix(string(item.Key()), prefix))
				var freq int
				_ = item.Value(func(val []byte) error {
					freq, _ = strconv.Atoi(string(val))
					return nil
				})
				scores[digest] += float64(freq)
			}
			it.Close()
		}
		return nil
	})
	return scores, err
}

// IndexSize returns the number of indexed token keys.
func (f *FTSIndex) IndexSize() (int, error) {
	if f.db == nil {
		return 0, nil
	}
	count := 0
	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFTSToken)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// memoryIndex is the in-memory counterpart of FTSIndex.
type memoryIndex map[string]map[said.SAID]int

func (ix memoryIndex) index(b *artifact.Built) {
	for token, freq := range searchTerms(b) {
		if ix[token] == nil {
			ix[token] = make(map[said.SAID]int)
		}
		ix[token][b.Digest] = freq
	}
}

func (ix memoryIndex) search(query string) map[said.SAID]float64 {
	scores := make(map[said.SAID]float64)
	for _, token := range tokenize(query) {
		for digest, freq := range ix[token] {
			scores[digest] += float64(freq)
		}
	}
	return scores
}

// rank turns scores into results sorted by score, then refn, then digest.
func rank(scores map[said.SAID]float64, lookup func(said.SAID) (Summary, bool), limit int) []SearchResult {
	results := make([]SearchResult, 0, len(scores))
	for digest, score := range scores {
		if score <= 0 {
			continue
		}
		s, ok := lookup(digest)
		if !ok {
			continue
		}
		results = append(results, SearchResult{Summary: s, Score: score})
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := strings.Compare(a.Refn, b.Refn); c != 0 {
			return c
		}
		return strings.Compare(string(a.Digest), string(b.Digest))
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
