// Package ocafile reads ocafile source text: the header that declares a
// file's refn, the refn references it makes, and its command lines.
package ocafile

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Benny93/oca-go/internal/artifact"
)

// Extension is the file extension of ocafiles.
const Extension = ".ocafile"

var refnPattern = regexp.MustCompile(`refn:([^\s\]]+)`)

// ErrInvalidRefn is returned for refn values with characters outside
// letters, digits, '-' and '_'.
var ErrInvalidRefn = errors.New("invalid refn")

// Extraction is what the header and reference tokens of a file declare.
type Extraction struct {
	// Refn is the declared tag. Empty when the file declares none.
	Refn string

	// Kind is the declared artifact kind (bundle when not declared).
	Kind artifact.Kind

	// Refs lists referenced refns in order of first appearance.
	Refs []string
}

// HasRefn reports whether the file declares a refn.
func (e Extraction) HasRefn() bool { return e.Refn != "" }

// Extract reads the declared refn, kind and references from text.
// A missing refn is not an error.
func Extract(text string) (Extraction, error) {
	ext := Extraction{Kind: artifact.KindBundle}

	header, ok := headerLine(text)
	if ok {
		fields, err := headerFields(header)
		if err != nil {
			return ext, err
		}
		if name, found := fields["name"]; found {
			if !ValidRefn(name) {
				return ext, fmt.Errorf("%w: %q", ErrInvalidRefn, name)
			}
			ext.Refn = name
		}
		kind, err := artifact.ParseKind(fields["kind"])
		if err != nil {
			return ext, err
		}
		ext.Kind = kind
	}

	ext.Refs = References(text)
	return ext, nil
}

// References returns the refns named by refn: tokens outside comments.
func References(text string) []string {
	var refs []string
	seen := make(map[string]bool)
	for line := range strings.Lines(text) {
		if isComment(line) {
			continue
		}
		for _, m := range refnPattern.FindAllStringSubmatch(line, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				refs = append(refs, m[1])
			}
		}
	}
	return refs
}

// ValidRefn reports whether s can be used as a refn.
func ValidRefn(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// headerLine returns the first non-blank line when it is a header comment
// carrying name= or kind=.
func headerLine(text string) (string, bool) {
	for line := range strings.Lines(text) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !isComment(trimmed) {
			return "", false
		}
		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "--"))
		if strings.HasPrefix(body, "name=") || strings.HasPrefix(body, "kind=") {
			return body, true
		}
		return "", false
	}
	return "", false
}

func headerFields(header string) (map[string]string, error) {
	fields := make(map[string]string)
	tokens, err := tokenize(header, 1)
	if err != nil {
		return nil, err
	}
	for _, tok := range tokens {
		key, value, ok := splitProp(tok.text)
		if !ok {
			return nil, fmt.Errorf("%w: header token %q is not key=value", ErrInvalidRefn, tok.text)
		}
		fields[key] = value
	}
	return fields, nil
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "--")
}
