// Package said computes and verifies self-addressing identifiers.
//
// A SAID is a BLAKE3-256 digest over the canonical JSON form of an artifact
// in which the artifact's own digest field holds a fixed placeholder. The
// digest is encoded the way CESR encodes 32-byte digests: one zero pad byte
// is prepended, the 33 bytes are base64url encoded (44 characters) and the
// leading character is replaced by the derivation code.
package said

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// Length is the number of characters in an encoded SAID.
	Length = 44

	// Code is the derivation code for BLAKE3-256 digests.
	Code = "E"
)

// Placeholder fills the digest field while the digest is computed.
var Placeholder = SAID(strings.Repeat("#", Length))

// ErrMalformed is returned by Parse for strings that are not SAIDs.
var ErrMalformed = errors.New("malformed SAID")

// SAID is an encoded self-addressing identifier.
type SAID string

// String returns the encoded identifier.
func (s SAID) String() string { return string(s) }

// IsZero reports whether the identifier is unset.
func (s SAID) IsZero() bool { return s == "" }

// Short returns an abbreviated form for terminal output.
func (s SAID) Short() string {
	if len(s) <= 12 {
		return string(s)
	}
	return string(s[:12]) + "…"
}

// Addressable is implemented by artifacts that carry their own digest.
type Addressable interface {
	Digest() SAID
	SetDigest(SAID)
}

// MismatchError reports an artifact whose claimed digest does not match the
// digest recomputed over its canonical form.
type MismatchError struct {
	Expected SAID
	Actual   SAID
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: artifact claims %s but content hashes to %s", e.Expected, e.Actual)
}

// Derive encodes the BLAKE3-256 digest of data.
func Derive(data []byte) SAID {
	sum := blake3.Sum256(data)
	padded := make([]byte, 0, len(sum)+1)
	padded = append(padded, 0)
	padded = append(padded, sum[:]...)
	encoded := base64.RawURLEncoding.EncodeToString(padded)
	return SAID(Code + encoded[1:])
}

// Parse checks that s is a well-formed SAID.
func Parse(s string) (SAID, error) {
	if len(s) != Length {
		return "", fmt.Errorf("%w: %q has length %d, want %d", ErrMalformed, s, len(s), Length)
	}
	if !strings.HasPrefix(s, Code) {
		return "", fmt.Errorf("%w: %q has unsupported derivation code %q", ErrMalformed, s, s[:1])
	}
	raw, err := base64.RawURLEncoding.DecodeString("A" + s[1:])
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	if len(raw) != 33 || raw[0] != 0 {
		return "", fmt.Errorf("%w: %q does not encode a 32-byte digest", ErrMalformed, s)
	}
	return SAID(s), nil
}

// Valid reports whether s parses as a SAID.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Canonical returns the canonical serialization of v: compact JSON with
// struct fields in declaration order, map keys sorted and no HTML escaping.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Compute sets the digest of a to the SAID of its canonical form and returns it.
func Compute(a Addressable) (SAID, error) {
	a.SetDigest(Placeholder)
	data, err := Canonical(a)
	if err != nil {
		return "", err
	}
	d := Derive(data)
	a.SetDigest(d)
	return d, nil
}

// Verify recomputes the digest of a and compares it to the one it carries.
// The claimed digest is restored before returning. Verify mutates a while it
// runs, so shared values should be checked with VerifyBytes instead.
func Verify(a Addressable) error {
	claimed := a.Digest()
	a.SetDigest(Placeholder)
	data, err := Canonical(a)
	a.SetDigest(claimed)
	if err != nil {
		return err
	}
	if actual := Derive(data); actual != claimed {
		return &MismatchError{Expected: claimed, Actual: actual}
	}
	return nil
}

// VerifyBytes checks a serialized artifact against its claimed digest. The
// "d" member holding the claimed digest is blanked and the remaining bytes
// are hashed unchanged.
func VerifyBytes(data []byte, claimed SAID) error {
	field := digestField(claimed)
	idx := bytes.Index(data, field)
	if idx < 0 {
		return &MismatchError{Expected: claimed, Actual: ""}
	}
	blanked := make([]byte, 0, len(data))
	blanked = append(blanked, data[:idx]...)
	blanked = append(blanked, digestField(Placeholder)...)
	blanked = append(blanked, data[idx+len(field):]...)
	if actual := Derive(blanked); actual != claimed {
		return &MismatchError{Expected: claimed, Actual: actual}
	}
	return nil
}

func digestField(s SAID) []byte {
	return []byte(`"d":"` + string(s) + `"`)
}
