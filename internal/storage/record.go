package storage

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

// record is the persisted form of one artifact.
type record struct {
	Digest       said.SAID      `cbor:"digest"`
	Kind         artifact.Kind  `cbor:"kind"`
	Refn         string         `cbor:"refn,omitempty"`
	Dependencies []said.SAID    `cbor:"dependencies,omitempty"`
	Compression  CompressionTag `cbor:"compression"`
	Size         int            `cbor:"size"`
	Payload      []byte         `cbor:"payload"`
}

// Core Deterministic Encoding: the same record always encodes to the same
// bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeRecord(b *artifact.Built, tag CompressionTag) ([]byte, error) {
	payload, used, err := compress(b.Serialized, tag)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(record{
		Digest:       b.Digest,
		Kind:         b.Kind,
		Refn:         b.Refn,
		Dependencies: b.Dependencies,
		Compression:  used,
		Size:         len(b.Serialized),
		Payload:      payload,
	})
}

// decodeHeader decodes a record without touching its payload.
func decodeHeader(data []byte) (record, error) {
	var r record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return record{}, fmt.Errorf("decoding record: %w", err)
	}
	return r, nil
}

// decodeRecord decodes and verifies a stored artifact.
func decodeRecord(data []byte) (*artifact.Built, error) {
	r, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	serialized, err := decompress(r.Payload, r.Compression, r.Size)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.Digest, err)
	}
	b := &artifact.Built{
		Digest:       r.Digest,
		Kind:         r.Kind,
		Refn:         r.Refn,
		Serialized:   serialized,
		Dependencies: r.Dependencies,
	}
	if err := b.Verify(); err != nil {
		return nil, fmt.Errorf("record %s: %w", r.Digest, err)
	}
	return b, nil
}

func (r record) summary() Summary {
	return Summary{Digest: r.Digest, Kind: r.Kind, Refn: r.Refn, Size: r.Size, Compression: r.Compression}
}
