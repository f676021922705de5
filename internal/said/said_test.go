package said

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	D     SAID              `json:"d"`
	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs"`
	Path  string            `json:"-"`
}

func (r *record) Digest() SAID     { return r.D }
func (r *record) SetDigest(s SAID) { r.D = s }

func newRecord() *record {
	return &record{
		Name:  "person",
		Attrs: map[string]string{"name": "Text", "age": "Numeric"},
		Path:  "/tmp/a.ocafile",
	}
}

func TestDerive(t *testing.T) {
	t.Parallel()

	t.Run("FixedForm", func(t *testing.T) {
		d := Derive([]byte("hello"))
		assert.Len(t, d.String(), Length)
		assert.True(t, strings.HasPrefix(d.String(), Code))
		assert.True(t, Valid(d.String()))
	})

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, Derive([]byte("same")), Derive([]byte("same")))
		assert.NotEqual(t, Derive([]byte("same")), Derive([]byte("other")))
	})
}

func TestParse(t *testing.T) {
	t.Parallel()

	valid := Derive([]byte("x"))

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid", valid.String(), false},
		{"Empty", "", true},
		{"TooShort", valid.String()[:20], true},
		{"WrongCode", "A" + valid.String()[1:], true},
		{"BadAlphabet", "E" + strings.Repeat("#", Length-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, valid, got)
		})
	}
}

func TestCompute(t *testing.T) {
	t.Parallel()

	t.Run("Deterministic", func(t *testing.T) {
		a, err := Compute(newRecord())
		require.NoError(t, err)
		b, err := Compute(newRecord())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("ExcludedMetadataIgnored", func(t *testing.T) {
		r1 := newRecord()
		r2 := newRecord()
		r2.Path = "/elsewhere/b.ocafile"

		a, err := Compute(r1)
		require.NoError(t, err)
		b, err := Compute(r2)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("SetsDigestField", func(t *testing.T) {
		r := newRecord()
		d, err := Compute(r)
		require.NoError(t, err)
		assert.Equal(t, d, r.D)
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("RoundTrip", func(t *testing.T) {
		r := newRecord()
		_, err := Compute(r)
		require.NoError(t, err)
		assert.NoError(t, Verify(r))
	})

	t.Run("TamperedField", func(t *testing.T) {
		r := newRecord()
		d, err := Compute(r)
		require.NoError(t, err)

		r.Attrs["age"] = "Text"
		err = Verify(r)
		require.Error(t, err)

		var mismatch *MismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, d, mismatch.Expected)
		assert.NotEqual(t, d, mismatch.Actual)
		assert.Equal(t, d, r.D, "claimed digest is restored")
	})
}

func TestVerifyBytes(t *testing.T) {
	t.Parallel()

	r := newRecord()
	d, err := Compute(r)
	require.NoError(t, err)
	data, err := Canonical(r)
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		assert.NoError(t, VerifyBytes(data, d))
	})

	t.Run("TamperedPayload", func(t *testing.T) {
		tampered := []byte(strings.Replace(string(data), "person", "persons", 1))
		var mismatch *MismatchError
		assert.True(t, errors.As(VerifyBytes(tampered, d), &mismatch))
	})

	t.Run("WrongClaim", func(t *testing.T) {
		other := Derive([]byte("other"))
		assert.Error(t, VerifyBytes(data, other))
	})
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	data, err := Canonical(map[string]string{"b": "<x>", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"<x>"}`, string(data))
}
