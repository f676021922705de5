package ocafile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/oca-go/internal/artifact"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		wantRefn string
		wantKind artifact.Kind
		wantRefs []string
		wantErr  error
	}{
		{
			name:     "NameOnly",
			text:     "-- name=first\nADD ATTRIBUTE d=Text i=Text passed=Boolean\n",
			wantRefn: "first",
			wantKind: artifact.KindBundle,
		},
		{
			name:     "QuotedNameWithKind",
			text:     "-- name=\"to_person\" kind=transformation\nFROM refn:person\n",
			wantRefn: "to_person",
			wantKind: artifact.KindTransformation,
			wantRefs: []string{"person"},
		},
		{
			name:     "References",
			text:     "-- name=third\nADD ATTRIBUTE first=refn:first second=refn:second list=Array[refn:first]\n",
			wantRefn: "third",
			wantKind: artifact.KindBundle,
			wantRefs: []string{"first", "second"},
		},
		{
			name:     "MissingHeader",
			text:     "ADD ATTRIBUTE whatever=Text\n",
			wantKind: artifact.KindBundle,
		},
		{
			name:     "CommentReferencesIgnored",
			text:     "-- name=a\n-- uses refn:b later\nADD ATTRIBUTE x=Text\n",
			wantRefn: "a",
			wantKind: artifact.KindBundle,
		},
		{
			name:    "InvalidRefn",
			text:    "-- name=bad/name\nADD ATTRIBUTE x=Text\n",
			wantErr: ErrInvalidRefn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := Extract(tt.text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRefn, ext.Refn)
			assert.Equal(t, tt.wantKind, ext.Kind)
			assert.Equal(t, tt.wantRefs, ext.Refs)
			assert.Equal(t, tt.wantRefn != "", ext.HasRefn())
		})
	}
}

func TestValidRefn(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidRefn("first"))
	assert.True(t, ValidRefn("a-b_c9"))
	assert.True(t, ValidRefn("zażółć"))
	assert.False(t, ValidRefn(""))
	assert.False(t, ValidRefn("a b"))
	assert.False(t, ValidRefn("a.b"))
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("Bundle", func(t *testing.T) {
		text := `-- name=person
ADD CLASSIFICATION GICS:45102010
ADD ATTRIBUTE name=Text birth=DateTime
ADD LABEL eng ATTRS name="Full name" birth="Date of birth"
ADD META eng PROPS name="Person" description="A person"
ADD ENTRY_CODE ATTRS sex=["m", "f"]
ADD ENTRY eng ATTRS sex={"m": "Male", "f": "Female"}
ADD FLAGGED_ATTRIBUTES name
`
		doc, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, "person", doc.Refn)
		require.Len(t, doc.Commands, 7)

		cls := doc.Commands[0]
		assert.Equal(t, "ADD CLASSIFICATION", cls.Name())
		assert.Equal(t, []string{"GICS:45102010"}, cls.Args)
		assert.Equal(t, 2, cls.Line)

		attrs := doc.Commands[1]
		assert.Equal(t, []Prop{
			{Key: "name", Value: "Text", Column: 15},
			{Key: "birth", Value: "DateTime", Column: 25},
		}, attrs.Props)

		label := doc.Commands[2]
		assert.Equal(t, []string{"eng"}, label.Args)
		assert.Equal(t, "Full name", label.Props[0].Value)

		codes := doc.Commands[4]
		assert.Equal(t, `["m", "f"]`, codes.Props[0].Value)

		entries := doc.Commands[5]
		assert.Equal(t, `{"m": "Male", "f": "Female"}`, entries.Props[0].Value)
	})

	t.Run("Transformation", func(t *testing.T) {
		text := "-- name=t kind=transformation\nFROM refn:a\nTO refn:b\nRENAME ATTRIBUTE old=new\nLINK ATTRIBUTE x=y\n"
		doc, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, artifact.KindTransformation, doc.Kind)
		require.Len(t, doc.Commands, 4)
		assert.Equal(t, "FROM", doc.Commands[0].Verb)
		assert.Equal(t, []string{"refn:a"}, doc.Commands[0].Args)
		assert.Equal(t, "RENAME ATTRIBUTE", doc.Commands[2].Name())
	})

	t.Run("ErrorsCollectedWithLines", func(t *testing.T) {
		text := "-- name=broken\nADD ATTRIBUTE ok=Text\nDROP ATTRIBUTE x\nADD LABEL eng name=\"x\"\nADD ATTRIBUTE fine=Numeric\n"
		doc, err := Parse(text)
		require.Error(t, err)

		var perrs ParseErrors
		require.True(t, errors.As(err, &perrs))
		require.Len(t, perrs, 2)
		assert.Equal(t, 3, perrs[0].Line)
		assert.Equal(t, 4, perrs[1].Line)
		assert.Len(t, doc.Commands, 2, "valid lines are kept")

		perrs.WithPath("/x/broken.ocafile")
		assert.Contains(t, perrs[0].Error(), "/x/broken.ocafile:3:1")
	})

	t.Run("UnterminatedString", func(t *testing.T) {
		_, err := Parse("-- name=a\nADD LABEL eng ATTRS x=\"oops\n")
		var perr *ParseError
		require.True(t, errors.As(err, &perr))
		assert.Contains(t, perr.Msg, "unterminated")
	})

	t.Run("InvalidHeader", func(t *testing.T) {
		_, err := Parse("-- name=a kind=widget\nADD ATTRIBUTE x=Text\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown artifact kind")
	})
}
