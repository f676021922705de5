package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/ocafile"
	"github.com/Benny93/oca-go/internal/said"
)

const personSource = `-- name=person
ADD CLASSIFICATION GICS:45102010
ADD ATTRIBUTE name=Text birth=DateTime photo=Binary sex=Text
ADD LABEL eng ATTRS name="Name" birth="Date of birth"
ADD LABEL pol ATTRS name="Imię"
ADD CONFORMANCE ATTRS name="M" birth="O"
ADD ENTRY_CODE ATTRS sex=["m", "f"]
ADD ENTRY eng ATTRS sex={"m": "Male", "f": "Female"}
ADD META eng PROPS name="Person"
`

func compileText(t *testing.T, text string, deps map[string]*artifact.Built) (*artifact.Built, error) {
	t.Helper()
	doc, err := ocafile.Parse(text)
	require.NoError(t, err)
	idx := artifact.Index{}
	for _, d := range deps {
		idx[d.Digest] = d
	}
	return Compile(Input{Doc: doc, Deps: deps, Resolver: idx})
}

func mustCompile(t *testing.T, text string, deps map[string]*artifact.Built) *artifact.Built {
	t.Helper()
	built, err := compileText(t, text, deps)
	require.NoError(t, err)
	return built
}

func schemaErrors(t *testing.T, err error) []*artifact.SchemaError {
	t.Helper()
	require.Error(t, err)
	var out []*artifact.SchemaError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var se *artifact.SchemaError
			if errors.As(e, &se) {
				out = append(out, se)
			}
		}
		return out
	}
	var se *artifact.SchemaError
	require.True(t, errors.As(err, &se))
	return append(out, se)
}

func TestCompileBundle(t *testing.T) {
	t.Parallel()

	t.Run("SelfCertifying", func(t *testing.T) {
		built := mustCompile(t, personSource, nil)
		assert.Equal(t, artifact.KindBundle, built.Kind)
		assert.Equal(t, "person", built.Refn)
		assert.NoError(t, built.Verify())
		assert.Empty(t, built.Dependencies)

		bundle, err := artifact.DecodeBundle(built)
		require.NoError(t, err)
		assert.Equal(t, "GICS:45102010", bundle.CaptureBase.Classification)
		assert.Equal(t, "DateTime", bundle.CaptureBase.Attributes.Map()["birth"])
		assert.Equal(t, []string{"eng", "pol"}, bundle.Languages())
		for _, ov := range bundle.Overlays {
			assert.Equal(t, bundle.CaptureBase.D, ov.CaptureBase)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := mustCompile(t, personSource, nil)
		b := mustCompile(t, personSource, nil)
		assert.Equal(t, a.Digest, b.Digest)
		assert.Equal(t, a.Serialized, b.Serialized)
	})

	t.Run("CommandOrderIndependent", func(t *testing.T) {
		a := mustCompile(t, "-- name=a\nADD ATTRIBUTE x=Text\nADD LABEL eng ATTRS x=\"X\"\n", nil)
		b := mustCompile(t, "-- name=a\nADD LABEL eng ATTRS x=\"X\"\nADD ATTRIBUTE x=Text\n", nil)
		assert.Equal(t, a.Digest, b.Digest)
	})

	t.Run("RefnIsNotContent", func(t *testing.T) {
		a := mustCompile(t, "-- name=a\nADD ATTRIBUTE x=Text\n", nil)
		b := mustCompile(t, "-- name=b\nADD ATTRIBUTE x=Text\n", nil)
		assert.Equal(t, a.Digest, b.Digest)
	})

	t.Run("ResolvesReferences", func(t *testing.T) {
		first := mustCompile(t, "-- name=first\nADD ATTRIBUTE d=Text i=Text passed=Boolean\n", nil)
		second := mustCompile(t, "-- name=second\nADD ATTRIBUTE list=Array[Text] el=Text\n", nil)

		third := mustCompile(t,
			"-- name=third\nADD ATTRIBUTE first=refn:first second=Array[refn:second]\n",
			map[string]*artifact.Built{"first": first, "second": second})

		bundle, err := artifact.DecodeBundle(third)
		require.NoError(t, err)
		assert.Equal(t, "refs:"+first.Digest.String(), bundle.CaptureBase.Attributes.Map()["first"])
		assert.Equal(t, "Array[refs:"+second.Digest.String()+"]", bundle.CaptureBase.Attributes.Map()["second"])
		assert.ElementsMatch(t, []said.SAID{first.Digest, second.Digest}, third.Dependencies)
	})

	t.Run("UnresolvedReference", func(t *testing.T) {
		_, err := compileText(t, "-- name=x\nADD ATTRIBUTE a=refn:ghost b=Text\n", nil)
		errs := schemaErrors(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, 2, errs[0].Line)
		assert.Contains(t, errs[0].Msg, "ghost")
	})

	t.Run("SchemaProblemsCollected", func(t *testing.T) {
		text := `-- name=bad
ADD ATTRIBUTE a=Text a=Numeric
ADD LABEL eng ATTRS missing="x"
ADD CONFORMANCE ATTRS a="maybe"
ADD ENTRY eng ATTRS a={"z": "Zed"}
ADD ENTRY_CODE ATTRS a=["y"]
FROM refn:other
`
		_, err := compileText(t, text, nil)
		errs := schemaErrors(t, err)
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Msg
		}
		assert.Len(t, errs, 5, "%v", msgs)
		assert.Contains(t, msgs[0], "declared twice")
	})

	t.Run("InvalidLanguage", func(t *testing.T) {
		_, err := compileText(t, "-- name=a\nADD ATTRIBUTE x=Text\nADD LABEL English ATTRS x=\"X\"\n", nil)
		errs := schemaErrors(t, err)
		assert.Contains(t, errs[0].Msg, "language")
	})

	t.Run("EmptyBundle", func(t *testing.T) {
		_, err := compileText(t, "-- name=a\nADD CLASSIFICATION x\n", nil)
		errs := schemaErrors(t, err)
		assert.Contains(t, errs[0].Msg, "no attributes")
	})
}

func TestCompileTransformation(t *testing.T) {
	t.Parallel()

	a := mustCompile(t, "-- name=a\nADD ATTRIBUTE first_name=Text age=Numeric\n", nil)
	b := mustCompile(t, "-- name=b\nADD ATTRIBUTE name=Text years=Numeric\n", nil)
	deps := map[string]*artifact.Built{"a": a, "b": b}

	t.Run("Valid", func(t *testing.T) {
		built := mustCompile(t,
			"-- name=t kind=transformation\nFROM refn:a\nTO refn:b\nRENAME ATTRIBUTE first_name=name\nLINK ATTRIBUTE age=years\n",
			deps)
		assert.Equal(t, artifact.KindTransformation, built.Kind)
		require.NoError(t, built.Verify())

		tr, err := artifact.DecodeTransformation(built)
		require.NoError(t, err)
		assert.Equal(t, a.Digest, tr.Source)
		assert.Equal(t, b.Digest, tr.Target)
		assert.Equal(t, map[string]string{"first_name": "name"}, tr.Renames)
		assert.Equal(t, map[string]string{"age": "years"}, tr.Links)
	})

	t.Run("UnknownAttribute", func(t *testing.T) {
		_, err := compileText(t, "-- name=t kind=transformation\nFROM refn:a\nRENAME ATTRIBUTE nope=x\n", deps)
		errs := schemaErrors(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, 3, errs[0].Line)
	})

	t.Run("LinkNeedsTarget", func(t *testing.T) {
		_, err := compileText(t, "-- name=t kind=transformation\nFROM refn:a\nLINK ATTRIBUTE age=years\n", deps)
		errs := schemaErrors(t, err)
		assert.Contains(t, errs[0].Msg, "TO")
	})

	t.Run("MissingSource", func(t *testing.T) {
		_, err := compileText(t, "-- name=t kind=transformation\nRENAME ATTRIBUTE a=b\n", deps)
		errs := schemaErrors(t, err)
		assert.Contains(t, errs[0].Msg, "FROM")
	})
}

func TestCompilePresentation(t *testing.T) {
	t.Parallel()

	person := mustCompile(t, personSource, nil)
	deps := map[string]*artifact.Built{"person": person}

	built := mustCompile(t, `-- name=person_form kind=presentation
FROM refn:person
ADD LANGUAGE deu
ADD PAGE_LABEL eng ATTRS "page 1"="Personal data"
ADD INTERACTION web capture ATTRS name=textarea
`, deps)

	assert.Equal(t, artifact.KindPresentation, built.Kind)
	assert.Equal(t, "person_form", built.Refn)
	require.NoError(t, built.Verify())

	p, err := artifact.DecodePresentation(built)
	require.NoError(t, err)
	assert.Equal(t, person.Digest, p.BundleDigest)
	assert.Equal(t, []string{"deu", "eng", "pol"}, p.Languages)
	assert.Equal(t, "Personal data", p.PageLabels["eng"]["page 1"])
	assert.Equal(t, "textarea", p.Interactions[0].Attributes["name"])
	assert.Equal(t, "date-time", p.Interactions[0].Attributes["birth"])
}

func TestCompileUnsupportedKind(t *testing.T) {
	t.Parallel()

	_, err := Compile(Input{Doc: &ocafile.Document{Refn: "x", Kind: "widget"}})
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}
