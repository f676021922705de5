package presentation_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/compiler"
	"github.com/Benny93/oca-go/internal/ocafile"
	"github.com/Benny93/oca-go/internal/presentation"
	"github.com/Benny93/oca-go/internal/said"
)

// bundles compiles sources in order; later sources may reference earlier
// ones by refn.
func bundles(t *testing.T, sources ...string) (map[string]*artifact.Built, artifact.Index) {
	t.Helper()
	byRefn := make(map[string]*artifact.Built)
	idx := artifact.Index{}
	for _, src := range sources {
		doc, err := ocafile.Parse(src)
		require.NoError(t, err)
		built, err := compiler.Compile(compiler.Input{Doc: doc, Deps: byRefn, Resolver: idx})
		require.NoError(t, err)
		byRefn[doc.Refn] = built
		idx[built.Digest] = built
	}
	return byRefn, idx
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	t.Run("FlatBundle", func(t *testing.T) {
		byRefn, idx := bundles(t, `-- name=simple
ADD ATTRIBUTE name=Text dt=DateTime img=Binary
ADD LABEL eng ATTRS name="Name"
ADD LABEL pol ATTRS name="Imię"
`)
		built, err := presentation.Generate(byRefn["simple"], idx, presentation.Overlays{})
		require.NoError(t, err)
		require.NoError(t, built.Verify())
		assert.Equal(t, []said.SAID{byRefn["simple"].Digest}, built.Dependencies)

		p, err := artifact.DecodePresentation(built)
		require.NoError(t, err)
		assert.Equal(t, presentation.Version, p.Version)
		assert.Equal(t, []string{"eng", "pol"}, p.Languages)
		assert.Equal(t, []string{presentation.DefaultPage}, p.PageOrder)
		require.Len(t, p.Pages, 1)

		labels := make([]string, 0, len(p.Pages[0].Elements))
		for _, el := range p.Pages[0].Elements {
			labels = append(labels, el.Label())
		}
		assert.Equal(t, []string{"name", "dt", "img"}, labels)
		assert.Equal(t, map[string]string{"dt": "date-time", "img": "file"}, p.Interactions[0].Attributes)
		assert.Equal(t, "Page 1", p.PageLabels["pol"]["page 1"])
	})

	t.Run("NestedReferences", func(t *testing.T) {
		byRefn, idx := bundles(t,
			"-- name=nested\nADD ATTRIBUTE dt=DateTime img=Binary\n",
			"-- name=mid\nADD ATTRIBUTE nested=refn:nested\n",
			"-- name=top\nADD ATTRIBUTE once=refn:nested again=refn:mid list=Array[refn:nested]\n",
		)
		built, err := presentation.Generate(byRefn["top"], idx, presentation.Overlays{})
		require.NoError(t, err)
		assert.Len(t, built.Dependencies, 3)

		p, err := artifact.DecodePresentation(built)
		require.NoError(t, err)
		attrs := p.Interactions[0].Attributes
		assert.Equal(t, "date-time", attrs["once.dt"])
		assert.Equal(t, "file", attrs["once.img"])
		assert.Equal(t, "date-time", attrs["again.nested.dt"])
		assert.Equal(t, "file", attrs["again.nested.img"])
		assert.Equal(t, "date-time", attrs["list.dt"])

		require.Len(t, p.Pages[0].Elements, 3)
		assert.Equal(t, "once", p.Pages[0].Elements[0].Page.Name)
		again := p.Pages[0].Elements[1]
		require.NotNil(t, again.Page)
		assert.Equal(t, "again", again.Page.Name)
		assert.Equal(t, "nested", again.Page.Elements[0].Label())
	})

	t.Run("PrimitiveArrayNamespace", func(t *testing.T) {
		byRefn, idx := bundles(t, "-- name=arr\nADD ATTRIBUTE dates=Array[DateTime] name=Text\n")
		built, err := presentation.Generate(byRefn["arr"], idx, presentation.Overlays{})
		require.NoError(t, err)

		p, err := artifact.DecodePresentation(built)
		require.NoError(t, err)
		assert.Equal(t, "date-time", p.Interactions[0].Attributes["dates.dates"])
		assert.Equal(t, "dates", p.Pages[0].Elements[0].Name)
	})

	t.Run("Overlays", func(t *testing.T) {
		byRefn, idx := bundles(t,
			"-- name=addr\nADD ATTRIBUTE city=Text\n",
			"-- name=person\nADD ATTRIBUTE name=Text homes=Array[refn:addr]\n",
		)
		ov, err := presentation.ParseOverlays([]byte(`{
			// translations
			"page_labels": {"fra": {"page 1": "Personne"}},
			"interaction": {"attributes": {"name": "textarea"}},
			"attribute_mapping": {"homes.city": "town", "name": ""},
		}`))
		require.NoError(t, err)

		built, err := presentation.Generate(byRefn["person"], idx, ov)
		require.NoError(t, err)
		p, err := artifact.DecodePresentation(built)
		require.NoError(t, err)
		assert.Equal(t, []string{"fra"}, p.Languages)
		assert.Equal(t, "Personne", p.PageLabels["fra"]["page 1"])
		assert.Equal(t, "textarea", p.Interactions[0].Attributes["name"])
		assert.Equal(t, map[string]string{"homes.city": "town"}, p.Mapping)
	})

	t.Run("UnknownMappingPath", func(t *testing.T) {
		byRefn, idx := bundles(t, "-- name=a\nADD ATTRIBUTE x=Text\n")
		_, err := presentation.Generate(byRefn["a"], idx, presentation.Overlays{Mapping: map[string]string{"y": "z"}})
		var se *artifact.SchemaError
		require.True(t, errors.As(err, &se))
		assert.Contains(t, se.Msg, `"y"`)
	})

	t.Run("TamperedBundle", func(t *testing.T) {
		byRefn, idx := bundles(t, "-- name=a\nADD ATTRIBUTE x=Text\n")
		orig := byRefn["a"]
		tampered := *orig
		tampered.Serialized = bytes.Replace(orig.Serialized, []byte(`"x":"Text"`), []byte(`"x":"Numeric"`), 1)

		_, err := presentation.Generate(&tampered, idx, presentation.Overlays{})
		var mismatch *said.MismatchError
		assert.True(t, errors.As(err, &mismatch))
	})

	t.Run("MissingNestedBundle", func(t *testing.T) {
		byRefn, _ := bundles(t,
			"-- name=inner\nADD ATTRIBUTE x=Text\n",
			"-- name=outer\nADD ATTRIBUTE in=refn:inner\n",
		)
		_, err := presentation.Generate(byRefn["outer"], artifact.Index{}, presentation.Overlays{})
		assert.ErrorIs(t, err, presentation.ErrMissingBundle)
	})
}

func TestFormatAndCheck(t *testing.T) {
	t.Parallel()

	byRefn, idx := bundles(t, "-- name=a\nADD ATTRIBUTE x=Text when=DateTime\nADD LABEL eng ATTRS x=\"X\"\n")
	built, err := presentation.Generate(byRefn["a"], idx, presentation.Overlays{})
	require.NoError(t, err)
	p, err := artifact.DecodePresentation(built)
	require.NoError(t, err)

	for _, f := range []presentation.Format{presentation.FormatJSON, presentation.FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			data, err := presentation.Encode(p, f)
			require.NoError(t, err)
			decoded, err := presentation.Decode(data, f)
			require.NoError(t, err)

			d, err := presentation.Check(decoded, false)
			require.NoError(t, err)
			assert.Equal(t, built.Digest, d)
		})
	}

	t.Run("Recalculate", func(t *testing.T) {
		data, err := presentation.Encode(p, presentation.FormatJSON)
		require.NoError(t, err)
		decoded, err := presentation.Decode(data, presentation.FormatJSON)
		require.NoError(t, err)
		decoded.PageLabels["eng"]["page 1"] = "Renamed"

		_, err = presentation.Check(decoded, false)
		var mismatch *said.MismatchError
		require.True(t, errors.As(err, &mismatch))

		d, err := presentation.Check(decoded, true)
		require.NoError(t, err)
		assert.NotEqual(t, built.Digest, d)
		assert.Equal(t, d, decoded.D)
	})

	t.Run("ParseFormat", func(t *testing.T) {
		f, err := presentation.ParseFormat("yml")
		require.NoError(t, err)
		assert.Equal(t, presentation.FormatYAML, f)
		_, err = presentation.ParseFormat("xml")
		assert.Error(t, err)
	})
}

func TestMappingSkeleton(t *testing.T) {
	t.Parallel()

	byRefn, idx := bundles(t,
		"-- name=addr\nADD ATTRIBUTE city=Text zip=Text\n",
		"-- name=person\nADD ATTRIBUTE name=Text homes=Array[refn:addr] tags=Array[Text]\n",
	)
	m, err := presentation.MappingSkeleton(byRefn["person"], idx)
	require.NoError(t, err)

	bundle, err := artifact.DecodeBundle(byRefn["person"])
	require.NoError(t, err)
	assert.Equal(t, bundle.CaptureBase.D, m.CaptureBase)
	assert.Equal(t, map[string]string{
		"homes.city": "",
		"homes.zip":  "",
		"name":       "",
		"tags.tags":  "",
	}, m.AttributeMapping)
}
