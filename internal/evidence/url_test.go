package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL("HTTPS://Example.COM:443/Pricing?b=2&a=1#frag")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/Pricing?a=1&b=2", got)
}

func TestCanonicalKeyCollapsesSchemeAndWWW(t *testing.T) {
	t.Parallel()

	variants := []string{
		"https://www.example.com/pricing",
		"http://example.com/pricing",
		"https://example.com/pricing/",
		"example.com/pricing",
	}
	for _, v := range variants {
		assert.Equal(t, "example.com/pricing", CanonicalKey(v), "variant %q", v)
	}
}

func TestCanonicalKeyUnparseableFallback(t *testing.T) {
	t.Parallel()

	// Control characters make url.Parse fail; the key must still be usable.
	key := CanonicalKey("ht tp://bro ken\x7f")
	assert.NotEmpty(t, key)
	assert.Equal(t, key, CanonicalKey("ht tp://bro ken\x7f"))
}

func TestDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.example.com/pricing": "example.com",
		"example.com":                     "example.com",
		"WWW.Example.com/docs":            "example.com",
		"http://sub.example.co.uk":        "sub.example.co.uk",
		"":                                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Domain(in), "input %q", in)
	}
}

func TestIsFirstParty(t *testing.T) {
	t.Parallel()

	assert.True(t, IsFirstParty("www.acme.io", "https://acme.io", nil))
	assert.True(t, IsFirstParty("docs.acme.dev", "https://acme.io", []string{"docs.acme.dev"}))
	assert.False(t, IsFirstParty("g2.com", "https://acme.io", nil))
	assert.False(t, IsFirstParty("", "https://acme.io", nil))
}

func TestBundleNormalizeDedupsByCanonicalURL(t *testing.T) {
	t.Parallel()

	b := Bundle{
		Items: []EvidenceItem{
			{ID: "1", URL: "https://www.example.com/pricing"},
			{ID: "2", URL: "http://example.com/pricing/"},
			{ID: "3", URL: "https://example.com/docs"},
		},
	}
	normalized := b.Normalize()
	require.Len(t, normalized.Items, 2)
	assert.Equal(t, "1", normalized.Items[0].ID)
	assert.Equal(t, "3", normalized.Items[1].ID)
}

func TestParseSourceTypeDefaultsToMarketing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SourcePricing, ParseSourceType("pricing"))
	assert.Equal(t, SourceMarketing, ParseSourceType("unknown-kind"))
	assert.Equal(t, SourceMarketing, ParseSourceType(""))
}
