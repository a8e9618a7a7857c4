package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextStripsScriptsAndDecodesEntities(t *testing.T) {
	t.Parallel()

	raw := []byte(`<html><head><title>Acme &amp; Co</title>
<script>var tracking = "noise";</script>
<style>body { color: red; }</style></head>
<body>
<!-- hidden comment -->
<h1>Pricing &amp; Plans</h1>
<p>Starter   plan</p><p>Pro plan</p>
<noscript>enable js</noscript>
</body></html>`)

	text := Text(raw)
	assert.Contains(t, text, "Pricing & Plans")
	assert.Contains(t, text, "Starter plan")
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "hidden comment")
	assert.NotContains(t, text, "enable js")

	// Block boundaries become line breaks.
	assert.NotContains(t, text, "Starter planPro plan")
}

func TestTextNeverPanicsOnMalformedInput(t *testing.T) {
	t.Parallel()

	inputs := [][]byte{
		nil,
		[]byte(""),
		[]byte("<div><p>unclosed"),
		[]byte("<<<>>><script>half"),
		[]byte("\x00\xff\xfe garbage <b>bold"),
		[]byte(strings.Repeat("<div>", 500) + "deep"),
	}
	for _, raw := range inputs {
		assert.NotPanics(t, func() { _ = Text(raw) })
	}
	assert.Contains(t, Text([]byte("<div><p>unclosed")), "unclosed")
}

func TestFallbackStrip(t *testing.T) {
	t.Parallel()

	got := fallbackStrip([]byte(`<script>x</script><p>hello &lt;world&gt;</p><!-- c -->`))
	assert.Equal(t, "hello <world>", got)
}

func TestTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Acme Pricing", Title([]byte("<html><head><title>  Acme   Pricing </title></head></html>")))
	assert.Empty(t, Title([]byte("<html><body>no title</body></html>")))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 100)

	got, truncated := Truncate(s, 40)
	require.True(t, truncated)
	assert.Len(t, got, 40)

	got, truncated = Truncate(s, 100)
	assert.False(t, truncated)
	assert.Equal(t, s, got)

	got, truncated = Truncate(s, 0)
	assert.False(t, truncated)
	assert.Equal(t, s, got)
}
