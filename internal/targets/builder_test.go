package targets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evidentlabs/rivalscan/internal/evidence"
	memorysearch "github.com/evidentlabs/rivalscan/internal/search/memory"
)

func TestBuildNormalizesAndOrders(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxPages: 12}, zap.NewNop())

	for _, input := range []string{"https://www.acme.io/some/path", "acme.io", "WWW.ACME.IO"} {
		got := b.Build(input)
		require.NotEmpty(t, got, "input %q", input)
		assert.Equal(t, "https://acme.io", got[0].URL)
		assert.Equal(t, "homepage", got[0].Label)
	}

	got := b.Build("acme.io")
	assert.Equal(t, "https://acme.io/pricing", got[1].URL)
	assert.Equal(t, evidence.SourcePricing, got[1].ExpectedType)
	assert.Equal(t, "https://acme.io/changelog", got[2].URL)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Priority, got[i-1].Priority)
	}
}

func TestBuildTruncatesToMaxPages(t *testing.T) {
	t.Parallel()

	b := New(Config{MaxPages: 4}, zap.NewNop())
	got := b.Build("acme.io")
	require.Len(t, got, 4)
	assert.Equal(t, "homepage", got[0].Label)
	assert.Equal(t, "pricing", got[1].Label)
}

func TestBuildUnparseableInput(t *testing.T) {
	t.Parallel()

	b := New(Config{}, zap.NewNop())
	assert.Empty(t, b.Build(""))
	// Garbage still yields a best-effort host rather than a panic.
	assert.NotEmpty(t, b.Build("acme.io///"))
}

func TestAugmentWithSearchAppendsReviewTargets(t *testing.T) {
	t.Parallel()

	b := New(Config{}, zap.NewNop())
	base := b.Build("acme.io")
	searcher := memorysearch.New([]evidence.SearchResult{
		{URL: "https://www.g2.com/products/acme/reviews", Title: "Acme Reviews | G2"},
		{URL: "https://acme.io/testimonials", Title: "self-hosted hit skipped"},
		{URL: "https://g2.com/products/acme/reviews/", Title: "dup of first"},
		{URL: "", Title: "empty skipped"},
	})

	got := b.AugmentWithSearch(context.Background(), base, searcher, "acme.io", "widgets", 5)
	require.Len(t, got, len(base)+1)
	added := got[len(got)-1]
	assert.Equal(t, evidence.SourceReviews, added.ExpectedType)
	assert.True(t, added.FromSearch)
	assert.Contains(t, added.Label, "G2")

	queries := searcher.Queries()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], "acme.io")
	assert.Contains(t, queries[0], "widgets")
}

func TestAugmentWithSearchDegradesGracefully(t *testing.T) {
	t.Parallel()

	b := New(Config{}, zap.NewNop())
	base := b.Build("acme.io")

	failing := memorysearch.New(nil)
	failing.SetError(errors.New("search down"))
	got := b.AugmentWithSearch(context.Background(), base, failing, "acme.io", "", 5)
	assert.Equal(t, base, got)

	got = b.AugmentWithSearch(context.Background(), base, nil, "acme.io", "", 5)
	assert.Equal(t, base, got)
}
