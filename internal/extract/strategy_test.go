package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strategyPage = `<html><head>
<link rel="canonical" href="https://www.shop.example/productpage.184467.html">
<meta name="twitter:title" content="  ">
<script type="application/ld+json">{"@type":"BreadcrumbList","name":"Home"}</script>
<script type="application/ld+json">{"@type":"Product","name":"Kettle","image":["","https://cdn.example/k.jpg"],"offers":[{"price":null},{"price":"39.90"}]}</script>
</head><body>
<div itemprop="offers"><meta itemprop="price" content="39.90"></div>
<img class="hero" src="" data-src="/img/kettle.jpg">
<img class="hero" src="/img/kettle-2.jpg">
<a href="mailto:sales@shop.example">mail</a>
</body></html>`

func TestSplitAttr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, sel, attr string
	}{
		{"img.hero@src", "img.hero", "src"},
		{"img.hero@data-src", "img.hero", "data-src"},
		{"h1.title", "h1.title", ""},
		{`a[href="mailto:sales@shop.example"]`, `a[href="mailto:sales@shop.example"]`, ""},
		{"@src", "@src", ""},
	}
	for _, tt := range tests {
		sel, attr := splitAttr(tt.in)
		assert.Equal(t, tt.sel, sel, tt.in)
		assert.Equal(t, tt.attr, attr, tt.in)
	}
}

func TestEmbeddedStrategy(t *testing.T) {
	t.Parallel()

	doc := parse(t, strategyPage, "")
	s := EmbeddedStrategy{}

	v, err := s.Locate(doc, "ld+json#name")
	require.NoError(t, err)
	assert.Equal(t, "Home", v, "first object with the path wins")

	v, err = s.Locate(doc, "ld+json@Product#name")
	require.NoError(t, err)
	assert.Equal(t, "Kettle", v)

	v, err = s.Locate(doc, "ld+json@Product#image")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/k.jpg", v)

	v, err = s.Locate(doc, "ld+json@Product#offers.#.price")
	require.NoError(t, err)
	assert.Equal(t, "39.90", v)

	_, err = s.Locate(doc, "ld+json@Product#offers")
	require.Error(t, err)
	assert.False(t, IsBroken(err))

	_, err = s.Locate(doc, "ld+json@Offer#price")
	require.Error(t, err)
	assert.False(t, IsBroken(err))

	_, err = s.Locate(doc, "__NEXT_DATA__#props")
	assert.True(t, IsBroken(err))

	assert.True(t, IsBroken(s.Check("ld+json@#name")))
	assert.True(t, IsBroken(s.Check("#name")))
	assert.True(t, IsBroken(s.Check("ld+json#")))
}

func TestDOMStrategy(t *testing.T) {
	t.Parallel()

	doc := parse(t, strategyPage, "")
	s := DOMStrategy{}

	v, err := s.Locate(doc, "img.hero@src")
	require.NoError(t, err)
	assert.Equal(t, "/img/kettle-2.jpg", v, "empty attributes are skipped")

	v, err = s.Locate(doc, "img.hero@data-src")
	require.NoError(t, err)
	assert.Equal(t, "/img/kettle.jpg", v)

	v, err = s.Locate(doc, `[itemprop="price"]`)
	require.NoError(t, err)
	assert.Equal(t, "39.90", v)

	_, err = s.Locate(doc, "h1")
	require.Error(t, err)
	assert.False(t, IsBroken(err))

	_, err = s.Locate(doc, "img.hero@alt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alt")
}

func TestMetaStrategy(t *testing.T) {
	t.Parallel()

	doc := parse(t, strategyPage, "")
	s := MetaStrategy{}

	_, err := s.Locate(doc, "twitter:title")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	_, err = s.Locate(doc, "og:title")
	require.Error(t, err)
	assert.False(t, IsBroken(err))

	assert.True(t, IsBroken(s.Check("og title")))
}

func TestURLStrategy(t *testing.T) {
	t.Parallel()

	doc := parse(t, strategyPage, "https://shop.example/ignored")
	s := URLStrategy{}

	v, err := s.Locate(doc, `productpage\.(\d+)\.html`)
	require.NoError(t, err)
	assert.Equal(t, "184467", v)

	_, err = s.Locate(doc, `/dp/([A-Z0-9]{10})`)
	require.Error(t, err)
	assert.False(t, IsBroken(err))
}
