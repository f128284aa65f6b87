package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/locator"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func newTestPipeline(opts Options, readers ...Reader) *Pipeline {
	return New(opts, fixedClock{t: testNow}, nil, readers...)
}

func input(t *testing.T, url, html string) Input {
	t.Helper()
	doc := mustDoc(t, html)
	return Input{URL: url, State: StateFromDocument(doc), Doc: doc}
}

func TestExtractLinkedDataWinsOverDOM(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<script type="application/ld+json">{
  "@context": "https://schema.org",
  "@type": "Product",
  "name": "Trail Runner",
  "sku": "TR-1",
  "image": ["/img/a.jpg", "/img/a.jpg", "https://cdn.example.com/b.jpg"],
  "offers": [{"price": "10", "priceCurrency": "USD", "availability": "https://schema.org/InStock"},
             {"price": "99", "priceCurrency": "EUR"}],
  "aggregateRating": {"ratingValue": "4.5", "reviewCount": 12}
}</script></head>
<body><h1>Other Title</h1><span class="price">€20,00</span><p>Out of stock</p></body></html>`

	rec := newTestPipeline(Options{}).Extract(input(t, "https://shop.example.com/p/trail-runner?utm=1", html))

	assert.Equal(t, "TR-1", rec.ProductID)
	assert.Equal(t, "https://shop.example.com/p/trail-runner", rec.URL)
	require.NotNil(t, rec.Title)
	assert.Equal(t, "Trail Runner", *rec.Title)
	require.NotNil(t, rec.Price.Current)
	assert.InDelta(t, 10.0, *rec.Price.Current, 1e-9)
	require.NotNil(t, rec.Price.Currency)
	assert.Equal(t, "USD", *rec.Price.Currency)
	require.NotNil(t, rec.Availability)
	assert.Equal(t, crawler.InStock, *rec.Availability)
	require.NotNil(t, rec.Rating)
	assert.InDelta(t, 4.5, *rec.Rating, 1e-9)
	require.NotNil(t, rec.ReviewCount)
	assert.Equal(t, int64(12), *rec.ReviewCount)
	assert.Equal(t, []string{
		"https://shop.example.com/img/a.jpg",
		"https://cdn.example.com/b.jpg",
	}, rec.Images)
	assert.Equal(t, testNow, rec.CapturedAt)
	assert.NotNil(t, rec.Creators)
}

func TestExtractFallbackIDIsStable(t *testing.T) {
	t.Parallel()

	url := "https://shop.example.com/items/blue-widget?ref=home"
	p := newTestPipeline(Options{})

	first := p.Extract(input(t, url, `<html><body></body></html>`))
	second := p.Extract(input(t, url, `<html><body></body></html>`))

	assert.Equal(t, locator.FallbackID("https://shop.example.com/items/blue-widget"), first.ProductID)
	assert.Equal(t, first.ProductID, second.ProductID)
	assert.Nil(t, first.Title)
	assert.Nil(t, first.Price.Current)
}

func TestExtractUsesURLIdentifier(t *testing.T) {
	t.Parallel()

	rec := newTestPipeline(Options{}).Extract(input(t,
		"https://shop.example.com/product/1729384756123/", `<html></html>`))
	assert.Equal(t, "1729384756123", rec.ProductID)
}

func TestExtractMalformedSourcesDoNotAbort(t *testing.T) {
	t.Parallel()

	boom := Reader{Name: "boom", Read: func(Input) (crawler.ProductRecord, error) {
		panic("unexpected shape")
	}}
	readers := append([]Reader{boom}, DefaultReaders()...)

	in := Input{
		URL: "https://shop.example.com/product/123456",
		State: crawler.PageState{
			LinkedData: []string{`{"@type": "Product", "name": `},
			StateCache: `{not json`,
			Hydration:  `{"props":{"productTitle":"Lamp Shade","salePrice":"1,234.50 €"}}`,
		},
	}
	rec := newTestPipeline(Options{}, readers...).Extract(in)

	assert.Equal(t, "123456", rec.ProductID)
	require.NotNil(t, rec.Title)
	assert.Equal(t, "Lamp Shade", *rec.Title)
	require.NotNil(t, rec.Price.Current)
	assert.InDelta(t, 1234.5, *rec.Price.Current, 1e-9)
	require.NotNil(t, rec.Price.Currency)
	assert.Equal(t, "EUR", *rec.Price.Currency)
}

func TestExtractHydrationSkippedWhenCoreComplete(t *testing.T) {
	t.Parallel()

	called := false
	spy := Reader{Name: "spy", Needed: missingCore, Read: func(Input) (crawler.ProductRecord, error) {
		called = true
		return crawler.ProductRecord{}, nil
	}}
	full := Reader{Name: "full", Read: func(Input) (crawler.ProductRecord, error) {
		return crawler.ProductRecord{
			ProductID: "42",
			Title:     crawler.StringPtr("Mug"),
			Price:     crawler.Price{Current: crawler.FloatPtr(3)},
		}, nil
	}}

	rec := newTestPipeline(Options{}, full, spy).Extract(Input{URL: "https://shop.example.com/x"})
	assert.False(t, called)
	assert.Equal(t, "42", rec.ProductID)
}

func TestExtractStateCache(t *testing.T) {
	t.Parallel()

	in := Input{
		URL: "https://shop.example.com/item/desk",
		State: crawler.PageState{StateCache: `{
  "Shop:9": {"__typename": "Shop", "name": "Desk Co", "username": "@deskco", "url": "https://shop.example.com/@deskco"},
  "Product:77": {"__typename": "product", "id": "77", "name": "Standing Desk",
    "price": {"amount": "349.99", "currency": "usd", "original": 399},
    "stockStatus": "OUT_OF_STOCK",
    "shop": {"__ref": "Shop:9"},
    "images": [{"url": "/d1.png"}]}
}`},
	}
	rec := newTestPipeline(Options{}).Extract(in)

	assert.Equal(t, "77", rec.ProductID)
	require.NotNil(t, rec.Title)
	assert.Equal(t, "Standing Desk", *rec.Title)
	require.NotNil(t, rec.Price.Current)
	assert.InDelta(t, 349.99, *rec.Price.Current, 1e-9)
	require.NotNil(t, rec.Price.Original)
	assert.InDelta(t, 399.0, *rec.Price.Original, 1e-9)
	require.NotNil(t, rec.Price.Currency)
	assert.Equal(t, "USD", *rec.Price.Currency)
	require.NotNil(t, rec.Availability)
	assert.Equal(t, crawler.OutOfStock, *rec.Availability)
	require.NotNil(t, rec.Seller.Handle)
	assert.Equal(t, "deskco", *rec.Seller.Handle)
	require.NotNil(t, rec.Seller.Name)
	assert.Equal(t, "Desk Co", *rec.Seller.Name)
	assert.Equal(t, []string{"https://shop.example.com/d1.png"}, rec.Images)
}

func TestExtractDOMFallback(t *testing.T) {
	t.Parallel()

	html := `<html><head><meta name="description" content="  A   sturdy chair "></head><body>
<h1> Oak  Chair </h1>
<img src="data:image/png;base64,AAAA"><img src="/c1.jpg"><img data-src="/c2.jpg">
<a href="/help">help</a><a href="/@woodworks?tab=shop">Woodworks</a>
<p>Currently available</p>
</body></html>`
	rec := newTestPipeline(Options{}).Extract(input(t, "https://shop.example.com/chair", html))

	require.NotNil(t, rec.Title)
	assert.Equal(t, "Oak Chair", *rec.Title)
	require.NotNil(t, rec.Description)
	assert.Equal(t, "A sturdy chair", *rec.Description)
	assert.Equal(t, []string{"https://shop.example.com/c1.jpg", "https://shop.example.com/c2.jpg"}, rec.Images)
	require.NotNil(t, rec.Availability)
	assert.Equal(t, crawler.InStock, *rec.Availability)
	require.NotNil(t, rec.Seller.Handle)
	assert.Equal(t, "woodworks", *rec.Seller.Handle)
}

func TestExtractImageCap(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 15; i++ {
		b.WriteString(`<img src="/img/` + string(rune('a'+i)) + `.jpg">`)
	}
	b.WriteString("</body></html>")

	rec := newTestPipeline(Options{MaxImages: 10}).Extract(input(t, "https://shop.example.com/x", b.String()))
	assert.Len(t, rec.Images, 10)
}

func TestExtractCreators(t *testing.T) {
	t.Parallel()

	html := `<html><body>
<a href="/@alice/video/111" data-likes="1.2K"><span data-e2e="video-comments">34</span></a>
<a href="https://shop.example.com/@alice/video/111">dup</a>
<a href="/@bob/video/222"><span data-e2e="video-shares">3M</span></a>
<a href="/@carol/video/333"></a>
<a href="/@dave">profile only</a>
</body></html>`

	in := input(t, "https://shop.example.com/product/9999999", html)

	rec := newTestPipeline(Options{IncludeCreators: true, MaxCreators: 2}).Extract(in)
	require.Len(t, rec.Creators, 2)
	assert.Equal(t, "alice", rec.Creators[0].Creator)
	assert.Equal(t, "https://shop.example.com/@alice/video/111", rec.Creators[0].VideoURL)
	require.NotNil(t, rec.Creators[0].Likes)
	assert.Equal(t, int64(1200), *rec.Creators[0].Likes)
	require.NotNil(t, rec.Creators[0].Comments)
	assert.Equal(t, int64(34), *rec.Creators[0].Comments)
	assert.Nil(t, rec.Creators[0].Shares)
	require.NotNil(t, rec.Creators[1].Shares)
	assert.Equal(t, int64(3_000_000), *rec.Creators[1].Shares)

	off := newTestPipeline(Options{}).Extract(in)
	assert.Empty(t, off.Creators)
}

func TestNormalizeAvailability(t *testing.T) {
	t.Parallel()

	cases := map[string]*crawler.Availability{
		"https://schema.org/InStock":  crawler.AvailabilityPtr(crawler.InStock),
		"OutOfStock":                  crawler.AvailabilityPtr(crawler.OutOfStock),
		"out_of_stock":                crawler.AvailabilityPtr(crawler.OutOfStock),
		"in stock":                    crawler.AvailabilityPtr(crawler.InStock),
		"https://schema.org/PreOrder": nil,
		"":                            nil,
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeAvailability(in), in)
	}
}

func TestExtractKeepsLongNumericIDs(t *testing.T) {
	t.Parallel()

	cache := func(id string) Input {
		return Input{
			URL: "https://shop.example.com/item/lamp",
			State: crawler.PageState{StateCache: `{"Product:1": {"__typename": "Product", "id": ` + id +
				`, "name": "Desk Lamp", "price": 19.5}}`},
		}
	}
	p := newTestPipeline(Options{})

	a := p.Extract(cache("1729586830548456789"))
	b := p.Extract(cache("1729586830548456800"))
	assert.Equal(t, "1729586830548456789", a.ProductID)
	assert.Equal(t, "1729586830548456800", b.ProductID)
	assert.NotEqual(t, a.ProductID, b.ProductID)
	require.NotNil(t, a.Price.Current)
	assert.InDelta(t, 19.5, *a.Price.Current, 1e-9)

	ld := p.Extract(Input{
		URL: "https://shop.example.com/item/lamp",
		State: crawler.PageState{LinkedData: []string{
			`{"@type": "Product", "name": "Desk Lamp", "sku": 1729586830548456789,
			  "offers": {"price": 24, "priceCurrency": "USD"}}`,
		}},
	})
	assert.Equal(t, "1729586830548456789", ld.ProductID)
	require.NotNil(t, ld.Price.Current)
	assert.InDelta(t, 24.0, *ld.Price.Current, 1e-9)
}

func TestExtractDOMSellerSkipsCreatorVideos(t *testing.T) {
	t.Parallel()

	html := `<html><body><h1>Oak Chair</h1>
<a href="/@reviewer/video/4444444">watch</a>
<a href="/@woodworks">Woodworks</a>
</body></html>`
	rec := newTestPipeline(Options{}).Extract(input(t, "https://shop.example.com/chair", html))

	require.NotNil(t, rec.Seller.Handle)
	assert.Equal(t, "woodworks", *rec.Seller.Handle)
	require.NotNil(t, rec.Seller.URL)
	assert.Equal(t, "https://shop.example.com/@woodworks", *rec.Seller.URL)
}

func TestAvailabilityFromText(t *testing.T) {
	t.Parallel()

	cases := map[string]*crawler.Availability{
		"In stock, ships today":          crawler.AvailabilityPtr(crawler.InStock),
		"Currently available":            crawler.AvailabilityPtr(crawler.InStock),
		"Currently unavailable":          crawler.AvailabilityPtr(crawler.OutOfStock),
		"This item is not available":     crawler.AvailabilityPtr(crawler.OutOfStock),
		"Sold out":                       crawler.AvailabilityPtr(crawler.OutOfStock),
		"OUT OF   STOCK":                 crawler.AvailabilityPtr(crawler.OutOfStock),
		"Free shipping on orders over 5": nil,
	}
	for in, want := range cases {
		assert.Equal(t, want, availabilityFromText(in), in)
	}
}
