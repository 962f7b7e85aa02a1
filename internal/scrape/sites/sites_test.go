package sites

import (
	"regexp"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"condoscan/internal/models"
)

func testAdapter() *Adapter {
	return NewAdapter(Config{
		Name:    "testportal",
		BaseURL: "https://example.jp",
		Source:  models.SourceSuumo,
		ListURL: "https://example.jp/list/%s/?page=%d",

		ItemSelector:       "div.unit",
		LinkSelector:       "a.title",
		NameSelector:       "a.title",
		PriceSelector:      "span.price",
		AddressSelector:    "dt:contains('所在地') + dd",
		FloorSelector:      "dt:contains('所在階') + dd",
		AreaSelector:       "dt:contains('専有面積') + dd",
		LayoutSelector:     "dt:contains('間取り') + dd",
		UpdateMarkSelector: "span.new",
		NextPageSelector:   "a.next",

		DetailSelectors: map[string]string{
			"building_name": "h1",
			"price":         "span.detail-price",
			"address":       "th:contains('所在地') + td",
			"floor":         "th:contains('所在階') + td",
			"area":          "th:contains('専有面積') + td",
			"total_floors":  "th:contains('階建') + td",
			"built":         "th:contains('築年月') + td",
			"total_units":   "th:contains('総戸数') + td",
		},
		IDFromURL: func(url string) string {
			i := strings.LastIndex(url, "/id-")
			if i < 0 {
				return ""
			}
			return url[i+len("/id-"):]
		},
	})
}

const listHTML = `<html><body>
<div class="unit">
  <a class="title" href="/bukken/id-100">パークタワー品川</a>
  <span class="price">3,480万円</span>
  <span class="new">NEW</span>
  <dl>
    <dt>所在地</dt><dd>東京都港区1-2-3</dd>
    <dt>所在階</dt><dd>5階/20階建</dd>
    <dt>専有面積</dt><dd>65.53m²</dd>
    <dt>間取り</dt><dd>2LDK</dd>
  </dl>
</div>
<div class="unit">
  <a class="title" href="https://example.jp/bukken/id-200">リバーシティ月島</a>
  <span class="price">1億2000万円</span>
</div>
<div class="unit">
  <a class="title" href="/bukken/no-id-here">broken</a>
</div>
<a class="next" href="?page=2">次へ</a>
</body></html>`

func TestParseListPage(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listHTML))
	require.NoError(t, err)

	items, hasNext, err := testAdapter().ParseListPage(doc)
	require.NoError(t, err)
	assert.True(t, hasNext)
	require.Len(t, items, 2) // the id-less card is dropped

	first := items[0]
	assert.Equal(t, "100", first.SitePropertyID)
	assert.Equal(t, "https://example.jp/bukken/id-100", first.URL, "relative link absolutized")
	assert.Equal(t, "パークタワー品川", first.BuildingName)
	assert.True(t, first.HasUpdateMark)
	require.NotNil(t, first.CurrentPrice)
	assert.Equal(t, 3480, *first.CurrentPrice)
	require.NotNil(t, first.ListingFloorNumber)
	assert.Equal(t, 5, *first.ListingFloorNumber)
	require.NotNil(t, first.ListingArea)
	assert.InDelta(t, 65.53, *first.ListingArea, 0.001)
	require.NotNil(t, first.ListingLayout)
	assert.Equal(t, "2LDK", *first.ListingLayout)

	second := items[1]
	assert.Equal(t, "200", second.SitePropertyID)
	assert.False(t, second.HasUpdateMark)
	require.NotNil(t, second.CurrentPrice)
	assert.Equal(t, 12000, *second.CurrentPrice)
	assert.Nil(t, second.ListingAddress)
}

func TestParseListPageLastPage(t *testing.T) {
	t.Parallel()

	html := `<div class="unit"><a class="title" href="/bukken/id-1">A</a></div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	_, hasNext, err := testAdapter().ParseListPage(doc)
	require.NoError(t, err)
	assert.False(t, hasNext)
}

func TestParseListPageEmpty(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>メンテナンス中</body></html>"))
	require.NoError(t, err)

	_, _, err = testAdapter().ParseListPage(doc)
	assert.Error(t, err, "a page with zero items is a parse failure, not an empty result")
}

const detailHTML = `<html><body>
<h1>パークタワー品川 ウエスト棟</h1>
<span class="detail-price">3,530万円</span>
<table>
  <tr><th>所在地</th><td>東京都港区港南1-2-3</td></tr>
  <tr><th>所在階</th><td>5階</td></tr>
  <tr><th>専有面積</th><td>65.53m²(壁芯)</td></tr>
  <tr><th>階建</th><td>RC20階地下1階建</td></tr>
  <tr><th>築年月</th><td>2003年8月</td></tr>
  <tr><th>総戸数</th><td>389戸</td></tr>
</table>
</body></html>`

func TestParseDetailPage(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(detailHTML))
	require.NoError(t, err)

	item := models.RawListing{SitePropertyID: "100", BuildingName: "パークタワー品川"}
	require.NoError(t, testAdapter().ParseDetailPage(doc, &item))

	assert.Equal(t, "パークタワー品川 ウエスト棟", item.BuildingName)
	require.NotNil(t, item.CurrentPrice)
	assert.Equal(t, 3530, *item.CurrentPrice)
	require.NotNil(t, item.ListingAddress)
	assert.Equal(t, "東京都港区港南1-2-3", *item.ListingAddress)
	require.NotNil(t, item.ListingTotalFloors)
	assert.Equal(t, 20, *item.ListingTotalFloors)
	require.NotNil(t, item.ListingBasementFloors)
	assert.Equal(t, 1, *item.ListingBasementFloors)
	require.NotNil(t, item.ListingBuiltYear)
	assert.Equal(t, 2003, *item.ListingBuiltYear)
	require.NotNil(t, item.ListingBuiltMonth)
	assert.Equal(t, 8, *item.ListingBuiltMonth)
	require.NotNil(t, item.ListingTotalUnits)
	assert.Equal(t, 389, *item.ListingTotalUnits)
}

func TestParseDetailPageKeepsListFields(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body></body></html>"))
	require.NoError(t, err)

	price := 3000
	item := models.RawListing{BuildingName: "タワーA", CurrentPrice: &price}
	require.NoError(t, testAdapter().ParseDetailPage(doc, &item))

	assert.Equal(t, "タワーA", item.BuildingName, "missing detail fields leave list values alone")
	require.NotNil(t, item.CurrentPrice)
	assert.Equal(t, 3000, *item.CurrentPrice)
}

func TestPortalIDPatterns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		re   string
		url  string
		want string
	}{
		{"suumo", "https://suumo.jp/ms/chuko/tokyo/sc_minato/nc_76543210/", "76543210"},
		{"homes", "https://www.homes.co.jp/mansion/b-1408970012345/", "1408970012345"},
		{"rehouse", "https://www.rehouse.co.jp/buy/mansion/bkdetail/F57AB012/", "F57AB012"},
		{"nomu", "https://www.nomu.com/mansion/id/C1234567/", "C1234567"},
		{"livable", "https://www.livable.co.jp/grantact/detail/G12345678", "G12345678"},
	}
	res := map[string]*regexp.Regexp{
		"suumo":   suumoIDRe,
		"homes":   homesIDRe,
		"rehouse": rehouseIDRe,
		"nomu":    nomuIDRe,
		"livable": livableIDRe,
	}
	for _, tc := range cases {
		m := res[tc.re].FindStringSubmatch(tc.url)
		require.NotNil(t, m, tc.re)
		assert.Equal(t, tc.want, m[1], tc.re)
	}
}

func TestAllAdaptersDistinct(t *testing.T) {
	t.Parallel()

	seen := make(map[models.SourceSite]bool)
	for _, a := range All() {
		assert.NotEmpty(t, a.Name())
		assert.False(t, seen[a.SourceSite()], "duplicate source %s", a.SourceSite())
		seen[a.SourceSite()] = true

		url := a.ListPageURL("13103", 2)
		assert.Contains(t, url, "13103")
		assert.Contains(t, url, "2")
	}
}

func TestNormalizeHref(t *testing.T) {
	t.Parallel()

	cases := []struct {
		href string
		want string
	}{
		{"/bukken/id-1", "https://example.jp/bukken/id-1"},
		{"//cdn.example.jp/x", "https://cdn.example.jp/x"},
		{"https://other.jp/y", "https://other.jp/y"},
	}
	for _, tc := range cases {
		if got := normalizeHref("https://example.jp", tc.href); got != tc.want {
			t.Errorf("normalizeHref(%q) = %q, want %q", tc.href, got, tc.want)
		}
	}
}
