package sites

import (
	"regexp"
	"strings"

	"condoscan/internal/models"
)

// The five supported portals. Selector tables reflect each site's markup
// as of the last scrape audit; when a site reskins, only this file moves.

var suumoIDRe = regexp.MustCompile(`/nc_(\d+)/`)

func Suumo() *Adapter {
	return NewAdapter(Config{
		Name:    "suumo",
		BaseURL: "https://suumo.jp",
		Source:  models.SourceSuumo,
		ListURL: "https://suumo.jp/jj/bukken/ichiran/JJ012FC001/?ar=030&bs=011&sc=%s&pn=%d",

		ItemSelector:       "div.property_unit",
		LinkSelector:       "h2.property_unit-title a",
		NameSelector:       "h2.property_unit-title a",
		PriceSelector:      "dd.dottable-vm span.dottable-value",
		AddressSelector:    "dl.dottable dt:contains('所在地') + dd",
		FloorSelector:      "dl.dottable dt:contains('所在階') + dd",
		AreaSelector:       "dl.dottable dt:contains('専有面積') + dd",
		LayoutSelector:     "dl.dottable dt:contains('間取り') + dd",
		UpdateMarkSelector: "span.property_unit-newmark",
		NextPageSelector:   "p.pagination-parts a:contains('次へ')",

		DetailSelectors: map[string]string{
			"building_name":  "h1.section_h1-header-title",
			"price":          "div.mainContents span.price",
			"address":        "table.mt10 th:contains('所在地') + td",
			"floor":          "table.mt10 th:contains('所在階') + td",
			"area":           "table.mt10 th:contains('専有面積') + td",
			"balcony_area":   "table.mt10 th:contains('バルコニー') + td",
			"layout":         "table.mt10 th:contains('間取り') + td",
			"direction":      "table.mt10 th:contains('向き') + td",
			"total_floors":   "table.mt10 th:contains('構造・階建て') + td",
			"total_units":    "table.mt10 th:contains('総戸数') + td",
			"built":          "table.mt10 th:contains('築年月') + td",
			"structure":      "table.mt10 th:contains('構造・階建て') + td",
			"station":        "table.mt10 th:contains('交通') + td",
			"land_rights":    "table.mt10 th:contains('敷地の権利形態') + td",
			"management_fee": "table.mt10 th:contains('管理費') + td",
			"repair_fund":    "table.mt10 th:contains('修繕積立金') + td",
			"agency_name":    "div.itemcassette_img-company",
		},
		IDFromURL: func(url string) string {
			if m := suumoIDRe.FindStringSubmatch(url); m != nil {
				return m[1]
			}
			return ""
		},
	})
}

var homesIDRe = regexp.MustCompile(`/mansion/b-(\d+)`)

func Homes() *Adapter {
	return NewAdapter(Config{
		Name:    "homes",
		BaseURL: "https://www.homes.co.jp",
		Source:  models.SourceHomes,
		ListURL: "https://www.homes.co.jp/mansion/chuko/%s/list/?page=%d",

		ItemSelector:       "div.mod-mergeBuilding--sale",
		LinkSelector:       "a.prg-bukkenNameAnchor",
		NameSelector:       "span.bukkenName",
		PriceSelector:      "span.priceLabel",
		AddressSelector:    "td.bukkenSpec .address",
		FloorSelector:      "td.bukkenSpec .floor",
		AreaSelector:       "td.bukkenSpec .space",
		LayoutSelector:     "td.bukkenSpec .madori",
		UpdateMarkSelector: "span.newArrival",
		NextPageSelector:   "li.nextPage a",

		DetailSelectors: map[string]string{
			"building_name":  "h1.bukkenName",
			"price":          "p.price",
			"address":        "th:contains('所在地') + td",
			"floor":          "th:contains('所在階') + td",
			"area":           "th:contains('専有面積') + td",
			"balcony_area":   "th:contains('バルコニー面積') + td",
			"layout":         "th:contains('間取り') + td",
			"direction":      "th:contains('主要採光面') + td",
			"total_floors":   "th:contains('階数') + td",
			"total_units":    "th:contains('総戸数') + td",
			"built":          "th:contains('築年月') + td",
			"structure":      "th:contains('建物構造') + td",
			"station":        "th:contains('交通') + td",
			"land_rights":    "th:contains('土地権利') + td",
			"management_fee": "th:contains('管理費') + td",
			"repair_fund":    "th:contains('修繕積立金') + td",
			"agency_name":    "div.companyName",
		},
		IDFromURL: func(url string) string {
			if m := homesIDRe.FindStringSubmatch(url); m != nil {
				return m[1]
			}
			return ""
		},
	})
}

var rehouseIDRe = regexp.MustCompile(`/bkdetail/([A-Z0-9]+)/`)

func Rehouse() *Adapter {
	return NewAdapter(Config{
		Name:    "rehouse",
		BaseURL: "https://www.rehouse.co.jp",
		Source:  models.SourceRehouse,
		ListURL: "https://www.rehouse.co.jp/buy/mansion/prefecture/13/city/%s/?page=%d",

		ItemSelector:     "div.property-index-card",
		LinkSelector:     "a.property-index-card-inner",
		NameSelector:     "p.card-heading",
		PriceSelector:    "span.price-value",
		AddressSelector:  "p.property-address",
		FloorSelector:    "dt:contains('所在階') + dd",
		AreaSelector:     "dt:contains('専有面積') + dd",
		LayoutSelector:   "dt:contains('間取り') + dd",
		NextPageSelector: "a.pagination-next",

		DetailSelectors: map[string]string{
			"building_name":  "h1.property-name",
			"price":          "span.detail-price",
			"address":        "th:contains('所在地') + td",
			"floor":          "th:contains('所在階') + td",
			"area":           "th:contains('専有面積') + td",
			"balcony_area":   "th:contains('バルコニー') + td",
			"layout":         "th:contains('間取り') + td",
			"direction":      "th:contains('方位') + td",
			"total_floors":   "th:contains('建物階数') + td",
			"total_units":    "th:contains('総戸数') + td",
			"built":          "th:contains('築年月') + td",
			"structure":      "th:contains('構造') + td",
			"station":        "th:contains('交通') + td",
			"management_fee": "th:contains('管理費') + td",
			"repair_fund":    "th:contains('修繕積立金') + td",
			"room_number":    "th:contains('部屋番号') + td",
		},
		IDFromURL: func(url string) string {
			if m := rehouseIDRe.FindStringSubmatch(url); m != nil {
				return m[1]
			}
			return ""
		},
	})
}

var nomuIDRe = regexp.MustCompile(`/id/([A-Z0-9]+)/`)

func Nomu() *Adapter {
	return NewAdapter(Config{
		Name:    "nomu",
		BaseURL: "https://www.nomu.com",
		Source:  models.SourceNomu,
		ListURL: "https://www.nomu.com/mansion/area_tokyo/%s/?p=%d",

		ItemSelector:     "div.item_resultlist",
		LinkSelector:     "h3.item_title a",
		NameSelector:     "h3.item_title a",
		PriceSelector:    "p.item_price",
		AddressSelector:  "dl.item_data dt:contains('所在地') + dd",
		FloorSelector:    "dl.item_data dt:contains('階数') + dd",
		AreaSelector:     "dl.item_data dt:contains('面積') + dd",
		LayoutSelector:   "dl.item_data dt:contains('間取り') + dd",
		NextPageSelector: "li.next a",

		DetailSelectors: map[string]string{
			"building_name":  "h1.mansion_name",
			"price":          "span.price_txt",
			"address":        "th:contains('所在地') + td",
			"floor":          "th:contains('所在階') + td",
			"area":           "th:contains('専有面積') + td",
			"layout":         "th:contains('間取り') + td",
			"direction":      "th:contains('バルコニー方向') + td",
			"total_floors":   "th:contains('階建') + td",
			"total_units":    "th:contains('総戸数') + td",
			"built":          "th:contains('築年月') + td",
			"structure":      "th:contains('構造') + td",
			"station":        "th:contains('交通') + td",
			"management_fee": "th:contains('管理費') + td",
			"repair_fund":    "th:contains('修繕積立金') + td",
		},
		IDFromURL: func(url string) string {
			if m := nomuIDRe.FindStringSubmatch(url); m != nil {
				return m[1]
			}
			return ""
		},
	})
}

var livableIDRe = regexp.MustCompile(`/grantact/detail/([A-Z0-9]+)`)

func Livable() *Adapter {
	return NewAdapter(Config{
		Name:    "livable",
		BaseURL: "https://www.livable.co.jp",
		Source:  models.SourceLivable,
		ListURL: "https://www.livable.co.jp/kounyu/mansion/tokyo/%s/?pg=%d",

		ItemSelector:     "li.o-product-list__item",
		LinkSelector:     "a.o-product-list__link",
		NameSelector:     "p.o-product-list__name",
		PriceSelector:    "span.o-product-list__price",
		AddressSelector:  "dd.o-product-list__address",
		FloorSelector:    "dd.o-product-list__floor",
		AreaSelector:     "dd.o-product-list__area",
		LayoutSelector:   "dd.o-product-list__layout",
		NextPageSelector: "a.m-pagination__next",

		DetailSelectors: map[string]string{
			"building_name":  "h1.m-article-header__title",
			"price":          "p.m-article-header__price",
			"address":        "th:contains('所在地') + td",
			"floor":          "th:contains('所在階') + td",
			"area":           "th:contains('専有面積') + td",
			"balcony_area":   "th:contains('バルコニー') + td",
			"layout":         "th:contains('間取り') + td",
			"direction":      "th:contains('向き') + td",
			"total_floors":   "th:contains('規模') + td",
			"total_units":    "th:contains('総戸数') + td",
			"built":          "th:contains('築年月') + td",
			"structure":      "th:contains('構造') + td",
			"station":        "th:contains('交通') + td",
			"management_fee": "th:contains('管理費') + td",
			"repair_fund":    "th:contains('修繕積立金') + td",
		},
		IDFromURL: func(url string) string {
			if m := livableIDRe.FindStringSubmatch(url); m != nil {
				return m[1]
			}
			return ""
		},
	})
}

// All returns one adapter per supported portal.
func All() []*Adapter {
	return []*Adapter{Suumo(), Homes(), Rehouse(), Nomu(), Livable()}
}

// normalizeHref makes protocol-relative and root-relative links absolute.
func normalizeHref(base, href string) string {
	switch {
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return base + href
	}
	return href
}
