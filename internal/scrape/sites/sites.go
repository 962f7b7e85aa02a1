// Package sites holds the per-portal HTML adapters. Each portal gets a
// selector table; the shared Adapter walks it with goquery. The scrape
// engine owns everything else (pagination, fetch decisions, persistence).
package sites

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"condoscan/internal/models"
)

// Config is the selector table for one portal site.
type Config struct {
	Name   string
	Source models.SourceSite

	// BaseURL absolutizes relative detail links.
	BaseURL string

	// ListURL has two verbs: area code, then page number.
	ListURL string

	ItemSelector       string
	LinkSelector       string
	NameSelector       string
	PriceSelector      string
	AddressSelector    string
	FloorSelector      string
	AreaSelector       string
	LayoutSelector     string
	UpdateMarkSelector string
	NextPageSelector   string

	// Detail page selectors, keyed by the RawListing field they fill.
	DetailSelectors map[string]string

	// IDFromURL extracts the site's listing ID from a detail URL.
	IDFromURL func(url string) string
}

// Adapter implements scrape.SiteAdapter over a Config.
type Adapter struct {
	cfg Config
}

func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string                  { return a.cfg.Name }
func (a *Adapter) SourceSite() models.SourceSite { return a.cfg.Source }

func (a *Adapter) ListPageURL(areaCode string, page int) string {
	return fmt.Sprintf(a.cfg.ListURL, areaCode, page)
}

func (a *Adapter) ParseListPage(doc *goquery.Document) ([]models.RawListing, bool, error) {
	var items []models.RawListing

	doc.Find(a.cfg.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Find(a.cfg.LinkSelector).Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		href = normalizeHref(a.cfg.BaseURL, href)
		id := a.cfg.IDFromURL(href)
		if id == "" {
			return
		}

		item := models.RawListing{
			SourceSite:     a.cfg.Source,
			SitePropertyID: id,
			URL:            href,
			BuildingName:   text(sel, a.cfg.NameSelector),
			HasUpdateMark:  a.cfg.UpdateMarkSelector != "" && sel.Find(a.cfg.UpdateMarkSelector).Length() > 0,
		}
		if p, ok := ParsePrice(text(sel, a.cfg.PriceSelector)); ok {
			item.CurrentPrice = &p
		}
		if addr := text(sel, a.cfg.AddressSelector); addr != "" {
			item.ListingAddress = &addr
		}
		if f, ok := ParseFloor(text(sel, a.cfg.FloorSelector)); ok {
			item.ListingFloorNumber = &f
		}
		if ar, ok := ParseArea(text(sel, a.cfg.AreaSelector)); ok {
			item.ListingArea = &ar
		}
		if l := text(sel, a.cfg.LayoutSelector); l != "" {
			item.ListingLayout = &l
		}
		items = append(items, item)
	})

	hasNext := a.cfg.NextPageSelector != "" && doc.Find(a.cfg.NextPageSelector).Length() > 0
	if len(items) == 0 {
		return nil, false, fmt.Errorf("%s: no items matched %q", a.cfg.Name, a.cfg.ItemSelector)
	}
	return items, hasNext, nil
}

func (a *Adapter) ParseDetailPage(doc *goquery.Document, item *models.RawListing) error {
	get := func(field string) string {
		sel, ok := a.cfg.DetailSelectors[field]
		if !ok {
			return ""
		}
		return strings.TrimSpace(doc.Find(sel).First().Text())
	}

	if v := get("building_name"); v != "" {
		item.BuildingName = v
	}
	if v := get("price"); v != "" {
		if p, ok := ParsePrice(v); ok {
			item.CurrentPrice = &p
		}
	}
	if v := get("address"); v != "" {
		item.ListingAddress = &v
	}
	if v := get("floor"); v != "" {
		if f, ok := ParseFloor(v); ok {
			item.ListingFloorNumber = &f
		}
	}
	if v := get("area"); v != "" {
		if ar, ok := ParseArea(v); ok {
			item.ListingArea = &ar
		}
	}
	if v := get("balcony_area"); v != "" {
		if ar, ok := ParseArea(v); ok {
			item.ListingBalconyArea = &ar
		}
	}
	if v := get("layout"); v != "" {
		item.ListingLayout = &v
	}
	if v := get("direction"); v != "" {
		item.ListingDirection = &v
	}
	if v := get("total_floors"); v != "" {
		if tf, bf, ok := ParseTotalFloors(v); ok {
			item.ListingTotalFloors = &tf
			if bf > 0 {
				item.ListingBasementFloors = &bf
			}
		}
	}
	if v := get("total_units"); v != "" {
		if n, ok := ParseCount(v); ok {
			item.ListingTotalUnits = &n
		}
	}
	if v := get("built"); v != "" {
		if y, m, ok := ParseBuiltYearMonth(v); ok {
			item.ListingBuiltYear = &y
			if m > 0 {
				item.ListingBuiltMonth = &m
			}
		}
	}
	if v := get("structure"); v != "" {
		item.ListingBuildingStructure = &v
	}
	if v := get("station"); v != "" {
		item.ListingStationInfo = &v
	}
	if v := get("land_rights"); v != "" {
		item.ListingLandRights = &v
	}
	if v := get("management_fee"); v != "" {
		if n, ok := ParseYen(v); ok {
			item.ManagementFee = &n
		}
	}
	if v := get("repair_fund"); v != "" {
		if n, ok := ParseYen(v); ok {
			item.RepairFund = &n
		}
	}
	if v := get("agency_name"); v != "" {
		item.AgencyName = &v
	}
	if v := get("room_number"); v != "" {
		item.RoomNumber = &v
	}
	return nil
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(sel.Find(selector).First().Text())
}
