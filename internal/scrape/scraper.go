package scrape

import (
	"context"

	"condoscan/internal/models"
	"condoscan/internal/repository"
	"condoscan/internal/resolver"

	"github.com/PuerkitoBio/goquery"
)

// Store is the persistence surface a scraper sees: identity resolution
// plus the retry ledgers. Implemented by StoreAdapter in production and by
// fakes in tests.
type Store interface {
	Resolve(ctx context.Context, raw *models.RawListing) (*resolver.Result, error)
	FindListing(ctx context.Context, source models.SourceSite, sitePropertyID string) (*models.Listing, error)
	Should404Skip(ctx context.Context, source models.SourceSite, sitePropertyID string) (bool, error)
	Record404(ctx context.Context, source models.SourceSite, sitePropertyID, url string) error
	Resolve404(ctx context.Context, source models.SourceSite, sitePropertyID string) error
	RecordPriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string, listPrice, detailPrice int) error
	ResolvePriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string) error
	ShouldSkipPriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string) (bool, error)
}

var _ Store = (*StoreAdapter)(nil)

// StoreAdapter wires the Store contract onto the repository and resolver.
type StoreAdapter struct {
	Repo *repository.Repository
	Res  *resolver.Resolver
}

func (s *StoreAdapter) Resolve(ctx context.Context, raw *models.RawListing) (*resolver.Result, error) {
	return s.Res.Resolve(ctx, raw)
}

func (s *StoreAdapter) FindListing(ctx context.Context, source models.SourceSite, sitePropertyID string) (*models.Listing, error) {
	l, err := s.Repo.GetListingBySourceKey(ctx, source, sitePropertyID)
	if err == repository.ErrNotFound {
		return nil, nil
	}
	return l, err
}

func (s *StoreAdapter) Should404Skip(ctx context.Context, source models.SourceSite, sitePropertyID string) (bool, error) {
	return s.Repo.Should404Skip(ctx, source, sitePropertyID)
}

func (s *StoreAdapter) Record404(ctx context.Context, source models.SourceSite, sitePropertyID, url string) error {
	return s.Repo.Record404(ctx, source, sitePropertyID, url)
}

func (s *StoreAdapter) Resolve404(ctx context.Context, source models.SourceSite, sitePropertyID string) error {
	return s.Repo.Resolve404(ctx, source, sitePropertyID)
}

func (s *StoreAdapter) RecordPriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string, listPrice, detailPrice int) error {
	return s.Repo.RecordPriceMismatch(ctx, source, sitePropertyID, listPrice, detailPrice)
}

func (s *StoreAdapter) ResolvePriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string) error {
	return s.Repo.ResolvePriceMismatch(ctx, source, sitePropertyID)
}

func (s *StoreAdapter) ShouldSkipPriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string) (bool, error) {
	return s.Repo.ShouldSkipPriceMismatch(ctx, source, sitePropertyID)
}

// AreaOptions carries the per-pair scrape parameters.
type AreaOptions struct {
	MaxProperties    int
	ForceDetailFetch bool
	DetailRefetchAge int // hours
}

// Scraper is the per-site plug-in contract. One instance serves one
// (task, area) pair and is retained across pause/resume within a process.
type Scraper interface {
	Name() string
	SourceSite() models.SourceSite

	// ScrapeArea runs the list and detail phases for one area. It must
	// observe the injected control flags at safe points and return
	// ErrCancelled when the cancel flag fires mid-run.
	ScrapeArea(ctx context.Context, areaCode string, opts AreaOptions) error

	// ResumeState and SetResumeState checkpoint the scraper's internal
	// position for crash recovery.
	ResumeState() models.ResumeState
	SetResumeState(models.ResumeState)

	// Stats returns a copy of the scraper's counters.
	Stats() models.ScrapeStats
}

// SiteAdapter is the HTML-parsing half of a scraper: everything that is
// specific to one portal site's markup. The engine owns pagination, safe
// points, fetch decisions, and persistence.
type SiteAdapter interface {
	Name() string
	SourceSite() models.SourceSite

	// ListPageURL builds the URL of one list page for an area.
	ListPageURL(areaCode string, page int) string

	// ParseListPage extracts listing summaries and reports whether more
	// pages follow.
	ParseListPage(doc *goquery.Document) (items []models.RawListing, hasNext bool, err error)

	// ParseDetailPage enriches a summary with detail-page fields in place.
	ParseDetailPage(doc *goquery.Document, item *models.RawListing) error
}
