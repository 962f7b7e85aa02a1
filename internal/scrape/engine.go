package scrape

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/resolver"
)

// ErrCancelled unwinds a scrape pair to the orchestrator when the cancel
// flag fires at a safe point.
var ErrCancelled = errors.New("task cancelled")

// Phase names persisted in resume state.
const (
	PhaseList   = "list"
	PhaseDetail = "detail"
)

// priceMismatchTolerance is the allowed gap (in 万円) between the list-page
// and detail-page price before the mismatch ledger kicks in.
const priceMismatchTolerance = 1

// Engine is the generic scraper: it drives pagination, detail fetching,
// safe points, and persistence around a site-specific adapter. One engine
// serves one (task, area) pair.
type Engine struct {
	adapter SiteAdapter
	client  *Client
	store   Store
	flags   *ControlFlags

	// onPause runs once when a safe point observes the pause flag, before
	// blocking. The orchestrator uses it to checkpoint.
	onPause func()

	mu        sync.Mutex
	state     models.ResumeState
	stats     models.ScrapeStats
	collected []models.RawListing
}

func NewEngine(adapter SiteAdapter, client *Client, store Store, flags *ControlFlags) *Engine {
	return &Engine{
		adapter: adapter,
		client:  client,
		store:   store,
		flags:   flags,
		state:   models.ResumeState{Phase: PhaseList, CurrentPage: 1},
	}
}

// SetPauseHook installs the checkpoint callback invoked at pause entry.
func (e *Engine) SetPauseHook(fn func()) {
	e.onPause = fn
}

func (e *Engine) Name() string                  { return e.adapter.Name() }
func (e *Engine) SourceSite() models.SourceSite { return e.adapter.SourceSite() }

func (e *Engine) Stats() models.ScrapeStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) ResumeState() models.ResumeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	s.Stats = e.stats
	s.CollectedCount = len(e.collected)
	return s
}

// SetResumeState primes a reconstructed engine. The collected array is not
// durable, so a crash resume restarts the pair from the list phase.
func (e *Engine) SetResumeState(s models.ResumeState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.Phase == PhaseDetail {
		s.Phase = PhaseList
		s.CurrentPage = 1
		s.ProcessedCount = 0
	}
	if s.CurrentPage < 1 {
		s.CurrentPage = 1
	}
	e.state = s
	e.stats = s.Stats
	e.collected = nil
}

// safePoint observes the control flags. On pause it checkpoints once and
// blocks until the pause clears or cancel fires.
func (e *Engine) safePoint() error {
	switch e.flags.Check() {
	case Cancelled:
		return ErrCancelled
	case Paused:
		if e.onPause != nil {
			e.onPause()
		}
		if e.flags.Wait() == Cancelled {
			return ErrCancelled
		}
	}
	return nil
}

func (e *Engine) bumpStats(fn func(s *models.ScrapeStats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// ScrapeArea runs the two-phase scrape for one area: paginate the list
// until the budget fills, then walk the collected items fetching details
// where warranted.
func (e *Engine) ScrapeArea(ctx context.Context, areaCode string, opts AreaOptions) error {
	if err := e.runListPhase(ctx, areaCode, opts); err != nil {
		return err
	}
	return e.runDetailPhase(ctx, opts)
}

func (e *Engine) runListPhase(ctx context.Context, areaCode string, opts AreaOptions) error {
	e.mu.Lock()
	page := e.state.CurrentPage
	if e.state.Phase == PhaseDetail {
		// Already past the list phase within this process.
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	for {
		// Safe point between list pages and before the page request.
		if err := e.safePoint(); err != nil {
			return err
		}

		url := e.adapter.ListPageURL(areaCode, page)
		doc, err := e.client.FetchDocument(ctx, url)
		if err != nil {
			if err == ErrNotFoundPage {
				break
			}
			return fmt.Errorf("list page %d for area %s: %w", page, areaCode, err)
		}

		items, hasNext, err := e.adapter.ParseListPage(doc)
		if err != nil {
			return fmt.Errorf("parse list page %d for area %s: %w", page, areaCode, err)
		}

		e.mu.Lock()
		for _, item := range items {
			if opts.MaxProperties > 0 && len(e.collected) >= opts.MaxProperties {
				break
			}
			e.collected = append(e.collected, item)
		}
		e.stats.PropertiesFound = len(e.collected)
		full := opts.MaxProperties > 0 && len(e.collected) >= opts.MaxProperties
		page++
		e.state.CurrentPage = page
		e.mu.Unlock()

		if full || !hasNext {
			break
		}
	}

	e.mu.Lock()
	e.state.Phase = PhaseDetail
	e.state.ProcessedCount = 0
	e.mu.Unlock()
	return nil
}

func (e *Engine) runDetailPhase(ctx context.Context, opts AreaOptions) error {
	source := e.adapter.SourceSite()

	for {
		e.mu.Lock()
		idx := e.state.ProcessedCount
		if idx >= len(e.collected) {
			e.mu.Unlock()
			return nil
		}
		item := e.collected[idx]
		e.mu.Unlock()

		// Safe point before persisting each listing.
		if err := e.safePoint(); err != nil {
			return err
		}

		e.bumpStats(func(s *models.ScrapeStats) { s.PropertiesAttempted++ })

		if err := e.processItem(ctx, source, &item, opts); err != nil {
			if err == ErrCancelled {
				return err
			}
			log.Printf("[scrape:%s] %s: %v", e.adapter.Name(), item.SitePropertyID, err)
			e.bumpStats(func(s *models.ScrapeStats) { s.OtherErrors++ })
		}

		e.mu.Lock()
		e.state.ProcessedCount++
		e.mu.Unlock()
	}
}

func (e *Engine) processItem(ctx context.Context, source models.SourceSite, item *models.RawListing, opts AreaOptions) error {
	existing, err := e.store.FindListing(ctx, source, item.SitePropertyID)
	if err != nil {
		return err
	}

	if e.shouldFetchDetail(existing, item, opts) {
		fetched, err := e.fetchDetail(ctx, source, item)
		if err != nil {
			return err
		}
		if !fetched {
			e.bumpStats(func(s *models.ScrapeStats) { s.DetailSkipped++ })
		}
	} else {
		e.bumpStats(func(s *models.ScrapeStats) { s.DetailSkipped++ })
	}

	if item.CurrentPrice == nil {
		e.bumpStats(func(s *models.ScrapeStats) { s.PriceMissing++ })
	}
	if item.BuildingName == "" {
		e.bumpStats(func(s *models.ScrapeStats) { s.BuildingInfoMissing++ })
		return fmt.Errorf("listing %s has no building name", item.SitePropertyID)
	}

	res, err := e.store.Resolve(ctx, item)
	if err != nil {
		e.bumpStats(func(s *models.ScrapeStats) { s.SaveFailed++ })
		return err
	}

	e.bumpStats(func(s *models.ScrapeStats) {
		s.PropertiesProcessed++
		switch res.Outcome {
		case resolver.OutcomeNew:
			s.NewListings++
		case resolver.OutcomePriceChanged:
			s.PriceUpdated++
		case resolver.OutcomeOtherUpdate:
			s.OtherUpdates++
		case resolver.OutcomeUnchanged:
			s.RefetchedUnchanged++
		case resolver.OutcomeSaveFailed:
			s.SaveFailed++
		}
	})
	return nil
}

// shouldFetchDetail applies the fetch conditions: new listing, list-page
// update mark, forced fetch, or a stale last fetch.
func (e *Engine) shouldFetchDetail(existing *models.Listing, item *models.RawListing, opts AreaOptions) bool {
	if existing == nil {
		return true
	}
	if item.HasUpdateMark {
		return true
	}
	if opts.ForceDetailFetch {
		return true
	}
	if opts.DetailRefetchAge > 0 {
		age := time.Duration(opts.DetailRefetchAge) * time.Hour
		if existing.LastFetchedAt == nil || time.Since(*existing.LastFetchedAt) > age {
			return true
		}
	}
	return false
}

// fetchDetail pulls the detail page behind the 404 and price-mismatch
// ledgers, enriching the item in place. Returns false when a ledger
// suppressed the fetch.
func (e *Engine) fetchDetail(ctx context.Context, source models.SourceSite, item *models.RawListing) (bool, error) {
	skip, err := e.store.Should404Skip(ctx, source, item.SitePropertyID)
	if err != nil {
		return false, err
	}
	if skip {
		return false, nil
	}
	skip, err = e.store.ShouldSkipPriceMismatch(ctx, source, item.SitePropertyID)
	if err != nil {
		return false, err
	}
	if skip {
		return false, nil
	}

	// Safe point before the outbound request.
	if err := e.safePoint(); err != nil {
		return false, err
	}

	listPrice := item.CurrentPrice

	doc, err := e.client.FetchDocument(ctx, item.URL)
	if err != nil {
		if err == ErrNotFoundPage {
			e.bumpStats(func(s *models.ScrapeStats) { s.DetailFetchFailed++ })
			if lerr := e.store.Record404(ctx, source, item.SitePropertyID, item.URL); lerr != nil {
				log.Printf("[scrape:%s] record 404 for %s: %v", e.adapter.Name(), item.SitePropertyID, lerr)
			}
			return false, nil
		}
		e.bumpStats(func(s *models.ScrapeStats) { s.DetailFetchFailed++ })
		return false, err
	}
	if err := e.store.Resolve404(ctx, source, item.SitePropertyID); err != nil {
		log.Printf("[scrape:%s] resolve 404 for %s: %v", e.adapter.Name(), item.SitePropertyID, err)
	}

	if err := e.adapter.ParseDetailPage(doc, item); err != nil {
		e.bumpStats(func(s *models.ScrapeStats) { s.DetailFetchFailed++ })
		return false, fmt.Errorf("parse detail for %s: %w", item.SitePropertyID, err)
	}
	fetchedAt := time.Now()
	item.DetailFetchedAt = &fetchedAt
	e.bumpStats(func(s *models.ScrapeStats) { s.DetailFetched++ })

	if listPrice != nil && item.CurrentPrice != nil {
		diff := *item.CurrentPrice - *listPrice
		if diff < 0 {
			diff = -diff
		}
		if diff > priceMismatchTolerance {
			if err := e.store.RecordPriceMismatch(ctx, source, item.SitePropertyID, *listPrice, *item.CurrentPrice); err != nil {
				log.Printf("[scrape:%s] record price mismatch for %s: %v", e.adapter.Name(), item.SitePropertyID, err)
			}
			// The list price stands until the disagreement clears.
			item.CurrentPrice = listPrice
		} else {
			if err := e.store.ResolvePriceMismatch(ctx, source, item.SitePropertyID); err != nil {
				log.Printf("[scrape:%s] resolve price mismatch for %s: %v", e.adapter.Name(), item.SitePropertyID, err)
			}
		}
	}
	return true, nil
}
