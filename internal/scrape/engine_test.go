package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"condoscan/internal/models"
	"condoscan/internal/resolver"
)

// fakeAdapter parses the minimal portal markup served by newPortal.
type fakeAdapter struct {
	base string
}

func (a *fakeAdapter) Name() string                  { return "fake" }
func (a *fakeAdapter) SourceSite() models.SourceSite { return models.SourceSuumo }

func (a *fakeAdapter) ListPageURL(areaCode string, page int) string {
	return fmt.Sprintf("%s/list/%d", a.base, page)
}

func (a *fakeAdapter) ParseListPage(doc *goquery.Document) ([]models.RawListing, bool, error) {
	var items []models.RawListing
	doc.Find("li.item").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("data-id")
		item := models.RawListing{
			SourceSite:     models.SourceSuumo,
			SitePropertyID: id,
			URL:            a.base + "/detail/" + id,
			BuildingName:   sel.Text(),
			HasUpdateMark:  false,
		}
		if raw, ok := sel.Attr("data-price"); ok {
			if p, err := strconv.Atoi(raw); err == nil {
				item.CurrentPrice = &p
			}
		}
		items = append(items, item)
	})
	if len(items) == 0 {
		return nil, false, fmt.Errorf("no items")
	}
	return items, doc.Find("a.next").Length() > 0, nil
}

func (a *fakeAdapter) ParseDetailPage(doc *goquery.Document, item *models.RawListing) error {
	if name := doc.Find("h1").Text(); name != "" {
		item.BuildingName = name
	}
	if raw := doc.Find("span.price").Text(); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			item.CurrentPrice = &p
		}
	}
	return nil
}

// fakeStore records every ledger and resolve call.
type fakeStore struct {
	mu           sync.Mutex
	existing     map[string]*models.Listing
	skip404      map[string]bool
	skipMismatch map[string]bool
	outcome      resolver.Outcome

	resolved        []models.RawListing
	recorded404     []string
	cleared404      []string
	mismatches      []string
	clearedMismatch []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing:     make(map[string]*models.Listing),
		skip404:      make(map[string]bool),
		skipMismatch: make(map[string]bool),
		outcome:      resolver.OutcomeNew,
	}
}

func (f *fakeStore) Resolve(ctx context.Context, raw *models.RawListing) (*resolver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, *raw)
	return &resolver.Result{Outcome: f.outcome}, nil
}

func (f *fakeStore) FindListing(ctx context.Context, source models.SourceSite, id string) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[id], nil
}

func (f *fakeStore) Should404Skip(ctx context.Context, source models.SourceSite, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skip404[id], nil
}

func (f *fakeStore) Record404(ctx context.Context, source models.SourceSite, id, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded404 = append(f.recorded404, id)
	return nil
}

func (f *fakeStore) Resolve404(ctx context.Context, source models.SourceSite, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared404 = append(f.cleared404, id)
	return nil
}

func (f *fakeStore) RecordPriceMismatch(ctx context.Context, source models.SourceSite, id string, listPrice, detailPrice int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mismatches = append(f.mismatches, fmt.Sprintf("%s:%d->%d", id, listPrice, detailPrice))
	return nil
}

func (f *fakeStore) ShouldSkipPriceMismatch(ctx context.Context, source models.SourceSite, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skipMismatch[id], nil
}

func (f *fakeStore) ResolvePriceMismatch(ctx context.Context, source models.SourceSite, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedMismatch = append(f.clearedMismatch, id)
	return nil
}

func (f *fakeStore) resolvedItems() []models.RawListing {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.RawListing, len(f.resolved))
	copy(out, f.resolved)
	return out
}

// newPortal serves the given path -> body pages, 404 otherwise, counting
// hits per path.
func newPortal(pages map[string]string) (*httptest.Server, *sync.Map) {
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		body, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	return srv, &hits
}

func pathHits(hits *sync.Map, path string) int {
	n, ok := hits.Load(path)
	if !ok {
		return 0
	}
	return int(n.(*atomic.Int32).Load())
}

func listItem(id string, price int, name string) string {
	return fmt.Sprintf(`<li class="item" data-id=%q data-price="%d">%s</li>`, id, price, name)
}

func detailPage(name string, price int) string {
	return fmt.Sprintf(`<html><body><h1>%s</h1><span class="price">%d</span></body></html>`, name, price)
}

func newTestEngine(base string, store Store, flags *ControlFlags) *Engine {
	return NewEngine(&fakeAdapter{base: base}, NewClient(5*time.Second, 2, 1000), store, flags)
}

func TestScrapeAreaFullRun(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(map[string]string{
		"/list/1":    `<ul>` + listItem("a1", 3000, "Tower A") + listItem("a2", 3200, "Tower B") + `</ul><a class="next">next</a>`,
		"/list/2":    `<ul>` + listItem("a3", 2800, "Tower C") + `</ul>`,
		"/detail/a1": detailPage("Tower A Grande", 3000),
		"/detail/a2": detailPage("Tower B Grande", 3200),
		"/detail/a3": detailPage("Tower C Grande", 2800),
	})
	defer srv.Close()

	store := newFakeStore()
	e := newTestEngine(srv.URL, store, NewControlFlags())

	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{}); err != nil {
		t.Fatalf("ScrapeArea: %v", err)
	}

	stats := e.Stats()
	if stats.PropertiesFound != 3 || stats.PropertiesAttempted != 3 || stats.PropertiesProcessed != 3 {
		t.Errorf("counts = found %d attempted %d processed %d, want 3/3/3",
			stats.PropertiesFound, stats.PropertiesAttempted, stats.PropertiesProcessed)
	}
	if stats.DetailFetched != 3 || stats.NewListings != 3 {
		t.Errorf("detail fetched %d, new %d, want 3/3", stats.DetailFetched, stats.NewListings)
	}

	items := store.resolvedItems()
	if len(items) != 3 {
		t.Fatalf("resolved %d items, want 3", len(items))
	}
	if items[0].BuildingName != "Tower A Grande" {
		t.Errorf("detail name not applied: %q", items[0].BuildingName)
	}

	rs := e.ResumeState()
	if rs.Phase != PhaseDetail || rs.ProcessedCount != 3 || rs.CollectedCount != 3 {
		t.Errorf("resume state = %+v", rs)
	}
}

func TestScrapeAreaStopsAtBudget(t *testing.T) {
	t.Parallel()

	srv, hits := newPortal(map[string]string{
		"/list/1":    `<ul>` + listItem("a1", 3000, "Tower A") + listItem("a2", 3200, "Tower B") + `</ul><a class="next">next</a>`,
		"/list/2":    `<ul>` + listItem("a3", 2800, "Tower C") + `</ul>`,
		"/detail/a1": detailPage("Tower A", 3000),
		"/detail/a2": detailPage("Tower B", 3200),
	})
	defer srv.Close()

	store := newFakeStore()
	e := newTestEngine(srv.URL, store, NewControlFlags())

	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{MaxProperties: 2}); err != nil {
		t.Fatalf("ScrapeArea: %v", err)
	}
	if got := e.Stats().PropertiesFound; got != 2 {
		t.Errorf("PropertiesFound = %d, want 2", got)
	}
	if n := pathHits(hits, "/list/2"); n != 0 {
		t.Errorf("second list page fetched %d times after budget filled", n)
	}
	if len(store.resolvedItems()) != 2 {
		t.Errorf("resolved %d items, want 2", len(store.resolvedItems()))
	}
}

func TestScrapeAreaCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	srv, hits := newPortal(nil)
	defer srv.Close()

	flags := NewControlFlags()
	flags.Cancel.Set()
	e := newTestEngine(srv.URL, newFakeStore(), flags)

	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{}); err != ErrCancelled {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if n := pathHits(hits, "/list/1"); n != 0 {
		t.Errorf("cancelled engine still made %d requests", n)
	}
}

func TestPauseRunsCheckpointHookOnce(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(map[string]string{
		"/list/1":    `<ul>` + listItem("a1", 3000, "Tower A") + `</ul>`,
		"/detail/a1": detailPage("Tower A", 3000),
	})
	defer srv.Close()

	flags := NewControlFlags()
	flags.Pause.Set()
	e := newTestEngine(srv.URL, newFakeStore(), flags)

	hooked := make(chan struct{})
	var hookCalls atomic.Int32
	e.SetPauseHook(func() {
		hookCalls.Add(1)
		close(hooked)
	})

	done := make(chan error, 1)
	go func() { done <- e.ScrapeArea(context.Background(), "13101", AreaOptions{}) }()

	select {
	case <-hooked:
	case <-time.After(2 * time.Second):
		t.Fatal("pause hook never ran")
	}

	flags.Pause.Clear()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ScrapeArea after resume: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not resume")
	}
	if n := hookCalls.Load(); n != 1 {
		t.Errorf("pause hook ran %d times, want 1", n)
	}
}

func TestDetailFetchStampsTimestamp(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(map[string]string{
		"/list/1":    `<ul>` + listItem("a1", 3000, "Tower A") + listItem("a2", 3200, "Tower B") + `</ul>`,
		"/detail/a1": detailPage("Tower A Grande", 3000),
		"/detail/a2": detailPage("Tower B Grande", 3200),
	})
	defer srv.Close()

	store := newFakeStore()
	store.skip404["a2"] = true
	e := newTestEngine(srv.URL, store, NewControlFlags())

	before := time.Now()
	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{}); err != nil {
		t.Fatalf("ScrapeArea: %v", err)
	}

	items := store.resolvedItems()
	if len(items) != 2 {
		t.Fatalf("resolved %d items, want 2", len(items))
	}
	if items[0].DetailFetchedAt == nil {
		t.Fatal("fetched detail left DetailFetchedAt nil")
	}
	if items[0].DetailFetchedAt.Before(before) {
		t.Errorf("DetailFetchedAt = %v, want at or after %v", items[0].DetailFetchedAt, before)
	}
	if items[1].DetailFetchedAt != nil {
		t.Errorf("ledger-suppressed item carries DetailFetchedAt %v", items[1].DetailFetchedAt)
	}
}

func TestDetailPriceMismatchKeepsListPrice(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(map[string]string{
		"/list/1":    `<ul>` + listItem("a1", 3000, "Tower A") + listItem("a2", 3200, "Tower B") + `</ul>`,
		"/detail/a1": detailPage("Tower A", 3500), // disagrees with the list
		"/detail/a2": detailPage("Tower B", 3201), // within tolerance
	})
	defer srv.Close()

	store := newFakeStore()
	e := newTestEngine(srv.URL, store, NewControlFlags())

	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{}); err != nil {
		t.Fatalf("ScrapeArea: %v", err)
	}

	items := store.resolvedItems()
	if len(items) != 2 {
		t.Fatalf("resolved %d items, want 2", len(items))
	}
	if got := *items[0].CurrentPrice; got != 3000 {
		t.Errorf("mismatched listing resolved at %d, want the list price 3000", got)
	}
	if got := *items[1].CurrentPrice; got != 3201 {
		t.Errorf("in-tolerance listing resolved at %d, want the detail price 3201", got)
	}

	if len(store.mismatches) != 1 || store.mismatches[0] != "a1:3000->3500" {
		t.Errorf("mismatch ledger = %v", store.mismatches)
	}
	if len(store.clearedMismatch) != 1 || store.clearedMismatch[0] != "a2" {
		t.Errorf("cleared mismatches = %v", store.clearedMismatch)
	}
}

func TestDetail404FeedsRetryLedger(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(map[string]string{
		"/list/1": `<ul>` + listItem("a1", 3000, "Tower A") + `</ul>`,
		// no detail page: the fetch 404s
	})
	defer srv.Close()

	store := newFakeStore()
	e := newTestEngine(srv.URL, store, NewControlFlags())

	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{}); err != nil {
		t.Fatalf("ScrapeArea: %v", err)
	}

	if len(store.recorded404) != 1 || store.recorded404[0] != "a1" {
		t.Errorf("404 ledger = %v", store.recorded404)
	}
	stats := e.Stats()
	if stats.DetailFetchFailed != 1 {
		t.Errorf("DetailFetchFailed = %d, want 1", stats.DetailFetchFailed)
	}
	// The listing still saves with its list-page data.
	items := store.resolvedItems()
	if len(items) != 1 || items[0].BuildingName != "Tower A" {
		t.Errorf("resolved = %+v, want the list-page item", items)
	}
}

func TestDetailSkippedBy404Ledger(t *testing.T) {
	t.Parallel()

	srv, hits := newPortal(map[string]string{
		"/list/1":    `<ul>` + listItem("a1", 3000, "Tower A") + `</ul>`,
		"/detail/a1": detailPage("Tower A", 3000),
	})
	defer srv.Close()

	store := newFakeStore()
	store.skip404["a1"] = true
	e := newTestEngine(srv.URL, store, NewControlFlags())

	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{}); err != nil {
		t.Fatalf("ScrapeArea: %v", err)
	}
	if n := pathHits(hits, "/detail/a1"); n != 0 {
		t.Errorf("ledger-suppressed detail fetched %d times", n)
	}
	if got := e.Stats().DetailSkipped; got != 1 {
		t.Errorf("DetailSkipped = %d, want 1", got)
	}
	if len(store.resolvedItems()) != 1 {
		t.Error("suppressed detail fetch also suppressed the save")
	}
}

func TestFreshListingSkipsDetail(t *testing.T) {
	t.Parallel()

	srv, hits := newPortal(map[string]string{
		"/list/1":    `<ul>` + listItem("a1", 3000, "Tower A") + `</ul>`,
		"/detail/a1": detailPage("Tower A", 3000),
	})
	defer srv.Close()

	recent := time.Now().Add(-1 * time.Hour)
	store := newFakeStore()
	store.existing["a1"] = &models.Listing{SitePropertyID: "a1", LastFetchedAt: &recent}

	e := newTestEngine(srv.URL, store, NewControlFlags())
	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{DetailRefetchAge: 24}); err != nil {
		t.Fatalf("ScrapeArea: %v", err)
	}
	if n := pathHits(hits, "/detail/a1"); n != 0 {
		t.Errorf("fresh listing's detail fetched %d times", n)
	}
	if got := e.Stats().DetailSkipped; got != 1 {
		t.Errorf("DetailSkipped = %d, want 1", got)
	}
}

func TestMissingBuildingNameCountsError(t *testing.T) {
	t.Parallel()

	srv, _ := newPortal(map[string]string{
		"/list/1":    `<ul>` + listItem("a1", 3000, "") + `</ul>`,
		"/detail/a1": `<html><body><span class="price">3000</span></body></html>`,
	})
	defer srv.Close()

	store := newFakeStore()
	e := newTestEngine(srv.URL, store, NewControlFlags())

	if err := e.ScrapeArea(context.Background(), "13101", AreaOptions{}); err != nil {
		t.Fatalf("ScrapeArea: %v", err)
	}
	stats := e.Stats()
	if stats.BuildingInfoMissing != 1 || stats.OtherErrors != 1 {
		t.Errorf("stats = %+v, want one building-info error", stats)
	}
	if len(store.resolvedItems()) != 0 {
		t.Error("nameless listing was saved")
	}
}

func TestShouldFetchDetail(t *testing.T) {
	t.Parallel()

	stale := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-1 * time.Hour)

	cases := []struct {
		name     string
		existing *models.Listing
		item     models.RawListing
		opts     AreaOptions
		want     bool
	}{
		{"new listing", nil, models.RawListing{}, AreaOptions{}, true},
		{"update mark", &models.Listing{LastFetchedAt: &fresh}, models.RawListing{HasUpdateMark: true}, AreaOptions{}, true},
		{"forced", &models.Listing{LastFetchedAt: &fresh}, models.RawListing{}, AreaOptions{ForceDetailFetch: true}, true},
		{"stale fetch", &models.Listing{LastFetchedAt: &stale}, models.RawListing{}, AreaOptions{DetailRefetchAge: 24}, true},
		{"never fetched", &models.Listing{}, models.RawListing{}, AreaOptions{DetailRefetchAge: 24}, true},
		{"fresh, no trigger", &models.Listing{LastFetchedAt: &fresh}, models.RawListing{}, AreaOptions{DetailRefetchAge: 24}, false},
		{"no refetch window", &models.Listing{LastFetchedAt: &stale}, models.RawListing{}, AreaOptions{}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := &Engine{}
			if got := e.shouldFetchDetail(tc.existing, &tc.item, tc.opts); got != tc.want {
				t.Errorf("shouldFetchDetail = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSetResumeStateDemotesDetailPhase(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeAdapter{}, nil, nil, NewControlFlags())
	e.SetResumeState(models.ResumeState{
		Phase:          PhaseDetail,
		CurrentPage:    4,
		ProcessedCount: 12,
		Stats:          models.ScrapeStats{PropertiesFound: 30},
	})

	rs := e.ResumeState()
	if rs.Phase != PhaseList || rs.CurrentPage != 1 || rs.ProcessedCount != 0 {
		t.Errorf("resume state = %+v, want a list-phase restart", rs)
	}
	if rs.Stats.PropertiesFound != 30 {
		t.Error("stats dropped on resume")
	}
	if rs.CollectedCount != 0 {
		t.Error("collected items survived a crash resume")
	}
}

func TestSetResumeStateKeepsListPhase(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeAdapter{}, nil, nil, NewControlFlags())
	e.SetResumeState(models.ResumeState{Phase: PhaseList, CurrentPage: 3})

	if rs := e.ResumeState(); rs.Phase != PhaseList || rs.CurrentPage != 3 {
		t.Errorf("resume state = %+v, want list page 3 preserved", rs)
	}
}
