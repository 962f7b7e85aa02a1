package resolver

import (
	"testing"
	"time"

	"condoscan/internal/models"
)

func TestNewListingFromRawCarriesFetchTimestamps(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fetched := now.Add(-time.Minute)
	raw := &models.RawListing{
		SourceSite:      models.SourceSuumo,
		SitePropertyID:  "s1",
		URL:             "https://example.com/s1",
		BuildingName:    "グランドタワー",
		DetailFetchedAt: &fetched,
	}

	l := newListingFromRaw(raw, 42, now)
	if l.LastFetchedAt == nil || !l.LastFetchedAt.Equal(fetched) {
		t.Errorf("LastFetchedAt = %v, want %v", l.LastFetchedAt, fetched)
	}
	if l.DetailFetchedAt == nil || !l.DetailFetchedAt.Equal(fetched) {
		t.Errorf("DetailFetchedAt = %v, want %v", l.DetailFetchedAt, fetched)
	}

	raw.DetailFetchedAt = nil
	if l := newListingFromRaw(raw, 42, now); l.LastFetchedAt != nil || l.DetailFetchedAt != nil {
		t.Error("list-only observation must not stamp the fetch timestamps")
	}
}
